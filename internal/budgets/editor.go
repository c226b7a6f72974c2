package budgets

import (
	"context"
	"log/slog"
	"sync"

	"github.com/odyssey-erp/odyssey-quotes/internal/observability"
	"github.com/odyssey-erp/odyssey-quotes/internal/pricing"
)

// Store is what the editor needs from the service layer.
type Store interface {
	Get(ctx context.Context, id int64) (*Budget, error)
	Persist(ctx context.Context, id int64, p Payload) ([]int64, error)
}

// State is a point-in-time view of an editor session.
type State struct {
	BudgetID      int64                         `json:"budgetId"`
	Generation    uint64                        `json:"generation"`
	Sections      []pricing.SectionContribution `json:"sections"`
	Lines         []pricing.AdditionalLine      `json:"lines"`
	Committed     []pricing.AdditionalLine      `json:"committed"`
	VATPercentage float64                       `json:"vatPercentage"`
	Dirty         bool                          `json:"dirty"`
	Breakdown     pricing.Breakdown             `json:"breakdown"`
	Rows          []pricing.Row                 `json:"rows"`
}

// Editor holds one open budget: an editable draft of the additional lines,
// the last committed copy, and the live section and tax state. Every change
// recomputes the breakdown from the draft. Only committed lines are ever
// written; section and tax changes schedule a write of the committed state.
//
// Loading another budget bumps the generation. Results of loads or writes
// started under an older generation are not applied.
type Editor struct {
	store   Store
	saver   *Autosaver
	metrics *observability.Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	gen       uint64
	budgetID  int64
	sections  []pricing.SectionContribution
	derived   map[pricing.SectionKind]bool
	draft     []pricing.AdditionalLine
	committed []pricing.AdditionalLine
	vat       float64
	nextLocal int64
	// aliases maps ids sent in a write to the ids the store assigned.
	aliases map[int64]int64
}

// NewEditor constructs an empty editor.
func NewEditor(store Store, saver *Autosaver, metrics *observability.Metrics, logger *slog.Logger) *Editor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Editor{
		store:   store,
		saver:   saver,
		metrics: metrics,
		logger:  logger,
		derived: make(map[pricing.SectionKind]bool),
		aliases: make(map[int64]int64),
	}
}

// Load opens budget id, discarding any unsaved draft. Pending writes of the
// target budget are flushed and awaited first so the read sees them; pending
// writes of the budget being left are flushed without waiting.
func (e *Editor) Load(ctx context.Context, id int64) (State, error) {
	e.mu.Lock()
	e.gen++
	gen := e.gen
	prev := e.budgetID
	e.mu.Unlock()

	if prev != 0 && prev != id {
		e.saver.Flush(prev)
	}
	select {
	case <-e.saver.Flush(id):
	case <-ctx.Done():
		return State{}, ctx.Err()
	}

	b, err := e.store.Get(ctx, id)
	if err != nil {
		return State{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return State{}, ErrSuperseded
	}
	e.budgetID = b.ID
	e.sections = b.Contributions()
	e.derived = make(map[pricing.SectionKind]bool, len(b.Sections))
	for _, s := range b.Sections {
		e.derived[s.Kind] = s.Derived() || s.Kind == pricing.SectionConditions
	}
	e.committed = pricing.NormalizeAll(b.Lines)
	e.draft = cloneLines(e.committed)
	e.vat = b.VATPercentage
	e.logger.Debug("editor loaded", slog.Int64("budget_id", id), slog.Uint64("generation", gen))
	return e.stateLocked(), nil
}

// State returns the current view.
func (e *Editor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

// SetSection changes the raw total and/or visibility of a section and
// schedules a write.
func (e *Editor) SetSection(kind pricing.SectionKind, rawTotal *float64, visible *bool) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.openLocked(); err != nil {
		return State{}, err
	}

	idx := -1
	for i, s := range e.sections {
		if s.Kind == kind {
			idx = i
			break
		}
	}
	if idx < 0 {
		return State{}, ErrUnknownKind
	}
	if rawTotal != nil && e.derived[kind] {
		return State{}, ErrDerivedTotal
	}

	sections := cloneSections(e.sections)
	if rawTotal != nil {
		sections[idx].RawTotal = *rawTotal
	}
	if visible != nil {
		sections[idx].Visible = *visible
	}
	e.sections = sections
	e.scheduleLocked()
	return e.stateLocked(), nil
}

// SetVAT changes the tax percentage and schedules a write.
func (e *Editor) SetVAT(p float64) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.openLocked(); err != nil {
		return State{}, err
	}
	e.vat = p
	e.scheduleLocked()
	return e.stateLocked(), nil
}

// AddLine appends a line to the draft under a local negative id.
func (e *Editor) AddLine(raw pricing.RawLine) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.openLocked(); err != nil {
		return State{}, err
	}
	e.nextLocal--
	raw.ID = e.nextLocal
	draft := cloneLines(e.draft)
	e.draft = append(draft, pricing.NormalizeRaw(raw))
	return e.stateLocked(), nil
}

// UpdateLine replaces a draft line, keeping its id and position.
func (e *Editor) UpdateLine(id int64, raw pricing.RawLine) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.openLocked(); err != nil {
		return State{}, err
	}
	idx := e.indexLocked(id)
	if idx < 0 {
		return State{}, ErrLineNotFound
	}
	raw.ID = e.draft[idx].ID
	draft := cloneLines(e.draft)
	draft[idx] = pricing.NormalizeRaw(raw)
	e.draft = draft
	return e.stateLocked(), nil
}

// RemoveLine deletes a draft line.
func (e *Editor) RemoveLine(id int64) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.openLocked(); err != nil {
		return State{}, err
	}
	idx := e.indexLocked(id)
	if idx < 0 {
		return State{}, ErrLineNotFound
	}
	draft := make([]pricing.AdditionalLine, 0, len(e.draft)-1)
	draft = append(draft, e.draft[:idx]...)
	e.draft = append(draft, e.draft[idx+1:]...)
	return e.stateLocked(), nil
}

// Save commits the draft and schedules a write of it.
func (e *Editor) Save() (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.openLocked(); err != nil {
		return State{}, err
	}
	e.committed = cloneLines(e.draft)
	e.scheduleLocked()
	return e.stateLocked(), nil
}

// Discard reverts the draft to the committed lines.
func (e *Editor) Discard() (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.openLocked(); err != nil {
		return State{}, err
	}
	e.draft = cloneLines(e.committed)
	return e.stateLocked(), nil
}

// Close drops the session. A pending write is flushed without waiting.
func (e *Editor) Close() {
	e.mu.Lock()
	id := e.budgetID
	e.gen++
	e.budgetID = 0
	e.sections = nil
	e.draft = nil
	e.committed = nil
	e.mu.Unlock()

	if id != 0 {
		e.saver.Flush(id)
	}
}

func (e *Editor) openLocked() error {
	if e.budgetID == 0 {
		return ErrEditorClosed
	}
	return nil
}

func (e *Editor) indexLocked(id int64) int {
	id = e.resolveLocked(id)
	for i, l := range e.draft {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func (e *Editor) stateLocked() State {
	b := pricing.Compute(pricing.Input{Sections: e.sections, Lines: e.draft, VATPercentage: e.vat})
	e.metrics.ObserveComputation("editor")
	return State{
		BudgetID:      e.budgetID,
		Generation:    e.gen,
		Sections:      cloneSections(e.sections),
		Lines:         cloneLines(e.draft),
		Committed:     cloneLines(e.committed),
		VATPercentage: e.vat,
		Dirty:         !equalLines(e.draft, e.committed),
		Breakdown:     b,
		Rows:          pricing.Rows(b, e.sections),
	}
}

func (e *Editor) scheduleLocked() {
	id, gen := e.budgetID, e.gen
	p := NewPayload(cloneSections(e.sections), e.committed, e.vat)
	e.saver.Schedule(id, func(ctx context.Context) error {
		return e.persist(ctx, id, gen, p)
	})
}

// persist writes p and adopts the ids the store assigned. Ids are resolved
// at write time so lines committed before an earlier write finished are not
// inserted twice.
func (e *Editor) persist(ctx context.Context, id int64, gen uint64, p Payload) error {
	e.mu.Lock()
	lines := cloneLines(p.Lines)
	for i := range lines {
		lines[i].ID = e.resolveLocked(lines[i].ID)
	}
	e.mu.Unlock()
	p.Lines = lines

	ids, err := e.store.Persist(ctx, id, p)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i, l := range lines {
		if i < len(ids) && ids[i] != l.ID {
			e.aliases[l.ID] = ids[i]
		}
	}
	if e.gen != gen || e.budgetID != id {
		e.logger.Debug("write result ignored after reload", slog.Int64("budget_id", id), slog.Uint64("generation", gen))
		return nil
	}
	e.adoptLocked()
	return nil
}

func (e *Editor) resolveLocked(id int64) int64 {
	for range len(e.aliases) + 1 {
		next, ok := e.aliases[id]
		if !ok {
			break
		}
		id = next
	}
	return id
}

func (e *Editor) adoptLocked() {
	for _, set := range [][]pricing.AdditionalLine{e.committed, e.draft} {
		for i := range set {
			set[i].ID = e.resolveLocked(set[i].ID)
		}
	}
}

func cloneLines(lines []pricing.AdditionalLine) []pricing.AdditionalLine {
	out := make([]pricing.AdditionalLine, len(lines))
	copy(out, lines)
	for i := range out {
		if out[i].ValidUntil != nil {
			v := *out[i].ValidUntil
			out[i].ValidUntil = &v
		}
	}
	return out
}

func cloneSections(sections []pricing.SectionContribution) []pricing.SectionContribution {
	out := make([]pricing.SectionContribution, len(sections))
	copy(out, sections)
	return out
}

func equalLines(a, b []pricing.AdditionalLine) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.ID != y.ID || x.Concept != y.Concept || x.Amount != y.Amount || x.ConceptType != y.ConceptType {
			return false
		}
		switch {
		case x.ValidUntil == nil && y.ValidUntil == nil:
		case x.ValidUntil == nil || y.ValidUntil == nil:
			return false
		case !x.ValidUntil.Equal(*y.ValidUntil):
			return false
		}
	}
	return true
}
