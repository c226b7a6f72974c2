package budgets

import (
	"context"
	"log/slog"
	"sync"

	"github.com/odyssey-erp/odyssey-quotes/internal/observability"
)

// Registry tracks the open editor session of each budget.
type Registry struct {
	store   Store
	saver   *Autosaver
	metrics *observability.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	editors map[int64]*Editor
}

// NewRegistry constructs an empty registry.
func NewRegistry(store Store, saver *Autosaver, metrics *observability.Metrics, logger *slog.Logger) *Registry {
	return &Registry{
		store:   store,
		saver:   saver,
		metrics: metrics,
		logger:  logger,
		editors: make(map[int64]*Editor),
	}
}

// Open returns the session of budget id, loading it when none is open.
// reload forces a fresh load, discarding the draft.
func (r *Registry) Open(ctx context.Context, id int64, reload bool) (State, error) {
	r.mu.Lock()
	ed, ok := r.editors[id]
	if !ok {
		ed = NewEditor(r.store, r.saver, r.metrics, r.logger)
		r.editors[id] = ed
	}
	r.mu.Unlock()

	if ok && !reload {
		if st := ed.State(); st.BudgetID == id {
			return st, nil
		}
	}
	st, err := ed.Load(ctx, id)
	if err != nil && !ok {
		r.mu.Lock()
		if r.editors[id] == ed {
			delete(r.editors, id)
		}
		r.mu.Unlock()
	}
	return st, err
}

// Editor returns the open session of budget id.
func (r *Registry) Editor(id int64) (*Editor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ed, ok := r.editors[id]
	if !ok {
		return nil, ErrEditorClosed
	}
	return ed, nil
}

// Close ends the session of budget id, flushing its pending write.
func (r *Registry) Close(id int64) error {
	r.mu.Lock()
	ed, ok := r.editors[id]
	delete(r.editors, id)
	r.mu.Unlock()
	if !ok {
		return ErrEditorClosed
	}
	ed.Close()
	return nil
}

// CloseAll ends every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	editors := r.editors
	r.editors = make(map[int64]*Editor)
	r.mu.Unlock()
	for _, ed := range editors {
		ed.Close()
	}
}
