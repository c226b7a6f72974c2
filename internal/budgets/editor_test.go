package budgets

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-quotes/internal/pricing"
)

func newTestEditor(t *testing.T, delay time.Duration) (*Editor, *mockRepository, *Autosaver) {
	t.Helper()
	repo := newMockRepository()
	repo.seed(sampleBudget(1))
	repo.seed(sampleBudget(2))
	saver := newTestAutosaver(t, delay)
	ed := NewEditor(newTestService(repo, nil), saver, nil, discardLogger())
	return ed, repo, saver
}

func TestEditorLoadComputesBreakdown(t *testing.T) {
	ed, _, _ := newTestEditor(t, time.Hour)

	st, err := ed.Load(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, int64(1), st.BudgetID)
	assert.Equal(t, 150.0, st.Breakdown.BaseSubtotal, "hidden simple block is excluded")
	assert.Equal(t, 200.0, st.Breakdown.TaxableBase)
	assert.Equal(t, 42.0, st.Breakdown.VAT)
	assert.Equal(t, 242.0, st.Breakdown.GrandTotal)
	assert.False(t, st.Dirty)
	require.Len(t, st.Lines, 1)
	assert.Positive(t, st.Lines[0].ID)
}

func TestEditorDraftAndDiscard(t *testing.T) {
	ed, repo, saver := newTestEditor(t, time.Hour)
	_, err := ed.Load(context.Background(), 1)
	require.NoError(t, err)

	st, err := ed.AddLine(pricing.RawLine{Concept: "Winter promo", Amount: "10", ConceptType: "discount"})
	require.NoError(t, err)
	assert.True(t, st.Dirty)
	require.Len(t, st.Lines, 2)
	assert.Equal(t, int64(-1), st.Lines[1].ID)
	assert.Len(t, st.Committed, 1)
	assert.InDelta(t, 217.8, st.Breakdown.GrandTotal, 1e-9)
	assert.False(t, saver.Pending(1), "draft edits are never written")

	st, err = ed.Discard()
	require.NoError(t, err)
	assert.False(t, st.Dirty)
	assert.Len(t, st.Lines, 1)
	assert.Equal(t, 242.0, st.Breakdown.GrandTotal)
	assert.Zero(t, repo.calls())
}

func TestEditorSaveCommitsAndAdoptsIDs(t *testing.T) {
	ed, repo, saver := newTestEditor(t, time.Hour)
	_, err := ed.Load(context.Background(), 1)
	require.NoError(t, err)

	_, err = ed.AddLine(pricing.RawLine{Concept: "Extra shelf", Amount: 30, ConceptType: "optional"})
	require.NoError(t, err)
	st, err := ed.Save()
	require.NoError(t, err)
	assert.False(t, st.Dirty)
	assert.True(t, saver.Pending(1))

	<-saver.Flush(1)
	assert.Equal(t, 1, repo.calls())

	stored := repo.lines(1)
	require.Len(t, stored, 2)
	assert.Equal(t, "Extra shelf", stored[1].Concept)
	assert.Positive(t, stored[1].ID)

	st = ed.State()
	assert.Equal(t, stored[1].ID, st.Lines[1].ID, "persisted id adopted by the draft")
	assert.Equal(t, stored[1].ID, st.Committed[1].ID)

	summary, err := repo.GetSummary(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 242.0, summary.GrandTotal, "optional lines never change the total")
	assert.Equal(t, stored[1].ID, summary.AdditionalLines[1].ID)

	// The old local id still resolves after adoption.
	_, err = ed.UpdateLine(-1, pricing.RawLine{Concept: "Extra shelf", Amount: 40, ConceptType: "optional"})
	require.NoError(t, err)
	_, err = ed.Save()
	require.NoError(t, err)
	<-saver.Flush(1)
	assert.Len(t, repo.lines(1), 2, "updated in place, not inserted twice")
}

func TestEditorSaveTwiceBeforeWriteDoesNotDuplicate(t *testing.T) {
	ed, repo, saver := newTestEditor(t, 0)
	_, err := ed.Load(context.Background(), 1)
	require.NoError(t, err)

	_, err = ed.AddLine(pricing.RawLine{Concept: "Skip hire", Amount: 80})
	require.NoError(t, err)
	_, err = ed.Save()
	require.NoError(t, err)
	_, err = ed.Save()
	require.NoError(t, err)

	<-saver.Flush(1)
	assert.Len(t, repo.lines(1), 2)
}

func TestEditorSectionChangesScheduleCommittedState(t *testing.T) {
	ed, repo, saver := newTestEditor(t, time.Hour)
	_, err := ed.Load(context.Background(), 1)
	require.NoError(t, err)

	_, err = ed.AddLine(pricing.RawLine{Concept: "Unsaved", Amount: 999})
	require.NoError(t, err)

	visible := true
	st, err := ed.SetSection(pricing.SectionSimpleBlock, nil, &visible)
	require.NoError(t, err)
	assert.Equal(t, 450.0, st.Breakdown.BaseSubtotal)
	assert.True(t, st.Dirty, "the draft survives section changes")

	st, err = ed.SetVAT(10)
	require.NoError(t, err)
	assert.Equal(t, 10.0, st.VATPercentage)

	<-saver.Flush(1)
	assert.Equal(t, 1, repo.calls(), "section and vat edits coalesce")
	assert.Len(t, repo.lines(1), 1, "draft lines are not written")

	b, err := repo.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, b.Sections[2].Visible)
	assert.Equal(t, 10.0, b.VATPercentage)
	require.NotNil(t, b.Summary)
	assert.Equal(t, 500.0, b.Summary.TaxableBase)
	assert.Equal(t, 550.0, b.Summary.GrandTotal)
}

func TestEditorSetSectionErrors(t *testing.T) {
	ed, _, _ := newTestEditor(t, time.Hour)
	_, err := ed.Load(context.Background(), 1)
	require.NoError(t, err)

	total := 10.0
	_, err = ed.SetSection(pricing.SectionItems, &total, nil)
	assert.ErrorIs(t, err, ErrDerivedTotal)

	_, err = ed.SetSection(pricing.SectionKind("gallery"), &total, nil)
	assert.ErrorIs(t, err, ErrUnknownKind)

	st, err := ed.SetSection(pricing.SectionBlocks, &total, nil)
	require.NoError(t, err)
	assert.Equal(t, 60.0, st.Breakdown.BaseSubtotal)
}

func TestEditorLineErrors(t *testing.T) {
	ed, _, _ := newTestEditor(t, time.Hour)
	_, err := ed.Load(context.Background(), 1)
	require.NoError(t, err)

	_, err = ed.UpdateLine(12345, pricing.RawLine{})
	assert.ErrorIs(t, err, ErrLineNotFound)
	_, err = ed.RemoveLine(12345)
	assert.ErrorIs(t, err, ErrLineNotFound)

	st := ed.State()
	st, err = ed.RemoveLine(st.Lines[0].ID)
	require.NoError(t, err)
	assert.Empty(t, st.Lines)
	assert.Equal(t, 181.5, st.Breakdown.GrandTotal)
}

func TestEditorSwitchFlushesOldDocument(t *testing.T) {
	ed, repo, saver := newTestEditor(t, time.Hour)
	_, err := ed.Load(context.Background(), 1)
	require.NoError(t, err)

	_, err = ed.AddLine(pricing.RawLine{Concept: "Late change", Amount: 5})
	require.NoError(t, err)
	_, err = ed.Save()
	require.NoError(t, err)

	st, err := ed.Load(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.BudgetID)
	assert.Greater(t, st.Generation, uint64(1))

	require.Eventually(t, func() bool { return !saver.Pending(1) }, time.Second, 5*time.Millisecond)
	assert.Len(t, repo.lines(1), 2, "pending write of the old document is flushed")

	st = ed.State()
	require.Len(t, st.Lines, 1, "old document's write result is not applied")
	assert.Equal(t, "Transport", st.Lines[0].Concept)
}

func TestEditorClose(t *testing.T) {
	ed, repo, saver := newTestEditor(t, time.Hour)
	_, err := ed.Load(context.Background(), 1)
	require.NoError(t, err)
	_, err = ed.SetVAT(4)
	require.NoError(t, err)

	ed.Close()
	require.Eventually(t, func() bool { return !saver.Pending(1) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, repo.calls())

	_, err = ed.Save()
	assert.ErrorIs(t, err, ErrEditorClosed)
	_, err = ed.AddLine(pricing.RawLine{})
	assert.ErrorIs(t, err, ErrEditorClosed)
}

// blockingStore delays Get for one budget until released.
type blockingStore struct {
	Store
	block   int64
	release chan struct{}
	once    sync.Once
	started chan struct{}
}

func (s *blockingStore) Get(ctx context.Context, id int64) (*Budget, error) {
	if id == s.block {
		s.once.Do(func() { close(s.started) })
		<-s.release
	}
	return s.Store.Get(ctx, id)
}

func TestEditorStaleLoadIsSuperseded(t *testing.T) {
	repo := newMockRepository()
	repo.seed(sampleBudget(1))
	repo.seed(sampleBudget(2))
	store := &blockingStore{
		Store:   newTestService(repo, nil),
		block:   1,
		release: make(chan struct{}),
		started: make(chan struct{}),
	}
	ed := NewEditor(store, newTestAutosaver(t, time.Hour), nil, discardLogger())

	errc := make(chan error, 1)
	go func() {
		_, err := ed.Load(context.Background(), 1)
		errc <- err
	}()
	<-store.started

	st, err := ed.Load(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.BudgetID)

	close(store.release)
	assert.ErrorIs(t, <-errc, ErrSuperseded)
	assert.Equal(t, int64(2), ed.State().BudgetID)
}

func TestRegistry(t *testing.T) {
	repo := newMockRepository()
	repo.seed(sampleBudget(1))
	saver := newTestAutosaver(t, time.Hour)
	reg := NewRegistry(newTestService(repo, nil), saver, nil, discardLogger())

	_, err := reg.Editor(1)
	assert.ErrorIs(t, err, ErrEditorClosed)

	_, err = reg.Open(context.Background(), 99, false)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = reg.Editor(99)
	assert.ErrorIs(t, err, ErrEditorClosed, "failed opens leave no session behind")

	_, err = reg.Open(context.Background(), 1, false)
	require.NoError(t, err)
	ed, err := reg.Editor(1)
	require.NoError(t, err)
	_, err = ed.AddLine(pricing.RawLine{Concept: "draft"})
	require.NoError(t, err)

	st, err := reg.Open(context.Background(), 1, false)
	require.NoError(t, err)
	assert.True(t, st.Dirty, "reopening keeps the draft")

	st, err = reg.Open(context.Background(), 1, true)
	require.NoError(t, err)
	assert.False(t, st.Dirty, "reload discards the draft")

	require.NoError(t, reg.Close(1))
	assert.ErrorIs(t, reg.Close(1), ErrEditorClosed)
}
