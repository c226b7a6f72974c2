package budgets

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/odyssey-erp/odyssey-quotes/internal/export"
	"github.com/odyssey-erp/odyssey-quotes/internal/observability"
	"github.com/odyssey-erp/odyssey-quotes/internal/pricing"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	mu sync.Mutex

	budgets    map[int64]*Budget
	summaries  map[int64]pricing.BudgetSummary
	nextBudget int64
	nextLine   int64

	persistCalls int
	lastPersist  []pricing.AdditionalLine

	// Error injection
	txError      error
	replaceError error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		budgets:    make(map[int64]*Budget),
		summaries:  make(map[int64]pricing.BudgetSummary),
		nextBudget: 1,
		nextLine:   100,
	}
}

func (m *mockRepository) seed(b Budget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range b.Lines {
		if b.Lines[i].ID == 0 {
			m.nextLine++
			b.Lines[i].ID = m.nextLine
		}
	}
	cp := b
	m.budgets[b.ID] = &cp
	if b.ID >= m.nextBudget {
		m.nextBudget = b.ID + 1
	}
}

func (m *mockRepository) lines(id int64) []pricing.AdditionalLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneLines(m.budgets[id].Lines)
}

func (m *mockRepository) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistCalls
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if m.txError != nil {
		return m.txError
	}
	return fn(ctx, m)
}

func (m *mockRepository) Create(_ context.Context, b Budget) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.budgets {
		if existing.Number == b.Number {
			return 0, ErrDuplicate
		}
	}
	b.ID = m.nextBudget
	m.nextBudget++
	for i := range b.Sections {
		b.Sections[i].RawTotal = b.Sections[i].Total()
	}
	m.budgets[b.ID] = &b
	return b.ID, nil
}

func (m *mockRepository) Get(_ context.Context, id int64) (*Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.budgets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	cp.Sections = append([]Section(nil), b.Sections...)
	cp.Lines = cloneLines(b.Lines)
	if s, ok := m.summaries[id]; ok {
		cp.Summary = &s
	}
	return &cp, nil
}

func (m *mockRepository) GetSummary(_ context.Context, id int64) (*pricing.BudgetSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *mockRepository) ReplaceLines(_ context.Context, budgetID int64, lines []pricing.AdditionalLine) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaceError != nil {
		return nil, m.replaceError
	}
	b, ok := m.budgets[budgetID]
	if !ok {
		return nil, ErrNotFound
	}
	existing := make(map[int64]bool, len(b.Lines))
	for _, l := range b.Lines {
		existing[l.ID] = true
	}
	ids := make([]int64, len(lines))
	stored := cloneLines(lines)
	for i, l := range lines {
		if l.ID > 0 && existing[l.ID] {
			ids[i] = l.ID
			continue
		}
		m.nextLine++
		ids[i] = m.nextLine
		stored[i].ID = m.nextLine
	}
	b.Lines = stored
	m.persistCalls++
	m.lastPersist = cloneLines(lines)
	return ids, nil
}

func (m *mockRepository) ReplaceTotals(_ context.Context, budgetID int64, s pricing.BudgetSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.budgets[budgetID]; !ok {
		return ErrNotFound
	}
	m.summaries[budgetID] = s
	return nil
}

func (m *mockRepository) UpdateSection(_ context.Context, budgetID int64, s pricing.SectionContribution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.budgets[budgetID]
	if !ok {
		return ErrNotFound
	}
	for i := range b.Sections {
		if b.Sections[i].Kind == s.Kind {
			b.Sections[i].RawTotal = s.RawTotal
			b.Sections[i].Visible = s.Visible
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockRepository) SetVATPercentage(_ context.Context, budgetID int64, vat float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.budgets[budgetID]
	if !ok {
		return ErrNotFound
	}
	b.VATPercentage = vat
	return nil
}

func (m *mockRepository) RecentIDs(_ context.Context, since time.Time, limit int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.budgets))
	for id, b := range m.budgets {
		if !b.UpdatedAt.Before(since) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// ============================================================================
// FIXTURES
// ============================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleBudget(id int64) Budget {
	return Budget{
		ID:            id,
		Number:        fmt.Sprintf("P-2026-%03d", id),
		Title:         "Kitchen refit",
		CustomerName:  "Ada Byron",
		CustomerEmail: "ada@example.com",
		Currency:      "EUR",
		VATPercentage: 21,
		IssuedAt:      time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
		Sections: []Section{
			{Kind: pricing.SectionBlocks, RawTotal: 100, Visible: true},
			{Kind: pricing.SectionItems, Entries: []export.Entry{{Description: "Tiles", Quantity: 10, UnitPrice: 5}}, Visible: true},
			{Kind: pricing.SectionSimpleBlock, RawTotal: 300, Visible: false},
			{Kind: pricing.SectionConditions, Body: "50% upfront", Visible: true},
		},
		Lines: []pricing.AdditionalLine{
			{Concept: "Transport", Amount: 50, ConceptType: pricing.ConceptAdjustment},
		},
	}
}

type fakeQueue struct {
	mu    sync.Mutex
	calls []string
}

func (q *fakeQueue) EnqueueBudgetEmail(_ context.Context, budgetID int64, to string, _ map[pricing.SectionKind]bool) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, to)
	return "budget-email-task", nil
}

func newTestService(repo Repository, queue EmailEnqueuer) *Service {
	metrics := observability.NewMetrics()
	return NewService(
		repo,
		NewSummaryCache(nil, time.Minute, discardLogger()),
		export.NewComposer("Odyssey Works", discardLogger(), metrics),
		export.NewExporter(nil, metrics, discardLogger()),
		queue,
		metrics,
		discardLogger(),
	)
}

func newTestAutosaver(t *testing.T, delay time.Duration) *Autosaver {
	t.Helper()
	a := NewAutosaver(delay, time.Second, discardLogger(), observability.NewMetrics())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	})
	return a
}
