package budgets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-quotes/internal/export"
	"github.com/odyssey-erp/odyssey-quotes/internal/observability"
	"github.com/odyssey-erp/odyssey-quotes/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-quotes/internal/pricing"
)

// EmailEnqueuer queues the asynchronous budget email.
type EmailEnqueuer interface {
	EnqueueBudgetEmail(ctx context.Context, budgetID int64, to string, visibility map[pricing.SectionKind]bool) (string, error)
}

// Service implements budget use cases on top of the repository.
type Service struct {
	repo     Repository
	cache    *SummaryCache
	composer *export.Composer
	exporter *export.Exporter
	queue    EmailEnqueuer
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewService wires the budget service. queue may be nil when no worker is
// configured; emailing then fails with ErrNoQueue.
func NewService(
	repo Repository,
	cache *SummaryCache,
	composer *export.Composer,
	exporter *export.Exporter,
	queue EmailEnqueuer,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		cache:    cache,
		composer: composer,
		exporter: exporter,
		queue:    queue,
		metrics:  metrics,
		logger:   logger,
	}
}

// Create inserts a budget with its sections and initial lines, then persists
// its first summary.
func (s *Service) Create(ctx context.Context, req CreateBudgetRequest) (*Budget, error) {
	b := Budget{
		Number:        strings.TrimSpace(req.Number),
		Title:         strings.TrimSpace(req.Title),
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		Currency:      strings.ToUpper(req.Currency),
		VATPercentage: req.VATPercentage,
		IssuedAt:      time.Now().UTC().Truncate(24 * time.Hour),
	}
	if b.Currency == "" {
		b.Currency = "EUR"
	}
	if req.IssuedAt != nil {
		b.IssuedAt = *req.IssuedAt
	}
	seen := make(map[pricing.SectionKind]bool, len(req.Sections))
	for i, sec := range req.Sections {
		if seen[sec.Kind] {
			return nil, fmt.Errorf("%w: duplicate section %s", httpx.ErrValidation, sec.Kind)
		}
		seen[sec.Kind] = true
		b.Sections = append(b.Sections, Section{
			Kind:     sec.Kind,
			Position: i,
			Title:    sec.Title,
			Body:     sec.Body,
			Entries:  sec.Entries,
			RawTotal: sec.RawTotal,
			Visible:  sec.Visible,
		})
	}
	lines := make([]pricing.AdditionalLine, len(req.Lines))
	for i, raw := range req.Lines {
		raw.ID = 0
		lines[i] = pricing.NormalizeRaw(raw)
	}

	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		if id, err = repo.Create(ctx, b); err != nil {
			return err
		}
		b.ID = id
		_, _, err = s.persistTx(ctx, repo, id, NewPayload(b.Contributions(), lines, b.VATPercentage))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create budget: %w", err)
	}
	s.logger.Info("budget created", slog.Int64("budget_id", id), slog.String("number", b.Number))
	return s.Get(ctx, id)
}

// Get loads a budget.
func (s *Service) Get(ctx context.Context, id int64) (*Budget, error) {
	return s.repo.Get(ctx, id)
}

// Summary returns the last persisted summary, served from the cache when
// possible. A budget that was never saved gets a summary computed on the fly.
func (s *Service) Summary(ctx context.Context, id int64) (*pricing.BudgetSummary, error) {
	return s.cache.Fetch(ctx, id, func(ctx context.Context) (*pricing.BudgetSummary, error) {
		summary, err := s.repo.GetSummary(ctx, id)
		if !errors.Is(err, ErrNotFound) {
			return summary, err
		}
		b, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		computed := pricing.Compute(b.Input())
		s.metrics.ObserveComputation("summary")
		return &computed.BudgetSummary, nil
	})
}

// RecentIDs lists budgets updated since the given time, newest first.
func (s *Service) RecentIDs(ctx context.Context, since time.Time, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.RecentIDs(ctx, since, limit)
}

// Preview computes an unsaved state without touching storage.
func (s *Service) Preview(req PreviewRequest) PreviewResponse {
	sections := make([]pricing.SectionContribution, len(req.Sections))
	for i, sec := range req.Sections {
		sections[i] = pricing.SectionContribution{Kind: sec.Kind, RawTotal: sec.RawTotal, Visible: sec.Visible}
	}
	lines := make([]pricing.AdditionalLine, len(req.Lines))
	for i, raw := range req.Lines {
		lines[i] = pricing.NormalizeRaw(raw)
	}
	b := pricing.Compute(pricing.Input{Sections: sections, Lines: lines, VATPercentage: req.VATPercentage})
	s.metrics.ObserveComputation("preview")
	return PreviewResponse{Breakdown: b, Rows: pricing.Rows(b, sections)}
}

// Recalculate recomputes the stored budget and persists the result.
func (s *Service) Recalculate(ctx context.Context, id int64) (PreviewResponse, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return PreviewResponse{}, err
	}
	sections := b.Contributions()
	computed := pricing.Compute(pricing.Input{Sections: sections, Lines: b.Lines, VATPercentage: b.VATPercentage})
	s.metrics.ObserveComputation("recalculate")

	p := Payload{
		Lines:         computed.AdditionalLines,
		Sections:      sections,
		VATPercentage: computed.VATPercentage,
		Summary:       computed.BudgetSummary,
	}
	if _, err := s.Persist(ctx, id, p); err != nil {
		return PreviewResponse{}, err
	}
	return PreviewResponse{Breakdown: computed, Rows: pricing.Rows(computed, sections)}, nil
}

// Persist replaces the lines, section state, tax and totals of a budget in
// one transaction and writes the summary through to the cache. It is safe to
// retry with the same payload. The returned ids follow p.Lines.
func (s *Service) Persist(ctx context.Context, id int64, p Payload) ([]int64, error) {
	var (
		ids     []int64
		summary pricing.BudgetSummary
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		ids, summary, err = s.persistTx(ctx, repo, id, p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("persist budget %d: %w", id, err)
	}
	if err := s.cache.Store(ctx, id, summary); err != nil {
		s.logger.Warn("summary cache write failed", slog.Int64("budget_id", id), slog.Any("error", err))
	}
	return ids, nil
}

func (s *Service) persistTx(ctx context.Context, repo Repository, id int64, p Payload) ([]int64, pricing.BudgetSummary, error) {
	var summary pricing.BudgetSummary
	ids, err := repo.ReplaceLines(ctx, id, p.Lines)
	if err != nil {
		return nil, summary, err
	}
	for _, sec := range p.Sections {
		if sec.Kind == pricing.SectionConditions {
			continue
		}
		if err := repo.UpdateSection(ctx, id, sec); err != nil {
			return nil, summary, err
		}
	}
	if err := repo.SetVATPercentage(ctx, id, p.VATPercentage); err != nil {
		return nil, summary, err
	}
	summary = p.Summary
	summary.AdditionalLines = withIDs(p.Summary.AdditionalLines, ids)
	if err := repo.ReplaceTotals(ctx, id, summary); err != nil {
		return nil, summary, err
	}
	return ids, summary, nil
}

// withIDs returns a copy of lines carrying the persisted ids. Payload lines
// and summary lines share one order.
func withIDs(lines []pricing.AdditionalLine, ids []int64) []pricing.AdditionalLine {
	out := cloneLines(lines)
	for i := range out {
		if i < len(ids) {
			out[i].ID = ids[i]
		}
	}
	return out
}

// Compose builds the printable document with print-time overrides.
func (s *Service) Compose(ctx context.Context, id int64, opts export.PrintOptions) (export.Document, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return export.Document{}, err
	}
	return s.composer.Compose(b.Snapshot(), opts), nil
}

// Export renders the budget in the given format.
func (s *Service) Export(ctx context.Context, id int64, format export.Format, opts export.PrintOptions) (export.File, error) {
	doc, err := s.Compose(ctx, id, opts)
	if err != nil {
		return export.File{}, err
	}
	return s.exporter.Render(ctx, doc, format)
}

// EnqueueEmail queues the budget email. The recipient defaults to the
// customer email.
func (s *Service) EnqueueEmail(ctx context.Context, id int64, req EmailRequest) (EmailResponse, error) {
	if s.queue == nil {
		return EmailResponse{}, ErrNoQueue
	}
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return EmailResponse{}, err
	}
	to := strings.TrimSpace(req.To)
	if to == "" {
		to = b.CustomerEmail
	}
	if to == "" {
		return EmailResponse{}, ErrNoRecipient
	}
	taskID, err := s.queue.EnqueueBudgetEmail(ctx, id, to, req.Visibility)
	if err != nil {
		return EmailResponse{}, fmt.Errorf("enqueue budget email: %w", err)
	}
	s.logger.Info("budget email queued", slog.Int64("budget_id", id), slog.String("task_id", taskID))
	return EmailResponse{TaskID: taskID, To: to}, nil
}
