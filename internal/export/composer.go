// Package export composes printable budget documents and renders them to PDF,
// XLSX and email bodies.
//
// A document is always recomputed from the snapshot with the print-time
// visibility flags applied. The summary stored by the editor is only used to
// detect drift; it is never printed verbatim.
package export

import (
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-quotes/internal/observability"
	"github.com/odyssey-erp/odyssey-quotes/internal/pricing"
)

// Entry is one priced row of a section.
type Entry struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
}

// Amount returns quantity * unit price.
func (e Entry) Amount() float64 {
	return pricing.ItemTableTotal([]pricing.ItemRow{{Quantity: e.Quantity, UnitPrice: e.UnitPrice}})
}

// Section is a content section as stored, including its own raw total and the
// visibility it had in the editor.
type Section struct {
	Kind     pricing.SectionKind `json:"kind"`
	Title    string              `json:"title"`
	Body     string              `json:"body,omitempty"`
	Entries  []Entry             `json:"entries,omitempty"`
	RawTotal float64             `json:"rawTotal"`
	Visible  bool                `json:"visible"`
}

// Snapshot is everything needed to print a budget.
type Snapshot struct {
	BudgetID      int64                    `json:"budgetId"`
	Number        string                   `json:"number"`
	Title         string                   `json:"title"`
	CustomerName  string                   `json:"customerName"`
	CustomerEmail string                   `json:"customerEmail"`
	Currency      string                   `json:"currency"`
	IssuedAt      time.Time                `json:"issuedAt"`
	Sections      []Section                `json:"sections"`
	Lines         []pricing.AdditionalLine `json:"lines"`
	VATPercentage float64                  `json:"vatPercentage"`
	Stored        *pricing.BudgetSummary   `json:"stored,omitempty"`
}

// PrintOptions carries print-time overrides. Sections whose kind is absent
// from Visibility keep the visibility they had in the editor.
type PrintOptions struct {
	Visibility map[pricing.SectionKind]bool `json:"visibility,omitempty"`
}

// Document is a composed, render-ready budget.
type Document struct {
	Company     string
	Snapshot    Snapshot
	Sections    []Section
	Breakdown   pricing.Breakdown
	Rows        []pricing.Row
	Drift       bool
	GeneratedAt time.Time
}

// Composer builds documents from snapshots.
type Composer struct {
	company string
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewComposer constructs a Composer. company is printed in document headers.
func NewComposer(company string, logger *slog.Logger, metrics *observability.Metrics) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		company: company,
		logger:  logger,
		metrics: metrics,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Compose applies opts to the snapshot's sections and recomputes the
// breakdown with the same engine the editor uses.
func (c *Composer) Compose(snap Snapshot, opts PrintOptions) Document {
	sections := make([]Section, len(snap.Sections))
	contributions := make([]pricing.SectionContribution, len(snap.Sections))
	for i, s := range snap.Sections {
		if v, ok := opts.Visibility[s.Kind]; ok {
			s.Visible = v
		}
		sections[i] = s
		contributions[i] = pricing.SectionContribution{Kind: s.Kind, RawTotal: s.RawTotal, Visible: s.Visible}
	}

	breakdown := pricing.Compute(pricing.Input{
		Sections:      contributions,
		Lines:         snap.Lines,
		VATPercentage: snap.VATPercentage,
	})
	c.metrics.ObserveComputation("export")

	drift := snap.Stored != nil && snap.Stored.GrandTotal != breakdown.GrandTotal
	if drift {
		c.logger.Debug("printed total differs from stored summary",
			slog.Int64("budget_id", snap.BudgetID),
			slog.Float64("stored", snap.Stored.GrandTotal),
			slog.Float64("printed", breakdown.GrandTotal),
		)
	}

	printed := make([]Section, 0, len(sections))
	for _, s := range sections {
		if s.Visible {
			printed = append(printed, s)
		}
	}

	return Document{
		Company:     c.company,
		Snapshot:    snap,
		Sections:    printed,
		Breakdown:   breakdown,
		Rows:        pricing.Rows(breakdown, contributions),
		Drift:       drift,
		GeneratedAt: c.now(),
	}
}
