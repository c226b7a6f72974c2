package budgets

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-quotes/internal/export"
	"github.com/odyssey-erp/odyssey-quotes/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-quotes/internal/pricing"
)

var (
	ErrNotFound     = fmt.Errorf("budget %w", httpx.ErrNotFound)
	ErrLineNotFound = fmt.Errorf("line %w", httpx.ErrNotFound)
	ErrDuplicate    = fmt.Errorf("budget %w", httpx.ErrConflict)
	ErrEditorClosed = fmt.Errorf("editor session %w", httpx.ErrNotFound)
	ErrUnknownKind  = fmt.Errorf("%w: unknown section kind", httpx.ErrValidation)
	ErrDerivedTotal = fmt.Errorf("%w: section total is derived from its entries", httpx.ErrValidation)
	ErrNoRecipient  = fmt.Errorf("%w: budget has no customer email", httpx.ErrValidation)
	ErrSuperseded   = fmt.Errorf("%w: superseded by a newer load", httpx.ErrConflict)
	ErrNoQueue      = fmt.Errorf("%w: email queue not configured", httpx.ErrUnavailable)
)

// Budget is a quote document.
type Budget struct {
	ID            int64                    `json:"id"`
	Number        string                   `json:"number"`
	Title         string                   `json:"title"`
	CustomerName  string                   `json:"customerName"`
	CustomerEmail string                   `json:"customerEmail"`
	Currency      string                   `json:"currency"`
	VATPercentage float64                  `json:"vatPercentage"`
	IssuedAt      time.Time                `json:"issuedAt"`
	UpdatedAt     time.Time                `json:"updatedAt"`
	Sections      []Section                `json:"sections"`
	Lines         []pricing.AdditionalLine `json:"lines"`
	Summary       *pricing.BudgetSummary   `json:"summary,omitempty"`
}

// Section is one content section of a budget. A budget has at most one
// section per kind.
type Section struct {
	Kind     pricing.SectionKind `json:"kind"`
	Position int                 `json:"position"`
	Title    string              `json:"title"`
	Body     string              `json:"body,omitempty"`
	Entries  []export.Entry      `json:"entries,omitempty"`
	RawTotal float64             `json:"rawTotal"`
	Visible  bool                `json:"visible"`
}

// Derived reports whether the section total comes from its entries.
func (s Section) Derived() bool {
	return len(s.Entries) > 0
}

// Total is the section's own subtotal before visibility is applied.
func (s Section) Total() float64 {
	switch {
	case s.Kind == pricing.SectionConditions:
		return 0
	case s.Derived():
		rows := make([]pricing.ItemRow, len(s.Entries))
		for i, e := range s.Entries {
			rows[i] = pricing.ItemRow{Quantity: e.Quantity, UnitPrice: e.UnitPrice}
		}
		return pricing.ItemTableTotal(rows)
	default:
		return s.RawTotal
	}
}

// Contribution is the section as the pricing engine sees it.
func (s Section) Contribution() pricing.SectionContribution {
	return pricing.SectionContribution{Kind: s.Kind, RawTotal: s.Total(), Visible: s.Visible}
}

// Contributions returns the engine view of every section.
func (b *Budget) Contributions() []pricing.SectionContribution {
	out := make([]pricing.SectionContribution, len(b.Sections))
	for i, s := range b.Sections {
		out[i] = s.Contribution()
	}
	return out
}

// Input is the pricing input of the budget as stored.
func (b *Budget) Input() pricing.Input {
	return pricing.Input{
		Sections:      b.Contributions(),
		Lines:         b.Lines,
		VATPercentage: b.VATPercentage,
	}
}

// Snapshot converts the budget into the export composer's input.
func (b *Budget) Snapshot() export.Snapshot {
	sections := make([]export.Section, len(b.Sections))
	for i, s := range b.Sections {
		sections[i] = export.Section{
			Kind:     s.Kind,
			Title:    s.Title,
			Body:     s.Body,
			Entries:  s.Entries,
			RawTotal: s.Total(),
			Visible:  s.Visible,
		}
	}
	return export.Snapshot{
		BudgetID:      b.ID,
		Number:        b.Number,
		Title:         b.Title,
		CustomerName:  b.CustomerName,
		CustomerEmail: b.CustomerEmail,
		Currency:      b.Currency,
		IssuedAt:      b.IssuedAt,
		Sections:      sections,
		Lines:         b.Lines,
		VATPercentage: b.VATPercentage,
		Stored:        b.Summary,
	}
}

// Payload is one debounced write: the committed lines, the section state and
// the summary computed from them.
type Payload struct {
	Lines         []pricing.AdditionalLine      `json:"lines"`
	Sections      []pricing.SectionContribution `json:"sections"`
	VATPercentage float64                       `json:"vatPercentage"`
	Summary       pricing.BudgetSummary         `json:"summary"`
}

// NewPayload computes the summary for the given state.
func NewPayload(sections []pricing.SectionContribution, lines []pricing.AdditionalLine, vat float64) Payload {
	b := pricing.Compute(pricing.Input{Sections: sections, Lines: lines, VATPercentage: vat})
	return Payload{
		Lines:         b.AdditionalLines,
		Sections:      sections,
		VATPercentage: b.VATPercentage,
		Summary:       b.BudgetSummary,
	}
}
