package budgets

import (
	"time"

	"github.com/odyssey-erp/odyssey-quotes/internal/export"
	"github.com/odyssey-erp/odyssey-quotes/internal/pricing"
)

// SectionInput is a section as posted for a live preview.
type SectionInput struct {
	Kind     pricing.SectionKind `json:"kind" validate:"required,oneof=blocks items simple_block conditions"`
	RawTotal float64             `json:"rawTotal"`
	Visible  bool                `json:"visible"`
}

// PreviewRequest carries an unsaved editor state.
type PreviewRequest struct {
	Sections      []SectionInput    `json:"sections" validate:"dive"`
	Lines         []pricing.RawLine `json:"lines"`
	VATPercentage float64           `json:"vatPercentage" validate:"gte=0"`
}

// PreviewResponse is a computed breakdown with its printable rows.
type PreviewResponse struct {
	Breakdown pricing.Breakdown `json:"breakdown"`
	Rows      []pricing.Row     `json:"rows"`
}

// NewSectionRequest describes a section of a new budget.
type NewSectionRequest struct {
	Kind     pricing.SectionKind `json:"kind" validate:"required,oneof=blocks items simple_block conditions"`
	Title    string              `json:"title" validate:"max=200"`
	Body     string              `json:"body" validate:"max=20000"`
	Entries  []export.Entry      `json:"entries" validate:"max=500"`
	RawTotal float64             `json:"rawTotal"`
	Visible  bool                `json:"visible"`
}

// CreateBudgetRequest creates a budget with its sections and lines.
type CreateBudgetRequest struct {
	Number        string              `json:"number" validate:"required,max=40"`
	Title         string              `json:"title" validate:"max=200"`
	CustomerName  string              `json:"customerName" validate:"required,max=200"`
	CustomerEmail string              `json:"customerEmail" validate:"omitempty,email"`
	Currency      string              `json:"currency" validate:"omitempty,len=3,alpha"`
	VATPercentage float64             `json:"vatPercentage" validate:"gte=0"`
	IssuedAt      *time.Time          `json:"issuedAt"`
	Sections      []NewSectionRequest `json:"sections" validate:"dive"`
	Lines         []pricing.RawLine   `json:"lines"`
}

// SectionPatch changes a section's raw total, its visibility or both.
type SectionPatch struct {
	RawTotal *float64 `json:"rawTotal" validate:"required_without=Visible"`
	Visible  *bool    `json:"visible"`
}

// VATRequest sets the tax percentage.
type VATRequest struct {
	VATPercentage *float64 `json:"vatPercentage" validate:"required,gte=0"`
}

// LineRequest adds or replaces an additional line in the editor draft. Amount
// is taken as typed; the normalizer decides what it means.
type LineRequest struct {
	Concept     string     `json:"concept" validate:"max=500"`
	Amount      any        `json:"amount"`
	ConceptType string     `json:"conceptType" validate:"max=40"`
	ValidUntil  *time.Time `json:"validUntil"`
}

func (r LineRequest) raw(id int64) pricing.RawLine {
	return pricing.RawLine{
		ID:          id,
		Concept:     r.Concept,
		Amount:      r.Amount,
		ConceptType: r.ConceptType,
		ValidUntil:  r.ValidUntil,
	}
}

// ExportRequest carries print-time visibility overrides.
type ExportRequest struct {
	Visibility map[pricing.SectionKind]bool `json:"visibility" validate:"dive,keys,oneof=blocks items simple_block conditions,endkeys"`
}

// Options converts the request into composer options.
func (r ExportRequest) Options() export.PrintOptions {
	return export.PrintOptions{Visibility: r.Visibility}
}

// EmailRequest queues a budget email. To defaults to the customer email.
type EmailRequest struct {
	To         string                       `json:"to" validate:"omitempty,email"`
	Visibility map[pricing.SectionKind]bool `json:"visibility" validate:"dive,keys,oneof=blocks items simple_block conditions,endkeys"`
}

// EmailResponse reports the queued task.
type EmailResponse struct {
	TaskID string `json:"taskId"`
	To     string `json:"to"`
}
