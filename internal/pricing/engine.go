package pricing

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// currencyPlaces is the precision the taxable base is rounded to.
const currencyPlaces = 2

var hundred = decimal.NewFromInt(100)

// BudgetSummary is the canonical, persisted projection of a budget's totals.
type BudgetSummary struct {
	TotalBlocks      float64          `json:"totalBlocks"`
	TotalItems       float64          `json:"totalItems"`
	TotalSimpleBlock float64          `json:"totalSimpleBlock"`
	TaxableBase      float64          `json:"taxableBase"`
	VAT              float64          `json:"vat"`
	VATPercentage    float64          `json:"vatPercentage"`
	GrandTotal       float64          `json:"grandTotal"`
	AdditionalLines  []AdditionalLine `json:"additionalLines"`
}

// DiscountApplied is the monetary value of one discount line.
type DiscountApplied struct {
	LineID     int64      `json:"lineId"`
	Concept    string     `json:"concept"`
	Percentage float64    `json:"percentage"`
	Amount     float64    `json:"amount"`
	ValidUntil *time.Time `json:"validUntil,omitempty"`
}

// Breakdown is the full result of a computation. The embedded BudgetSummary
// is what gets persisted; the remaining fields are for display.
type Breakdown struct {
	BudgetSummary
	BaseSubtotal        float64           `json:"baseSubtotal"`
	NetAdjustments      float64           `json:"netAdjustments"`
	TotalBeforeDiscount float64           `json:"totalBeforeDiscount"`
	TotalDiscount       float64           `json:"totalDiscount"`
	OptionalLinesTotal  float64           `json:"optionalLinesTotal"`
	Discounts           []DiscountApplied `json:"discounts"`
}

// HasDiscount reports whether any discount actually reduced the total.
func (b Breakdown) HasDiscount() bool {
	return b.TotalDiscount > 0
}

// HasOptional reports whether any optional line is present.
func (b Breakdown) HasOptional() bool {
	for _, l := range b.AdditionalLines {
		if l.ConceptType == ConceptOptional {
			return true
		}
	}
	return false
}

// Input bundles everything a computation depends on.
type Input struct {
	Sections      []SectionContribution `json:"sections"`
	Lines         []AdditionalLine      `json:"lines"`
	VATPercentage float64               `json:"vatPercentage"`
}

// Compute aggregates the sections and prices the lines.
func Compute(in Input) Breakdown {
	totals := Aggregate(in.Sections)
	b := ComputeBreakdown(BaseSubtotal(in.Sections), in.Lines, in.VATPercentage)
	b.TotalBlocks = totals.Blocks
	b.TotalItems = totals.Items
	b.TotalSimpleBlock = totals.SimpleBlock
	return b
}

// ComputeBreakdown prices lines on top of baseSubtotal. The order of
// operations is fixed:
//
//	taxable base = max(base + adjustments, 0), rounded to cents
//	vat          = taxable base * vat% / 100
//	discount     = sum over discount lines of (taxable base + vat) * pct / 100
//	grand total  = max(taxable base + vat - discount, 0)
//
// Optional lines are summed separately and notes carry no value. Lines are
// normalized here, so callers may pass raw user input. Inputs are not mutated.
func ComputeBreakdown(baseSubtotal float64, lines []AdditionalLine, vatPercentage float64) Breakdown {
	normalized := NormalizeAll(lines)

	adjustments := decimal.Zero
	optional := decimal.Zero
	for _, l := range normalized {
		switch l.ConceptType {
		case ConceptAdjustment:
			adjustments = adjustments.Add(decimal.NewFromFloat(l.Amount))
		case ConceptOptional:
			optional = optional.Add(decimal.NewFromFloat(l.Amount))
		}
	}

	base := decimal.Zero
	if isFinite(baseSubtotal) {
		base = decimal.NewFromFloat(baseSubtotal)
	}
	taxable := clampZero(base.Add(adjustments)).Round(currencyPlaces)

	pct := sanitizePercentage(vatPercentage)
	vat := taxable.Mul(decimal.NewFromFloat(pct)).Div(hundred)
	beforeDiscount := taxable.Add(vat)

	discounts := make([]DiscountApplied, 0)
	totalDiscount := decimal.Zero
	for _, l := range normalized {
		if l.ConceptType != ConceptDiscount {
			continue
		}
		value := beforeDiscount.Mul(decimal.NewFromFloat(l.Amount)).Div(hundred)
		totalDiscount = totalDiscount.Add(value)
		discounts = append(discounts, DiscountApplied{
			LineID:     l.ID,
			Concept:    l.Concept,
			Percentage: l.Amount,
			Amount:     toFloat(value),
			ValidUntil: l.ValidUntil,
		})
	}
	grand := clampZero(beforeDiscount.Sub(totalDiscount))

	return Breakdown{
		BudgetSummary: BudgetSummary{
			TaxableBase:     toFloat(taxable),
			VAT:             toFloat(vat),
			VATPercentage:   pct,
			GrandTotal:      toFloat(grand),
			AdditionalLines: normalized,
		},
		BaseSubtotal:        toFloat(base),
		NetAdjustments:      toFloat(adjustments),
		TotalBeforeDiscount: toFloat(beforeDiscount),
		TotalDiscount:       toFloat(totalDiscount),
		OptionalLinesTotal:  toFloat(optional),
		Discounts:           discounts,
	}
}

func sanitizePercentage(p float64) float64 {
	if !isFinite(p) || p < 0 {
		return 0
	}
	return p
}

// toFloat converts d back to float64, saturating at the largest finite value
// so results always serialize.
func toFloat(d decimal.Decimal) float64 {
	f := d.InexactFloat64()
	switch {
	case math.IsNaN(f):
		return 0
	case math.IsInf(f, 1):
		return math.MaxFloat64
	case math.IsInf(f, -1):
		return -math.MaxFloat64
	}
	return f
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
