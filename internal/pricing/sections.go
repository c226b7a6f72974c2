package pricing

import "github.com/shopspring/decimal"

// SectionKind identifies a content section of a budget document.
type SectionKind string

const (
	SectionBlocks      SectionKind = "blocks"
	SectionItems       SectionKind = "items"
	SectionSimpleBlock SectionKind = "simple_block"
	// SectionConditions carries text only and never contributes an amount.
	SectionConditions SectionKind = "conditions"
)

// Valid reports whether k is a known section kind.
func (k SectionKind) Valid() bool {
	switch k {
	case SectionBlocks, SectionItems, SectionSimpleBlock, SectionConditions:
		return true
	}
	return false
}

// SectionContribution is one section's own subtotal and its visibility flag.
type SectionContribution struct {
	Kind     SectionKind `json:"kind"`
	RawTotal float64     `json:"rawTotal"`
	Visible  bool        `json:"visible"`
}

// EffectiveTotal is the section's contribution to the base subtotal: zero when
// hidden, regardless of RawTotal.
func EffectiveTotal(s SectionContribution) float64 {
	if !s.Visible || s.Kind == SectionConditions || !isFinite(s.RawTotal) {
		return 0
	}
	return s.RawTotal
}

// SectionTotals holds the effective contribution of each priced section.
type SectionTotals struct {
	Blocks      float64 `json:"totalBlocks"`
	Items       float64 `json:"totalItems"`
	SimpleBlock float64 `json:"totalSimpleBlock"`
}

// Base returns the base subtotal fed to the engine.
func (t SectionTotals) Base() float64 {
	return toFloat(decimal.NewFromFloat(t.Blocks).
		Add(decimal.NewFromFloat(t.Items)).
		Add(decimal.NewFromFloat(t.SimpleBlock)))
}

// Aggregate sums effective totals per section kind. Several sections of the
// same kind add up; unknown kinds are ignored.
func Aggregate(sections []SectionContribution) SectionTotals {
	var blocks, items, simple decimal.Decimal
	for _, s := range sections {
		eff := decimal.NewFromFloat(EffectiveTotal(s))
		switch s.Kind {
		case SectionBlocks:
			blocks = blocks.Add(eff)
		case SectionItems:
			items = items.Add(eff)
		case SectionSimpleBlock:
			simple = simple.Add(eff)
		}
	}
	return SectionTotals{
		Blocks:      toFloat(blocks),
		Items:       toFloat(items),
		SimpleBlock: toFloat(simple),
	}
}

// BaseSubtotal is the sum of the effective totals of all sections.
func BaseSubtotal(sections []SectionContribution) float64 {
	sum := decimal.Zero
	for _, s := range sections {
		sum = sum.Add(decimal.NewFromFloat(EffectiveTotal(s)))
	}
	return toFloat(sum)
}

// ItemRow is a priced row of an item table.
type ItemRow struct {
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

// ItemTableTotal returns the raw total of an item table: the sum of
// quantity * unit price over its rows. Non-finite values count as zero.
func ItemTableTotal(rows []ItemRow) float64 {
	sum := decimal.Zero
	for _, r := range rows {
		if !isFinite(r.Quantity) || !isFinite(r.UnitPrice) {
			continue
		}
		sum = sum.Add(decimal.NewFromFloat(r.Quantity).Mul(decimal.NewFromFloat(r.UnitPrice)))
	}
	return toFloat(sum)
}

// SumAmounts returns the raw total of a section built from plain amounts, such
// as text blocks with a price each.
func SumAmounts(amounts []float64) float64 {
	sum := decimal.Zero
	for _, a := range amounts {
		if !isFinite(a) {
			continue
		}
		sum = sum.Add(decimal.NewFromFloat(a))
	}
	return toFloat(sum)
}
