package pricing

import (
	"fmt"
	"strconv"
)

// RowKind classifies a line of the rendered breakdown.
type RowKind string

const (
	RowSubtotal       RowKind = "subtotal"
	RowAdjustment     RowKind = "adjustment"
	RowOptional       RowKind = "optional"
	RowNote           RowKind = "note"
	RowTaxableBase    RowKind = "taxable_base"
	RowVAT            RowKind = "vat"
	RowBeforeDiscount RowKind = "before_discount"
	RowDiscount       RowKind = "discount"
	RowGrandTotal     RowKind = "grand_total"
	RowDisclaimer     RowKind = "disclaimer"
)

// Row is one line of a human-readable breakdown. Rows without HasAmount are
// text only.
type Row struct {
	Kind       RowKind `json:"kind"`
	Label      string  `json:"label"`
	Amount     float64 `json:"amount"`
	HasAmount  bool    `json:"hasAmount"`
	NonBinding bool    `json:"nonBinding,omitempty"`
}

// OptionalDisclaimer is printed whenever optional lines are listed.
const OptionalDisclaimer = "Optional items are shown for reference and are not included in the total."

// DisclaimerDateLayout is the layout used for discount validity dates.
const DisclaimerDateLayout = "02 Jan 2006"

var sectionLabels = []struct {
	kind  SectionKind
	label string
}{
	{SectionBlocks, "Blocks"},
	{SectionItems, "Items"},
	{SectionSimpleBlock, "Simple block"},
}

// SectionLabel returns the display name of a section kind.
func SectionLabel(kind SectionKind) string {
	for _, s := range sectionLabels {
		if s.kind == kind {
			return s.label
		}
	}
	if kind == SectionConditions {
		return "Conditions"
	}
	return string(kind)
}

// Rows lays a breakdown out in print order: visible section subtotals,
// adjustment/optional/note lines in insertion order, taxable base, VAT, the
// discount block when a discount applied, grand total and finally disclaimers.
// Both the editor and the export renderers use this ordering.
func Rows(b Breakdown, sections []SectionContribution) []Row {
	rows := make([]Row, 0, len(b.AdditionalLines)+8)

	totals := SectionTotals{Blocks: b.TotalBlocks, Items: b.TotalItems, SimpleBlock: b.TotalSimpleBlock}
	for _, s := range sectionLabels {
		if !anyVisible(sections, s.kind) {
			continue
		}
		rows = append(rows, Row{
			Kind:      RowSubtotal,
			Label:     s.label,
			Amount:    totals.byKind(s.kind),
			HasAmount: true,
		})
	}

	for _, l := range b.AdditionalLines {
		switch l.ConceptType {
		case ConceptAdjustment:
			rows = append(rows, Row{Kind: RowAdjustment, Label: labelOr(l.Concept, "Adjustment"), Amount: l.Amount, HasAmount: true})
		case ConceptOptional:
			rows = append(rows, Row{Kind: RowOptional, Label: labelOr(l.Concept, "Optional"), Amount: l.Amount, HasAmount: true, NonBinding: true})
		case ConceptNote:
			rows = append(rows, Row{Kind: RowNote, Label: l.Concept})
		}
	}

	rows = append(rows,
		Row{Kind: RowTaxableBase, Label: "Taxable base", Amount: b.TaxableBase, HasAmount: true},
		Row{Kind: RowVAT, Label: fmt.Sprintf("VAT (%s%%)", FormatPercent(b.VATPercentage)), Amount: b.VAT, HasAmount: true},
	)

	if b.HasDiscount() {
		rows = append(rows, Row{Kind: RowBeforeDiscount, Label: "Total before discount", Amount: b.TotalBeforeDiscount, HasAmount: true})
		for _, d := range b.Discounts {
			if d.Amount <= 0 {
				continue
			}
			label := fmt.Sprintf("%s (%s%%)", labelOr(d.Concept, "Discount"), FormatPercent(d.Percentage))
			rows = append(rows, Row{Kind: RowDiscount, Label: label, Amount: d.Amount, HasAmount: true})
		}
	}

	rows = append(rows, Row{Kind: RowGrandTotal, Label: "Total", Amount: b.GrandTotal, HasAmount: true})

	for _, d := range b.Discounts {
		if d.ValidUntil == nil {
			continue
		}
		rows = append(rows, Row{
			Kind:  RowDisclaimer,
			Label: fmt.Sprintf("%s valid until %s.", labelOr(d.Concept, "Discount"), d.ValidUntil.Format(DisclaimerDateLayout)),
		})
	}
	if b.HasOptional() {
		rows = append(rows, Row{Kind: RowDisclaimer, Label: OptionalDisclaimer})
	}
	return rows
}

// FormatPercent renders a percentage without trailing zeros.
func FormatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func (t SectionTotals) byKind(kind SectionKind) float64 {
	switch kind {
	case SectionBlocks:
		return t.Blocks
	case SectionItems:
		return t.Items
	case SectionSimpleBlock:
		return t.SimpleBlock
	}
	return 0
}

func anyVisible(sections []SectionContribution, kind SectionKind) bool {
	for _, s := range sections {
		if s.Kind == kind && s.Visible {
			return true
		}
	}
	return false
}

func labelOr(label, fallback string) string {
	if label == "" {
		return fallback
	}
	return label
}
