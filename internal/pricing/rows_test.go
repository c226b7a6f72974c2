package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rowKinds(rows []Row) []RowKind {
	kinds := make([]RowKind, len(rows))
	for i, r := range rows {
		kinds[i] = r.Kind
	}
	return kinds
}

func TestRowsWithoutDiscount(t *testing.T) {
	sections := []SectionContribution{
		{Kind: SectionBlocks, RawTotal: 100, Visible: true},
		{Kind: SectionItems, RawTotal: 500},
	}
	b := Compute(Input{Sections: sections, VATPercentage: 21})

	rows := Rows(b, sections)
	assert.Equal(t, []RowKind{RowSubtotal, RowTaxableBase, RowVAT, RowGrandTotal}, rowKinds(rows))
	assert.Equal(t, "Blocks", rows[0].Label)
	assert.Equal(t, "VAT (21%)", rows[2].Label)
	assert.Equal(t, 121.0, rows[3].Amount)
}

func TestRowsFullLayout(t *testing.T) {
	until := time.Date(2026, 11, 30, 0, 0, 0, 0, time.UTC)
	sections := []SectionContribution{
		{Kind: SectionBlocks, RawTotal: 60, Visible: true},
		{Kind: SectionItems, RawTotal: 40, Visible: true},
		{Kind: SectionSimpleBlock, RawTotal: 0, Visible: true},
	}
	b := Compute(Input{
		Sections: sections,
		Lines: []AdditionalLine{
			{ID: 1, Concept: "Winter promo", ConceptType: ConceptDiscount, Amount: 10, ValidUntil: &until},
			{ID: 2, Concept: "Extra coat", ConceptType: ConceptOptional, Amount: 999},
			{ID: 3, Concept: "Scaffolding", ConceptType: ConceptAdjustment, Amount: 50},
			{ID: 4, Concept: "Works start in March", ConceptType: ConceptNote, Amount: 12},
		},
		VATPercentage: 21,
	})

	rows := Rows(b, sections)
	require.Equal(t, []RowKind{
		RowSubtotal, RowSubtotal, RowSubtotal,
		RowOptional, RowAdjustment, RowNote,
		RowTaxableBase, RowVAT,
		RowBeforeDiscount, RowDiscount,
		RowGrandTotal,
		RowDisclaimer, RowDisclaimer,
	}, rowKinds(rows))

	assert.True(t, rows[3].NonBinding)
	assert.False(t, rows[5].HasAmount)
	assert.Equal(t, "Winter promo (10%)", rows[9].Label)
	assert.Equal(t, 18.15, rows[9].Amount)
	assert.Equal(t, 163.35, rows[10].Amount)
	assert.Equal(t, "Winter promo valid until 30 Nov 2026.", rows[11].Label)
	assert.Equal(t, OptionalDisclaimer, rows[12].Label)
}

func TestRowsZeroPercentDiscountIsNotShown(t *testing.T) {
	b := ComputeBreakdown(100, []AdditionalLine{{ConceptType: ConceptDiscount, Amount: 0}}, 21)
	rows := Rows(b, nil)
	assert.Equal(t, []RowKind{RowTaxableBase, RowVAT, RowGrandTotal}, rowKinds(rows))
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "21", FormatPercent(21))
	assert.Equal(t, "10.5", FormatPercent(10.5))
	assert.Equal(t, "0", FormatPercent(0))
}
