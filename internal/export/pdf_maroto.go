package export

import (
	"context"
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"

	"github.com/odyssey-erp/odyssey-quotes/internal/pricing"
)

// PDFRenderer renders a composed document to PDF bytes.
type PDFRenderer interface {
	RenderPDF(ctx context.Context, doc Document) ([]byte, error)
}

// MarotoRenderer renders PDFs in-process with maroto.
type MarotoRenderer struct{}

var (
	mutedColor  = &props.Color{Red: 110, Green: 110, Blue: 110}
	headerColor = &props.Color{Red: 33, Green: 37, Blue: 41}
	whiteColor  = &props.Color{Red: 255, Green: 255, Blue: 255}
	totalsBg    = &props.Color{Red: 242, Green: 242, Blue: 242}
)

// RenderPDF implements PDFRenderer.
func (MarotoRenderer) RenderPDF(_ context.Context, doc Document) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(12).
		WithTopMargin(12).
		WithRightMargin(12).
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
			Size:    7,
			Color:   mutedColor,
		}).
		Build()

	m := maroto.New(cfg)
	addDocumentHeader(m, doc)
	for _, s := range doc.Sections {
		addSection(m, s, doc.Snapshot.Currency)
	}
	addBreakdown(m, doc)

	out, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("export: generate pdf: %w", err)
	}
	return out.GetBytes(), nil
}

func addDocumentHeader(m core.Maroto, doc Document) {
	snap := doc.Snapshot
	m.AddRows(
		row.New(10).Add(
			col.New(8).Add(text.New(doc.Company, props.Text{Size: 14, Style: fontstyle.Bold})),
			col.New(4).Add(text.New("Quote "+snap.Number, props.Text{Size: 11, Style: fontstyle.Bold, Align: align.Right})),
		),
		row.New(7).Add(
			col.New(8).Add(text.New(snap.Title, props.Text{Size: 10})),
			col.New(4).Add(text.New(snap.IssuedAt.Format(issuedLayout), props.Text{Size: 9, Align: align.Right, Color: mutedColor})),
		),
		row.New(7).Add(
			col.New(12).Add(text.New("Customer: "+snap.CustomerName, props.Text{Size: 9, Color: mutedColor})),
		),
	)
	m.AddRows(row.New(4))
}

func addSection(m core.Maroto, s Section, currency string) {
	m.AddRows(row.New(8).Add(
		col.New(12).Add(text.New(sectionTitle(s), props.Text{Size: 11, Style: fontstyle.Bold})),
	))

	if s.Kind == pricing.SectionConditions {
		if s.Body != "" {
			m.AddRows(row.New(12).Add(col.New(12).Add(text.New(s.Body, props.Text{Size: 8}))))
		}
		m.AddRows(row.New(4))
		return
	}

	if len(s.Entries) > 0 {
		head := props.Text{Size: 8, Style: fontstyle.Bold, Color: whiteColor}
		headRight := head
		headRight.Align = align.Right
		cell := &props.Cell{BackgroundColor: headerColor}
		m.AddRows(row.New(7).Add(
			col.New(6).Add(text.New("Description", head)).WithStyle(cell),
			col.New(2).Add(text.New("Qty", headRight)).WithStyle(cell),
			col.New(2).Add(text.New("Unit price", headRight)).WithStyle(cell),
			col.New(2).Add(text.New("Amount", headRight)).WithStyle(cell),
		))
		body := props.Text{Size: 8}
		bodyRight := props.Text{Size: 8, Align: align.Right}
		for _, e := range s.Entries {
			m.AddRows(row.New(6).Add(
				col.New(6).Add(text.New(e.Description, body)),
				col.New(2).Add(text.New(FormatQuantity(e.Quantity), bodyRight)),
				col.New(2).Add(text.New(FormatAmount(e.UnitPrice, ""), bodyRight)),
				col.New(2).Add(text.New(FormatAmount(e.Amount(), ""), bodyRight)),
			))
		}
	}

	m.AddRows(row.New(7).Add(
		col.New(8).Add(text.New("Subtotal", props.Text{Size: 8, Style: fontstyle.Bold, Align: align.Right})),
		col.New(4).Add(text.New(FormatAmount(s.RawTotal, currency), props.Text{Size: 8, Style: fontstyle.Bold, Align: align.Right})),
	))
	m.AddRows(row.New(4))
}

func addBreakdown(m core.Maroto, doc Document) {
	currency := doc.Snapshot.Currency
	cell := &props.Cell{BackgroundColor: totalsBg}
	m.AddRows(row.New(4))

	for _, r := range doc.Rows {
		switch {
		case r.Kind == pricing.RowDisclaimer:
			m.AddRows(row.New(5).Add(
				col.New(12).Add(text.New(r.Label, props.Text{Size: 7, Style: fontstyle.Italic, Color: mutedColor})),
			))
		case !r.HasAmount:
			m.AddRows(row.New(6).Add(
				col.New(12).Add(text.New(r.Label, props.Text{Size: 8, Style: fontstyle.Italic})),
			))
		default:
			label := props.Text{Size: 9, Align: align.Right}
			value := props.Text{Size: 9, Align: align.Right}
			amount := FormatAmount(r.Amount, currency)
			switch r.Kind {
			case pricing.RowGrandTotal:
				label.Style, value.Style = fontstyle.Bold, fontstyle.Bold
				label.Size, value.Size = 11, 11
			case pricing.RowDiscount:
				amount = "-" + amount
			}
			if r.NonBinding {
				label.Style, value.Style = fontstyle.Italic, fontstyle.Italic
				label.Color, value.Color = mutedColor, mutedColor
				amount = "(" + amount + ")"
			}
			m.AddRows(row.New(7).Add(
				col.New(8).Add(text.New(r.Label, label)).WithStyle(cell),
				col.New(4).Add(text.New(amount, value)).WithStyle(cell),
			))
		}
	}
}
