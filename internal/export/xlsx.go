package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/odyssey-erp/odyssey-quotes/internal/pricing"
)

const amountFormat = "#,##0.00"

// RenderXLSX writes the document as a single-sheet workbook. Amounts are
// stored as numbers so the sheet stays usable for further calculation.
func RenderXLSX(doc Document) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := strings.TrimSuffix(Filename(doc.Snapshot.Number, ""), ".")
	if len(sheet) > 31 {
		sheet = sheet[:31]
	}
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("export: set sheet name: %w", err)
	}

	for col, width := range map[string]float64{"A": 48, "B": 10, "C": 14, "D": 16} {
		if err := f.SetColWidth(sheet, col, col, width); err != nil {
			return nil, fmt.Errorf("export: set col width %s: %w", col, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("export: create bold style: %w", err)
	}
	title, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}})
	if err != nil {
		return nil, fmt.Errorf("export: create title style: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#212529"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("export: create header style: %w", err)
	}
	amount, err := f.NewStyle(&excelize.Style{CustomNumFmt: ptr(amountFormat)})
	if err != nil {
		return nil, fmt.Errorf("export: create amount style: %w", err)
	}
	boldAmount, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}, CustomNumFmt: ptr(amountFormat)})
	if err != nil {
		return nil, fmt.Errorf("export: create total style: %w", err)
	}
	muted, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Italic: true, Color: "#6E6E6E"}})
	if err != nil {
		return nil, fmt.Errorf("export: create muted style: %w", err)
	}

	w := sheetWriter{f: f, sheet: sheet, row: 1}
	snap := doc.Snapshot
	w.set("A", sanitizeCell(doc.Company+" - Quote "+snap.Number), title)
	w.next()
	w.set("A", sanitizeCell(snap.Title), 0)
	w.next()
	w.set("A", sanitizeCell("Customer: "+snap.CustomerName), 0)
	w.set("D", snap.IssuedAt.Format(issuedLayout), 0)
	w.next()
	w.next()

	for _, s := range doc.Sections {
		w.set("A", sanitizeCell(sectionTitle(s)), bold)
		w.next()
		if s.Kind == pricing.SectionConditions {
			w.set("A", sanitizeCell(s.Body), 0)
			w.next()
			w.next()
			continue
		}
		if len(s.Entries) > 0 {
			for i, h := range []string{"Description", "Qty", "Unit price", "Amount"} {
				w.set(string(rune('A'+i)), h, header)
			}
			w.next()
			for _, e := range s.Entries {
				w.set("A", sanitizeCell(e.Description), 0)
				w.set("B", e.Quantity, 0)
				w.set("C", e.UnitPrice, amount)
				w.set("D", e.Amount(), amount)
				w.next()
			}
		}
		w.set("C", "Subtotal", bold)
		w.set("D", s.RawTotal, boldAmount)
		w.next()
		w.next()
	}

	for _, r := range doc.Rows {
		switch {
		case r.Kind == pricing.RowDisclaimer:
			w.set("A", sanitizeCell(r.Label), muted)
		case !r.HasAmount:
			w.set("A", sanitizeCell(r.Label), muted)
		default:
			style := amount
			labelStyle := 0
			v := r.Amount
			if r.Kind == pricing.RowGrandTotal {
				style, labelStyle = boldAmount, bold
			}
			if r.Kind == pricing.RowDiscount {
				v = -v
			}
			if r.NonBinding {
				labelStyle = muted
			}
			w.set("A", sanitizeCell(r.Label), labelStyle)
			w.set("D", v, style)
		}
		w.next()
	}
	if w.err != nil {
		return nil, fmt.Errorf("export: write cells: %w", w.err)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("export: write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

// sheetWriter keeps the current row and the first error.
type sheetWriter struct {
	f     *excelize.File
	sheet string
	row   int
	err   error
}

func (w *sheetWriter) set(col string, value any, style int) {
	if w.err != nil {
		return
	}
	cell := fmt.Sprintf("%s%d", col, w.row)
	if err := w.f.SetCellValue(w.sheet, cell, value); err != nil {
		w.err = err
		return
	}
	if style != 0 {
		w.err = w.f.SetCellStyle(w.sheet, cell, cell, style)
	}
}

func (w *sheetWriter) next() { w.row++ }

// sanitizeCell prevents formula injection from user-entered text.
func sanitizeCell(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r', '|':
		return "'" + s
	}
	return s
}

func ptr[T any](v T) *T { return &v }
