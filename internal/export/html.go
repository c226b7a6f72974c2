package export

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/odyssey-erp/odyssey-quotes/internal/pricing"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("export").Funcs(template.FuncMap{
	"amount": FormatAmount,
	"qty":    FormatQuantity,
	"title":  sectionTitle,
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(issuedLayout)
	},
	"isConditions": func(s Section) bool {
		return s.Kind == pricing.SectionConditions
	},
	"rowClass": func(r pricing.Row) string {
		switch {
		case r.NonBinding:
			return "optional"
		case r.Kind == pricing.RowGrandTotal:
			return "grand"
		}
		return ""
	},
}).ParseFS(templateFS, "templates/*.html"))

// HTMLConverter turns an HTML page into a PDF. report.Client implements it.
type HTMLConverter interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// HTMLRenderer renders the document as HTML and converts it through Gotenberg.
type HTMLRenderer struct {
	converter HTMLConverter
}

// NewHTMLRenderer constructs an HTMLRenderer.
func NewHTMLRenderer(converter HTMLConverter) *HTMLRenderer {
	return &HTMLRenderer{converter: converter}
}

// RenderHTML executes the budget page template.
func RenderHTML(doc Document) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "budget.html", doc); err != nil {
		return "", fmt.Errorf("export: render budget html: %w", err)
	}
	return buf.String(), nil
}

// RenderPDF implements PDFRenderer.
func (r *HTMLRenderer) RenderPDF(ctx context.Context, doc Document) ([]byte, error) {
	if r == nil || r.converter == nil {
		return nil, fmt.Errorf("export: html converter not configured")
	}
	page, err := RenderHTML(doc)
	if err != nil {
		return nil, err
	}
	pdf, err := r.converter.RenderHTML(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("export: convert html: %w", err)
	}
	return pdf, nil
}

// Email is the rendered message for sending a budget to its customer.
type Email struct {
	Subject string
	Text    string
	HTML    string
}

// RenderEmail builds the subject and bodies of the customer email.
func RenderEmail(doc Document) (Email, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "email.html", doc); err != nil {
		return Email{}, fmt.Errorf("export: render email html: %w", err)
	}
	snap := doc.Snapshot
	subject := fmt.Sprintf("Quote %s from %s", snap.Number, doc.Company)
	text := fmt.Sprintf("Hello %s,\n\nPlease find attached quote %s.\nTotal: %s\n\nKind regards,\n%s\n",
		snap.CustomerName, snap.Number, FormatAmount(doc.Breakdown.GrandTotal, snap.Currency), doc.Company)
	return Email{Subject: subject, Text: text, HTML: buf.String()}, nil
}
