package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-quotes/internal/observability"
)

// Format identifies an export format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatXLSX Format = "xlsx"
)

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/pdf"
	}
}

// ParseFormat accepts "pdf" and "xlsx" in any case. Empty means pdf.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pdf":
		return FormatPDF, nil
	case "xlsx":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("export: unsupported format %q", s)
}

// File is one rendered export.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Exporter renders composed documents in the configured formats.
type Exporter struct {
	pdf     PDFRenderer
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewExporter constructs an Exporter. A nil pdf renderer falls back to maroto.
func NewExporter(pdf PDFRenderer, metrics *observability.Metrics, logger *slog.Logger) *Exporter {
	if pdf == nil {
		pdf = MarotoRenderer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{pdf: pdf, metrics: metrics, logger: logger}
}

// NewPDFRenderer selects the PDF engine by name: "gotenberg" converts the HTML
// template through converter, anything else renders with maroto.
func NewPDFRenderer(engine string, converter HTMLConverter) PDFRenderer {
	if strings.EqualFold(engine, "gotenberg") && converter != nil {
		return NewHTMLRenderer(converter)
	}
	return MarotoRenderer{}
}

// Render produces a single file.
func (e *Exporter) Render(ctx context.Context, doc Document, format Format) (File, error) {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatXLSX:
		data, err = RenderXLSX(doc)
	case FormatPDF:
		data, err = e.pdf.RenderPDF(ctx, doc)
	default:
		err = fmt.Errorf("export: unsupported format %q", format)
	}
	e.metrics.ObserveExport(string(format), err)
	if err != nil {
		e.logger.Error("render export",
			slog.Int64("budget_id", doc.Snapshot.BudgetID),
			slog.String("format", string(format)),
			slog.Any("error", err),
		)
		return File{}, err
	}
	return File{
		Name:        Filename(doc.Snapshot.Number, string(format)),
		ContentType: format.ContentType(),
		Data:        data,
	}, nil
}

// Bundle renders every requested format concurrently and returns the files in
// the order requested.
func (e *Exporter) Bundle(ctx context.Context, doc Document, formats ...Format) ([]File, error) {
	files := make([]File, len(formats))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range formats {
		g.Go(func() error {
			file, err := e.Render(gctx, doc, f)
			if err != nil {
				return err
			}
			files[i] = file
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}
