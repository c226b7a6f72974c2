package app

import (
	"log"
	"mime"

	"github.com/odyssey-erp/odyssey-quotes/internal/export"
)

func init() {
	ensureMimeType(".pdf", export.FormatPDF.ContentType())
	ensureMimeType(".xlsx", export.FormatXLSX.ContentType())
}

func ensureMimeType(ext, typ string) {
	if mime.TypeByExtension(ext) != "" {
		return
	}
	if err := mime.AddExtensionType(ext, typ); err != nil {
		log.Printf("app: failed to register MIME type for %s: %v", ext, err)
	}
}
