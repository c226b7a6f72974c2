package export

import (
	"math"
	"regexp"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/odyssey-quotes/internal/pricing"
)

const issuedLayout = "02 Jan 2006"

var (
	printer      = message.NewPrinter(language.English)
	unsafeInName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// FormatAmount renders a currency amount with thousands separators and two
// decimals, followed by the currency code when one is set.
func FormatAmount(v float64, currency string) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	s := printer.Sprintf("%.2f", v)
	if currency == "" {
		return s
	}
	return s + " " + currency
}

// FormatQuantity drops the decimals of whole quantities.
func FormatQuantity(q float64) string {
	if q == math.Trunc(q) {
		return printer.Sprintf("%.0f", q)
	}
	return printer.Sprintf("%.2f", q)
}

// Filename builds a safe attachment name such as "P-2026-001.pdf".
func Filename(number, ext string) string {
	base := strings.Trim(unsafeInName.ReplaceAllString(number, "-"), "-")
	if base == "" {
		base = "budget"
	}
	return base + "." + ext
}

// sectionTitle falls back to the generic label of the section kind.
func sectionTitle(s Section) string {
	if strings.TrimSpace(s.Title) != "" {
		return s.Title
	}
	return pricing.SectionLabel(s.Kind)
}
