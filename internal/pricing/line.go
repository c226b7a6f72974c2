// Package pricing turns section subtotals and additional budget lines into the
// financial breakdown shown in the editor and printed on exported documents.
//
// Both the live editor and the export pipeline call into this package; neither
// keeps a copy of the arithmetic.
package pricing

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// ConceptType classifies an additional line.
type ConceptType string

const (
	// ConceptAdjustment is a surcharge added to the taxable base.
	ConceptAdjustment ConceptType = "adjustment"
	// ConceptDiscount is a percentage taken off the tax-inclusive total.
	ConceptDiscount ConceptType = "discount"
	// ConceptOptional is shown to the customer but never summed.
	ConceptOptional ConceptType = "optional"
	// ConceptNote is a text-only row.
	ConceptNote ConceptType = "note"
)

// Valid reports whether t is one of the known concept types.
func (t ConceptType) Valid() bool {
	switch t {
	case ConceptAdjustment, ConceptDiscount, ConceptOptional, ConceptNote:
		return true
	}
	return false
}

// AdditionalLine is a user-entered adjustment, discount, optional or note row.
// Amount is a magnitude: the direction comes from ConceptType.
type AdditionalLine struct {
	ID          int64       `json:"id"`
	Concept     string      `json:"concept"`
	Amount      float64     `json:"amount"`
	ConceptType ConceptType `json:"conceptType"`
	ValidUntil  *time.Time  `json:"validUntil,omitempty"`
}

// RawLine is an additional line as typed by a user. Amount may be any JSON
// scalar; strings come straight from text inputs.
type RawLine struct {
	ID          int64      `json:"id"`
	Concept     string     `json:"concept"`
	Amount      any        `json:"amount"`
	ConceptType string     `json:"conceptType"`
	ValidUntil  *time.Time `json:"validUntil,omitempty"`
}

// Normalize sanitizes a line so the engine can trust it. It never fails and is
// idempotent: normalizing a normalized line returns it unchanged.
func Normalize(line AdditionalLine) AdditionalLine {
	out := line
	if !out.ConceptType.Valid() {
		out.ConceptType = ConceptAdjustment
	}
	out.Amount = sanitizeMagnitude(out.Amount)
	if out.ConceptType == ConceptNote {
		out.Amount = 0
	}
	out.Concept = strings.TrimSpace(out.Concept)
	if out.ConceptType != ConceptDiscount {
		out.ValidUntil = nil
	} else if out.ValidUntil != nil {
		v := *out.ValidUntil
		out.ValidUntil = &v
	}
	return out
}

// NormalizeRaw parses the free-form amount of a raw line and normalizes it.
func NormalizeRaw(raw RawLine) AdditionalLine {
	return Normalize(AdditionalLine{
		ID:          raw.ID,
		Concept:     raw.Concept,
		Amount:      ParseAmount(raw.Amount),
		ConceptType: ConceptType(strings.ToLower(strings.TrimSpace(raw.ConceptType))),
		ValidUntil:  raw.ValidUntil,
	})
}

// NormalizeAll returns normalized copies of lines in their original order.
func NormalizeAll(lines []AdditionalLine) []AdditionalLine {
	out := make([]AdditionalLine, len(lines))
	for i, l := range lines {
		out[i] = Normalize(l)
	}
	return out
}

// ParseAmount converts user input into a number. Anything that does not parse
// to a finite number yields 0.
func ParseAmount(v any) float64 {
	var f float64
	switch n := v.(type) {
	case nil:
		return 0
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if !isFinite(f) {
		return 0
	}
	return f
}

func sanitizeMagnitude(f float64) float64 {
	if !isFinite(f) {
		return 0
	}
	return math.Abs(f)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
