// Package normalize canonicalizes SKU, model, brand and type strings so every
// matching stage compares the same representation.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize uppercases text, folds accents, drops non-alphanumeric separators and
// collapses whitespace. It is total: empty input yields "".
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	folded := fold(text)

	var b strings.Builder
	b.Grow(len(folded))
	pendingSpace := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(unicode.ToUpper(r))
		case unicode.IsSpace(r):
			pendingSpace = true
		}
	}
	return b.String()
}

// Compact is Normalize without spaces: "XC 16-036" -> "XC16036".
func Compact(text string) string {
	return strings.ReplaceAll(Normalize(text), " ", "")
}

// Tokens splits text into normalized tokens. Separators such as '-' and '/' also split.
func Tokens(text string) []string {
	folded := fold(text)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if n := Normalize(f); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Equal reports whether a and b are non-empty and normalize to the same string.
func Equal(a, b string) bool {
	na := Normalize(a)
	return na != "" && na == Normalize(b)
}

var productTypeAliases = map[string]string{
	"AC":              "AC",
	"AIR CONDITIONER": "AC",
	"AIRCONDITIONER":  "AC",
	"CONDENSER":       "AC",
	"CONDENSING UNIT": "AC",
	"HP":              "HP",
	"HEAT PUMP":       "HP",
	"HEATPUMP":        "HP",
	"FURNACE":         "FURNACE",
	"GAS FURNACE":     "FURNACE",
	"FURN":            "FURNACE",
	"AH":              "AH",
	"AIR HANDLER":     "AH",
	"AIRHANDLER":      "AH",
	"COIL":            "COIL",
	"EVAPORATOR COIL": "COIL",
	"MINI SPLIT":      "MINISPLIT",
	"MINISPLIT":       "MINISPLIT",
	"DUCTLESS":        "MINISPLIT",
}

// ProductType maps common aliases to one canonical type code.
func ProductType(text string) string {
	n := Normalize(text)
	if canonical, ok := productTypeAliases[n]; ok {
		return canonical
	}
	return n
}

func fold(text string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return out
}
