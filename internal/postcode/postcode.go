// Package postcode normalizes UK postal codes.
//
// The canonical stored form is uppercase with a single space before the inward
// code ("LS1 2AB"). Older rows may hold the compact form ("LS12AB"), so lookups
// that compare against stored values should use Variants.
package postcode

import "strings"

// Normalize uppercases the code, collapses whitespace and, when the compact
// form is a plausible UK length (5 to 7 characters), places a single space
// before the last three characters.
func Normalize(raw string) string {
	collapsed := strings.Join(strings.Fields(strings.ToUpper(raw)), " ")
	compact := strings.ReplaceAll(collapsed, " ", "")
	if n := len(compact); n >= 5 && n <= 7 {
		return compact[:n-3] + " " + compact[n-3:]
	}
	return collapsed
}

// Compact returns the normalized code with every space removed.
func Compact(raw string) string {
	return strings.ReplaceAll(Normalize(raw), " ", "")
}

// Variants returns the distinct stored representations that denote the same
// code: the canonical spaced form first, then the compact form.
func Variants(raw string) []string {
	spaced := Normalize(raw)
	if spaced == "" {
		return nil
	}
	compact := strings.ReplaceAll(spaced, " ", "")
	if compact == spaced {
		return []string{spaced}
	}
	return []string{spaced, compact}
}
