package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeDeviceID trims, NFKC-normalises and case-folds an identifier so
// scanner and keyboard variants of one serial compare equal.
func NormalizeDeviceID(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	// Casers are stateful, so one per call.
	return cases.Fold().String(norm.NFKC.String(trimmed))
}

func SameDevice(a string, b string) bool {
	na := NormalizeDeviceID(a)
	return na != "" && na == NormalizeDeviceID(b)
}
