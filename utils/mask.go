package utils

import "strings"

// MaskIdentifier hides all but the last four characters of a national
// identifier so it can appear in listings and logs.
func MaskIdentifier(value string) string {
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
}
