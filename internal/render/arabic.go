package render

import "strings"

const arabicIndicZero = '٠'

// ToArabicIndic maps ASCII digits onto Arabic-Indic digits (U+0660..U+0669).
// Every other rune passes through unchanged.
func ToArabicIndic(s string) string {
	if s == "" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return arabicIndicZero + (r - '0')
		}
		return r
	}, s)
}
