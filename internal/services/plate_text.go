package services

import (
	"strings"
	"unicode"

	"github.com/plate-market/api/internal/platform/textutil"
)

// ParsePlateText cleans the stored code and number. Older listings keep the whole
// registration in the number field ("A 12345", "A12345", "12 34567"); when the code
// is empty such values are split into code and number.
func ParsePlateText(code, number string) (string, string) {
	code = textutil.NormalizePlateText(code)
	number = textutil.NormalizePlateText(number)
	if code != "" || number == "" {
		return code, number
	}

	if head, tail, ok := strings.Cut(number, " "); ok && !strings.Contains(tail, " ") && isDigits(tail) {
		return head, tail
	}

	split := strings.IndexFunc(number, unicode.IsDigit)
	if split <= 0 {
		return "", number
	}
	prefix, rest := number[:split], number[split:]
	if !isLetters(prefix) || !isDigits(rest) {
		return "", number
	}
	return prefix, rest
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isLetters(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}
