// Package textutil cleans user-supplied plate text before it reaches layout
// resolution or the compositor.
package textutil

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/width"
)

// MaxPlateTextLen caps a cleaned code or number in runes.
const MaxPlateTextLen = 16

// ErrPlateTextTooLong reports cleaned plate text longer than MaxPlateTextLen.
var ErrPlateTextTooLong = errors.New("textutil: plate text too long")

var (
	stripPolicy = bluemonday.StrictPolicy()
	upper       = cases.Upper(language.Und)
)

// NormalizePlateText strips markup and angle brackets, folds full-width forms and Eastern Arabic
// digits to ASCII, upper-cases letters and collapses whitespace. Control
// characters are dropped. The result is at most MaxPlateTextLen runes.
func NormalizePlateText(raw string) string {
	text := cleanPlateText(raw)
	runes := []rune(text)
	if len(runes) > MaxPlateTextLen {
		text = strings.TrimSpace(string(runes[:MaxPlateTextLen]))
	}
	return text
}

// CheckPlateText cleans raw like NormalizePlateText but returns
// ErrPlateTextTooLong instead of truncating.
func CheckPlateText(raw string) (string, error) {
	text := cleanPlateText(raw)
	if utf8.RuneCountInString(text) > MaxPlateTextLen {
		return "", fmt.Errorf("%w: %d characters, at most %d allowed", ErrPlateTextTooLong, utf8.RuneCountInString(text), MaxPlateTextLen)
	}
	return text, nil
}

func cleanPlateText(raw string) string {
	if raw == "" {
		return ""
	}
	text := html.UnescapeString(stripPolicy.Sanitize(raw))
	text = width.Fold.String(text)
	text = strings.Map(func(r rune) rune {
		switch {
		case r >= '٠' && r <= '٩':
			return '0' + (r - '٠')
		case r >= '۰' && r <= '۹':
			return '0' + (r - '۰')
		case r == '<' || r == '>':
			return -1
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, text)
	return strings.Join(strings.Fields(upper.String(text)), " ")
}

// NormalizeKey lower-cases and trims an identifier such as an emirate or style.
func NormalizeKey(raw string) string {
	return strings.ToLower(strings.TrimSpace(width.Fold.String(html.UnescapeString(stripPolicy.Sanitize(raw)))))
}
