package render

import (
	"testing"
	"unicode/utf8"

	"pgregory.net/rapid"
)

func TestToArabicIndic(t *testing.T) {
	cases := map[string]string{
		"":        "",
		"12345":   "١٢٣٤٥",
		"0 9":     "٠ ٩",
		"A1":      "A١",
		"٣":       "٣",
		"7-B-800": "٧-B-٨٠٠",
	}
	for in, want := range cases {
		if got := ToArabicIndic(in); got != want {
			t.Fatalf("ToArabicIndic(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestToArabicIndicProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := rapid.String().Draw(t, "in")
		out := ToArabicIndic(in)

		inRunes := []rune(in)
		outRunes := []rune(out)
		if utf8.ValidString(in) && len(inRunes) != len(outRunes) {
			t.Fatalf("rune count changed: %d -> %d", len(inRunes), len(outRunes))
		}
		for i, r := range inRunes {
			if i >= len(outRunes) {
				break
			}
			switch {
			case r >= '0' && r <= '9':
				if outRunes[i] != 0x0660+(r-'0') {
					t.Fatalf("digit %q mapped to %q", r, outRunes[i])
				}
			case outRunes[i] != r:
				t.Fatalf("non-digit %q changed to %q", r, outRunes[i])
			}
		}
	})
}
