package render

import (
	"image/color"

	domain "github.com/plate-market/api/internal/domain"
)

const (
	plateFontBold    = "fonts/uae-plate-bold.ttf"
	plateFontRegular = "fonts/uae-plate-regular.ttf"
	dubaiModernFont  = "fonts/dubai-modern.ttf"
	arabicPlateFont  = "fonts/arabic-plate.ttf"
)

func ratio(v float64) *float64 {
	return &v
}

func rgb(r, g, b uint8) *color.NRGBA {
	return &color.NRGBA{R: r, G: g, B: b, A: 0xFF}
}

func builtinLayouts() map[string]domain.EmirateConfig {
	return map[string]domain.EmirateConfig{
		"dubai": {
			HasCode:            true,
			FontHeightRatio:    0.16,
			LetterSpacingRatio: 0.004,
			VerticalCenter:     true,
			FontFile:           plateFontBold,
			FontWeight:         "bold",
			Components: []domain.ComponentConfig{
				{Kind: domain.ComponentCode, XRatio: 0.13, Align: domain.AlignCenter, Emboss: true},
				{Kind: domain.ComponentNumber, XRatio: 0.62, Align: domain.AlignCenter, Emboss: true},
			},
		},
		"dubai2": {
			HasCode:            true,
			FontHeightRatio:    0.15,
			LetterSpacingRatio: 0.006,
			VerticalCenter:     true,
			FontFile:           dubaiModernFont,
			FontWeight:         "bold",
			Components: []domain.ComponentConfig{
				{Kind: domain.ComponentCode, XRatio: 0.09, Align: domain.AlignLeft, Emboss: true},
				{Kind: domain.ComponentNumber, XRatio: 0.94, Align: domain.AlignRight, Emboss: true},
			},
		},
		"dubai_classic": {
			HasCode:            false,
			FontHeightRatio:    0.14,
			LetterSpacingRatio: 0.003,
			BaselineRatio:      0.58,
			FontFile:           plateFontRegular,
			ArabicFontFile:     arabicPlateFont,
			Components: []domain.ComponentConfig{
				{Kind: domain.ComponentNumber, XRatio: 0.5, Align: domain.AlignCenter},
				{
					Kind:                domain.ComponentArabicNumber,
					XRatio:              0.5,
					Align:               domain.AlignCenter,
					FontSizeRatio:       ratio(0.07),
					BaselineOffsetRatio: ratio(0.28),
				},
			},
		},
		"abu_dhabi": {
			HasCode:            true,
			FontHeightRatio:    0.15,
			LetterSpacingRatio: 0.004,
			VerticalCenter:     true,
			FontFile:           plateFontBold,
			FontWeight:         "bold",
			Components: []domain.ComponentConfig{
				{
					Kind:          domain.ComponentCode,
					XRatio:        0.1,
					Align:         domain.AlignCenter,
					FontSizeRatio: ratio(0.11),
					Color:         rgb(0xFF, 0xFF, 0xFF),
				},
				{Kind: domain.ComponentNumber, XRatio: 0.6, Align: domain.AlignCenter, Emboss: true},
			},
		},
		"abu_dhabi2": {
			HasCode:            true,
			FontHeightRatio:    0.15,
			LetterSpacingRatio: 0.005,
			VerticalCenter:     true,
			FontFile:           dubaiModernFont,
			FontWeight:         "bold",
			Components: []domain.ComponentConfig{
				{Kind: domain.ComponentCode, XRatio: 0.12, Align: domain.AlignCenter, Emboss: true},
				{Kind: domain.ComponentNumber, XRatio: 0.6, Align: domain.AlignCenter, Emboss: true},
			},
		},
		"abu_dhabi_bike": {
			HasCode:            true,
			FontHeightRatio:    0.22,
			LetterSpacingRatio: 0.006,
			FontFile:           plateFontBold,
			FontWeight:         "bold",
			Components: []domain.ComponentConfig{
				{Kind: domain.ComponentCode, XRatio: 0.5, YRatio: ratio(0.38), Align: domain.AlignCenter, Emboss: true},
				{Kind: domain.ComponentNumber, XRatio: 0.5, YRatio: ratio(0.86), Align: domain.AlignCenter, Emboss: true},
			},
		},
		"sharjah": {
			HasCode:            true,
			FontHeightRatio:    0.15,
			LetterSpacingRatio: 0.004,
			BaselineRatio:      0.66,
			FontFile:           plateFontBold,
			FontWeight:         "bold",
			Components: []domain.ComponentConfig{
				{Kind: domain.ComponentCode, XRatio: 0.14, Align: domain.AlignCenter, Emboss: true},
				{Kind: domain.ComponentNumber, XRatio: 0.63, Align: domain.AlignCenter, Emboss: true},
			},
		},
		"sharjah_bike": {
			HasCode:            true,
			FontHeightRatio:    0.21,
			LetterSpacingRatio: 0.005,
			FontFile:           plateFontBold,
			FontWeight:         "bold",
			Components: []domain.ComponentConfig{
				{Kind: domain.ComponentCode, XRatio: 0.5, YRatio: ratio(0.4), Align: domain.AlignCenter, Emboss: true},
				{Kind: domain.ComponentNumber, XRatio: 0.5, YRatio: ratio(0.87), Align: domain.AlignCenter, Emboss: true},
			},
		},
		"sharjah_classic": {
			HasCode:            false,
			FontHeightRatio:    0.15,
			LetterSpacingRatio: 0.003,
			BaselineRatio:      0.55,
			FontFile:           plateFontRegular,
			ArabicFontFile:     arabicPlateFont,
			Components: []domain.ComponentConfig{
				{Kind: domain.ComponentNumber, XRatio: 0.3, Align: domain.AlignCenter},
				{Kind: domain.ComponentArabicNumber, XRatio: 0.75, Align: domain.AlignCenter, FontSizeRatio: ratio(0.12)},
			},
		},
		"ajman": {
			HasCode:            true,
			FontHeightRatio:    0.15,
			LetterSpacingRatio: 0.004,
			VerticalCenter:     true,
			FontFile:           plateFontBold,
			FontWeight:         "bold",
			Components: []domain.ComponentConfig{
				{Kind: domain.ComponentCode, XRatio: 0.12, Align: domain.AlignCenter, Emboss: true},
				{Kind: domain.ComponentNumber, XRatio: 0.6, Align: domain.AlignCenter, Emboss: true},
			},
		},
		"umm_al_quwain": {
			HasCode:            true,
			FontHeightRatio:    0.15,
			LetterSpacingRatio: 0.004,
			VerticalCenter:     true,
			FontFile:           plateFontBold,
			FontWeight:         "bold",
			Components: []domain.ComponentConfig{
				{Kind: domain.ComponentCode, XRatio: 0.12, Align: domain.AlignCenter, Emboss: true},
				{Kind: domain.ComponentNumber, XRatio: 0.6, Align: domain.AlignCenter, Emboss: true},
				{
					Kind:                domain.ComponentArabicNumber,
					XRatio:              0.6,
					Align:               domain.AlignCenter,
					FontSizeRatio:       ratio(0.05),
					BaselineOffsetRatio: ratio(0.3),
					Color:               rgb(0x8B, 0x00, 0x00),
				},
			},
		},
		"ras_al_khaimah": {
			HasCode:            true,
			FontHeightRatio:    0.15,
			LetterSpacingRatio: 0.004,
			BaselineRatio:      0.68,
			FontFile:           plateFontBold,
			FontWeight:         "bold",
			Components: []domain.ComponentConfig{
				{Kind: domain.ComponentCode, XRatio: 0.86, Align: domain.AlignCenter, Emboss: true},
				{Kind: domain.ComponentNumber, XRatio: 0.42, Align: domain.AlignCenter, Emboss: true},
			},
		},
		"fujairah": {
			HasCode:            true,
			FontHeightRatio:    0.15,
			LetterSpacingRatio: 0.004,
			VerticalCenter:     true,
			FontFile:           plateFontBold,
			FontWeight:         "bold",
			Components: []domain.ComponentConfig{
				{Kind: domain.ComponentCode, XRatio: 0.08, Align: domain.AlignLeft, Emboss: true, LetterSpacingRatio: ratio(0.002)},
				{Kind: domain.ComponentNumber, XRatio: 0.93, Align: domain.AlignRight, Emboss: true},
			},
		},
	}
}
