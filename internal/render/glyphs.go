package render

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

var (
	embossDepthColor     = color.NRGBA{R: 0x05, G: 0x05, B: 0x05, A: 0xFF}
	embossHighlightColor = color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0x99}
	embossInkColor       = color.NRGBA{R: 0x1A, G: 0x1A, B: 0x1A, A: 0xFF}
	flatInkColor         = color.NRGBA{A: 0xFF}
)

// embossMetrics derives depth offset and outline width from canvas height.
func embossMetrics(canvasHeight int) (depth, stroke float64) {
	h := float64(canvasHeight)
	return math.Max(1, h*0.008), math.Max(1, h*0.006)
}

func toFixed(v float64) fixed.Int26_6 {
	return fixed.Int26_6(math.Round(v * 64))
}

// drawRun draws text left to right from (x, baseline), advancing by glyph width plus spacing.
func drawRun(dst draw.Image, face font.Face, text string, x, baseline, spacing float64, ink color.NRGBA, emboss bool) {
	depth, stroke := embossMetrics(dst.Bounds().Dy())
	pen := x
	for _, r := range text {
		advance, _ := face.GlyphAdvance(r)
		if emboss {
			fillGlyph(dst, face, r, pen+depth, baseline+depth, embossDepthColor)
			strokeGlyph(dst, face, r, pen, baseline, stroke, embossHighlightColor)
		}
		fillGlyph(dst, face, r, pen, baseline, ink)
		pen += float64(advance)/64 + spacing
	}
}

func fillGlyph(dst draw.Image, face font.Face, r rune, x, baseline float64, c color.NRGBA) {
	dr, mask, maskp, _, ok := face.Glyph(fixed.Point26_6{X: toFixed(x), Y: toFixed(baseline)}, r)
	if !ok || dr.Empty() {
		return
	}
	draw.DrawMask(dst, dr, image.NewUniform(c), image.Point{}, mask, maskp, draw.Over)
}

// strokeGlyph paints an outline of the given width centred on the glyph edge by
// dilating the coverage mask and compositing it once.
func strokeGlyph(dst draw.Image, face font.Face, r rune, x, baseline, width float64, c color.NRGBA) {
	dr, mask, maskp, _, ok := face.Glyph(fixed.Point26_6{X: toFixed(x), Y: toFixed(baseline)}, r)
	if !ok || dr.Empty() {
		return
	}
	radius := int(math.Ceil(width / 2))
	if radius < 1 {
		radius = 1
	}
	outline := image.NewAlpha(dr.Inset(-radius))
	limit := radius * radius
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy > limit {
				continue
			}
			draw.DrawMask(outline, dr.Add(image.Pt(dx, dy)), image.Opaque, image.Point{}, mask, maskp, draw.Over)
		}
	}
	draw.DrawMask(dst, outline.Bounds(), image.NewUniform(c), image.Point{}, outline, outline.Bounds().Min, draw.Over)
}

// measureRun returns the total advance of text including spacing between glyphs.
func measureRun(face font.Face, text string, spacing float64) float64 {
	total := 0.0
	n := 0
	for _, r := range text {
		advance, _ := face.GlyphAdvance(r)
		total += float64(advance) / 64
		n++
	}
	if n > 1 {
		total += spacing * float64(n-1)
	}
	return total
}
