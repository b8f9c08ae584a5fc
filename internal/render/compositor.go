package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"

	domain "github.com/plate-market/api/internal/domain"
)

var (
	// ErrInvalidTemplate indicates a missing or zero-sized background image.
	ErrInvalidTemplate = errors.New("render: invalid template")
	// ErrInvalidWidth indicates a non-positive output width.
	ErrInvalidWidth = errors.New("render: output width must be positive")
	// ErrFontsRequired is returned when a compositor is built without a font provisioner.
	ErrFontsRequired = errors.New("render: font provisioner is required")
)

// Placement is the resolved geometry of one component on a canvas.
type Placement struct {
	Kind     domain.ComponentKind
	Text     string
	Family   string
	X        float64
	Baseline float64
	Width    float64
	FontSize float64
	Spacing  float64
	Emboss   bool
	Ink      color.NRGBA

	font *opentype.Font
}

// CompositorDeps enumerates collaborators for the compositor.
type CompositorDeps struct {
	Fonts *FontProvisioner
}

// Compositor stamps plate text onto template backgrounds.
type Compositor struct {
	fonts *FontProvisioner
}

// NewCompositor returns a compositor bound to the supplied font provisioner.
func NewCompositor(deps CompositorDeps) (*Compositor, error) {
	if deps.Fonts == nil {
		return nil, ErrFontsRequired
	}
	return &Compositor{fonts: deps.Fonts}, nil
}

// CanvasSize returns the aspect-preserving canvas for a background at width.
func CanvasSize(background image.Rectangle, width int) image.Point {
	height := int(math.Round(float64(width) * float64(background.Dy()) / float64(background.Dx())))
	if height < 1 {
		height = 1
	}
	return image.Pt(width, height)
}

// Render composites req onto background using cfg. It waits for the font barrier
// before drawing and is otherwise free of side effects.
func (c *Compositor) Render(ctx context.Context, cfg domain.EmirateConfig, background image.Image, req domain.RenderRequest) (*image.RGBA, error) {
	if background == nil {
		return nil, ErrInvalidTemplate
	}
	bounds := background.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: background is %dx%d", ErrInvalidTemplate, bounds.Dx(), bounds.Dy())
	}

	placements, size, err := c.Layout(ctx, cfg, bounds, req)
	if err != nil {
		return nil, err
	}

	canvas := image.NewRGBA(image.Rectangle{Max: size})
	draw.CatmullRom.Scale(canvas, canvas.Bounds(), background, bounds, draw.Src, nil)

	faces := make(map[faceKey]font.Face)
	defer func() {
		for _, face := range faces {
			_ = face.Close()
		}
	}()
	for _, p := range placements {
		face, err := cachedFace(faces, p.font, p.FontSize)
		if err != nil {
			return nil, err
		}
		drawRun(canvas, face, p.Text, p.X, p.Baseline, p.Spacing, p.Ink, p.Emboss)
	}
	return canvas, nil
}

// Layout resolves the placement of every drawable component without touching pixels.
func (c *Compositor) Layout(ctx context.Context, cfg domain.EmirateConfig, background image.Rectangle, req domain.RenderRequest) ([]Placement, image.Point, error) {
	if req.OutputWidth <= 0 {
		return nil, image.Point{}, ErrInvalidWidth
	}
	if background.Dx() <= 0 || background.Dy() <= 0 {
		return nil, image.Point{}, ErrInvalidTemplate
	}
	if err := c.fonts.EnsureLoaded(ctx); err != nil {
		return nil, image.Point{}, err
	}

	size := CanvasSize(background, req.OutputWidth)
	width, height := float64(size.X), float64(size.Y)

	globalFontHeight := width * cfg.FontHeightRatio
	baselineY := height * cfg.BaselineRatio
	if cfg.VerticalCenter {
		baselineY = height/2 + globalFontHeight*0.35
	}

	faces := make(map[faceKey]font.Face)
	defer func() {
		for _, face := range faces {
			_ = face.Close()
		}
	}()

	placements := make([]Placement, 0, len(cfg.Components))
	for _, comp := range cfg.Components {
		text := componentText(cfg, comp.Kind, req)
		if text == "" {
			continue
		}

		fontFile := cfg.FontFile
		if comp.Kind == domain.ComponentArabicNumber && cfg.ArabicFontFile != "" {
			fontFile = cfg.ArabicFontFile
		}
		f, family, err := c.fonts.faceFor(fontFile, cfg.FontWeight)
		if err != nil {
			return nil, image.Point{}, err
		}

		fontSize := globalFontHeight
		if comp.FontSizeRatio != nil {
			fontSize = *comp.FontSizeRatio * width
		}
		if fontSize <= 0 {
			continue
		}
		spacing := cfg.LetterSpacingRatio * width
		if comp.LetterSpacingRatio != nil {
			spacing = *comp.LetterSpacingRatio * width
		}
		y := baselineY
		switch {
		case comp.YRatio != nil:
			y = *comp.YRatio * height
		case comp.BaselineOffsetRatio != nil:
			y = baselineY + *comp.BaselineOffsetRatio*height
		}

		face, err := cachedFace(faces, f, fontSize)
		if err != nil {
			return nil, image.Point{}, err
		}
		total := measureRun(face, text, spacing)
		x := comp.XRatio * width
		switch comp.Align {
		case domain.AlignRight:
			x -= total
		case domain.AlignLeft:
		default:
			x -= total / 2
		}

		ink := flatInkColor
		if comp.Emboss {
			ink = embossInkColor
		}
		if comp.Color != nil {
			ink = *comp.Color
		}

		placements = append(placements, Placement{
			Kind:     comp.Kind,
			Text:     text,
			Family:   family,
			X:        x,
			Baseline: y,
			Width:    total,
			FontSize: fontSize,
			Spacing:  spacing,
			Emboss:   comp.Emboss,
			Ink:      ink,
			font:     f,
		})
	}
	return placements, size, nil
}

func componentText(cfg domain.EmirateConfig, kind domain.ComponentKind, req domain.RenderRequest) string {
	switch kind {
	case domain.ComponentCode:
		if !cfg.HasCode {
			return ""
		}
		return strings.TrimSpace(req.PlateCode)
	case domain.ComponentNumber:
		return strings.TrimSpace(req.PlateNumber)
	case domain.ComponentArabicNumber:
		return ToArabicIndic(strings.TrimSpace(req.PlateNumber))
	default:
		return ""
	}
}

type faceKey struct {
	font *opentype.Font
	size float64
}

func cachedFace(faces map[faceKey]font.Face, f *opentype.Font, size float64) (font.Face, error) {
	key := faceKey{font: f, size: size}
	if face, ok := faces[key]; ok {
		return face, nil
	}
	face, err := newFace(f, size)
	if err != nil {
		return nil, fmt.Errorf("render: build face: %w", err)
	}
	faces[key] = face
	return face, nil
}
