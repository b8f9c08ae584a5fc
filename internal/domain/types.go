package domain

import (
	"image/color"
	"strings"
	"time"
)

// Emirate identifies one of the seven UAE registration authorities. Values are the
// normalised (lower case, underscore separated) form used in layout keys.
type Emirate string

const (
	EmirateAbuDhabi     Emirate = "abu_dhabi"
	EmirateDubai        Emirate = "dubai"
	EmirateSharjah      Emirate = "sharjah"
	EmirateAjman        Emirate = "ajman"
	EmirateUmmAlQuwain  Emirate = "umm_al_quwain"
	EmirateRasAlKhaimah Emirate = "ras_al_khaimah"
	EmirateFujairah     Emirate = "fujairah"
)

// Emirates lists every known emirate in display order.
var Emirates = []Emirate{
	EmirateAbuDhabi,
	EmirateDubai,
	EmirateSharjah,
	EmirateAjman,
	EmirateUmmAlQuwain,
	EmirateRasAlKhaimah,
	EmirateFujairah,
}

// NormalizeEmirate lower-cases the identifier and replaces spaces and dashes with underscores.
func NormalizeEmirate(raw string) Emirate {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.ReplaceAll(value, " ", "_")
	value = strings.ReplaceAll(value, "-", "_")
	return Emirate(value)
}

// PlateStyle selects an alternate layout/template set.
type PlateStyle string

const (
	PlateStylePrivate PlateStyle = "private"
	PlateStyleBike    PlateStyle = "bike"
	PlateStyleClassic PlateStyle = "classic"
)

// ParsePlateStyle maps loosely formatted input onto a known style, defaulting to private.
func ParsePlateStyle(raw string) PlateStyle {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "bike", "motorcycle", "motorbike":
		return PlateStyleBike
	case "classic", "vintage":
		return PlateStyleClassic
	default:
		return PlateStylePrivate
	}
}

const (
	// PlateVersionStandard is the original artwork for an emirate.
	PlateVersionStandard = 1
	// PlateVersionModern is the redesigned artwork variant.
	PlateVersionModern = 2
)

// NormalizePlateVersion clamps unknown versions to the standard artwork.
func NormalizePlateVersion(version int) int {
	if version == PlateVersionModern {
		return PlateVersionModern
	}
	return PlateVersionStandard
}

// ComponentKind names the piece of plate text a component draws.
type ComponentKind string

const (
	ComponentCode         ComponentKind = "code"
	ComponentNumber       ComponentKind = "number"
	ComponentArabicNumber ComponentKind = "arabic_number"
)

// TextAlign controls how a component's anchor relates to its rendered width.
type TextAlign string

const (
	AlignCenter TextAlign = "center"
	AlignLeft   TextAlign = "left"
	AlignRight  TextAlign = "right"
)

// ComponentConfig positions one text element within a plate layout. Ratios are
// fractions of the canvas width (x, sizes, spacing) or height (y, offsets).
type ComponentConfig struct {
	Kind   ComponentKind
	XRatio float64
	// YRatio overrides the layout baseline when set.
	YRatio *float64
	Align  TextAlign
	Emboss bool

	FontSizeRatio       *float64
	LetterSpacingRatio  *float64
	BaselineOffsetRatio *float64
	Color               *color.NRGBA
}

// EmirateConfig is the layout contract for one emirate/style/version combination.
type EmirateConfig struct {
	HasCode            bool
	FontHeightRatio    float64
	LetterSpacingRatio float64
	VerticalCenter     bool
	BaselineRatio      float64
	FontFile           string
	ArabicFontFile     string
	FontWeight         string
	Components         []ComponentConfig
}

// RenderRequest describes a single plate image to produce.
type RenderRequest struct {
	Emirate     Emirate
	Style       PlateStyle
	Version     int
	PlateCode   string
	PlateNumber string
	OutputWidth int
}

// PlateRecord is the persisted listing fragment the migration job rewrites.
type PlateRecord struct {
	ID          string
	PlateCode   string
	PlateNumber string
	Emirate     string
	Style       string
	Version     int
	ImageURL    string
	ImagePath   string
	UpdatedAt   time.Time
}
