package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	"golang.org/x/image/draw"
)

// DefaultJPEGQuality sits inside the 0.82-0.92 band used for CDN and preview output.
const DefaultJPEGQuality = 88

// ErrCanvasExport indicates the canvas could not be encoded.
var ErrCanvasExport = errors.New("render: canvas export failed")

// Format is an output encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// ParseFormat maps a loose format name onto a Format, defaulting to PNG.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	default:
		return "", fmt.Errorf("render: unsupported format %q", raw)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// Extension returns the file extension for the format, without the dot.
func (f Format) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return "png"
}

// Encode serialises img. quality applies to lossy formats only; non-positive values use the default.
func Encode(img image.Image, format Format, quality int) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil canvas", ErrCanvasExport)
	}
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatJPEG:
		if quality <= 0 || quality > 100 {
			quality = DefaultJPEGQuality
		}
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	case FormatPNG, "":
		enc := png.Encoder{CompressionLevel: png.DefaultCompression}
		err = enc.Encode(&buf, img)
	default:
		err = fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCanvasExport, err)
	}
	return buf.Bytes(), nil
}

// Downscale resamples src to width, preserving aspect ratio. Sources already at or
// below width are returned as-is.
func Downscale(src *image.RGBA, width int) *image.RGBA {
	if src == nil || width <= 0 || src.Bounds().Dx() <= width {
		return src
	}
	size := CanvasSize(src.Bounds(), width)
	dst := image.NewRGBA(image.Rectangle{Max: size})
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
