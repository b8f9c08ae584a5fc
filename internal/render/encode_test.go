package render

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"testing"
)

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{"": FormatPNG, "PNG": FormatPNG, "jpg": FormatJPEG, " jpeg ": FormatJPEG}
	for in, want := range cases {
		got, err := ParseFormat(in)
		if err != nil {
			t.Fatalf("ParseFormat(%q) error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseFormat(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseFormat("gif"); err == nil {
		t.Fatalf("expected gif to be rejected")
	}
	if FormatJPEG.ContentType() != "image/jpeg" || FormatJPEG.Extension() != "jpg" {
		t.Fatalf("unexpected jpeg metadata")
	}
	if FormatPNG.ContentType() != "image/png" || FormatPNG.Extension() != "png" {
		t.Fatalf("unexpected png metadata")
	}
}

func TestEncodeRoundTripsBounds(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 40, 10))
	data, err := Encode(src, FormatPNG, 0)
	if err != nil {
		t.Fatalf("Encode png error: %v", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeConfig png error: %v", err)
	}
	if cfg.Width != 40 || cfg.Height != 10 {
		t.Fatalf("unexpected png size %dx%d", cfg.Width, cfg.Height)
	}

	data, err = Encode(src, FormatJPEG, 0)
	if err != nil {
		t.Fatalf("Encode jpeg error: %v", err)
	}
	if _, err := jpeg.DecodeConfig(bytes.NewReader(data)); err != nil {
		t.Fatalf("DecodeConfig jpeg error: %v", err)
	}
}

func TestEncodeFailures(t *testing.T) {
	if _, err := Encode(nil, FormatPNG, 0); !errors.Is(err, ErrCanvasExport) {
		t.Fatalf("expected ErrCanvasExport for nil canvas, got %v", err)
	}
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	if _, err := Encode(src, Format("bmp"), 0); !errors.Is(err, ErrCanvasExport) {
		t.Fatalf("expected ErrCanvasExport for unknown format, got %v", err)
	}
}

func TestDownscale(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2400, 508))
	dst := Downscale(src, 1200)
	if dst.Bounds().Dx() != 1200 || dst.Bounds().Dy() != 254 {
		t.Fatalf("unexpected downscaled bounds %v", dst.Bounds())
	}
	if same := Downscale(src, 3840); same != src {
		t.Fatalf("expected no upscaling")
	}
}
