// Package rendertest provides in-memory plate assets for tests.
package rendertest

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing/fstest"

	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomedium"
	"golang.org/x/image/font/gofont/goregular"
)

// Background is the fill of generated templates.
var Background = color.NRGBA{R: 0xF2, G: 0xF2, B: 0xF2, A: 0xFF}

// TemplateWidth and TemplateHeight size generated templates to the UAE plate aspect.
const (
	TemplateWidth  = 520
	TemplateHeight = 110
)

// TemplatePNG encodes a flat plate background.
func TemplatePNG(width, height int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, Background)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// FS returns fonts under the manifest paths backed by the Go fonts, plus templates
// for each key given.
func FS(templateKeys ...string) fstest.MapFS {
	fsys := fstest.MapFS{
		"fonts/uae-plate-bold.ttf":    {Data: gobold.TTF},
		"fonts/uae-plate-regular.ttf": {Data: goregular.TTF},
		"fonts/dubai-modern.ttf":      {Data: gomedium.TTF},
		"fonts/arabic-plate.ttf":      {Data: goregular.TTF},
	}
	template := TemplatePNG(TemplateWidth, TemplateHeight)
	for _, key := range templateKeys {
		fsys["templates/"+key+".png"] = &fstest.MapFile{Data: template}
	}
	return fsys
}

// Templates maps each key onto the path FS stores it under.
func Templates(keys ...string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		out[key] = "templates/" + key + ".png"
	}
	return out
}
