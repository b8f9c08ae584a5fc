package services

import (
	"context"
	"errors"
	"fmt"
	"image"

	domain "github.com/plate-market/api/internal/domain"
	"github.com/plate-market/api/internal/platform/textutil"
	"github.com/plate-market/api/internal/render"
)

// RenderPipeline bundles the render engine pieces shared by the preview and
// migration paths.
type RenderPipeline struct {
	Registry   *render.Registry
	Fonts      *render.FontProvisioner
	Templates  *render.TemplateCache
	Compositor *render.Compositor
}

func (p RenderPipeline) validate(owner string) error {
	switch {
	case p.Registry == nil:
		return fmt.Errorf("%s: layout registry is required", owner)
	case p.Fonts == nil:
		return fmt.Errorf("%s: font provisioner is required", owner)
	case p.Templates == nil:
		return fmt.Errorf("%s: template cache is required", owner)
	case p.Compositor == nil:
		return fmt.Errorf("%s: compositor is required", owner)
	}
	return nil
}

type canvasResult struct {
	image       *image.RGBA
	layoutKey   string
	templateKey string
}

// canvas resolves layout and background for req and composites it at req.OutputWidth.
func (p RenderPipeline) canvas(ctx context.Context, req domain.RenderRequest) (canvasResult, error) {
	key := render.NewLayoutKey(string(req.Emirate), req.Style, req.Version)
	cfg, layoutKey := p.Registry.ResolveKey(key)

	background, templateKey, ok, err := p.Templates.Resolve(ctx, key, layoutKey)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return canvasResult{}, err
		}
		return canvasResult{}, fmt.Errorf("load template %s: %w", templateKey, err)
	}
	if !ok {
		return canvasResult{}, fmt.Errorf("%w: %s", ErrNoTemplateForKey, templateKey)
	}

	img, err := p.Compositor.Render(ctx, cfg, background, req)
	if err != nil {
		return canvasResult{}, err
	}
	return canvasResult{image: img, layoutKey: layoutKey, templateKey: templateKey}, nil
}

// buildRenderRequest normalises loose identifiers and plate text into a render request.
// Code or number text that cleans to more than textutil.MaxPlateTextLen runes is
// rejected with ErrPlateInvalidInput rather than cut short.
func buildRenderRequest(emirate, style string, version int, code, number string, width int) (domain.RenderRequest, error) {
	for _, field := range []struct{ name, value string }{{"plate code", code}, {"plate number", number}} {
		if _, err := textutil.CheckPlateText(field.value); err != nil {
			return domain.RenderRequest{}, fmt.Errorf("%w: %s: %v", ErrPlateInvalidInput, field.name, err)
		}
	}
	code, number = ParsePlateText(code, number)
	return domain.RenderRequest{
		Emirate:     domain.NormalizeEmirate(textutil.NormalizeKey(emirate)),
		Style:       domain.ParsePlateStyle(style),
		Version:     domain.NormalizePlateVersion(version),
		PlateCode:   code,
		PlateNumber: number,
		OutputWidth: width,
	}, nil
}
