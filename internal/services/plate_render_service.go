package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	domain "github.com/plate-market/api/internal/domain"
	"github.com/plate-market/api/internal/render"
)

// RenderMetrics receives render timings and cache outcomes.
type RenderMetrics interface {
	RecordRender(ctx context.Context, kind string, width int, d time.Duration, err error)
	RecordCacheLookup(ctx context.Context, hit bool)
}

// PlateRenderServiceDeps bundles collaborators for the render service.
type PlateRenderServiceDeps struct {
	Pipeline RenderPipeline
	// Cache memoises preview output. Nil disables caching.
	Cache        *render.RenderCache
	PreviewWidth int
	ExportWidth  int
	// Supersample renders previews at this multiple of the tier width before downscaling.
	Supersample int
	JPEGQuality int
	Metrics     RenderMetrics
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type plateRenderService struct {
	pipeline     RenderPipeline
	cache        *render.RenderCache
	previewWidth int
	exportWidth  int
	supersample  int
	quality      int
	metrics      RenderMetrics
	now          func() time.Time
	logger       func(context.Context, string, map[string]any)
}

var _ PlateRenderService = (*plateRenderService)(nil)

// NewPlateRenderService wires the render engine behind preview and export operations.
func NewPlateRenderService(deps PlateRenderServiceDeps) (PlateRenderService, error) {
	if err := deps.Pipeline.validate("plate render service"); err != nil {
		return nil, err
	}

	previewWidth := deps.PreviewWidth
	if previewWidth <= 0 {
		previewWidth = render.DefaultPreviewWidth
	}
	exportWidth := deps.ExportWidth
	if exportWidth <= 0 {
		exportWidth = render.ExportWidth
	}
	supersample := deps.Supersample
	if supersample < 1 {
		supersample = 1
	}
	quality := deps.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = render.DefaultJPEGQuality
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &plateRenderService{
		pipeline:     deps.Pipeline,
		cache:        deps.Cache,
		previewWidth: previewWidth,
		exportWidth:  exportWidth,
		supersample:  supersample,
		quality:      quality,
		metrics:      deps.Metrics,
		now:          clock,
		logger:       logger,
	}, nil
}

func (s *plateRenderService) Preview(ctx context.Context, cmd RenderCommand) (RenderedImage, error) {
	width := cmd.Width
	if width <= 0 {
		width = s.previewWidth
	}
	req, format, err := s.prepare(cmd, render.NormalizeWidth(width))
	if err != nil {
		return RenderedImage{}, err
	}

	start := s.now()
	fingerprint := render.Fingerprint(req, format)
	produce := func(ctx context.Context) (render.Rendered, error) {
		return s.renderPreview(ctx, req, format)
	}

	var (
		out render.Rendered
		hit bool
	)
	if s.cache != nil {
		out, hit, err = s.cache.GetOrRender(ctx, fingerprint, produce)
		if s.metrics != nil {
			s.metrics.RecordCacheLookup(ctx, hit)
		}
	} else {
		out, err = produce(ctx)
		out.Fingerprint = fingerprint
	}
	if s.metrics != nil && !hit {
		s.metrics.RecordRender(ctx, "preview", req.OutputWidth, s.now().Sub(start), err)
	}
	if err != nil {
		s.logger(ctx, "plates.preview.render_failed", map[string]any{
			"emirate": string(req.Emirate),
			"style":   string(req.Style),
			"version": req.Version,
			"width":   req.OutputWidth,
			"error":   err.Error(),
		})
		return RenderedImage{}, err
	}

	return RenderedImage{
		Data:        out.Data,
		ContentType: out.ContentType,
		Width:       out.Width,
		Height:      out.Height,
		ETag:        out.Fingerprint,
		Filename:    plateFilename(req, format),
		CacheHit:    hit,
	}, nil
}

// renderPreview composites at the supersampled width and resamples down to the tier.
func (s *plateRenderService) renderPreview(ctx context.Context, req domain.RenderRequest, format render.Format) (render.Rendered, error) {
	target := req.OutputWidth
	drawReq := req
	drawReq.OutputWidth = min(target*s.supersample, s.exportWidth)
	if drawReq.OutputWidth < target {
		drawReq.OutputWidth = target
	}

	result, err := s.pipeline.canvas(ctx, drawReq)
	if err != nil {
		return render.Rendered{}, err
	}
	img := render.Downscale(result.image, target)
	data, err := render.Encode(img, format, s.quality)
	if err != nil {
		return render.Rendered{}, err
	}
	return render.Rendered{
		Data:        data,
		ContentType: format.ContentType(),
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
	}, nil
}

func (s *plateRenderService) Export(ctx context.Context, cmd RenderCommand) (RenderedImage, error) {
	req, format, err := s.prepare(cmd, s.exportWidth)
	if err != nil {
		return RenderedImage{}, err
	}

	start := s.now()
	result, err := s.pipeline.canvas(ctx, req)
	var data []byte
	if err == nil {
		data, err = render.Encode(result.image, format, s.quality)
	}
	if s.metrics != nil {
		s.metrics.RecordRender(ctx, "export", req.OutputWidth, s.now().Sub(start), err)
	}
	if err != nil {
		s.logger(ctx, "plates.export.render_failed", map[string]any{
			"emirate": string(req.Emirate),
			"style":   string(req.Style),
			"version": req.Version,
			"error":   err.Error(),
		})
		return RenderedImage{}, err
	}

	bounds := result.image.Bounds()
	return RenderedImage{
		Data:        data,
		ContentType: format.ContentType(),
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		ETag:        render.Fingerprint(req, format),
		Filename:    plateFilename(req, format),
		LayoutKey:   result.layoutKey,
		TemplateKey: result.templateKey,
	}, nil
}

func (s *plateRenderService) Layouts(context.Context) []LayoutSummary {
	keys := s.pipeline.Registry.Keys()
	out := make([]LayoutSummary, 0, len(keys))
	for _, key := range keys {
		cfg, _ := s.pipeline.Registry.Lookup(key)
		out = append(out, LayoutSummary{
			Key:         key,
			HasCode:     cfg.HasCode,
			Components:  len(cfg.Components),
			HasTemplate: s.pipeline.Templates.Has(key),
		})
	}
	return out
}

func (s *plateRenderService) Ready(ctx context.Context) error {
	if err := s.pipeline.Fonts.EnsureLoaded(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrPlateNotReady, err)
	}
	return nil
}

func (s *plateRenderService) prepare(cmd RenderCommand, width int) (domain.RenderRequest, render.Format, error) {
	format, err := render.ParseFormat(cmd.Format)
	if err != nil {
		return domain.RenderRequest{}, "", fmt.Errorf("%w: %v", ErrPlateInvalidInput, err)
	}
	req, err := buildRenderRequest(cmd.Emirate, cmd.Style, cmd.Version, cmd.PlateCode, cmd.PlateNumber, width)
	if err != nil {
		return domain.RenderRequest{}, "", err
	}
	if req.Emirate == "" {
		return domain.RenderRequest{}, "", fmt.Errorf("%w: emirate is required", ErrPlateInvalidInput)
	}
	if req.PlateCode == "" && req.PlateNumber == "" {
		return domain.RenderRequest{}, "", fmt.Errorf("%w: plate code or number is required", ErrPlateInvalidInput)
	}
	return req, format, nil
}

// IsPlateInputError reports whether err came from caller input rather than the renderer.
func IsPlateInputError(err error) bool {
	return errors.Is(err, ErrPlateInvalidInput) || errors.Is(err, render.ErrInvalidWidth)
}

func plateFilename(req domain.RenderRequest, format render.Format) string {
	parts := []string{string(req.Emirate)}
	if req.Style != domain.PlateStylePrivate {
		parts = append(parts, string(req.Style))
	}
	if req.PlateCode != "" {
		parts = append(parts, req.PlateCode)
	}
	if req.PlateNumber != "" {
		parts = append(parts, req.PlateNumber)
	}
	return safeFileName(strings.Join(parts, "-")) + "." + format.Extension()
}

// safeFileName keeps letters, digits, hyphens and underscores. Spaces are dropped and
// anything else, path separators and dots included, becomes an underscore.
func safeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return -1
		case r == '-' || r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r):
			return r
		}
		return '_'
	}, name)
}
