package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/plate-market/api/internal/platform/httpx"
	"github.com/plate-market/api/internal/render"
	"github.com/plate-market/api/internal/services"
)

const (
	previewCacheControl = "public, max-age=3600"
	exportCacheControl  = "private, no-store"
	layoutCacheControl  = "public, max-age=300"

	notReadyRetryAfter = 5 * time.Second
)

// PlateHandlers exposes plate image rendering endpoints.
type PlateHandlers struct {
	render services.PlateRenderService
}

// PlateOption customises PlateHandlers.
type PlateOption func(*PlateHandlers)

// WithPlateRenderService injects the render service dependency.
func WithPlateRenderService(svc services.PlateRenderService) PlateOption {
	return func(h *PlateHandlers) {
		h.render = svc
	}
}

func NewPlateHandlers(opts ...PlateOption) *PlateHandlers {
	h := &PlateHandlers{}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers plate endpoints against the provided router.
func (h *PlateHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/preview", h.preview)
	r.Get("/export", h.export)
	r.Get("/layouts", h.layouts)
}

func (h *PlateHandlers) preview(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, false)
}

func (h *PlateHandlers) export(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, true)
}

func (h *PlateHandlers) serve(w http.ResponseWriter, r *http.Request, export bool) {
	ctx := r.Context()
	if h.render == nil {
		httpx.WriteError(ctx, w, httpx.NewError("render_unavailable", "render service is unavailable", http.StatusServiceUnavailable))
		return
	}

	cmd, err := parseRenderCommand(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	var img services.RenderedImage
	if export {
		img, err = h.render.Export(ctx, cmd)
	} else {
		img, err = h.render.Preview(ctx, cmd)
	}
	if err != nil {
		writeRenderError(ctx, w, err)
		return
	}

	resp := httpx.ImageResponse{
		Data:         img.Data,
		ContentType:  img.ContentType,
		ETag:         img.ETag,
		CacheControl: previewCacheControl,
	}
	if export {
		resp.CacheControl = exportCacheControl
		resp.Filename = img.Filename
	}
	if img.CacheHit {
		w.Header().Set("X-Render-Cache", "hit")
	} else {
		w.Header().Set("X-Render-Cache", "miss")
	}
	httpx.WriteImage(w, r, resp)
}

func (h *PlateHandlers) layouts(w http.ResponseWriter, r *http.Request) {
	if h.render == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("render_unavailable", "render service is unavailable", http.StatusServiceUnavailable))
		return
	}
	w.Header().Set("Cache-Control", layoutCacheControl)
	httpx.WriteJSON(w, http.StatusOK, layoutListResponse{Layouts: h.render.Layouts(r.Context())})
}

type layoutListResponse struct {
	Layouts []services.LayoutSummary `json:"layouts"`
}

func parseRenderCommand(r *http.Request) (services.RenderCommand, error) {
	q := r.URL.Query()
	cmd := services.RenderCommand{
		Emirate:     q.Get("emirate"),
		Style:       q.Get("style"),
		PlateCode:   q.Get("code"),
		PlateNumber: q.Get("number"),
		Format:      q.Get("format"),
	}
	if raw := strings.TrimSpace(q.Get("version")); raw != "" {
		version, err := strconv.Atoi(raw)
		if err != nil || version < 1 || version > 2 {
			return services.RenderCommand{}, errors.New("version must be 1 or 2")
		}
		cmd.Version = version
	}
	if raw := strings.TrimSpace(q.Get("width")); raw != "" {
		width, err := strconv.Atoi(raw)
		if err != nil || width <= 0 {
			return services.RenderCommand{}, errors.New("width must be a positive integer")
		}
		cmd.Width = width
	}
	return cmd, nil
}

func writeRenderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case services.IsPlateInputError(err):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_plate", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPlateNotReady):
		httpx.WriteError(ctx, w, httpx.NewError("fonts_loading", "plate fonts are still loading", http.StatusServiceUnavailable).WithRetryAfter(notReadyRetryAfter))
	case errors.Is(err, services.ErrNoTemplateForKey):
		httpx.WriteError(ctx, w, httpx.NewError("template_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, render.ErrCanvasExport):
		httpx.WriteError(ctx, w, httpx.NewError("canvas_export_failed", "the plate image could not be encoded", http.StatusInternalServerError))
	case errors.Is(err, render.ErrInvalidTemplate):
		httpx.WriteError(ctx, w, httpx.NewError("template_invalid", err.Error(), http.StatusInternalServerError))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		httpx.WriteError(ctx, w, httpx.NewError("render_timeout", "rendering did not finish in time", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("render_failed", err.Error(), http.StatusInternalServerError))
	}
}
