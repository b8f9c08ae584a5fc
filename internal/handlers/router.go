package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/plate-market/api/internal/platform/httpx"
)

const (
	apiPrefix            = "/api/v1"
	defaultRenderTimeout = 30 * time.Second
)

// RouteRegistrar adds one handler group's routes to a chi sub-router.
type RouteRegistrar func(r chi.Router)

type router struct {
	middlewares   []func(http.Handler) http.Handler
	renderTimeout time.Duration
	health        *HealthHandlers

	plates   RouteRegistrar
	internal RouteRegistrar

	internalMiddlewares []func(http.Handler) http.Handler
}

// Option configures NewRouter.
type Option func(*router)

// NewRouter builds the HTTP surface: health checks at the root, public renders under
// /api/v1/plates and operator endpoints under /api/v1/internal. Groups without
// a registrar are not mounted.
func NewRouter(opts ...Option) chi.Router {
	rt := router{renderTimeout: defaultRenderTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&rt)
		}
	}
	if rt.health == nil {
		rt.health = NewHealthHandlers()
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID, middleware.RealIP)
	for _, mw := range rt.middlewares {
		if mw != nil {
			mux.Use(mw)
		}
	}

	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(r.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", r.URL.Path), http.StatusNotFound))
	})
	mux.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(r.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("%s is not allowed on %s", r.Method, r.URL.Path), http.StatusMethodNotAllowed))
	})

	mux.Get("/healthz", rt.health.Healthz)
	mux.Get("/readyz", rt.health.Readyz)

	mux.Route(apiPrefix, func(api chi.Router) {
		if rt.plates != nil {
			api.Route("/plates", func(group chi.Router) {
				// Renders are bounded; regeneration runs are not.
				if rt.renderTimeout > 0 {
					group.Use(middleware.Timeout(rt.renderTimeout))
				}
				rt.plates(group)
			})
		}
		if rt.internal != nil {
			api.Route("/internal", func(group chi.Router) {
				group.Use(middleware.NoCache)
				for _, mw := range rt.internalMiddlewares {
					if mw != nil {
						group.Use(mw)
					}
				}
				rt.internal(group)
			})
		}
	})

	return mux
}

// WithMiddlewares appends middleware applied to every route, health checks included.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(rt *router) {
		rt.middlewares = append(rt.middlewares, mw...)
	}
}

// WithRenderTimeout bounds preview, export and layout requests. Zero disables it.
func WithRenderTimeout(d time.Duration) Option {
	return func(rt *router) {
		if d >= 0 {
			rt.renderTimeout = d
		}
	}
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(rt *router) {
		rt.health = h
	}
}

// WithPlateRoutes mounts the public render endpoints.
func WithPlateRoutes(reg RouteRegistrar) Option {
	return func(rt *router) {
		rt.plates = reg
	}
}

// WithInternalRoutes mounts operator endpoints such as bulk regeneration.
func WithInternalRoutes(reg RouteRegistrar) Option {
	return func(rt *router) {
		rt.internal = reg
	}
}

// WithInternalMiddlewares guards the internal group, typically with OIDC.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(rt *router) {
		rt.internalMiddlewares = append(rt.internalMiddlewares, mw...)
	}
}
