package handlers

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/plate-market/api/internal/platform/auth"
	"github.com/plate-market/api/internal/platform/httpx"
	"github.com/plate-market/api/internal/platform/observability"
	"github.com/plate-market/api/internal/platform/requestctx"
	"github.com/plate-market/api/internal/services"
)

const migrationProgressLogEvery = 100

// InternalPlateHandlers exposes maintenance endpoints invoked by schedulers.
type InternalPlateHandlers struct {
	migration services.PlateMigrationService
	running   atomic.Bool
	// background receives detached runs started with async=true.
	background func(func())
	newRunID   func() string
}

// InternalPlateOption customises InternalPlateHandlers.
type InternalPlateOption func(*InternalPlateHandlers)

// WithInternalMigrationService injects the regeneration job.
func WithInternalMigrationService(svc services.PlateMigrationService) InternalPlateOption {
	return func(h *InternalPlateHandlers) {
		h.migration = svc
	}
}

// WithRunIDGenerator overrides how regeneration run ids are minted.
func WithRunIDGenerator(fn func() string) InternalPlateOption {
	return func(h *InternalPlateHandlers) {
		if fn != nil {
			h.newRunID = fn
		}
	}
}

func NewInternalPlateHandlers(opts ...InternalPlateOption) *InternalPlateHandlers {
	h := &InternalPlateHandlers{
		background: func(fn func()) { go fn() },
		newRunID:   func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers internal plate endpoints against the provided router.
func (h *InternalPlateHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/plates:regenerate", h.regenerate)
}

type migrationStartedResponse struct {
	Status string `json:"status"`
	RunID  string `json:"runId"`
}

func (h *InternalPlateHandlers) regenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.migration == nil {
		httpx.WriteError(ctx, w, httpx.NewError("migration_unavailable", "migration service is unavailable", http.StatusServiceUnavailable))
		return
	}
	async := false
	if raw := r.URL.Query().Get("async"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "async must be a boolean", http.StatusBadRequest))
			return
		}
		async = parsed
	}
	if !h.running.CompareAndSwap(false, true) {
		httpx.WriteError(ctx, w, httpx.NewError("migration_in_progress", "a regeneration run is already in progress", http.StatusConflict))
		return
	}

	runID := h.newRunID()
	ctx = requestctx.WithRunID(ctx, runID)
	logger := requestctx.Logger(ctx).With(zap.String("run_id", runID))
	caller := "unknown"
	if identity, ok := auth.ServiceIdentityFromContext(ctx); ok {
		caller = identity.Email
	}
	logger.Info("plate regeneration requested",
		zap.String("caller", observability.SanitizeCaller(caller)),
		zap.Bool("async", async),
	)

	if async {
		detached := context.WithoutCancel(ctx)
		h.background(func() {
			defer h.running.Store(false)
			report, err := h.migration.RegenerateAll(detached, progressLogger(logger))
			if err != nil {
				logger.Error("plate regeneration aborted", zap.Int("succeeded", report.Succeeded), zap.Error(err))
			}
		})
		httpx.WriteJSON(w, http.StatusAccepted, migrationStartedResponse{Status: "started", RunID: runID})
		return
	}

	defer h.running.Store(false)
	report, err := h.migration.RegenerateAll(ctx, progressLogger(logger))
	if err != nil {
		logger.Error("plate regeneration aborted", zap.Int("succeeded", report.Succeeded), zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("migration_failed", err.Error(), http.StatusServiceUnavailable).WithDetails(map[string]any{
			"run_id":    report.RunID,
			"succeeded": report.Succeeded,
			"failed":    report.Failed,
		}))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}

func progressLogger(logger *zap.Logger) func(services.MigrationProgress) {
	return func(p services.MigrationProgress) {
		if !p.Done && p.Processed%migrationProgressLogEvery != 0 {
			return
		}
		logger.Info("plate regeneration progress",
			zap.Int("processed", p.Processed),
			zap.Int("total", p.Total),
			zap.Bool("done", p.Done),
		)
	}
}
