package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/plate-market/api/internal/platform/requestctx"
	"github.com/plate-market/api/internal/platform/storage"
	"github.com/plate-market/api/internal/render"
	"github.com/plate-market/api/internal/repositories"
)

const defaultPlateImageFolder = "plates"

// MigrationMetrics counts per-record migration outcomes.
type MigrationMetrics interface {
	RecordMigrated(ctx context.Context, outcome string)
}

// PlateMigrationServiceDeps bundles collaborators for the regeneration job.
type PlateMigrationServiceDeps struct {
	Pipeline RenderPipeline
	Plates   repositories.PlateRepository
	Uploader ImageUploader
	// Publisher is optional.
	Publisher   RegenerationPublisher
	Folder      string
	Width       int
	Format      render.Format
	JPEGQuality int
	Metrics     MigrationMetrics
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type plateMigrationService struct {
	pipeline  RenderPipeline
	plates    repositories.PlateRepository
	uploader  ImageUploader
	publisher RegenerationPublisher
	folder    string
	width     int
	format    render.Format
	quality   int
	metrics   MigrationMetrics
	now       func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

var _ PlateMigrationService = (*plateMigrationService)(nil)

// NewPlateMigrationService constructs the regeneration job.
func NewPlateMigrationService(deps PlateMigrationServiceDeps) (PlateMigrationService, error) {
	if err := deps.Pipeline.validate("plate migration service"); err != nil {
		return nil, err
	}
	if deps.Plates == nil {
		return nil, errors.New("plate migration service: plate repository is required")
	}
	if deps.Uploader == nil {
		return nil, errors.New("plate migration service: image uploader is required")
	}

	folder := strings.Trim(strings.TrimSpace(deps.Folder), "/")
	if folder == "" {
		folder = defaultPlateImageFolder
	}
	width := deps.Width
	if width <= 0 {
		width = render.ExportWidth
	}
	format := deps.Format
	if format == "" {
		format = render.FormatJPEG
	}
	quality := deps.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = render.DefaultJPEGQuality
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &plateMigrationService{
		pipeline:  deps.Pipeline,
		plates:    deps.Plates,
		uploader:  deps.Uploader,
		publisher: deps.Publisher,
		folder:    folder,
		width:     width,
		format:    format,
		quality:   quality,
		metrics:   deps.Metrics,
		now:       clock,
		newID:     newID,
		logger:    logger,
	}, nil
}

// RegenerateAll rewrites every stored plate image. Records are processed one at a
// time; a failing record is reported and the run moves on. Only a failure to list
// records (or to wait for fonts) aborts the run. A run id already on ctx is kept.
func (s *plateMigrationService) RegenerateAll(ctx context.Context, progress func(MigrationProgress)) (MigrationReport, error) {
	if progress == nil {
		progress = func(MigrationProgress) {}
	}
	runID := requestctx.RunID(ctx)
	if runID == "" {
		runID = s.newID()
	}
	started := s.now().UTC()
	report := MigrationReport{
		RunID:       runID,
		Errors:      []MigrationFailure{},
		CacheBuster: started.UnixMilli(),
		StartedAt:   started,
	}
	ctx = requestctx.WithRunID(ctx, report.RunID)

	if err := s.pipeline.Fonts.EnsureLoaded(ctx); err != nil {
		return report, fmt.Errorf("plate migration: wait for fonts: %w", err)
	}

	records, err := s.plates.ListAll(ctx)
	if err != nil {
		s.logger(ctx, "plates.migration.list_failed", map[string]any{"error": err.Error()})
		return report, fmt.Errorf("plate migration: list plates: %w", err)
	}
	report.Total = len(records)
	s.logger(ctx, "plates.migration.started", map[string]any{
		"total":       report.Total,
		"cacheBuster": report.CacheBuster,
	})

	for i, record := range records {
		if err := ctx.Err(); err != nil {
			report.CompletedAt = s.now().UTC()
			return report, fmt.Errorf("plate migration: interrupted after %d of %d: %w", i, report.Total, err)
		}
		progress(MigrationProgress{RunID: report.RunID, Processed: i, Total: report.Total, PlateID: record.ID})

		if err := s.regenerate(ctx, record, report.RunID, report.CacheBuster); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, MigrationFailure{PlateID: record.ID, Message: err.Error()})
			s.record(ctx, "failed")
			s.logger(ctx, "plates.migration.item_failed", map[string]any{
				"plateId": record.ID,
				"error":   err.Error(),
			})
			continue
		}
		report.Succeeded++
		s.record(ctx, "succeeded")
	}

	report.CompletedAt = s.now().UTC()
	progress(MigrationProgress{RunID: report.RunID, Processed: report.Total, Total: report.Total, Done: true})
	s.logger(ctx, "plates.migration.completed", map[string]any{
		"total":      report.Total,
		"succeeded":  report.Succeeded,
		"failed":     report.Failed,
		"durationMs": report.CompletedAt.Sub(started).Milliseconds(),
	})
	return report, nil
}

func (s *plateMigrationService) regenerate(ctx context.Context, record PlateRecord, runID string, cacheBuster int64) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("%w: record id is empty", ErrPlateInvalidInput)
	}
	req, err := buildRenderRequest(record.Emirate, record.Style, record.Version, record.PlateCode, record.PlateNumber, s.width)
	if err != nil {
		return err
	}
	if req.Emirate == "" {
		return fmt.Errorf("%w: emirate is empty", ErrPlateInvalidInput)
	}

	result, err := s.pipeline.canvas(ctx, req)
	if err != nil {
		return err
	}
	data, err := render.Encode(result.image, s.format, s.quality)
	if err != nil {
		return err
	}

	objectPath := storage.PlateImagePath(s.folder, record.ID, s.format.Extension())
	if err := s.uploader.Upload(ctx, objectPath, data, s.format.ContentType()); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUploadFailure, objectPath, err)
	}
	imageURL := storage.VersionedURL(s.uploader.PublicURL(objectPath), cacheBuster)

	if err := s.plates.UpdateImage(ctx, record.ID, imageURL, objectPath); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailure, err)
	}

	if s.publisher != nil {
		event := PlateRegeneratedEvent{
			RunID:         runID,
			PlateID:       record.ID,
			Emirate:       string(req.Emirate),
			Style:         string(req.Style),
			Version:       req.Version,
			ImageURL:      imageURL,
			ImagePath:     objectPath,
			RegeneratedAt: s.now().UTC(),
		}
		if _, err := s.publisher.PublishRegenerated(ctx, event); err != nil {
			s.logger(ctx, "plates.migration.publish_failed", map[string]any{
				"plateId": record.ID,
				"error":   err.Error(),
			})
		}
	}
	return nil
}

func (s *plateMigrationService) record(ctx context.Context, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordMigrated(ctx, outcome)
	}
}
