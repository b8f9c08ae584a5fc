package services

import (
	"context"
	"time"

	domain "github.com/plate-market/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	PlateRecord        = domain.PlateRecord
	RenderRequest      = domain.RenderRequest
	SystemHealthReport = domain.SystemHealthReport
)

// PlateRenderService turns plate text into finished images for interactive
// previews and full resolution downloads.
type PlateRenderService interface {
	// Preview renders at a width tier and serves repeated requests from the render cache.
	Preview(ctx context.Context, cmd RenderCommand) (RenderedImage, error)
	// Export always renders fresh at the canonical export width.
	Export(ctx context.Context, cmd RenderCommand) (RenderedImage, error)
	Layouts(ctx context.Context) []LayoutSummary
	// Ready waits for the font barrier.
	Ready(ctx context.Context) error
}

// PlateMigrationService regenerates every stored plate image with the current renderer.
type PlateMigrationService interface {
	RegenerateAll(ctx context.Context, progress func(MigrationProgress)) (MigrationReport, error)
}

// SystemService aggregates health reporting.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// ImageUploader writes encoded images to durable storage.
type ImageUploader interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	PublicURL(path string) string
}

// RegenerationPublisher announces regenerated plate images.
type RegenerationPublisher interface {
	PublishRegenerated(ctx context.Context, event PlateRegeneratedEvent) (string, error)
}

// RenderCommand carries raw caller input; the service normalises every field.
type RenderCommand struct {
	Emirate     string
	Style       string
	Version     int
	PlateCode   string
	PlateNumber string
	Width       int
	Format      string
}

// RenderedImage is an encoded plate ready to write to a client.
type RenderedImage struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	ETag        string
	Filename    string
	CacheHit    bool
	LayoutKey   string
	TemplateKey string
}

// LayoutSummary describes one compiled-in layout.
type LayoutSummary struct {
	Key         string `json:"key"`
	HasCode     bool   `json:"hasCode"`
	Components  int    `json:"components"`
	HasTemplate bool   `json:"hasTemplate"`
}

// MigrationProgress is reported before each record and once when the run completes.
type MigrationProgress struct {
	RunID     string
	Processed int
	Total     int
	PlateID   string
	Done      bool
}

// MigrationFailure is one record the run could not regenerate.
type MigrationFailure struct {
	PlateID string `json:"plateId"`
	Message string `json:"message"`
}

// MigrationReport summarises a regeneration run.
type MigrationReport struct {
	RunID       string             `json:"runId"`
	Total       int                `json:"total"`
	Succeeded   int                `json:"succeeded"`
	Failed      int                `json:"failed"`
	Errors      []MigrationFailure `json:"errors"`
	CacheBuster int64              `json:"cacheBuster"`
	StartedAt   time.Time          `json:"startedAt"`
	CompletedAt time.Time          `json:"completedAt"`
}

// PlateRegeneratedEvent is published after a record's new image is persisted.
type PlateRegeneratedEvent struct {
	RunID         string    `json:"runId"`
	PlateID       string    `json:"plateId"`
	Emirate       string    `json:"emirate,omitempty"`
	Style         string    `json:"style,omitempty"`
	Version       int       `json:"version"`
	ImageURL      string    `json:"imageUrl"`
	ImagePath     string    `json:"imagePath"`
	RegeneratedAt time.Time `json:"regeneratedAt"`
}
