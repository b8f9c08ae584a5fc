package repositories

import (
	"context"

	domain "github.com/plate-market/api/internal/domain"
)

// RepositoryError lets services classify persistence failures without
// depending on a backend.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsUnavailable() bool
}

// PlateRepository reads plate listings and rewrites their image location.
type PlateRepository interface {
	// ListAll returns every plate record ordered by ID.
	ListAll(ctx context.Context) ([]domain.PlateRecord, error)
	// UpdateImage sets image_url and image_path on one record.
	UpdateImage(ctx context.Context, id, imageURL, imagePath string) error
}

// HealthRepository checks runtime dependencies.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
