package firestore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/plate-market/api/internal/domain"
	pfirestore "github.com/plate-market/api/internal/platform/firestore"
	"github.com/plate-market/api/internal/repositories"
)

const defaultPlatesCollection = "plates"

// PlateRepository reads plate listings written by the marketplace and
// rewrites their image fields.
type PlateRepository struct {
	base       *pfirestore.BaseRepository[domain.PlateRecord]
	collection string
	now        func() time.Time
}

var _ repositories.PlateRepository = (*PlateRepository)(nil)

func NewPlateRepository(provider *pfirestore.Provider, collection string) (*PlateRepository, error) {
	if provider == nil {
		return nil, errors.New("plate repository: firestore provider is required")
	}
	collection = strings.TrimSpace(collection)
	if collection == "" {
		collection = defaultPlatesCollection
	}
	return &PlateRepository{
		base:       pfirestore.NewBaseRepository[domain.PlateRecord](provider, collection, decodePlate),
		collection: collection,
		now:        time.Now,
	}, nil
}

func (r *PlateRepository) ListAll(ctx context.Context) ([]domain.PlateRecord, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	plates := make([]domain.PlateRecord, 0, len(docs))
	for _, doc := range docs {
		plates = append(plates, doc.Data)
	}
	return plates, nil
}

// UpdateImage fails with a not-found error when the record no longer exists.
func (r *PlateRepository) UpdateImage(ctx context.Context, id, imageURL, imagePath string) error {
	_, err := r.base.Update(ctx, strings.TrimSpace(id), []firestore.Update{
		{Path: "image_url", Value: imageURL},
		{Path: "image_path", Value: imagePath},
		{Path: "updated_at", Value: r.now().UTC()},
	})
	return err
}

// decodePlate reads the document map directly: older listings store
// plate_version as a string.
func decodePlate(snap *firestore.DocumentSnapshot) (domain.PlateRecord, error) {
	data := snap.Data()
	version, err := decodeVersion(data["plate_version"])
	if err != nil {
		return domain.PlateRecord{}, err
	}
	record := domain.PlateRecord{
		ID:          snap.Ref.ID,
		PlateCode:   stringField(data, "plate_code"),
		PlateNumber: stringField(data, "plate_number"),
		Emirate:     stringField(data, "emirate"),
		Style:       stringField(data, "style"),
		Version:     version,
		ImageURL:    stringField(data, "image_url"),
		ImagePath:   stringField(data, "image_path"),
		UpdatedAt:   snap.UpdateTime,
	}
	if ts, ok := data["updated_at"].(time.Time); ok {
		record.UpdatedAt = ts
	}
	return record, nil
}

func stringField(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

func decodeVersion(value any) (int, error) {
	switch v := value.(type) {
	case nil:
		return domain.PlateVersionStandard, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return domain.PlateVersionStandard, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("plate_version %q: %w", v, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("plate_version has unsupported type %T", value)
	}
}
