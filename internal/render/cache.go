package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	domain "github.com/plate-market/api/internal/domain"
)

// WidthTiers are the output widths preview renders are normalised onto.
var WidthTiers = []int{600, 1200, 2400, 3840}

const (
	// DefaultPreviewWidth is used when a caller does not ask for a width.
	DefaultPreviewWidth = 1200
	// ExportWidth is the canonical high resolution output width.
	ExportWidth = 3840

	memoryCleanupInterval = 30 * time.Minute
)

// ErrProducerRequired is returned when GetOrRender has nothing to produce a miss with.
var ErrProducerRequired = errors.New("render: producer is required")

// NormalizeWidth snaps width to the smallest tier that is at least as wide,
// capped at the largest tier.
func NormalizeWidth(width int) int {
	if width <= 0 {
		return DefaultPreviewWidth
	}
	for _, tier := range WidthTiers {
		if width <= tier {
			return tier
		}
	}
	return WidthTiers[len(WidthTiers)-1]
}

// Fingerprint canonicalises every request field with the width snapped to its tier.
func Fingerprint(req domain.RenderRequest, format Format) string {
	style := req.Style
	if style == "" {
		style = domain.PlateStylePrivate
	}
	canonical := strings.Join([]string{
		string(domain.NormalizeEmirate(string(req.Emirate))),
		string(style),
		strconv.Itoa(domain.NormalizePlateVersion(req.Version)),
		strings.TrimSpace(req.PlateCode),
		strings.TrimSpace(req.PlateNumber),
		strconv.Itoa(NormalizeWidth(req.OutputWidth)),
		string(format),
	}, "\x1f")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Rendered is an encoded plate image.
type Rendered struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	Fingerprint string
}

// RenderStore persists encoded renders by fingerprint.
type RenderStore interface {
	Get(ctx context.Context, fingerprint string) (Rendered, bool, error)
	Set(ctx context.Context, fingerprint string, value Rendered) error
	Flush(ctx context.Context) error
}

// MemoryStore is a process-local RenderStore. Entries never expire unless a TTL is given.
type MemoryStore struct {
	cache *gocache.Cache
}

// NewMemoryStore returns an in-memory store. ttl <= 0 keeps entries for the process lifetime.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		return &MemoryStore{cache: gocache.New(gocache.NoExpiration, 0)}
	}
	return &MemoryStore{cache: gocache.New(ttl, memoryCleanupInterval)}
}

func (s *MemoryStore) Get(_ context.Context, fingerprint string) (Rendered, bool, error) {
	value, found := s.cache.Get(fingerprint)
	if !found {
		return Rendered{}, false, nil
	}
	rendered, ok := value.(Rendered)
	if !ok {
		return Rendered{}, false, nil
	}
	return rendered, true, nil
}

func (s *MemoryStore) Set(_ context.Context, fingerprint string, value Rendered) error {
	s.cache.Set(fingerprint, value, gocache.DefaultExpiration)
	return nil
}

func (s *MemoryStore) Flush(context.Context) error {
	s.cache.Flush()
	return nil
}

// Len reports how many entries are held.
func (s *MemoryStore) Len() int {
	return s.cache.ItemCount()
}

// RenderCacheDeps enumerates collaborators for the render cache.
type RenderCacheDeps struct {
	Store  RenderStore
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// RenderCache memoises encoded preview output. Concurrent misses for one fingerprint
// may each run the producer; output is deterministic so the last write is equivalent.
type RenderCache struct {
	store  RenderStore
	logger func(context.Context, string, map[string]any)
}

// NewRenderCache wraps store, defaulting to a non-expiring memory store.
func NewRenderCache(deps RenderCacheDeps) *RenderCache {
	store := deps.Store
	if store == nil {
		store = NewMemoryStore(0)
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &RenderCache{store: store, logger: logger}
}

// GetOrRender returns the cached value for fingerprint or runs producer and stores its result.
// Store failures degrade to a miss and are logged.
func (c *RenderCache) GetOrRender(ctx context.Context, fingerprint string, producer func(context.Context) (Rendered, error)) (Rendered, bool, error) {
	if producer == nil {
		return Rendered{}, false, ErrProducerRequired
	}
	cached, ok, err := c.store.Get(ctx, fingerprint)
	if err != nil {
		c.logger(ctx, "render.cache.get_failed", map[string]any{
			"fingerprint": fingerprint,
			"error":       err.Error(),
		})
	} else if ok {
		return cached, true, nil
	}

	rendered, err := producer(ctx)
	if err != nil {
		return Rendered{}, false, err
	}
	rendered.Fingerprint = fingerprint
	if err := c.store.Set(ctx, fingerprint, rendered); err != nil {
		c.logger(ctx, "render.cache.set_failed", map[string]any{
			"fingerprint": fingerprint,
			"error":       err.Error(),
		})
	}
	return rendered, false, nil
}

// Reset flushes every stored entry.
func (c *RenderCache) Reset(ctx context.Context) error {
	return c.store.Flush(ctx)
}
