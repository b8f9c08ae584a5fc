package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync"
	"sync/atomic"

	_ "golang.org/x/image/webp"
	"golang.org/x/sync/singleflight"
)

// ErrTemplateSourceRequired is returned when a template cache is built without an asset source.
var ErrTemplateSourceRequired = errors.New("render: template asset source is required")

// TemplateCacheDeps enumerates collaborators for the template cache.
type TemplateCacheDeps struct {
	Source    AssetSource
	Templates map[string]string
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// TemplateCache memoises decoded plate backgrounds. A key is fetched at most once
// per process unless Reset is called.
type TemplateCache struct {
	source    AssetSource
	templates map[string]string
	logger    func(context.Context, string, map[string]any)

	mu     sync.RWMutex
	images map[string]image.Image
	group  singleflight.Group

	fetches atomic.Int64
}

// NewTemplateCache validates dependencies and returns an empty cache.
func NewTemplateCache(deps TemplateCacheDeps) (*TemplateCache, error) {
	if deps.Source == nil {
		return nil, ErrTemplateSourceRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	templates := make(map[string]string, len(deps.Templates))
	for key, p := range deps.Templates {
		templates[key] = cleanAssetPath(p)
	}
	return &TemplateCache{
		source:    deps.Source,
		templates: templates,
		logger:    logger,
		images:    make(map[string]image.Image),
	}, nil
}

// Has reports whether key is declared in the template manifest.
func (c *TemplateCache) Has(key string) bool {
	_, ok := c.templates[key]
	return ok
}

// Get returns the background for key. A key missing from the manifest yields ok=false
// without an error so callers can fall back to another key.
func (c *TemplateCache) Get(ctx context.Context, key string) (image.Image, bool, error) {
	p, declared := c.templates[key]
	if !declared {
		return nil, false, nil
	}

	c.mu.RLock()
	img, cached := c.images[key]
	c.mu.RUnlock()
	if cached {
		return img, true, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), key, p)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, true, res.Err
		}
		return res.Val.(image.Image), true, nil
	case <-ctx.Done():
		return nil, true, ctx.Err()
	}
}

// Resolve walks the layout candidate chain for key, trying matched first. Pass the
// key the registry resolved as matched so the background belongs to the same
// plate variant as the layout drawn over it.
func (c *TemplateCache) Resolve(ctx context.Context, key LayoutKey, matched string) (image.Image, string, bool, error) {
	candidates := templateCandidates(key, matched)
	for _, candidate := range candidates {
		img, ok, err := c.Get(ctx, candidate)
		if err != nil {
			return nil, candidate, true, err
		}
		if ok {
			return img, candidate, true, nil
		}
	}
	return nil, candidates[0], false, nil
}

func templateCandidates(key LayoutKey, matched string) []string {
	chain := key.Candidates()
	if matched == "" || matched == chain[0] {
		return chain
	}
	out := make([]string, 0, len(chain)+1)
	out = append(out, matched)
	for _, candidate := range chain {
		if candidate != matched {
			out = append(out, candidate)
		}
	}
	return out
}

// Fetches reports how many source reads the cache has performed.
func (c *TemplateCache) Fetches() int {
	return int(c.fetches.Load())
}

// Reset drops every decoded background.
func (c *TemplateCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.images = make(map[string]image.Image)
}

func (c *TemplateCache) fetch(ctx context.Context, key, p string) (image.Image, error) {
	c.mu.RLock()
	img, ok := c.images[key]
	c.mu.RUnlock()
	if ok {
		return img, nil
	}

	c.fetches.Add(1)
	data, err := c.source.ReadFile(ctx, p)
	if err != nil {
		c.logger(ctx, "render.template.fetch_failed", map[string]any{
			"template": key,
			"path":     p,
			"error":    err.Error(),
		})
		return nil, fmt.Errorf("render: fetch template %s: %w", key, err)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidTemplate, key, err)
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: %s has zero size", ErrInvalidTemplate, key)
	}

	c.mu.Lock()
	c.images[key] = img
	c.mu.Unlock()

	c.logger(ctx, "render.template.loaded", map[string]any{
		"template": key,
		"format":   format,
		"width":    img.Bounds().Dx(),
		"height":   img.Bounds().Dy(),
	})
	return img, nil
}
