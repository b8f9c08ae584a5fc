package render

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/sync/errgroup"
)

const (
	defaultFontLoadConcurrency = 4
	defaultFontLoadTimeout     = 30 * time.Second
	warmupFontSize             = 64
	// plateGlyphSet is measured on every usable face once loading settles.
	plateGlyphSet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789٠١٢٣٤٥٦٧٨٩"
)

// ErrFontSourceRequired is returned when a provisioner is built without an asset source.
var ErrFontSourceRequired = errors.New("render: font asset source is required")

// FontLoadError records a face that failed to load. It is logged, never returned to renderers.
type FontLoadError struct {
	Name   string
	Path   string
	Weight string
	Err    error
}

func (e *FontLoadError) Error() string {
	return fmt.Sprintf("render: load font %s/%s from %s: %v", e.Name, e.Weight, e.Path, e.Err)
}

func (e *FontLoadError) Unwrap() error {
	return e.Err
}

type fontKey struct {
	name   string
	weight string
}

// defaultSurfaceFont is the face the drawing surface falls back to when a named
// family never registered. It is never substituted for a specific face on purpose.
var defaultSurfaceFont = sync.OnceValues(func() (*opentype.Font, error) {
	return opentype.Parse(goregular.TTF)
})

// FontProvisionerDeps enumerates collaborators for the font provisioner.
type FontProvisionerDeps struct {
	Source      AssetSource
	Fonts       []FontSpec
	Concurrency int
	LoadTimeout time.Duration
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// FontProvisioner loads every declared face once and exposes a readiness barrier.
type FontProvisioner struct {
	source      AssetSource
	specs       []FontSpec
	familyFiles map[string]string
	concurrency int
	timeout     time.Duration
	logger      func(context.Context, string, map[string]any)

	mu       sync.RWMutex
	ready    chan struct{}
	faces    map[fontKey]*opentype.Font
	failures []FontLoadError
	usable   int

	loads atomic.Int64
}

// NewFontProvisioner validates dependencies and returns an idle provisioner.
func NewFontProvisioner(deps FontProvisionerDeps) (*FontProvisioner, error) {
	if deps.Source == nil {
		return nil, ErrFontSourceRequired
	}
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = defaultFontLoadConcurrency
	}
	timeout := deps.LoadTimeout
	if timeout <= 0 {
		timeout = defaultFontLoadTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	specs := append([]FontSpec(nil), deps.Fonts...)
	familyFiles := make(map[string]string, len(specs))
	for _, spec := range specs {
		familyFiles[cleanAssetPath(spec.Path)] = spec.Name
	}

	return &FontProvisioner{
		source:      deps.Source,
		specs:       specs,
		familyFiles: familyFiles,
		concurrency: concurrency,
		timeout:     timeout,
		logger:      logger,
		faces:       make(map[fontKey]*opentype.Font),
	}, nil
}

// EnsureLoaded triggers the load pass on first call and waits for it to settle.
// ctx bounds only the caller's wait; the pass itself is detached from it.
func (p *FontProvisioner) EnsureLoaded(ctx context.Context) error {
	if p == nil {
		return ErrFontSourceRequired
	}
	p.mu.Lock()
	if p.ready == nil {
		p.ready = make(chan struct{})
		go p.load(context.WithoutCancel(ctx), p.ready)
	}
	ready := p.ready
	p.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Loaded reports whether a load pass has settled.
func (p *FontProvisioner) Loaded() bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	ready := p.ready
	p.mu.RUnlock()
	if ready == nil {
		return false
	}
	select {
	case <-ready:
		return true
	default:
		return false
	}
}

// Loads reports how many load passes have started.
func (p *FontProvisioner) Loads() int {
	return int(p.loads.Load())
}

// Usable reports how many registered faces passed warm-up in the last pass.
func (p *FontProvisioner) Usable() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.usable
}

// Failures returns the faces that did not load in the last pass.
func (p *FontProvisioner) Failures() []FontLoadError {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]FontLoadError(nil), p.failures...)
}

// Reset forgets every registered face so the next EnsureLoaded runs a new pass.
func (p *FontProvisioner) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = nil
	p.faces = make(map[fontKey]*opentype.Font)
	p.failures = nil
	p.usable = 0
}

// FamilyForFile maps a layout font file onto its registered family name.
func (p *FontProvisioner) FamilyForFile(path string) (string, bool) {
	name, ok := p.familyFiles[cleanAssetPath(path)]
	return name, ok
}

// Lookup returns the registered face for family, preferring the exact weight,
// then normal, then any weight of the family.
func (p *FontProvisioner) Lookup(family, weight string) (*opentype.Font, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	weight = normalizeWeight(weight)
	if f, ok := p.faces[fontKey{name: family, weight: weight}]; ok {
		return f, true
	}
	if f, ok := p.faces[fontKey{name: family, weight: "normal"}]; ok {
		return f, true
	}
	weights := make([]string, 0, 2)
	for key := range p.faces {
		if key.name == family {
			weights = append(weights, key.weight)
		}
	}
	if len(weights) == 0 {
		return nil, false
	}
	sort.Strings(weights)
	return p.faces[fontKey{name: family, weight: weights[0]}], true
}

// faceFor resolves the font a layout font file draws with. Unknown or unloaded
// families draw with the surface default face.
func (p *FontProvisioner) faceFor(path, weight string) (*opentype.Font, string, error) {
	if family, ok := p.FamilyForFile(path); ok {
		if f, ok := p.Lookup(family, weight); ok {
			return f, family, nil
		}
	}
	f, err := defaultSurfaceFont()
	if err != nil {
		return nil, "", err
	}
	return f, "", nil
}

func (p *FontProvisioner) load(ctx context.Context, done chan struct{}) {
	defer close(done)
	p.loads.Add(1)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	parsed := make([]*opentype.Font, len(p.specs))
	errs := make([]error, len(p.specs))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, spec := range p.specs {
		g.Go(func() error {
			parsed[i], errs[i] = p.loadFace(ctx, spec)
			return nil
		})
	}
	_ = g.Wait()

	faces := make(map[fontKey]*opentype.Font, len(p.specs))
	var failures []FontLoadError
	for i, spec := range p.specs {
		if errs[i] != nil {
			failure := FontLoadError{Name: spec.Name, Path: spec.Path, Weight: spec.Weight, Err: errs[i]}
			failures = append(failures, failure)
			p.logger(ctx, "render.font.load_failed", map[string]any{
				"font":   spec.Name,
				"weight": spec.Weight,
				"path":   spec.Path,
				"error":  errs[i].Error(),
			})
			continue
		}
		key := fontKey{name: spec.Name, weight: spec.Weight}
		if _, exists := faces[key]; exists {
			p.logger(ctx, "render.font.duplicate_skipped", map[string]any{
				"font":   spec.Name,
				"weight": spec.Weight,
				"path":   spec.Path,
			})
			continue
		}
		faces[key] = parsed[i]
	}

	usable := 0
	for key, f := range faces {
		if err := warmUp(f); err != nil {
			p.logger(ctx, "render.font.warmup_failed", map[string]any{
				"font":   key.name,
				"weight": key.weight,
				"error":  err.Error(),
			})
			continue
		}
		usable++
	}

	p.mu.Lock()
	if p.ready == done {
		p.faces = faces
		p.failures = failures
		p.usable = usable
	}
	p.mu.Unlock()

	p.logger(ctx, "render.font.ready", map[string]any{
		"usable":   usable,
		"declared": len(p.specs),
		"failed":   len(failures),
	})
}

func (p *FontProvisioner) loadFace(ctx context.Context, spec FontSpec) (*opentype.Font, error) {
	data, err := p.source.ReadFile(ctx, spec.Path)
	if err != nil {
		return nil, err
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return f, nil
}

func warmUp(f *opentype.Font) error {
	face, err := newFace(f, warmupFontSize)
	if err != nil {
		return err
	}
	defer face.Close()
	if font.MeasureString(face, plateGlyphSet) <= 0 {
		return errors.New("face measured zero advance for plate glyphs")
	}
	return nil
}

func newFace(f *opentype.Font, size float64) (font.Face, error) {
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
}
