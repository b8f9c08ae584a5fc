package render

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	domain "github.com/plate-market/api/internal/domain"
)

// DefaultEmirate is the terminal fallback for every layout lookup.
const DefaultEmirate = domain.EmirateDubai

var errFallbackLayoutMissing = errors.New("render: fallback layout is not defined")

// LayoutKey is the typed form of a composite layout key.
type LayoutKey struct {
	Emirate domain.Emirate
	Style   domain.PlateStyle
	Version int
}

// NewLayoutKey normalises raw caller input into a LayoutKey.
func NewLayoutKey(emirate string, style domain.PlateStyle, version int) LayoutKey {
	if style == "" {
		style = domain.PlateStylePrivate
	}
	return LayoutKey{
		Emirate: domain.NormalizeEmirate(emirate),
		Style:   style,
		Version: version,
	}
}

// String renders the key as emirate + "2" for version 2 + "_style" for non-private styles.
func (k LayoutKey) String() string {
	return composeKey(k.Emirate, k.Version, k.Style)
}

// Candidates lists keys in lookup priority: exact, without style, without version, base emirate.
func (k LayoutKey) Candidates() []string {
	ordered := []string{
		composeKey(k.Emirate, k.Version, k.Style),
		composeKey(k.Emirate, k.Version, domain.PlateStylePrivate),
		composeKey(k.Emirate, domain.PlateVersionStandard, k.Style),
		composeKey(k.Emirate, domain.PlateVersionStandard, domain.PlateStylePrivate),
	}
	out := make([]string, 0, len(ordered))
	seen := make(map[string]struct{}, len(ordered))
	for _, key := range ordered {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

func composeKey(emirate domain.Emirate, version int, style domain.PlateStyle) string {
	var b strings.Builder
	b.WriteString(string(emirate))
	if version == domain.PlateVersionModern {
		b.WriteString("2")
	}
	if style != "" && style != domain.PlateStylePrivate {
		b.WriteByte('_')
		b.WriteString(string(style))
	}
	return b.String()
}

// Registry maps layout keys to compiled-in plate layouts.
type Registry struct {
	layouts     map[string]domain.EmirateConfig
	fallbackKey string
}

// NewRegistry builds a registry over the supplied table. The fallback key must exist
// so that resolution can never fail.
func NewRegistry(layouts map[string]domain.EmirateConfig, fallbackKey string) (*Registry, error) {
	fallbackKey = strings.TrimSpace(fallbackKey)
	if _, ok := layouts[fallbackKey]; !ok {
		return nil, fmt.Errorf("%w: %q", errFallbackLayoutMissing, fallbackKey)
	}
	copied := make(map[string]domain.EmirateConfig, len(layouts))
	for key, cfg := range layouts {
		copied[key] = cfg
	}
	return &Registry{layouts: copied, fallbackKey: fallbackKey}, nil
}

// DefaultRegistry returns the registry over the built-in layout table.
func DefaultRegistry() *Registry {
	registry, err := NewRegistry(builtinLayouts(), string(DefaultEmirate))
	if err != nil {
		panic(err)
	}
	return registry
}

// Resolve returns the layout for the request along with the key that matched.
func (r *Registry) Resolve(emirate string, style domain.PlateStyle, version int) (domain.EmirateConfig, string) {
	return r.ResolveKey(NewLayoutKey(emirate, style, version))
}

// ResolveKey walks the candidate chain for key and ends at the fallback emirate.
func (r *Registry) ResolveKey(key LayoutKey) (domain.EmirateConfig, string) {
	for _, candidate := range key.Candidates() {
		if cfg, ok := r.layouts[candidate]; ok {
			return cfg, candidate
		}
	}
	return r.layouts[r.fallbackKey], r.fallbackKey
}

// Lookup returns the layout registered under the exact key.
func (r *Registry) Lookup(key string) (domain.EmirateConfig, bool) {
	cfg, ok := r.layouts[key]
	return cfg, ok
}

// Keys lists all registered layout keys in lexical order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.layouts))
	for key := range r.layouts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
