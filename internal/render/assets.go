package render

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed assets.yaml
var builtinManifest []byte

// ErrAssetNotFound reports that an asset source has no object at the requested path.
var ErrAssetNotFound = errors.New("render: asset not found")

// FontSpec declares one typeface to register. Name is the draw-time family selector.
type FontSpec struct {
	Name   string `yaml:"name"`
	Path   string `yaml:"path"`
	Weight string `yaml:"weight"`
}

// Manifest lists every font face and template background the renderer may use.
type Manifest struct {
	Fonts     []FontSpec        `yaml:"fonts"`
	Templates map[string]string `yaml:"templates"`
}

// ParseManifest decodes a YAML manifest and normalises weights and paths.
func ParseManifest(data []byte) (Manifest, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("render: parse asset manifest: %w", err)
	}
	for i := range manifest.Fonts {
		spec := &manifest.Fonts[i]
		spec.Name = strings.TrimSpace(spec.Name)
		spec.Path = cleanAssetPath(spec.Path)
		spec.Weight = normalizeWeight(spec.Weight)
		if spec.Name == "" || spec.Path == "" {
			return Manifest{}, fmt.Errorf("render: font entry %d requires name and path", i)
		}
	}
	templates := make(map[string]string, len(manifest.Templates))
	for key, p := range manifest.Templates {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		templates[key] = cleanAssetPath(p)
	}
	manifest.Templates = templates
	return manifest, nil
}

// DefaultManifest returns the compiled-in asset manifest.
func DefaultManifest() Manifest {
	manifest, err := ParseManifest(builtinManifest)
	if err != nil {
		panic(err)
	}
	return manifest
}

// TemplatePath returns the asset path registered for a template key.
func (m Manifest) TemplatePath(key string) (string, bool) {
	p, ok := m.Templates[key]
	return p, ok
}

func cleanAssetPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

func normalizeWeight(weight string) string {
	switch strings.ToLower(strings.TrimSpace(weight)) {
	case "", "normal", "regular", "400":
		return "normal"
	case "bold", "700":
		return "bold"
	default:
		return strings.ToLower(strings.TrimSpace(weight))
	}
}

// AssetSource fetches static asset bytes relative to the deployment's asset root.
type AssetSource interface {
	ReadFile(ctx context.Context, name string) ([]byte, error)
}

// FSSource serves assets from a file system such as os.DirFS or an embed.FS.
type FSSource struct {
	FS fs.FS
}

// ReadFile implements AssetSource.
func (s FSSource) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.FS == nil {
		return nil, ErrAssetNotFound
	}
	data, err := fs.ReadFile(s.FS, cleanAssetPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, name)
		}
		return nil, err
	}
	return data, nil
}
