package render

import (
	"slices"
	"testing"

	"pgregory.net/rapid"

	domain "github.com/plate-market/api/internal/domain"
)

func TestLayoutKeyString(t *testing.T) {
	cases := []struct {
		emirate string
		style   domain.PlateStyle
		version int
		want    string
	}{
		{"Dubai", domain.PlateStylePrivate, 1, "dubai"},
		{"dubai", "", 2, "dubai2"},
		{"Abu Dhabi", domain.PlateStyleBike, 1, "abu_dhabi_bike"},
		{"ras-al-khaimah", domain.PlateStyleClassic, 2, "ras_al_khaimah2_classic"},
		{"sharjah", domain.PlateStyleBike, 7, "sharjah_bike"},
	}
	for _, tc := range cases {
		got := NewLayoutKey(tc.emirate, tc.style, tc.version).String()
		if got != tc.want {
			t.Fatalf("NewLayoutKey(%q,%q,%d) = %q, want %q", tc.emirate, tc.style, tc.version, got, tc.want)
		}
	}
}

func TestLayoutKeyCandidatesOrder(t *testing.T) {
	got := NewLayoutKey("dubai", domain.PlateStyleBike, 2).Candidates()
	want := []string{"dubai2_bike", "dubai2", "dubai_bike", "dubai"}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	got = NewLayoutKey("dubai", domain.PlateStylePrivate, 1).Candidates()
	if !slices.Equal(got, []string{"dubai"}) {
		t.Fatalf("expected deduplicated base key, got %v", got)
	}
}

func TestRegistryResolveFallbackChain(t *testing.T) {
	base := domain.EmirateConfig{FontHeightRatio: 0.1}
	modern := domain.EmirateConfig{FontHeightRatio: 0.2}
	bike := domain.EmirateConfig{FontHeightRatio: 0.3}

	cases := []struct {
		name   string
		table  map[string]domain.EmirateConfig
		want   string
		config domain.EmirateConfig
	}{
		{"version without style", map[string]domain.EmirateConfig{"dubai": base, "dubai2": modern}, "dubai2", modern},
		{"style without version", map[string]domain.EmirateConfig{"dubai": base, "dubai_bike": bike}, "dubai_bike", bike},
		{"base emirate", map[string]domain.EmirateConfig{"dubai": base}, "dubai", base},
		{"exact", map[string]domain.EmirateConfig{"dubai": base, "dubai2_bike": bike, "dubai2": modern}, "dubai2_bike", bike},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			registry, err := NewRegistry(tc.table, "dubai")
			if err != nil {
				t.Fatalf("NewRegistry error: %v", err)
			}
			cfg, key := registry.Resolve("dubai", domain.PlateStyleBike, 2)
			if key != tc.want {
				t.Fatalf("expected key %q, got %q", tc.want, key)
			}
			if cfg.FontHeightRatio != tc.config.FontHeightRatio {
				t.Fatalf("expected config for %q, got %+v", tc.want, cfg)
			}
		})
	}
}

func TestRegistryUnknownEmirateUsesDefault(t *testing.T) {
	registry := DefaultRegistry()
	cfg, key := registry.Resolve("atlantis", domain.PlateStyleBike, 2)
	if key != string(DefaultEmirate) {
		t.Fatalf("expected fallback %q, got %q", DefaultEmirate, key)
	}
	if len(cfg.Components) == 0 {
		t.Fatalf("expected fallback config to carry components")
	}
}

func TestDefaultRegistryDubaiBikeModern(t *testing.T) {
	registry := DefaultRegistry()
	if _, ok := registry.Lookup("dubai2_bike"); ok {
		t.Fatalf("built-in table unexpectedly defines dubai2_bike")
	}
	if _, ok := registry.Lookup("dubai_bike"); ok {
		t.Fatalf("built-in table unexpectedly defines dubai_bike")
	}
	_, key := registry.Resolve("dubai", domain.PlateStyleBike, 2)
	if key != "dubai2" {
		t.Fatalf("expected dubai2, got %q", key)
	}
}

func TestDefaultRegistryDubaiPrivate(t *testing.T) {
	cfg, key := DefaultRegistry().Resolve("dubai", domain.PlateStylePrivate, 1)
	if key != "dubai" {
		t.Fatalf("expected dubai, got %q", key)
	}
	if len(cfg.Components) != 2 {
		t.Fatalf("expected two components, got %d", len(cfg.Components))
	}
	code, number := cfg.Components[0], cfg.Components[1]
	if code.Kind != domain.ComponentCode || code.XRatio != 0.13 || !code.Emboss {
		t.Fatalf("unexpected code component %+v", code)
	}
	if number.Kind != domain.ComponentNumber || number.XRatio != 0.62 || !number.Emboss {
		t.Fatalf("unexpected number component %+v", number)
	}
}

func TestNewRegistryRequiresFallback(t *testing.T) {
	if _, err := NewRegistry(map[string]domain.EmirateConfig{"sharjah": {}}, "dubai"); err == nil {
		t.Fatalf("expected error when fallback is missing")
	}
}

func TestRegistryResolveNeverFails(t *testing.T) {
	registry := DefaultRegistry()
	rapid.Check(t, func(t *rapid.T) {
		emirate := rapid.OneOf(
			rapid.SampledFrom([]string{"dubai", "Abu Dhabi", "sharjah", "fujairah", "ajman"}),
			rapid.StringMatching(`[a-z ]{0,12}`),
		).Draw(t, "emirate")
		style := rapid.SampledFrom([]domain.PlateStyle{domain.PlateStylePrivate, domain.PlateStyleBike, domain.PlateStyleClassic, ""}).Draw(t, "style")
		version := rapid.IntRange(0, 3).Draw(t, "version")

		cfg, key := registry.Resolve(emirate, style, version)
		if _, ok := registry.Lookup(key); !ok {
			t.Fatalf("resolved key %q is not registered", key)
		}
		if len(cfg.Components) == 0 {
			t.Fatalf("resolved config for %q has no components", key)
		}

		candidates := NewLayoutKey(emirate, style, version).Candidates()
		for _, candidate := range candidates {
			if _, ok := registry.Lookup(candidate); ok {
				if candidate != key {
					t.Fatalf("expected first registered candidate %q, got %q", candidate, key)
				}
				return
			}
		}
		if key != string(DefaultEmirate) {
			t.Fatalf("expected default emirate when no candidate matched, got %q", key)
		}
	})
}
