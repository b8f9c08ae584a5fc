package render

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/plate-market/api/internal/render/rendertest"
)

type countingSource struct {
	inner AssetSource
	reads atomic.Int64
	gate  chan struct{}
}

func (s *countingSource) ReadFile(ctx context.Context, name string) ([]byte, error) {
	s.reads.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	return s.inner.ReadFile(ctx, name)
}

type recordedEvent struct {
	event  string
	fields map[string]any
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) log(_ context.Context, event string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{event: event, fields: fields})
}

func (r *eventRecorder) find(event string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func newTestProvisioner(t *testing.T, source AssetSource, logger *eventRecorder) *FontProvisioner {
	t.Helper()
	deps := FontProvisionerDeps{Source: source, Fonts: DefaultManifest().Fonts}
	if logger != nil {
		deps.Logger = logger.log
	}
	provisioner, err := NewFontProvisioner(deps)
	if err != nil {
		t.Fatalf("NewFontProvisioner error: %v", err)
	}
	return provisioner
}

func TestFontProvisionerSingleLoadPass(t *testing.T) {
	source := &countingSource{inner: FSSource{FS: rendertest.FS()}, gate: make(chan struct{})}
	provisioner := newTestProvisioner(t, source, nil)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- provisioner.EnsureLoaded(context.Background())
		}()
	}

	time.Sleep(20 * time.Millisecond)
	if provisioner.Loaded() {
		t.Fatalf("expected barrier to stay closed while reads are blocked")
	}
	close(source.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("EnsureLoaded error: %v", err)
		}
	}

	if got := provisioner.Loads(); got != 1 {
		t.Fatalf("expected one load pass, got %d", got)
	}
	if got := source.reads.Load(); got != int64(len(DefaultManifest().Fonts)) {
		t.Fatalf("expected one read per declared face, got %d", got)
	}
	if !provisioner.Loaded() {
		t.Fatalf("expected provisioner to report loaded")
	}
	if got := provisioner.Usable(); got != len(DefaultManifest().Fonts) {
		t.Fatalf("expected all faces usable, got %d", got)
	}
}

func TestFontProvisionerContinuesPastFailures(t *testing.T) {
	fsys := rendertest.FS()
	delete(fsys, "fonts/dubai-modern.ttf")
	fsys["fonts/arabic-plate.ttf"].Data = []byte("not a font")
	logger := &eventRecorder{}
	provisioner := newTestProvisioner(t, FSSource{FS: fsys}, logger)

	if err := provisioner.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureLoaded error: %v", err)
	}

	failures := provisioner.Failures()
	if len(failures) != 2 {
		t.Fatalf("expected two failures, got %+v", failures)
	}
	if !errors.Is(&failures[0], ErrAssetNotFound) && !errors.Is(&failures[1], ErrAssetNotFound) {
		t.Fatalf("expected a missing asset failure, got %+v", failures)
	}
	if got := len(logger.find("render.font.load_failed")); got != 2 {
		t.Fatalf("expected two load_failed events, got %d", got)
	}
	if _, ok := provisioner.Lookup("UAEPlate", "bold"); !ok {
		t.Fatalf("expected UAEPlate bold to load despite sibling failures")
	}
	if _, ok := provisioner.Lookup("DubaiModern", "bold"); ok {
		t.Fatalf("expected DubaiModern to stay unregistered")
	}

	ready := logger.find("render.font.ready")
	if len(ready) != 1 {
		t.Fatalf("expected one ready event, got %d", len(ready))
	}
	if ready[0].fields["usable"] != 2 || ready[0].fields["declared"] != 4 {
		t.Fatalf("unexpected ready fields %+v", ready[0].fields)
	}
}

func TestFontProvisionerSkipsDuplicateRegistration(t *testing.T) {
	logger := &eventRecorder{}
	provisioner, err := NewFontProvisioner(FontProvisionerDeps{
		Source: FSSource{FS: rendertest.FS()},
		Fonts: []FontSpec{
			{Name: "UAEPlate", Path: "fonts/uae-plate-bold.ttf", Weight: "bold"},
			{Name: "UAEPlate", Path: "fonts/uae-plate-regular.ttf", Weight: "bold"},
		},
		Logger: logger.log,
	})
	if err != nil {
		t.Fatalf("NewFontProvisioner error: %v", err)
	}
	if err := provisioner.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureLoaded error: %v", err)
	}
	if got := len(logger.find("render.font.duplicate_skipped")); got != 1 {
		t.Fatalf("expected one duplicate skip, got %d", got)
	}
	if got := provisioner.Usable(); got != 1 {
		t.Fatalf("expected one usable face, got %d", got)
	}
}

func TestFontProvisionerLookupWeightFallback(t *testing.T) {
	provisioner := newTestProvisioner(t, FSSource{FS: rendertest.FS()}, nil)
	if err := provisioner.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureLoaded error: %v", err)
	}

	bold, ok := provisioner.Lookup("UAEPlate", "700")
	if !ok {
		t.Fatalf("expected bold lookup to succeed")
	}
	normal, ok := provisioner.Lookup("UAEPlate", "light")
	if !ok || normal == bold {
		t.Fatalf("expected unknown weight to fall back to normal face")
	}
	if _, ok := provisioner.Lookup("DubaiModern", ""); !ok {
		t.Fatalf("expected any-weight fallback for DubaiModern")
	}
	if _, ok := provisioner.Lookup("Missing", "bold"); ok {
		t.Fatalf("expected unknown family to miss")
	}
	if family, ok := provisioner.FamilyForFile("/fonts/arabic-plate.ttf"); !ok || family != "ArabicPlate" {
		t.Fatalf("expected ArabicPlate family, got %q", family)
	}
}

func TestFontProvisionerWaiterCancellation(t *testing.T) {
	source := &countingSource{inner: FSSource{FS: rendertest.FS()}, gate: make(chan struct{})}
	provisioner := newTestProvisioner(t, source, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := provisioner.EnsureLoaded(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(source.gate)
	if err := provisioner.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureLoaded error: %v", err)
	}
	if got := provisioner.Loads(); got != 1 {
		t.Fatalf("expected detached pass to be reused, got %d passes", got)
	}
}

func TestFontProvisionerReset(t *testing.T) {
	provisioner := newTestProvisioner(t, FSSource{FS: rendertest.FS()}, nil)
	ctx := context.Background()
	if err := provisioner.EnsureLoaded(ctx); err != nil {
		t.Fatalf("EnsureLoaded error: %v", err)
	}
	provisioner.Reset()
	if provisioner.Loaded() {
		t.Fatalf("expected reset provisioner to be unloaded")
	}
	if _, ok := provisioner.Lookup("UAEPlate", "bold"); ok {
		t.Fatalf("expected registry to be empty after reset")
	}
	if err := provisioner.EnsureLoaded(ctx); err != nil {
		t.Fatalf("EnsureLoaded error: %v", err)
	}
	if got := provisioner.Loads(); got != 2 {
		t.Fatalf("expected a second load pass after reset, got %d", got)
	}
}

func TestNewFontProvisionerRequiresSource(t *testing.T) {
	if _, err := NewFontProvisioner(FontProvisionerDeps{}); !errors.Is(err, ErrFontSourceRequired) {
		t.Fatalf("expected ErrFontSourceRequired, got %v", err)
	}
}
