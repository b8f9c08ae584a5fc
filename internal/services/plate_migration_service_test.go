package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/plate-market/api/internal/domain"
	"github.com/plate-market/api/internal/platform/requestctx"
	"github.com/plate-market/api/internal/render"
)

type stubPlateRepository struct {
	records   []domain.PlateRecord
	listErr   error
	updateErr map[string]error
	updates   map[string][2]string
}

func (s *stubPlateRepository) ListAll(context.Context) ([]domain.PlateRecord, error) {
	return s.records, s.listErr
}

func (s *stubPlateRepository) UpdateImage(_ context.Context, id, imageURL, imagePath string) error {
	if err := s.updateErr[id]; err != nil {
		return err
	}
	if s.updates == nil {
		s.updates = make(map[string][2]string)
	}
	s.updates[id] = [2]string{imageURL, imagePath}
	return nil
}

type stubUploader struct {
	objects map[string]string
	failOn  string
	runIDs  []string
}

func (s *stubUploader) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	s.runIDs = append(s.runIDs, requestctx.RunID(ctx))
	if path == s.failOn {
		return errors.New("bucket unavailable")
	}
	if len(data) == 0 {
		return errors.New("empty upload")
	}
	if s.objects == nil {
		s.objects = make(map[string]string)
	}
	s.objects[path] = contentType
	return nil
}

func (s *stubUploader) PublicURL(path string) string {
	return "https://cdn.example.com/" + path
}

type stubPublisher struct {
	mu     sync.Mutex
	events []PlateRegeneratedEvent
	err    error
}

func (s *stubPublisher) PublishRegenerated(_ context.Context, event PlateRegeneratedEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return "msg-" + event.PlateID, s.err
}

type countingMigrationMetrics struct {
	outcomes map[string]int
}

func (m *countingMigrationMetrics) RecordMigrated(_ context.Context, outcome string) {
	if m.outcomes == nil {
		m.outcomes = make(map[string]int)
	}
	m.outcomes[outcome]++
}

type capturedEvents struct {
	mu     sync.Mutex
	events []string
	fields []map[string]any
}

func (c *capturedEvents) log(_ context.Context, event string, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	c.fields = append(c.fields, fields)
}

func (c *capturedEvents) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e == event {
			n++
		}
	}
	return n
}

func migrationFixture() []domain.PlateRecord {
	return []domain.PlateRecord{
		{ID: "p1", Emirate: "dubai", PlateCode: "A", PlateNumber: "12345", Version: 1},
		{ID: "p2", Emirate: "Sharjah", PlateNumber: "B 9", Version: 1},
		{ID: "p3", Emirate: "fujairah", PlateCode: "C", PlateNumber: "7", Version: 1},
		{ID: "p4", Emirate: "ajman", PlateCode: "D", PlateNumber: "55", Version: 1},
		{ID: "p5", Emirate: "dubai", Style: "bike", PlateCode: "E", PlateNumber: "1", Version: 2},
	}
}

func TestPlateMigrationContinuesPastMissingTemplate(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	repo := &stubPlateRepository{records: migrationFixture()}
	uploader := &stubUploader{}
	publisher := &stubPublisher{}
	metrics := &countingMigrationMetrics{}
	logs := &capturedEvents{}

	svc, err := NewPlateMigrationService(PlateMigrationServiceDeps{
		Pipeline:    newTestPipeline(t, "dubai", "sharjah", "ajman"),
		Plates:      repo,
		Uploader:    uploader,
		Publisher:   publisher,
		Folder:      "/plates/",
		Width:       520,
		Metrics:     metrics,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "run-1" },
		Logger:      logs.log,
	})
	if err != nil {
		t.Fatalf("NewPlateMigrationService: %v", err)
	}

	var progress []MigrationProgress
	report, err := svc.RegenerateAll(context.Background(), func(p MigrationProgress) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("RegenerateAll: %v", err)
	}

	if report.RunID != "run-1" || report.Total != 5 || report.Succeeded != 4 || report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(report.Errors) != 1 || report.Errors[0].PlateID != "p3" {
		t.Fatalf("expected p3 to fail, got %+v", report.Errors)
	}
	if !strings.Contains(report.Errors[0].Message, "fujairah") {
		t.Fatalf("expected failure to name the template key, got %q", report.Errors[0].Message)
	}
	if report.CacheBuster != now.UnixMilli() {
		t.Fatalf("expected cache buster %d, got %d", now.UnixMilli(), report.CacheBuster)
	}

	if len(progress) != 6 {
		t.Fatalf("expected progress before each record and at completion, got %d", len(progress))
	}
	for i, p := range progress[:5] {
		if p.Processed != i || p.Total != 5 || p.Done {
			t.Fatalf("unexpected progress %d: %+v", i, p)
		}
	}
	if last := progress[5]; !last.Done || last.Processed != 5 {
		t.Fatalf("unexpected final progress %+v", last)
	}

	wantSuffix := "?v=" + strconv.FormatInt(now.UnixMilli(), 10)
	for _, id := range []string{"p1", "p2", "p4", "p5"} {
		update, ok := repo.updates[id]
		if !ok {
			t.Fatalf("expected %s to be persisted", id)
		}
		wantPath := "plates/" + id + ".jpg"
		if update[1] != wantPath {
			t.Fatalf("expected path %s, got %s", wantPath, update[1])
		}
		if update[0] != "https://cdn.example.com/"+wantPath+wantSuffix {
			t.Fatalf("unexpected url %s", update[0])
		}
		if uploader.objects[wantPath] != "image/jpeg" {
			t.Fatalf("expected jpeg upload for %s", id)
		}
	}
	if _, ok := repo.updates["p3"]; ok {
		t.Fatalf("failed record must not be persisted")
	}

	for _, runID := range uploader.runIDs {
		if runID != "run-1" {
			t.Fatalf("expected run id on upload context, got %q", runID)
		}
	}
	if len(publisher.events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(publisher.events))
	}
	if ev := publisher.events[1]; ev.PlateID != "p2" || ev.Emirate != "sharjah" || ev.RunID != "run-1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev := publisher.events[3]; ev.Style != "bike" || ev.Version != 2 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if metrics.outcomes["succeeded"] != 4 || metrics.outcomes["failed"] != 1 {
		t.Fatalf("unexpected metric outcomes %v", metrics.outcomes)
	}
	if logs.count("plates.migration.item_failed") != 1 || logs.count("plates.migration.completed") != 1 {
		t.Fatalf("unexpected log events %v", logs.events)
	}
}

func TestPlateMigrationRecordsUploadAndPersistFailures(t *testing.T) {
	repo := &stubPlateRepository{
		records: []domain.PlateRecord{
			{ID: "up", Emirate: "dubai", PlateCode: "A", PlateNumber: "1"},
			{ID: "db", Emirate: "dubai", PlateCode: "A", PlateNumber: "2"},
			{ID: "ok", Emirate: "dubai", PlateCode: "A", PlateNumber: "3"},
		},
		updateErr: map[string]error{"db": errors.New("deadline exceeded")},
	}
	uploader := &stubUploader{failOn: "plates/up.png"}
	publisher := &stubPublisher{err: errors.New("topic not found")}
	logs := &capturedEvents{}

	svc, err := NewPlateMigrationService(PlateMigrationServiceDeps{
		Pipeline:  newTestPipeline(t, "dubai"),
		Plates:    repo,
		Uploader:  uploader,
		Publisher: publisher,
		Width:     520,
		Format:    render.FormatPNG,
		Logger:    logs.log,
	})
	if err != nil {
		t.Fatalf("NewPlateMigrationService: %v", err)
	}

	report, err := svc.RegenerateAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("RegenerateAll: %v", err)
	}
	if report.Succeeded != 1 || report.Failed != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if !strings.Contains(report.Errors[0].Message, ErrUploadFailure.Error()) {
		t.Fatalf("expected upload failure, got %q", report.Errors[0].Message)
	}
	if !strings.Contains(report.Errors[1].Message, ErrPersistFailure.Error()) {
		t.Fatalf("expected persist failure, got %q", report.Errors[1].Message)
	}
	// A failed publish is logged and does not fail the record.
	if logs.count("plates.migration.publish_failed") != 1 {
		t.Fatalf("expected publish failure to be logged")
	}
	if report.RunID == "" {
		t.Fatalf("expected generated run id")
	}
}

func TestPlateMigrationKeepsRunIDFromContext(t *testing.T) {
	publisher := &stubPublisher{}
	uploader := &stubUploader{}
	svc, err := NewPlateMigrationService(PlateMigrationServiceDeps{
		Pipeline: newTestPipeline(t, "dubai"),
		Plates: &stubPlateRepository{records: []domain.PlateRecord{
			{ID: "p1", Emirate: "dubai", PlateCode: "A", PlateNumber: "1"},
		}},
		Uploader:    uploader,
		Publisher:   publisher,
		Width:       520,
		IDGenerator: func() string { return "generated" },
	})
	if err != nil {
		t.Fatalf("NewPlateMigrationService: %v", err)
	}

	report, err := svc.RegenerateAll(requestctx.WithRunID(context.Background(), "01HZRUN"), nil)
	if err != nil {
		t.Fatalf("RegenerateAll: %v", err)
	}
	if report.RunID != "01HZRUN" {
		t.Fatalf("expected run id from context, got %q", report.RunID)
	}
	if len(publisher.events) != 1 || publisher.events[0].RunID != "01HZRUN" {
		t.Fatalf("expected event tagged with run id, got %+v", publisher.events)
	}
	if len(uploader.runIDs) != 1 || uploader.runIDs[0] != "01HZRUN" {
		t.Fatalf("expected upload context tagged with run id, got %v", uploader.runIDs)
	}

	report, err = svc.RegenerateAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("RegenerateAll: %v", err)
	}
	if report.RunID != "generated" {
		t.Fatalf("expected generated run id, got %q", report.RunID)
	}
}

func TestPlateMigrationRejectsOverlongPlateText(t *testing.T) {
	repo := &stubPlateRepository{records: []domain.PlateRecord{
		{ID: "long", Emirate: "dubai", PlateCode: "A", PlateNumber: "12345678901234567"},
		{ID: "ok", Emirate: "dubai", PlateCode: "A", PlateNumber: "1234567890123456"},
	}}
	logs := &capturedEvents{}
	svc, err := NewPlateMigrationService(PlateMigrationServiceDeps{
		Pipeline: newTestPipeline(t, "dubai"),
		Plates:   repo,
		Uploader: &stubUploader{},
		Width:    520,
		Logger:   logs.log,
	})
	if err != nil {
		t.Fatalf("NewPlateMigrationService: %v", err)
	}
	report, err := svc.RegenerateAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("RegenerateAll: %v", err)
	}
	if report.Succeeded != 1 || report.Failed != 1 || report.Errors[0].PlateID != "long" {
		t.Fatalf("expected only the overlong record to fail, got %+v", report)
	}
	if !strings.Contains(report.Errors[0].Message, ErrPlateInvalidInput.Error()) || !strings.Contains(report.Errors[0].Message, "plate number") {
		t.Fatalf("expected invalid input naming the field, got %q", report.Errors[0].Message)
	}
	if _, ok := repo.updates["long"]; ok {
		t.Fatalf("overlong record must keep its previous image")
	}
	if logs.count("plates.migration.item_failed") != 1 {
		t.Fatalf("expected the rejected record to be logged")
	}
}

func TestPlateMigrationListFailureAborts(t *testing.T) {
	listErr := errors.New("firestore unavailable")
	svc, err := NewPlateMigrationService(PlateMigrationServiceDeps{
		Pipeline: newTestPipeline(t, "dubai"),
		Plates:   &stubPlateRepository{listErr: listErr},
		Uploader: &stubUploader{},
	})
	if err != nil {
		t.Fatalf("NewPlateMigrationService: %v", err)
	}
	calls := 0
	_, err = svc.RegenerateAll(context.Background(), func(MigrationProgress) { calls++ })
	if !errors.Is(err, listErr) {
		t.Fatalf("expected list error, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no progress callbacks, got %d", calls)
	}
}

func TestPlateMigrationStopsWhenCancelled(t *testing.T) {
	pipeline := newTestPipeline(t, "dubai")
	if err := pipeline.Fonts.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureLoaded: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	svc, err := NewPlateMigrationService(PlateMigrationServiceDeps{
		Pipeline: pipeline,
		Plates:   &stubPlateRepository{records: migrationFixture()},
		Uploader: &stubUploader{},
		Width:    520,
	})
	if err != nil {
		t.Fatalf("NewPlateMigrationService: %v", err)
	}

	report, err := svc.RegenerateAll(ctx, func(p MigrationProgress) {
		if p.Processed == 1 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if report.Succeeded+report.Failed != 2 {
		t.Fatalf("expected two records attempted, got %+v", report)
	}
}

func TestNewPlateMigrationServiceValidatesDeps(t *testing.T) {
	pipeline := newTestPipeline(t, "dubai")
	if _, err := NewPlateMigrationService(PlateMigrationServiceDeps{Pipeline: pipeline, Uploader: &stubUploader{}}); err == nil {
		t.Fatalf("expected error without repository")
	}
	if _, err := NewPlateMigrationService(PlateMigrationServiceDeps{Pipeline: pipeline, Plates: &stubPlateRepository{}}); err == nil {
		t.Fatalf("expected error without uploader")
	}
}
