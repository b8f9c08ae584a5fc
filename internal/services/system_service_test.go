package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/plate-market/api/internal/domain"
	"github.com/plate-market/api/internal/render"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	// copy the check map so repeated calls start from the collected state
	report := s.report
	if s.report.Checks != nil {
		report.Checks = make(map[string]domain.SystemHealthCheck, len(s.report.Checks))
		for name, check := range s.report.Checks {
			report.Checks[name] = check
		}
	}
	return report, s.err
}

type stubFontStatus struct {
	loaded   bool
	usable   int
	failures []render.FontLoadError
}

func (s stubFontStatus) Loaded() bool                     { return s.loaded }
func (s stubFontStatus) Usable() int                      { return s.usable }
func (s stubFontStatus) Failures() []render.FontLoadError { return s.failures }

func okChecks() map[string]domain.SystemHealthCheck {
	return map[string]domain.SystemHealthCheck{
		"fonts":     {Status: domain.HealthStatusOK},
		"firestore": {Status: domain.HealthStatusOK},
	}
}

func TestSystemServiceStampsBuildAndUptime(t *testing.T) {
	started := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Second)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{Checks: okChecks()}},
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "2.4.0", CommitSHA: "f00d", Environment: "staging", StartedAt: started},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("status = %s", report.Status)
	}
	if report.Version != "2.4.0" || report.CommitSHA != "f00d" || report.Environment != "staging" {
		t.Fatalf("build metadata not applied: %+v", report)
	}
	if report.Uptime != 90*time.Second {
		t.Fatalf("uptime = %s", report.Uptime)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("generatedAt = %s", report.GeneratedAt)
	}
}

func TestSystemServiceKeepsCollectedMetadata(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{
			Version: "from-repo",
			Uptime:  time.Hour,
			Checks:  okChecks(),
		}},
		Build: BuildInfo{Version: "from-build"},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Version != "from-repo" || report.Uptime != time.Hour {
		t.Fatalf("collected values overwritten: %+v", report)
	}
}

func TestSystemServicePartialFontFailureDegrades(t *testing.T) {
	fonts := stubFontStatus{
		loaded: true,
		usable: 3,
		failures: []render.FontLoadError{
			{Name: "DubaiModern", Path: "fonts/dubai-modern.ttf", Weight: "bold", Err: errors.New("truncated")},
		},
	}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{Checks: okChecks()}},
		Fonts:            fonts,
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("status = %s, want degraded", report.Status)
	}
	check := report.Checks["fonts"]
	if check.Status != domain.HealthStatusDegraded {
		t.Fatalf("fonts check = %s", check.Status)
	}
	if !strings.Contains(check.Detail, "DubaiModern/bold") || !strings.HasPrefix(check.Detail, "3 usable, 1 failed") {
		t.Fatalf("unexpected detail %q", check.Detail)
	}
	if check.CheckedAt.IsZero() {
		t.Fatalf("expected checkedAt to be stamped")
	}
}

func TestSystemServiceFontErrorIsNotSoftened(t *testing.T) {
	checks := okChecks()
	checks["fonts"] = domain.SystemHealthCheck{Status: domain.HealthStatusError, Detail: "no font face could be loaded"}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{Status: domain.HealthStatusError, Checks: checks}},
		Fonts: stubFontStatus{loaded: true, failures: []render.FontLoadError{
			{Name: "UAEPlate", Weight: "bold"},
			{Name: "UAEPlate", Weight: "regular"},
		}},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("status = %s, want error", report.Status)
	}
	if report.Checks["fonts"].Detail != "no font face could be loaded" {
		t.Fatalf("fonts detail rewritten: %q", report.Checks["fonts"].Detail)
	}
}

func TestSystemServiceIgnoresFontsStillLoading(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{Checks: okChecks()}},
		Fonts:            stubFontStatus{loaded: false, failures: []render.FontLoadError{{Name: "ArabicPlate"}}},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("status = %s", report.Status)
	}
}

func TestSystemServiceWorstCheckWins(t *testing.T) {
	checks := okChecks()
	checks["redis"] = domain.SystemHealthCheck{Status: domain.HealthStatusDegraded}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{Status: domain.HealthStatusOK, Checks: checks}},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("status = %s, want degraded", report.Status)
	}
}

func TestSystemServicePropagatesCollectError(t *testing.T) {
	collectErr := errors.New("firestore check timed out")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{err: collectErr}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, collectErr) {
		t.Fatalf("expected collect error, got %v", err)
	}
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected missing repository to be rejected")
	}
}
