package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/plate-market/api/internal/domain"
	"github.com/plate-market/api/internal/render"
	"github.com/plate-market/api/internal/repositories"
)

// fontsCheckName is the readiness check that reports typeface state.
const fontsCheckName = "fonts"

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// FontStatus is the part of the font provisioner readiness reporting reads.
type FontStatus interface {
	Loaded() bool
	Usable() int
	Failures() []render.FontLoadError
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	// Fonts is optional. When set, faces that failed to load degrade the report.
	Fonts FontStatus
	Clock func() time.Time
	Build BuildInfo
}

type systemService struct {
	healthRepo repositories.HealthRepository
	fonts      FontStatus
	clock      func() time.Time
	build      BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service behind the readiness endpoint.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}

	return &systemService{
		healthRepo: deps.HealthRepository,
		fonts:      deps.Fonts,
		clock: func() time.Time {
			return clock().UTC()
		},
		build: build,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}

	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.clock()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	report.Version = firstNonEmpty(report.Version, s.build.Version)
	report.CommitSHA = firstNonEmpty(report.CommitSHA, s.build.CommitSHA)
	report.Environment = firstNonEmpty(report.Environment, s.build.Environment)
	if report.Uptime <= 0 && !s.build.StartedAt.IsZero() {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}

	s.applyFontFailures(&report, now)
	report.Status = worstStatus(report.Status, report.Checks)
	return report, nil
}

// applyFontFailures marks the fonts check degraded when a settled load pass left
// some faces unusable. Rendering continues with the remaining faces.
func (s *systemService) applyFontFailures(report *SystemHealthReport, now time.Time) {
	if s.fonts == nil || !s.fonts.Loaded() {
		return
	}
	failures := s.fonts.Failures()
	if len(failures) == 0 {
		return
	}
	check, ok := report.Checks[fontsCheckName]
	if ok && check.Status == domain.HealthStatusError {
		return
	}
	names := make([]string, 0, len(failures))
	for _, failure := range failures {
		names = append(names, failure.Name+"/"+failure.Weight)
	}
	sort.Strings(names)

	check.Status = domain.HealthStatusDegraded
	check.Detail = fmt.Sprintf("%d usable, %d failed: %s", s.fonts.Usable(), len(failures), strings.Join(names, ", "))
	if check.CheckedAt.IsZero() {
		check.CheckedAt = now
	}
	report.Checks[fontsCheckName] = check
}

func statusRank(status string) int {
	switch status {
	case domain.HealthStatusError:
		return 2
	case domain.HealthStatusDegraded:
		return 1
	default:
		return 0
	}
}

// worstStatus never improves on the collected status; checks can only lower it.
func worstStatus(current string, checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	if statusRank(current) > 0 {
		status = current
	}
	for _, check := range checks {
		if statusRank(check.Status) > statusRank(status) {
			status = check.Status
		}
	}
	return status
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
