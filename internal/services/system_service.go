package services

import (
	"context"
	"errors"
	"time"

	"github.com/mekongeats/api/internal/repositories"
)

const (
	healthStatusOK       = "ok"
	healthStatusDegraded = "degraded"
)

// SystemServiceDeps bundles collaborators required to construct the system service.
type SystemServiceDeps struct {
	Health repositories.HealthRepository
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type systemService struct {
	health repositories.HealthRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewSystemService wires dependencies into a concrete SystemService implementation.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.Health == nil {
		return nil, errors.New("system service: health repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &systemService{
		health: deps.Health,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *systemService) Health(ctx context.Context) (HealthReport, error) {
	report := HealthReport{
		Status:     healthStatusOK,
		Components: map[string]string{"firestore": healthStatusOK},
		CheckedAt:  s.clock(),
	}

	if err := s.health.Ping(ctx); err != nil {
		report.Status = healthStatusDegraded
		report.Components["firestore"] = err.Error()
		s.logger(ctx, "system.health.degraded", map[string]any{"error": err.Error()})
	}

	return report, nil
}
