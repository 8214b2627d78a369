// Package trigger runs fetch cycles on demand for an external caller holding
// the shared ingest secret.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"aggronation/internal/metrics"
	"aggronation/internal/models"
	"aggronation/internal/orchestrator"
	"aggronation/internal/store"
	"aggronation/pkg/auth"
	"aggronation/pkg/logging"
)

var (
	ErrNotConfigured  = errors.New("ingest trigger secret is not configured")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrSourceNotFound = errors.New("source not found")
	ErrRateLimited    = errors.New("trigger rate limited")
)

// SourceLoader reads sources to trigger.
type SourceLoader interface {
	LoadEnabledSources(ctx context.Context) ([]models.Source, error)
	LoadSource(ctx context.Context, id string) (models.Source, error)
}

// CycleRunner runs one fetch cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, src models.Source) orchestrator.Outcome
}

type Config struct {
	Secret         string
	Sources        SourceLoader
	Runner         CycleRunner
	Logger         logging.Logger
	Metrics        *metrics.Metrics
	MaxConcurrency int
	// MinInterval spaces accepted triggers; zero disables limiting.
	MinInterval time.Duration
	Now         func() time.Time
}

// Result is the per-source outcome returned to the caller.
type Result struct {
	SourceID   string              `json:"source_id"`
	SourceName string              `json:"source_name"`
	Success    bool                `json:"success"`
	Status     orchestrator.Status `json:"status"`
	Items      int                 `json:"items"`
	Error      string              `json:"error,omitempty"`
}

type Summary struct {
	TotalSources int   `json:"total_sources"`
	Succeeded    int   `json:"succeeded"`
	Failed       int   `json:"failed"`
	Skipped      int   `json:"skipped"`
	TotalItems   int   `json:"total_items"`
	DurationMs   int64 `json:"duration_ms"`
}

type Response struct {
	TriggeredAt time.Time `json:"triggered_at"`
	Results     []Result  `json:"results"`
	Summary     Summary   `json:"summary"`
}

type Service struct {
	secret         string
	sources        SourceLoader
	runner         CycleRunner
	logger         logging.Logger
	metrics        *metrics.Metrics
	maxConcurrency int
	limiter        *rate.Limiter
	now            func() time.Time
}

func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDiscardLogger()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Service{
		secret:         cfg.Secret,
		sources:        cfg.Sources,
		runner:         cfg.Runner,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		maxConcurrency: cfg.MaxConcurrency,
		limiter:        rate.NewLimiter(limit, 1),
		now:            cfg.Now,
	}
}

// Trigger authenticates token and synchronously runs one cycle for every
// enabled source, or only for sourceID when it is non-empty. Cycles are not
// aborted when ctx is cancelled.
func (s *Service) Trigger(ctx context.Context, token, sourceID string) (Response, error) {
	if err := s.authorize(token); err != nil {
		return Response{}, err
	}
	if !s.limiter.Allow() {
		s.metrics.IncTrigger("rate_limited")
		return Response{}, ErrRateLimited
	}

	sources, err := s.resolve(ctx, sourceID)
	if err != nil {
		if errors.Is(err, ErrSourceNotFound) {
			s.metrics.IncTrigger("not_found")
		} else {
			s.metrics.IncTrigger("error")
		}
		return Response{}, err
	}

	start := s.now()
	runCtx := context.WithoutCancel(ctx)
	results := make([]Result, len(sources))

	g := new(errgroup.Group)
	g.SetLimit(s.maxConcurrency)
	for i, src := range sources {
		g.Go(func() error {
			out := s.runner.RunCycle(runCtx, src)
			results[i] = Result{
				SourceID:   src.ID,
				SourceName: src.Name,
				Success:    out.Success(),
				Status:     out.Status,
				Items:      out.ItemsFetched,
				Error:      out.Error,
			}
			if out.Status == orchestrator.StatusSkipped && results[i].Error == "" {
				results[i].Error = "source is disabled"
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{TotalSources: len(results)}
	for _, r := range results {
		switch {
		case r.Success:
			summary.Succeeded++
			summary.TotalItems += r.Items
		case r.Status == orchestrator.StatusSkipped:
			summary.Skipped++
		default:
			summary.Failed++
		}
	}
	summary.DurationMs = s.now().Sub(start).Milliseconds()

	s.metrics.IncTrigger("ok")
	s.logger.WithFields(logging.Fields{
		"sources":   summary.TotalSources,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"items":     summary.TotalItems,
		"source_id": sourceID,
	}).Info("Manual ingest trigger completed")

	return Response{TriggeredAt: start.UTC(), Results: results, Summary: summary}, nil
}

func (s *Service) authorize(token string) error {
	err := auth.ValidateServiceToken(token, s.secret)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrTokenNotConfigured):
		s.metrics.IncTrigger("not_configured")
		s.logger.Error("Manual ingest trigger called but no secret is configured")
		return ErrNotConfigured
	default:
		s.metrics.IncTrigger("unauthorized")
		s.logger.WithError(err).Warn("Rejected manual ingest trigger")
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
}

func (s *Service) resolve(ctx context.Context, sourceID string) ([]models.Source, error) {
	if sourceID == "" {
		sources, err := s.sources.LoadEnabledSources(ctx)
		if err != nil {
			return nil, fmt.Errorf("load sources: %w", err)
		}
		return sources, nil
	}
	src, err := s.sources.LoadSource(ctx, sourceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, sourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("load source %s: %w", sourceID, err)
	}
	return []models.Source{src}, nil
}
