package handlers

import (
	"context"

	"aggronation/internal/models"
	"aggronation/internal/scheduler"
	"aggronation/internal/store"
	"aggronation/internal/trigger"
)

type Triggerer interface {
	Trigger(ctx context.Context, token, sourceID string) (trigger.Response, error)
}

type SourceStore interface {
	ListSources(ctx context.Context) ([]models.Source, error)
	ListContent(ctx context.Context, q store.ContentQuery) ([]models.ContentItem, error)
	LoadSource(ctx context.Context, id string) (models.Source, error)
	CreateSource(ctx context.Context, src models.Source) (models.Source, error)
	UpdateSource(ctx context.Context, src models.Source) (models.Source, error)
	DeleteSource(ctx context.Context, id string) error
}

type Scheduler interface {
	Start(ctx context.Context) error
	Reschedule(ctx context.Context) error
	Cancel(sourceID string) bool
	Scheduled() []scheduler.State
	Running() bool
}

// HealthForgetter drops per-source health state once a source is deleted.
type HealthForgetter interface {
	Forget(sourceID string)
}

// AdapterTypes lists the source types that have a registered adapter.
type AdapterTypes interface {
	Types() []models.SourceType
}
