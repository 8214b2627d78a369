package store

import (
	"context"
	"errors"
	"time"

	"aggronation/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

const (
	DefaultContentLimit = 50
	MaxContentLimit     = 500
)

// HealthUpdate is a partial, atomic change to a source's health record. Nil
// pointers and zero deltas leave the corresponding column unchanged.
type HealthUpdate struct {
	LastFetched            *time.Time
	LastError              *string
	ClearLastError         bool
	ResetConsecutiveErrors bool
	ConsecutiveErrorsDelta int
	TotalFetchedDelta      int
}

// Apply mutates h in place. Shared by implementations that hold health in memory.
func (u HealthUpdate) Apply(h *models.SourceHealth) {
	if u.LastFetched != nil {
		t := *u.LastFetched
		h.LastFetched = &t
	}
	switch {
	case u.ClearLastError:
		h.LastError = nil
	case u.LastError != nil:
		msg := *u.LastError
		h.LastError = &msg
	}
	if u.ResetConsecutiveErrors {
		h.ConsecutiveErrors = 0
	} else {
		h.ConsecutiveErrors += u.ConsecutiveErrorsDelta
	}
	h.TotalFetched += int64(u.TotalFetchedDelta)
}

// ContentQuery filters ListContent.
type ContentQuery struct {
	SourceID        string
	Limit           int
	IncludeArchived bool
}

// NormalizedLimit clamps Limit into [1, MaxContentLimit].
func (q ContentQuery) NormalizedLimit() int {
	switch {
	case q.Limit <= 0:
		return DefaultContentLimit
	case q.Limit > MaxContentLimit:
		return MaxContentLimit
	}
	return q.Limit
}

// Store is the durable persistence contract used by the ingestion core and
// the admin surface. Implementations must be safe for concurrent use.
type Store interface {
	// UpsertContent inserts candidate or, when (SourceID, ExternalID) already
	// exists, replaces only its ingestion-owned fields. It returns the stored
	// record and whether it was created.
	UpsertContent(ctx context.Context, candidate models.ContentItem) (models.ContentItem, bool, error)
	// UpdateSourceHealth returns ErrNotFound when the source no longer exists.
	UpdateSourceHealth(ctx context.Context, sourceID string, upd HealthUpdate) error
	LoadEnabledSources(ctx context.Context) ([]models.Source, error)
	LoadSource(ctx context.Context, id string) (models.Source, error)
	ListSources(ctx context.Context) ([]models.Source, error)
	ListContent(ctx context.Context, q ContentQuery) ([]models.ContentItem, error)
	CreateSource(ctx context.Context, src models.Source) (models.Source, error)
	UpdateSource(ctx context.Context, src models.Source) (models.Source, error)
	DeleteSource(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}
