package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"aggronation/internal/models"
	"aggronation/internal/store"
	"aggronation/pkg/clients"
	"aggronation/pkg/logging"
)

type Config struct {
	Store          store.Store
	Logger         logging.Logger
	PersistTimeout time.Duration
	Now            func() time.Time
}

// Tracker records fetch outcomes into each source's health record. Updates
// for the same source are serialized; different sources never contend.
type Tracker struct {
	store          store.Store
	logger         logging.Logger
	persistTimeout time.Duration
	now            func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewTracker(cfg Config) *Tracker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDiscardLogger()
	}
	return &Tracker{
		store:          cfg.Store,
		logger:         cfg.Logger,
		persistTimeout: cfg.PersistTimeout,
		now:            cfg.Now,
		locks:          make(map[string]*sync.Mutex),
	}
}

// RecordSuccess sets last-fetched to now, clears the last error, resets the
// consecutive error counter and adds itemCount to the total.
func (t *Tracker) RecordSuccess(ctx context.Context, sourceID string, itemCount int) error {
	now := t.now().UTC()
	return t.apply(ctx, sourceID, store.HealthUpdate{
		LastFetched:            &now,
		ClearLastError:         true,
		ResetConsecutiveErrors: true,
		TotalFetchedDelta:      itemCount,
	})
}

// RecordError stores message as the last error and increments the
// consecutive error counter. Last-fetched and the total stay as they are.
func (t *Tracker) RecordError(ctx context.Context, sourceID, message string) error {
	return t.apply(ctx, sourceID, store.HealthUpdate{
		LastError:              &message,
		ConsecutiveErrorsDelta: 1,
	})
}

// Snapshot reads the current health record.
func (t *Tracker) Snapshot(ctx context.Context, sourceID string) (models.SourceHealth, error) {
	src, err := t.store.LoadSource(ctx, sourceID)
	if err != nil {
		return models.SourceHealth{}, err
	}
	return src.Health, nil
}

// Forget drops the per-source lock once a source is deleted.
func (t *Tracker) Forget(sourceID string) {
	t.mu.Lock()
	delete(t.locks, sourceID)
	t.mu.Unlock()
}

func (t *Tracker) apply(ctx context.Context, sourceID string, upd store.HealthUpdate) error {
	lock := t.lockFor(sourceID)
	lock.Lock()
	defer lock.Unlock()

	err := clients.RunWithTimeout(ctx, t.persistTimeout, func(ctx context.Context) error {
		return t.store.UpdateSourceHealth(ctx, sourceID, upd)
	})
	if errors.Is(err, store.ErrNotFound) {
		// Deleted while its cycle was in flight.
		t.logger.WithField("source_id", sourceID).Debug("Skipping health update for removed source")
		return nil
	}
	if err != nil {
		return fmt.Errorf("record health for %s: %w", sourceID, err)
	}
	return nil
}

func (t *Tracker) lockFor(sourceID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[sourceID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[sourceID] = l
	}
	return l
}
