// Package orchestrator runs one fetch-and-persist cycle for one source.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aggronation/internal/adapters"
	"aggronation/internal/events"
	"aggronation/internal/gateway"
	"aggronation/internal/metrics"
	"aggronation/internal/models"
	"aggronation/pkg/clients"
	"aggronation/pkg/logging"
)

// Upserter persists one content item.
type Upserter interface {
	Upsert(ctx context.Context, sourceID, externalID string, fields models.ContentFields) (gateway.Result, error)
}

// HealthRecorder owns source health bookkeeping.
type HealthRecorder interface {
	RecordSuccess(ctx context.Context, sourceID string, itemCount int) error
	RecordError(ctx context.Context, sourceID, message string) error
	Snapshot(ctx context.Context, sourceID string) (models.SourceHealth, error)
}

// Emitter publishes events.
type Emitter interface {
	Emit(evt events.Event) events.Event
}

// SourceLoader reads the current configuration of a source.
type SourceLoader interface {
	LoadSource(ctx context.Context, id string) (models.Source, error)
}

type Config struct {
	Registry     *adapters.Registry
	Gateway      Upserter
	Health       HealthRecorder
	Bus          Emitter
	Sources      SourceLoader
	Logger       logging.Logger
	Metrics      *metrics.Metrics
	FetchTimeout time.Duration
	Now          func() time.Time
}

// Orchestrator holds no per-source state; concurrent cycles, including two
// for the same source, are independent of each other.
type Orchestrator struct {
	registry     *adapters.Registry
	gateway      Upserter
	health       HealthRecorder
	bus          Emitter
	sources      SourceLoader
	logger       logging.Logger
	metrics      *metrics.Metrics
	fetchTimeout time.Duration
	now          func() time.Time
}

func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDiscardLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		registry:     cfg.Registry,
		gateway:      cfg.Gateway,
		health:       cfg.Health,
		bus:          cfg.Bus,
		sources:      cfg.Sources,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		fetchTimeout: cfg.FetchTimeout,
		now:          cfg.Now,
	}
}

// RunByID loads the source's current configuration and runs a cycle. The
// returned error is only set when the source cannot be loaded.
func (o *Orchestrator) RunByID(ctx context.Context, sourceID string) (Outcome, error) {
	src, err := o.sources.LoadSource(ctx, sourceID)
	if err != nil {
		return Outcome{SourceID: sourceID, Status: StatusSkipped, Error: err.Error()}, err
	}
	return o.RunCycle(ctx, src), nil
}

// RunCycle executes adapter call, upserts and health update for src. Every
// failure is captured in the Outcome; nothing propagates to the caller.
func (o *Orchestrator) RunCycle(ctx context.Context, src models.Source) Outcome {
	out := Outcome{
		SourceID:   src.ID,
		SourceName: src.Name,
		SourceType: src.Type,
		StartedAt:  o.now().UTC(),
	}
	log := o.logger.WithFields(logging.Fields{
		"source_id":   src.ID,
		"source_type": src.Type,
	})

	defer func() {
		out.Duration = o.now().Sub(out.StartedAt)
		if out.Status != StatusSkipped {
			o.metrics.ObserveCycle(string(src.Type), string(out.Status), out.Duration)
		}
	}()

	if !src.Enabled {
		out.Status = StatusSkipped
		log.Debug("Source disabled, skipping cycle")
		return out
	}

	adapter, err := o.registry.Lookup(src.Type)
	if err != nil {
		out.fail(StatusUnsupportedType, err)
		log.WithError(err).Error("No adapter registered for source type")
		o.emit(events.Event{
			Type:     events.TypeIngestion,
			Action:   events.ActionMisconfigured,
			SourceID: src.ID,
			Payload:  map[string]interface{}{"source_type": string(src.Type), "error": out.Error},
		})
		return out
	}

	items, err := o.fetch(ctx, adapter, src)
	if err != nil {
		out.fail(StatusFetchError, err)
		log.WithError(err).Warn("Fetch cycle failed")
		o.recordFailure(ctx, &out, log)
		return out
	}
	out.ItemsReturned = len(items)

	var firstErr error
	for _, item := range items {
		res, err := o.gateway.Upsert(ctx, src.ID, item.ExternalID, models.FieldsFor(&src, item))
		if err != nil {
			out.Failed++
			if firstErr == nil {
				firstErr = err
			}
			o.metrics.IncUpsert(string(src.Type), "error")
			log.WithError(err).WithField("external_id", item.ExternalID).Warn("Failed to upsert content item")
			continue
		}
		out.ItemsFetched++
		if res.Created {
			out.Created++
			o.metrics.IncUpsert(string(src.Type), "created")
			o.emit(events.Event{
				Type:     events.TypeContent,
				Action:   events.ActionCreated,
				SourceID: src.ID,
				Payload: map[string]interface{}{
					"content_id":  res.Item.ID,
					"external_id": res.Item.ExternalID,
					"title":       res.Item.Title,
					"url":         res.Item.URL,
				},
			})
		} else {
			out.Updated++
			o.metrics.IncUpsert(string(src.Type), "updated")
		}
	}

	if out.Failed > 0 {
		out.fail(StatusPersistenceError, fmt.Errorf("%d of %d items failed to persist: %w", out.Failed, len(items), firstErr))
		log.WithError(firstErr).WithField("failed", out.Failed).Warn("Fetch cycle had persistence errors")
		o.recordFailure(ctx, &out, log)
		return out
	}

	out.Status = StatusSuccess
	if err := o.health.RecordSuccess(ctx, src.ID, out.ItemsFetched); err != nil {
		log.WithError(err).Error("Failed to record source health")
	}
	o.emit(events.Event{
		Type:     events.TypeIngestion,
		Action:   events.ActionCompleted,
		SourceID: src.ID,
		Payload: map[string]interface{}{
			"items":   out.ItemsFetched,
			"created": out.Created,
			"updated": out.Updated,
		},
	})
	o.emitHealth(ctx, src.ID)

	log.WithFields(logging.Fields{
		"items":    out.ItemsFetched,
		"created":  out.Created,
		"duration": o.now().Sub(out.StartedAt).String(),
	}).Info("Fetch cycle completed")
	return out
}

// fetch calls the adapter under the fetch timeout. A panicking adapter is
// reported as a fetch error.
func (o *Orchestrator) fetch(ctx context.Context, adapter adapters.Adapter, src models.Source) (items []models.CanonicalItem, err error) {
	defer func() {
		if r := recover(); r != nil {
			items, err = nil, fmt.Errorf("adapter panic: %v", r)
		}
	}()
	items, err = clients.WithTimeout(ctx, o.fetchTimeout, func(ctx context.Context) ([]models.CanonicalItem, error) {
		return adapter.Fetch(ctx, src)
	})
	if errors.Is(err, clients.ErrTimeout) {
		err = fmt.Errorf("fetch timed out after %s: %w", o.fetchTimeout, err)
	}
	return items, err
}

func (o *Orchestrator) recordFailure(ctx context.Context, out *Outcome, log logging.Entry) {
	if err := o.health.RecordError(ctx, out.SourceID, out.Error); err != nil {
		log.WithError(err).Error("Failed to record source health")
	}
	o.emit(events.Event{
		Type:     events.TypeIngestion,
		Action:   events.ActionFailed,
		SourceID: out.SourceID,
		Payload: map[string]interface{}{
			"status": string(out.Status),
			"error":  out.Error,
		},
	})
	o.emitHealth(ctx, out.SourceID)
}

func (o *Orchestrator) emitHealth(ctx context.Context, sourceID string) {
	payload := map[string]interface{}{}
	if h, err := o.health.Snapshot(ctx, sourceID); err == nil {
		payload["consecutive_errors"] = h.ConsecutiveErrors
		payload["total_fetched"] = h.TotalFetched
		if h.LastFetched != nil {
			payload["last_fetched"] = h.LastFetched
		}
		if h.LastError != nil {
			payload["last_error"] = *h.LastError
		}
	}
	o.emit(events.Event{
		Type:     events.TypeHealth,
		Action:   events.ActionUpdated,
		SourceID: sourceID,
		Payload:  payload,
	})
}

func (o *Orchestrator) emit(evt events.Event) {
	if o.bus != nil {
		o.bus.Emit(evt)
	}
}
