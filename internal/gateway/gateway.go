// Package gateway is the deduplicating write path for content items. Every
// write is an upsert keyed on (source id, external id).
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"aggronation/internal/models"
	"aggronation/internal/store"
	"aggronation/pkg/clients"
	"aggronation/pkg/logging"
)

var ErrInvalidItem = errors.New("invalid content item")

type Config struct {
	Store          store.Store
	Logger         logging.Logger
	PersistTimeout time.Duration
	Now            func() time.Time
}

type Gateway struct {
	store          store.Store
	logger         logging.Logger
	persistTimeout time.Duration
	now            func() time.Time
}

// Result is the stored record plus whether this call created it.
type Result struct {
	Item    models.ContentItem
	Created bool
}

func New(cfg Config) *Gateway {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDiscardLogger()
	}
	return &Gateway{
		store:          cfg.Store,
		logger:         cfg.Logger,
		persistTimeout: cfg.PersistTimeout,
		now:            cfg.Now,
	}
}

// Upsert creates the item with initial rating defaults or, when the key
// already exists, replaces its ingestion-owned fields. Featured, archived and
// the rating snapshot of an existing record are never changed here.
func (g *Gateway) Upsert(ctx context.Context, sourceID, externalID string, fields models.ContentFields) (Result, error) {
	sourceID = strings.TrimSpace(sourceID)
	externalID = strings.TrimSpace(externalID)
	if sourceID == "" || externalID == "" {
		return Result{}, fmt.Errorf("%w: source id and external id are required", ErrInvalidItem)
	}

	now := g.now().UTC()
	candidate := models.NewContentItem(uuid.NewString(), sourceID, externalID, fields, now)

	res, err := clients.WithTimeout(ctx, g.persistTimeout, func(ctx context.Context) (Result, error) {
		item, created, err := g.store.UpsertContent(ctx, candidate)
		return Result{Item: item, Created: created}, err
	})
	if err != nil {
		return Result{}, fmt.Errorf("upsert %s/%s: %w", sourceID, externalID, err)
	}

	g.logger.WithFields(logging.Fields{
		"source_id":   sourceID,
		"external_id": externalID,
		"content_id":  res.Item.ID,
		"created":     res.Created,
	}).Debug("Content upserted")
	return res, nil
}
