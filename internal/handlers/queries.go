package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"aggronation/internal/events"
	"aggronation/internal/models"
	"aggronation/internal/store"
	"aggronation/pkg/cache"
	"aggronation/pkg/logging"
	"aggronation/pkg/middleware"
)

const (
	sourcesHealthKey = "sources:health"
	contentKeyPrefix = "content:"
)

// QueryHandler serves read-side views through the cache.
type QueryHandler struct {
	store  SourceStore
	cache  *cache.Cache
	ttl    time.Duration
	logger logging.Logger
}

func NewQueryHandler(st SourceStore, c *cache.Cache, ttl time.Duration, logger logging.Logger) *QueryHandler {
	return &QueryHandler{store: st, cache: c, ttl: ttl, logger: logger}
}

func (h *QueryHandler) SourcesHealth(c *gin.Context) {
	ctx := c.Request.Context()
	sources, err := cache.Fetch(h.cache, sourcesHealthKey, h.ttl, func() ([]models.Source, error) {
		return h.store.ListSources(ctx)
	})
	if err != nil {
		middleware.RequestLogger(c, h.logger).WithError(err).Error("Failed to list sources")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sources"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sources": sources, "count": len(sources)})
}

func (h *QueryHandler) Content(c *gin.Context) {
	q := store.ContentQuery{SourceID: c.Query("source")}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		q.Limit = n
	}
	if raw := c.Query("include_archived"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "include_archived must be a boolean"})
			return
		}
		q.IncludeArchived = b
	}
	q.Limit = q.NormalizedLimit()

	ctx := c.Request.Context()
	key := fmt.Sprintf("%s%s:%d:%t", contentKeyPrefix, q.SourceID, q.Limit, q.IncludeArchived)
	items, err := cache.Fetch(h.cache, key, h.ttl, func() ([]models.ContentItem, error) {
		return h.store.ListContent(ctx, q)
	})
	if err != nil {
		middleware.RequestLogger(c, h.logger).WithError(err).Error("Failed to list content")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list content"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

func (h *QueryHandler) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.cache.Stats())
}

// Invalidate drops the cached views touched by evt.
func (h *QueryHandler) Invalidate(evt events.Event) {
	switch evt.Type {
	case events.TypeHealth, events.TypeIngestion:
		h.cache.Delete(sourcesHealthKey)
		h.cache.DeletePrefix(contentKeyPrefix)
	case events.TypeContent:
		h.cache.DeletePrefix(contentKeyPrefix)
	}
}

// InvalidateSources drops every cached view; used after admin mutations.
func (h *QueryHandler) InvalidateSources() {
	h.cache.Delete(sourcesHealthKey)
	h.cache.DeletePrefix(contentKeyPrefix)
}

// SubscribeInvalidation keeps the cached views consistent with bus traffic.
func (h *QueryHandler) SubscribeInvalidation(bus *events.Bus) events.Subscription {
	return bus.Subscribe(events.TypeAll, h.Invalidate)
}
