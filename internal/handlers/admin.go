package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"aggronation/internal/models"
	"aggronation/internal/scheduler"
	"aggronation/internal/store"
	"aggronation/pkg/logging"
	"aggronation/pkg/middleware"
)

const rescheduleTimeout = 15 * time.Second

// AdminHandler manages sources and exposes scheduler state. Every source
// mutation re-derives the timer set.
type AdminHandler struct {
	store     SourceStore
	scheduler Scheduler
	queries   *QueryHandler
	health    HealthForgetter
	adapters  AdapterTypes
	logger    logging.Logger
}

// AdminConfig wires the admin handler. Queries, Health and Adapters are
// optional.
type AdminConfig struct {
	Store     SourceStore
	Scheduler Scheduler
	Queries   *QueryHandler
	Health    HealthForgetter
	Adapters  AdapterTypes
	Logger    logging.Logger
}

func NewAdminHandler(cfg AdminConfig) *AdminHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDiscardLogger()
	}
	return &AdminHandler{
		store:     cfg.Store,
		scheduler: cfg.Scheduler,
		queries:   cfg.Queries,
		health:    cfg.Health,
		adapters:  cfg.Adapters,
		logger:    cfg.Logger,
	}
}

func (h *AdminHandler) CreateSource(c *gin.Context) {
	var src models.Source
	if err := c.ShouldBindJSON(&src); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}
	src.Health = models.SourceHealth{}
	src.ApplyDefaults()
	if err := src.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.store.CreateSource(c.Request.Context(), src)
	if errors.Is(err, store.ErrDuplicate) {
		c.JSON(http.StatusConflict, gin.H{"error": "source already exists"})
		return
	}
	if err != nil {
		middleware.RequestLogger(c, h.logger).WithError(err).Error("Failed to create source")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create source"})
		return
	}

	h.logger.WithFields(logging.Fields{
		"source_id":   created.ID,
		"source_type": created.Type,
		"enabled":     created.Enabled,
	}).Info("Source created")
	h.afterMutation(c)
	c.JSON(http.StatusCreated, created)
}

func (h *AdminHandler) UpdateSource(c *gin.Context) {
	var patch models.SourcePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}
	if patch.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	ctx := c.Request.Context()
	src, err := h.store.LoadSource(ctx, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
		return
	}
	if err != nil {
		middleware.RequestLogger(c, h.logger).WithError(err).Error("Failed to load source")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load source"})
		return
	}

	patch.Apply(&src)
	if err := src.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.store.UpdateSource(ctx, src)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
		return
	}
	if err != nil {
		middleware.RequestLogger(c, h.logger).WithError(err).Error("Failed to update source")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update source"})
		return
	}

	h.logger.WithField("source_id", updated.ID).Info("Source updated")
	h.afterMutation(c)
	c.JSON(http.StatusOK, updated)
}

func (h *AdminHandler) DeleteSource(c *gin.Context) {
	id := c.Param("id")
	err := h.store.DeleteSource(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
		return
	}
	if err != nil {
		middleware.RequestLogger(c, h.logger).WithError(err).Error("Failed to delete source")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete source"})
		return
	}

	// Disarm now; a failed reschedule keeps the previous timer set.
	h.scheduler.Cancel(id)
	if h.health != nil {
		h.health.Forget(id)
	}
	h.logger.WithField("source_id", id).Info("Source deleted")
	h.afterMutation(c)
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) SchedulerState(c *gin.Context) {
	c.JSON(http.StatusOK, h.state(false))
}

// Reschedule re-derives the timer set. A scheduler that never started, for
// example because the store was unreachable at boot, is started instead.
func (h *AdminHandler) Reschedule(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), rescheduleTimeout)
	defer cancel()

	started := false
	err := h.scheduler.Reschedule(ctx)
	if errors.Is(err, scheduler.ErrNotRunning) {
		err = h.scheduler.Start(ctx)
		started = err == nil
	}
	if err != nil {
		middleware.RequestLogger(c, h.logger).WithError(err).Error("Reschedule failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reschedule failed: " + err.Error()})
		return
	}
	if started {
		h.logger.Info("Scheduler started from admin request")
	}
	c.JSON(http.StatusOK, h.state(started))
}

func (h *AdminHandler) state(started bool) gin.H {
	body := gin.H{
		"running": h.scheduler.Running(),
		"sources": h.scheduler.Scheduled(),
	}
	if started {
		body["started"] = true
	}
	if h.adapters != nil {
		body["source_types"] = h.adapters.Types()
	}
	return body
}

func (h *AdminHandler) afterMutation(c *gin.Context) {
	if h.queries != nil {
		h.queries.InvalidateSources()
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), rescheduleTimeout)
	defer cancel()
	if err := h.scheduler.Reschedule(rctx); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
		middleware.RequestLogger(c, h.logger).WithError(err).Warn("Reschedule after source change failed")
	}
}
