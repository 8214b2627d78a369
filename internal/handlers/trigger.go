package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"aggronation/internal/trigger"
	"aggronation/pkg/auth"
	"aggronation/pkg/logging"
	"aggronation/pkg/middleware"
)

// TriggerTokenHeader carries the shared ingest secret.
const TriggerTokenHeader = "X-Ingest-Token"

type TriggerHandler struct {
	service Triggerer
	logger  logging.Logger
}

func NewTriggerHandler(service Triggerer, logger logging.Logger) *TriggerHandler {
	return &TriggerHandler{service: service, logger: logger}
}

// Handle runs one cycle over all enabled sources, or the one named by the
// source query parameter, and reports per-source outcomes.
func (h *TriggerHandler) Handle(c *gin.Context) {
	resp, err := h.service.Trigger(c.Request.Context(), triggerToken(c), strings.TrimSpace(c.Query("source")))
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, trigger.ErrUnauthorized):
			status = http.StatusUnauthorized
		case errors.Is(err, trigger.ErrNotConfigured):
			status = http.StatusInternalServerError
		case errors.Is(err, trigger.ErrSourceNotFound):
			status = http.StatusNotFound
		case errors.Is(err, trigger.ErrRateLimited):
			status = http.StatusTooManyRequests
		default:
			middleware.RequestLogger(c, h.logger).WithError(err).Error("Manual ingest trigger failed")
		}
		msg := err.Error()
		if status == http.StatusUnauthorized {
			msg = "unauthorized"
		}
		c.JSON(status, gin.H{"success": false, "error": msg})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"triggered_at": resp.TriggeredAt,
		"results":      resp.Results,
		"summary":      resp.Summary,
	})
}

func triggerToken(c *gin.Context) string {
	if token := strings.TrimSpace(c.GetHeader(TriggerTokenHeader)); token != "" {
		return token
	}
	if token, ok := auth.BearerToken(c.GetHeader("Authorization")); ok {
		return token
	}
	return c.Query("token")
}
