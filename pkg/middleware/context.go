package middleware

import (
	"github.com/gin-gonic/gin"

	"aggronation/pkg/logging"
)

// GetRequestID returns the id stamped by RequestIDMiddleware, or "".
func GetRequestID(c *gin.Context) string {
	if id, exists := c.Get("request_id"); exists {
		if strID, ok := id.(string); ok {
			return strID
		}
	}
	return ""
}

// RequestLogger annotates logger with the request id, method and path.
func RequestLogger(c *gin.Context, logger logging.Logger) logging.Entry {
	return logger.WithFields(logging.Fields{
		"request_id": GetRequestID(c),
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
	})
}
