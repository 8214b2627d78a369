package handlers

import (
	"github.com/gin-gonic/gin"

	"aggronation/pkg/auth"
)

// Routes groups the handlers mounted by RegisterRoutes.
type Routes struct {
	Trigger    *TriggerHandler
	Events     *EventsHandler
	Queries    *QueryHandler
	Admin      *AdminHandler
	AdminToken string
}

func RegisterRoutes(router *gin.Engine, r Routes) {
	api := router.Group("/api")
	{
		api.POST("/ingest/trigger", r.Trigger.Handle)

		api.GET("/events", r.Events.Recent)
		api.GET("/events/stream", r.Events.Stream)

		api.GET("/sources/health", r.Queries.SourcesHealth)
		api.GET("/content", r.Queries.Content)
		api.GET("/cache/stats", r.Queries.CacheStats)
	}

	router.GET("/ws/events", r.Events.WebSocket)

	admin := router.Group("/api/admin")
	admin.Use(auth.ServiceAuthMiddleware(r.AdminToken))
	{
		admin.POST("/sources", r.Admin.CreateSource)
		admin.PATCH("/sources/:id", r.Admin.UpdateSource)
		admin.DELETE("/sources/:id", r.Admin.DeleteSource)
		admin.GET("/scheduler", r.Admin.SchedulerState)
		admin.POST("/scheduler/reschedule", r.Admin.Reschedule)
	}
}
