package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/statsor/notify/internal/api/handlers/notification"
	"github.com/statsor/notify/internal/middlewares"
)

func New(handler *notification.Handler) *ginext.Engine {
	e := ginext.New()
	e.Use(middlewares.CORSMiddleware())
	e.Use(ginext.Logger())
	e.Use(ginext.Recovery())

	api := e.Group("/api/notifications")
	{
		api.POST("/", handler.Create)
		api.POST("/batch", handler.CreateBatch)
		api.GET("/", handler.List)
		api.GET("/unread-count", handler.UnreadCount)
		api.PUT("/read-all", handler.MarkAllRead)
		api.GET("/stats", handler.GlobalStats)

		api.GET("/:id", handler.Get)
		api.GET("/:id/status", handler.GetStatus)
		api.PUT("/:id/read", handler.MarkRead)
		api.PUT("/:id/clicked", handler.MarkClicked)
		api.PUT("/:id/archive", handler.Archive)
		api.PUT("/:id/unarchive", handler.Unarchive)
		api.PUT("/:id/star", handler.Star)
		api.PUT("/:id/unstar", handler.Unstar)
		api.POST("/:id/retry", handler.Retry)
		api.DELETE("/:id", handler.Cancel)
	}

	batches := e.Group("/api/batches")
	{
		batches.GET("/:batchId/stats", handler.BatchStats)
	}

	return e
}
