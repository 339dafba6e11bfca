package http

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the session API on r.
func (h *Handlers) RegisterRoutes(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	sessions := r.Group("/sessions")
	{
		sessions.GET("", h.ListSessions)
		sessions.GET("/:uuid", h.GetSession)
		sessions.DELETE("/:uuid", h.DeleteSession)
		sessions.POST("/:uuid/execute", h.Execute)
		sessions.POST("/:uuid/interrupt", h.Interrupt)
		sessions.POST("/:uuid/restart", h.Restart)
		sessions.POST("/:uuid/send", h.Send)
		sessions.GET("/:uuid/ui-state", h.GetUIState)
		sessions.PUT("/:uuid/ui-state", h.PutUIState)
	}
}
