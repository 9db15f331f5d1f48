package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// registerRoutes sets up all admin routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts, log zerolog.Logger) {
	router.GET("/health", handleHealth(opts))

	api := router.Group("/", adminAuth(opts.AdminKey))

	// Sessions.
	api.GET("/sessions", handleGetSessions(opts, log))
	api.POST("/sessions", handleCreateSession(opts, log))
	api.PUT("/sessions", handleUpdateSession(opts, log))
	api.DELETE("/sessions", handleDeleteSession(opts, log))
	api.GET("/events", handleEvents(opts))

	// Sending.
	api.POST("/messages", handleSendMessage(opts, log))
	if opts.Hooks != nil {
		api.POST("/notifications", handleNotification(opts, log))
	}
}

func handleHealth(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		statuses := opts.Controller.Statuses()
		connected := 0
		for _, st := range statuses {
			if st.Connected() {
				connected++
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":            "ok",
			"sessions":          len(statuses),
			"connectedSessions": connected,
		})
	}
}
