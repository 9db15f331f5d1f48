package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/zulandar/raceline/internal/notify"
	"github.com/zulandar/raceline/internal/wa"
)

type sendMessageRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
	Session string `json:"session"` // optional session name
}

// handleSendMessage is the admin test send. It waits for the delivery
// result.
func handleSendMessage(opts StartOpts, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON body: "+err.Error())
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			badRequest(c, "message is required")
			return
		}
		res, err := opts.Dispatcher.SendMessage(c.Request.Context(), wa.OutboundMessage{
			To:          req.To,
			Body:        req.Message,
			SessionName: req.Session,
		})
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// handleNotification accepts an application event and sends it in the
// background.
func handleNotification(opts StartOpts, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var n notify.Notification
		if err := c.ShouldBindJSON(&n); err != nil {
			badRequest(c, "invalid JSON body: "+err.Error())
			return
		}
		if err := opts.Hooks.Fire(n); err != nil {
			if statusFor(err) == http.StatusInternalServerError {
				badRequest(c, err.Error())
				return
			}
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"accepted": true, "event": n.Event})
	}
}
