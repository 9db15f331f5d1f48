package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/zulandar/raceline/internal/notify"
	"github.com/zulandar/raceline/internal/registry"
	"github.com/zulandar/raceline/internal/wa"
)

// statusFor maps a domain error to an HTTP status. Unknown errors are 500.
func statusFor(err error) int {
	var (
		conflict   *registry.ConflictError
		validation *registry.ValidationError
	)
	switch {
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &validation),
		errors.Is(err, wa.ErrInvalidSessionID),
		errors.Is(err, wa.ErrInvalidRecipient),
		errors.Is(err, notify.ErrUnknownEvent):
		return http.StatusBadRequest
	case errors.Is(err, wa.ErrQRTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, wa.ErrSessionNotConnected),
		errors.Is(err, wa.ErrNoSessionAvailable),
		errors.Is(err, wa.ErrConnection),
		errors.Is(err, wa.ErrAdapterInit),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError responds with the mapped status. 500s get a generic message;
// the detail only goes to the log.
func writeError(c *gin.Context, log zerolog.Logger, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}

	var conflict *registry.ConflictError
	if errors.As(err, &conflict) {
		body["reason"] = conflict.Reason
	}
	var validation *registry.ValidationError
	if errors.As(err, &validation) {
		body["field"] = validation.Field
	}
	var sendErr *wa.SendError
	if errors.As(err, &sendErr) {
		body["kind"] = string(sendErr.Kind)
		if sendErr.SessionID != "" {
			body["sessionId"] = sendErr.SessionID
		}
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).
			Str("path", c.Request.URL.Path).
			Str("request_id", c.GetString(ctxRequestID)).
			Msg("request failed")
		body = gin.H{"error": "internal server error"}
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}
