package server

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
	"github.com/zulandar/raceline/internal/models"
	"github.com/zulandar/raceline/internal/registry"
	"github.com/zulandar/raceline/internal/wa"
)

const qrImageSize = 256

// sessionView is a registry record with its live runtime state merged in.
type sessionView struct {
	ID              uint       `json:"id"`
	Name            string     `json:"name"`
	SessionID       string     `json:"sessionId"`
	PhoneNumber     string     `json:"phoneNumber"`
	Description     string     `json:"description"`
	IsActive        bool       `json:"isActive"`
	IsDefault       bool       `json:"isDefault"`
	Connected       bool       `json:"connected"`
	Status          string     `json:"status"`
	Reason          string     `json:"reason,omitempty"`
	LastConnectedAt *time.Time `json:"lastConnectedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func newSessionView(rec *models.WhatsAppSession, st wa.Status) sessionView {
	return sessionView{
		ID:              rec.ID,
		Name:            rec.Name,
		SessionID:       rec.SessionID,
		PhoneNumber:     rec.PhoneNumber,
		Description:     rec.Description,
		IsActive:        rec.IsActive,
		IsDefault:       rec.IsDefault,
		Connected:       st.Connected(),
		Status:          st.Phase.String(),
		Reason:          string(st.Reason),
		LastConnectedAt: rec.LastConnectedAt,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
}

// qrResponse is the GET /sessions?qrcode=true body.
type qrResponse struct {
	SessionID string  `json:"sessionId"`
	QR        *string `json:"qr"`
	QRImage   *string `json:"qrImage"`
	Connected bool    `json:"connected"`
	Status    string  `json:"status"`
	Message   string  `json:"message"`
	Attempts  int     `json:"attempts,omitempty"`
}

type createSessionRequest struct {
	Name        string `json:"name"`
	SessionID   string `json:"sessionId"`
	PhoneNumber string `json:"phoneNumber"`
	Description string `json:"description"`
	IsActive    *bool  `json:"isActive"`
	IsDefault   bool   `json:"isDefault"`
}

type updateSessionRequest struct {
	ID          uint    `json:"id"`
	Name        *string `json:"name"`
	SessionID   *string `json:"sessionId"`
	PhoneNumber *string `json:"phoneNumber"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"isActive"`
	IsDefault   *bool   `json:"isDefault"`
}

// handleGetSessions serves the list, a single live status (?sessionId=X) or
// a QR challenge (?sessionId=X&qrcode=true).
func handleGetSessions(opts StartOpts, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Query("sessionId")
		if id == "" {
			listSessions(c, opts, log)
			return
		}
		if err := wa.ValidateSessionID(id); err != nil {
			writeError(c, log, err)
			return
		}
		if wantQR, _ := strconv.ParseBool(c.Query("qrcode")); wantQR {
			getQRCode(c, opts, log, id)
			return
		}

		st := opts.Controller.Status(id)
		body := gin.H{
			"sessionId": id,
			"connected": st.Connected(),
			"status":    st.Phase.String(),
			"hasQr":     st.HasQR(),
		}
		if st.Reason != wa.ReasonNone {
			body["reason"] = string(st.Reason)
		}
		rec, err := opts.Manager.Store().FindBySessionID(c.Request.Context(), id)
		if err != nil {
			writeError(c, log, err)
			return
		}
		if rec != nil {
			body["session"] = newSessionView(rec, st)
		}
		c.JSON(http.StatusOK, body)
	}
}

func listSessions(c *gin.Context, opts StartOpts, log zerolog.Logger) {
	recs, err := opts.Manager.Store().List(c.Request.Context())
	if err != nil {
		writeError(c, log, err)
		return
	}
	out := make([]sessionView, 0, len(recs))
	for i := range recs {
		out = append(out, newSessionView(&recs[i], opts.Controller.Status(recs[i].SessionID)))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// getQRCode polls for a pairing challenge. The request context bounds the
// poll, so a closed admin dialog stops it.
func getQRCode(c *gin.Context, opts StartOpts, log zerolog.Logger, id string) {
	res, err := opts.Controller.GetQRCode(c.Request.Context(), id)
	resp := qrResponse{
		SessionID: id,
		Connected: res.Outcome == wa.QRAlreadyConnected,
		Status:    res.Outcome.String(),
		Message:   res.Message(),
		Attempts:  res.Attempts,
	}

	switch {
	case err == nil && res.Outcome == wa.QRReady:
		img, encErr := qrDataURL(res.Code)
		if encErr != nil {
			writeError(c, log, encErr)
			return
		}
		code := res.Code
		resp.QR = &code
		resp.QRImage = &img
		c.JSON(http.StatusOK, resp)
	case err == nil:
		c.JSON(http.StatusOK, resp)
	case errors.Is(err, wa.ErrQRTimeout):
		c.JSON(http.StatusGatewayTimeout, resp)
	default:
		log.Warn().Err(err).Str("session_id", id).Msg("qr request failed")
		if statusFor(err) == http.StatusInternalServerError {
			writeError(c, log, err)
			return
		}
		c.JSON(statusFor(err), resp)
	}
}

// qrDataURL renders code as a PNG data URL.
func qrDataURL(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

func handleCreateSession(opts StartOpts, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON body: "+err.Error())
			return
		}
		rec, err := opts.Manager.CreateSession(c.Request.Context(), registry.CreateOpts{
			Name:        req.Name,
			SessionID:   req.SessionID,
			PhoneNumber: req.PhoneNumber,
			Description: req.Description,
			IsActive:    req.IsActive,
			IsDefault:   req.IsDefault,
		})
		if err != nil {
			writeError(c, log, err)
			return
		}
		log.Info().Uint("id", rec.ID).Str("session_id", rec.SessionID).Msg("session created")
		c.JSON(http.StatusCreated, newSessionView(rec, opts.Controller.Status(rec.SessionID)))
	}
}

func handleUpdateSession(opts StartOpts, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON body: "+err.Error())
			return
		}
		if req.ID == 0 {
			badRequest(c, "id is required")
			return
		}
		ctx := c.Request.Context()
		old, err := opts.Manager.Store().Get(ctx, req.ID)
		if err != nil {
			writeError(c, log, err)
			return
		}
		rec, err := opts.Manager.UpdateSession(ctx, req.ID, registry.UpdateOpts{
			Name:        req.Name,
			SessionID:   req.SessionID,
			PhoneNumber: req.PhoneNumber,
			Description: req.Description,
			IsActive:    req.IsActive,
			IsDefault:   req.IsDefault,
		})
		if err != nil {
			writeError(c, log, err)
			return
		}
		// Renamed or deactivated records lose their runtime session.
		if old.SessionID != rec.SessionID || (old.IsActive && !rec.IsActive) {
			if err := opts.Controller.StopSession(ctx, old.SessionID); err != nil {
				log.Warn().Err(err).Str("session_id", old.SessionID).Msg("stop replaced session")
			}
		}
		log.Info().Uint("id", rec.ID).Str("session_id", rec.SessionID).Msg("session updated")
		c.JSON(http.StatusOK, newSessionView(rec, opts.Controller.Status(rec.SessionID)))
	}
}

// handleDeleteSession removes the record and tears down its runtime session.
// Stop failures are logged; the record is already gone.
func handleDeleteSession(opts StartOpts, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Query("id"), 10, 64)
		if err != nil || id == 0 {
			badRequest(c, "id must be a positive integer")
			return
		}
		rec, err := opts.Manager.DeleteSession(c.Request.Context(), uint(id))
		if err != nil {
			writeError(c, log, err)
			return
		}
		if err := opts.Controller.StopSession(c.Request.Context(), rec.SessionID); err != nil {
			log.Warn().Err(err).Str("session_id", rec.SessionID).Msg("stop deleted session")
		}
		log.Info().Uint("id", rec.ID).Str("session_id", rec.SessionID).Msg("session deleted")
		c.JSON(http.StatusOK, gin.H{"deleted": newSessionView(rec, wa.Status{})})
	}
}
