package server

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/raceline/internal/wa"
)

var (
	eventPollInterval = time.Second
	eventHeartbeat    = 15 * time.Second
)

// sessionEvent is the payload of a "session" event.
type sessionEvent struct {
	SessionID string    `json:"sessionId"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	HasQR     bool      `json:"hasQr"`
	Since     time.Time `json:"since"`
}

func newSessionEvent(id string, st wa.Status) sessionEvent {
	return sessionEvent{
		SessionID: id,
		Status:    st.Phase.String(),
		Reason:    string(st.Reason),
		HasQR:     st.HasQR(),
		Since:     st.Since,
	}
}

// handleEvents streams session status changes as server-sent events so the
// admin UI can follow pairing without polling the QR endpoint.
func handleEvents(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		seen := opts.Controller.Statuses()
		writeSSE(c.Writer, "connected", gin.H{"sessions": snapshotEvents(seen)})
		c.Writer.Flush()

		ctx := c.Request.Context()
		ticker := time.NewTicker(eventPollInterval)
		heartbeat := time.NewTicker(eventHeartbeat)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", gin.H{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				current := opts.Controller.Statuses()
				changed := false
				for _, id := range sortedIDs(current) {
					if prev, ok := seen[id]; ok && prev == current[id] {
						continue
					}
					writeSSE(c.Writer, "session", newSessionEvent(id, current[id]))
					changed = true
				}
				for id := range seen {
					if _, ok := current[id]; !ok {
						writeSSE(c.Writer, "session", newSessionEvent(id, wa.Status{}))
						changed = true
					}
				}
				seen = current
				if changed {
					c.Writer.Flush()
				}
			}
		}
	}
}

func snapshotEvents(statuses map[string]wa.Status) []sessionEvent {
	out := make([]sessionEvent, 0, len(statuses))
	for _, id := range sortedIDs(statuses) {
		out = append(out, newSessionEvent(id, statuses[id]))
	}
	return out
}

func sortedIDs(statuses map[string]wa.Status) []string {
	ids := make([]string, 0, len(statuses))
	for id := range statuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
}
