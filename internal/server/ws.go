package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultTracePoll = 100 * time.Millisecond
	traceWriteWait   = 5 * time.Second
)

type traceStreamer struct {
	upgrader websocket.Upgrader
	poll     time.Duration
}

func newTraceStreamer() traceStreamer {
	return traceStreamer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // CORS is enforced by the middleware
			},
		},
		poll: defaultTracePoll,
	}
}

// WithTracePollInterval sets how often the trace stream checks for new lines.
func WithTracePollInterval(d time.Duration) HandlerOption {
	return func(h *Handlers) {
		if d > 0 {
			h.trace.poll = d
		}
	}
}

// StreamTrace handles GET /extractions/{id}/trace/ws. It upgrades to a
// websocket, sends every trace line as it is recorded, then a final status
// message once the extraction is finished, and closes.
func (h *Handlers) StreamTrace(w http.ResponseWriter, r *http.Request) {
	found, ok := h.findJob(w, r)
	if !ok {
		return
	}

	conn, err := h.trace.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			slog.String("job_id", found.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer func() { _ = conn.Close() }()

	logger := h.logger.With(slog.String("job_id", found.ID))
	logger.Debug("trace stream opened")

	// Drain client frames so close messages are observed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug("trace stream read error", slog.String("error", err.Error()))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(h.trace.poll)
	defer ticker.Stop()

	sent := 0
	for {
		// Read the status before the trace so no line recorded before the
		// terminal transition is missed.
		current, err := h.service.GetJob(r.Context(), found.ID)
		if err != nil {
			h.closeTrace(conn, websocket.CloseNormalClosure, "extraction removed")
			return
		}
		terminal := current.IsTerminal()

		for _, e := range found.Trace.Since(sent) {
			at := e.At
			if err := h.sendTrace(conn, TraceEvent{Type: "trace", At: &at, Message: e.Message}); err != nil {
				logger.Debug("trace stream write failed", slog.String("error", err.Error()))
				return
			}
			sent++
		}

		if terminal {
			final := TraceEvent{Type: "status", Status: string(current.GetStatus()), ErrorKind: current.ErrorKind}
			if err := h.sendTrace(conn, final); err != nil {
				return
			}
			h.closeTrace(conn, websocket.CloseNormalClosure, "extraction finished")
			logger.Debug("trace stream closed", slog.Int("lines", sent))
			return
		}

		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Handlers) sendTrace(conn *websocket.Conn, ev TraceEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(traceWriteWait))
	return conn.WriteJSON(ev)
}

func (h *Handlers) closeTrace(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(traceWriteWait))
}
