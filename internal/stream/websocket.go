package stream

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mr1hm/go-tsunami-alerts/internal/models"
	"github.com/mr1hm/go-tsunami-alerts/internal/report"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browsers on the dashboard origin and devices on the LAN both connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades to a WebSocket and writes every broadcast report as JSON.
// The optional min_alert_level query parameter filters on the effective level.
type Handler struct {
	Broadcaster *Broadcaster
	Subscribers prometheus.Gauge // optional
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	minLevel := models.AlertLevelNone
	if v := r.URL.Query().Get("min_alert_level"); v != "" {
		level, ok := models.ParseAlertLevel(v)
		if !ok {
			http.Error(w, "invalid min_alert_level", http.StatusBadRequest)
			return
		}
		minLevel = level
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id, ch := h.Broadcaster.Subscribe()
	defer h.Broadcaster.Unsubscribe(id)
	if h.Subscribers != nil {
		h.Subscribers.Inc()
		defer h.Subscribers.Dec()
	}
	slog.Info("client subscribed to report stream", "subscriber_id", id, "min_alert_level", minLevel)

	closed := make(chan struct{})
	go readPump(conn, closed)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			slog.Info("client disconnected from report stream", "subscriber_id", id)
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case rep, ok := <-ch:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if !passes(rep, minLevel) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(rep); err != nil {
				slog.Error("failed to send report to stream", "error", err, "subscriber_id", id)
				return
			}
		}
	}
}

// readPump consumes control frames so pongs and close frames are processed.
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func passes(r *report.Report, min models.AlertLevel) bool {
	return r.EffectiveAlertLevel.Rank() >= min.Rank()
}
