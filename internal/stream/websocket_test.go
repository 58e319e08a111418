package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-tsunami-alerts/internal/models"
	"github.com/mr1hm/go-tsunami-alerts/internal/report"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/alerts" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	return conn
}

func waitForSubscribers(t *testing.T, b *Broadcaster, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return b.SubscriberCount() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestHandler_StreamsReports(t *testing.T) {
	b := NewBroadcaster()
	srv := httptest.NewServer(&Handler{Broadcaster: b})
	defer srv.Close()

	conn := dial(t, srv, "")
	defer conn.Close()
	waitForSubscribers(t, b, 1)

	b.Broadcast(testReport("r1", models.AlertLevelAdvisory))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got report.Report
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "r1", got.ID)
	assert.Equal(t, models.AlertLevelAdvisory, got.EffectiveAlertLevel)
}

func TestHandler_MinAlertLevelFilter(t *testing.T) {
	b := NewBroadcaster()
	srv := httptest.NewServer(&Handler{Broadcaster: b})
	defer srv.Close()

	conn := dial(t, srv, "?min_alert_level=warning")
	defer conn.Close()
	waitForSubscribers(t, b, 1)

	b.Broadcast(testReport("advisory", models.AlertLevelAdvisory))
	b.Broadcast(testReport("warning", models.AlertLevelWarning))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got report.Report
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "warning", got.ID)
}

func TestHandler_InvalidMinAlertLevel(t *testing.T) {
	b := NewBroadcaster()
	srv := httptest.NewServer(&Handler{Broadcaster: b})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws/alerts?min_alert_level=tsunami")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestHandler_ClientDisconnectUnsubscribes(t *testing.T) {
	b := NewBroadcaster()
	srv := httptest.NewServer(&Handler{Broadcaster: b})
	defer srv.Close()

	conn := dial(t, srv, "")
	waitForSubscribers(t, b, 1)

	require.NoError(t, conn.Close())
	waitForSubscribers(t, b, 0)
}

func TestHandler_BroadcasterCloseEndsStream(t *testing.T) {
	b := NewBroadcaster()
	srv := httptest.NewServer(&Handler{Broadcaster: b})
	defer srv.Close()

	conn := dial(t, srv, "")
	defer conn.Close()
	waitForSubscribers(t, b, 1)

	b.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
}
