package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-tsunami-alerts/internal/config"
	"github.com/mr1hm/go-tsunami-alerts/internal/models"
	"github.com/mr1hm/go-tsunami-alerts/internal/observability"
)

const sumatraFeed = `{
  "type": "FeatureCollection",
  "features": [
    {
      "id": "official20041226005853450",
      "properties": {"mag": 9.1, "place": "off the west coast of northern Sumatra", "time": 1104022733450, "tsunami": 1},
      "geometry": {"type": "Point", "coordinates": [95.982, 3.295, 30]}
    }
  ]
}`

func testConfig(t *testing.T, usgsURL string) *config.Config {
	t.Helper()
	t.Setenv("DB_PATH", ":memory:")
	t.Setenv("USGS_URL", usgsURL)
	t.Setenv("NDBC_ENABLED", "false")
	t.Setenv("TIDES_ENABLED", "false")
	t.Setenv("INCOIS_ENABLED", "false")
	t.Setenv("MODEL_URL", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("REDIS_URL", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestApp_CheckPublishesAndDispatches(t *testing.T) {
	usgs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sumatraFeed))
	}))
	defer usgs.Close()

	ctx := context.Background()
	a, err := New(ctx, testConfig(t, usgs.URL), Options{Dispatch: true, Metrics: observability.NewMetricsForTesting()})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Advisories)
	assert.Nil(t, a.Ocean.Buoys)
	assert.Nil(t, a.Ocean.Tides)

	res, err := a.Monitor.Check(ctx)
	require.NoError(t, err)
	require.Len(t, res.Reports, 1)
	r := res.Reports[0]
	assert.Equal(t, models.AlertLevelWarning, r.EffectiveAlertLevel)
	assert.Equal(t, uint64(1), a.Snapshots.Version())

	stored, err := a.DB.Exists(ctx, "usgs_official20041226005853450")
	require.NoError(t, err)
	assert.True(t, stored)

	state, err := a.Dispatcher.Cloud().Get(ctx)
	require.NoError(t, err)
	assert.True(t, state.Active)
	assert.Equal(t, r.ID, state.ReportID)

	// Second cycle sees the same event and only refreshes the snapshot
	res, err = a.Monitor.Check(ctx)
	require.NoError(t, err)
	require.Len(t, res.Reports, 1)
	assert.Equal(t, models.AlertLevelNone, res.Reports[0].EffectiveAlertLevel)
	assert.Empty(t, res.Reports[0].EventID)
	assert.Equal(t, uint64(2), a.Snapshots.Version())
}

func TestApp_WithoutDispatch(t *testing.T) {
	usgs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sumatraFeed))
	}))
	defer usgs.Close()

	ctx := context.Background()
	a, err := New(ctx, testConfig(t, usgs.URL), Options{Metrics: observability.NewMetricsForTesting()})
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Monitor.Check(ctx)
	require.NoError(t, err)

	state, err := a.Dispatcher.Cloud().Get(ctx)
	require.NoError(t, err)
	assert.False(t, state.Active)
}

func TestApp_InvalidZonesFile(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:0")
	cfg.Impact.ZonesFile = "/nonexistent/zones.yaml"

	_, err := New(context.Background(), cfg, Options{Metrics: observability.NewMetricsForTesting()})
	assert.Error(t, err)
}

func TestApp_RedisUnreachable(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:0")
	cfg.Alerting.RedisURL = "redis://127.0.0.1:1/0"

	_, err := New(context.Background(), cfg, Options{Metrics: observability.NewMetricsForTesting()})
	assert.Error(t, err)
}
