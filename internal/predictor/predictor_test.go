package predictor

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-tsunami-alerts/internal/models"
)

func event(mag, depth float64) *models.EarthquakeEvent {
	return &models.EarthquakeEvent{
		ID:        "usgs_test",
		Magnitude: mag,
		DepthKm:   depth,
		Latitude:  12.4,
		Longitude: 93.2,
		Time:      time.Date(2024, 12, 26, 0, 58, 53, 0, time.UTC),
	}
}

func TestHeuristic_Shape(t *testing.T) {
	ctx := context.Background()
	h := Heuristic{}
	calm := models.NormalOceanConditions()

	prev := -1.0
	for mag := 5.0; mag <= 9.5; mag += 0.25 {
		p, err := h.Predict(ctx, event(mag, 30), calm)
		require.NoError(t, err)
		assert.Greater(t, p.RiskProbability, prev, "increasing in magnitude")
		assert.GreaterOrEqual(t, p.Confidence, 0.5)
		assert.LessOrEqual(t, p.Confidence, 0.9)
		assert.Equal(t, models.ClassFor(p.RiskProbability), p.RiskClass)
		assert.Equal(t, HeuristicName, p.Model)
		prev = p.RiskProbability
	}

	shallow, _ := h.Predict(ctx, event(7.5, 10), calm)
	deep, _ := h.Predict(ctx, event(7.5, 80), calm)
	assert.Greater(t, shallow.RiskProbability, deep.RiskProbability)

	rough := calm
	rough.WaveHeightAnomaly = models.AnomalyAnomalous
	withWaves, _ := h.Predict(ctx, event(7.5, 10), rough)
	assert.Greater(t, withWaves.RiskProbability, shallow.RiskProbability)
}

func TestHeuristic_RejectsNonFinite(t *testing.T) {
	_, err := Heuristic{}.Predict(context.Background(), event(math.NaN(), 10), models.OceanConditions{})
	assert.Error(t, err)
	_, err = Heuristic{}.Predict(context.Background(), nil, models.OceanConditions{})
	assert.Error(t, err)
}

func TestClient_Predict(t *testing.T) {
	var got predictRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"risk_probability": 0.85, "confidence": 0.9, "risk_class": "high", "model": "cnn-lstm-v2"}`))
	}))
	defer srv.Close()

	p, err := NewClient(srv.URL, time.Second).Predict(context.Background(), event(7.2, 35.5), models.NormalOceanConditions())
	require.NoError(t, err)

	assert.Equal(t, "usgs_test", got.EventID)
	assert.Equal(t, 7.2, got.Magnitude)
	assert.Equal(t, "2024-12-26T00:58:53Z", got.Time)
	assert.Equal(t, models.Prediction{RiskProbability: 0.85, Confidence: 0.9, RiskClass: models.RiskClassHigh, Model: "cnn-lstm-v2"}, p)
}

func TestClient_InvalidResponses(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"server error":     {http.StatusInternalServerError, `{}`},
		"missing fields":   {http.StatusOK, `{"risk_class": "high"}`},
		"out of range":     {http.StatusOK, `{"risk_probability": 1.7, "confidence": 0.9}`},
		"malformed json":   {http.StatusOK, `{"risk_probability":`},
		"negative confid.": {http.StatusOK, `{"risk_probability": 0.2, "confidence": -0.1}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second).Predict(context.Background(), event(7, 10), models.OceanConditions{})
			assert.Error(t, err)
		})
	}
}

func TestClient_DerivesMissingClass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"risk_probability": 0.45, "confidence": 0.7}`))
	}))
	defer srv.Close()

	p, err := NewClient(srv.URL, time.Second).Predict(context.Background(), event(7, 10), models.OceanConditions{})
	require.NoError(t, err)
	assert.Equal(t, models.RiskClassMedium, p.RiskClass)
	assert.Equal(t, RemoteName, p.Model)
}

func TestNew_FallsBackToHeuristic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	pred := New(srv.URL, time.Second)
	p, err := pred.Predict(context.Background(), event(7.2, 35.5), models.NormalOceanConditions())
	require.NoError(t, err)
	assert.Equal(t, HeuristicName, p.Model)

	info := pred.Info()
	assert.Equal(t, RemoteName, info.Name)
	assert.Equal(t, srv.URL, info.Endpoint)
	assert.Equal(t, HeuristicName, info.Fallback)

	assert.Equal(t, Heuristic{}.Info(), New("", time.Second).Info())
}
