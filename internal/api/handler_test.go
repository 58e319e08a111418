package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/mr1hm/go-tsunami-alerts/internal/alerting"
	"github.com/mr1hm/go-tsunami-alerts/internal/geo"
	"github.com/mr1hm/go-tsunami-alerts/internal/impact"
	"github.com/mr1hm/go-tsunami-alerts/internal/models"
	"github.com/mr1hm/go-tsunami-alerts/internal/monitor"
	"github.com/mr1hm/go-tsunami-alerts/internal/observability"
	"github.com/mr1hm/go-tsunami-alerts/internal/predictor"
	"github.com/mr1hm/go-tsunami-alerts/internal/report"
	"github.com/mr1hm/go-tsunami-alerts/internal/repository"
	"github.com/mr1hm/go-tsunami-alerts/internal/snapshot"
	"github.com/mr1hm/go-tsunami-alerts/internal/stream"
)

var testNow = time.Date(2024, 12, 26, 1, 10, 0, 0, time.UTC)

// mockRepo implements repository.ReportRepository and repository.DeviceRepository for testing
type mockRepo struct {
	mu      sync.Mutex
	reports []*report.Report
	devices []models.Device
}

func (m *mockRepo) Add(ctx context.Context, r *report.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return nil
}

func (m *mockRepo) GetByID(ctx context.Context, id string) (*report.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reports {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockRepo) Exists(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reports {
		if r.EventID == eventID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) ListReports(ctx context.Context, opts repository.Filter) ([]*report.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []*report.Report
	for _, r := range m.reports {
		if opts.Since != nil && r.Timestamp.Before(*opts.Since) {
			continue
		}
		if opts.AtRisk != nil && r.IndiaAtRisk != *opts.AtRisk {
			continue
		}
		if opts.MinAlertLevel != nil && r.EffectiveAlertLevel.Rank() < opts.MinAlertLevel.Rank() {
			continue
		}
		results = append(results, r)
	}

	// Apply limit
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (m *mockRepo) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (m *mockRepo) AddDevice(ctx context.Context, d *models.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.devices {
		if m.devices[i].IP == d.IP {
			m.devices[i].Name = d.Name
			return nil
		}
	}
	m.devices = append(m.devices, *d)
	return nil
}

func (m *mockRepo) ListDevices(ctx context.Context) ([]models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Device{}, m.devices...), nil
}

func (m *mockRepo) RemoveDevice(ctx context.Context, ip string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range m.devices {
		if d.IP == ip {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) MarkAsSent(ctx context.Context, ips []string, level models.AlertLevel, at time.Time) (int64, error) {
	return int64(len(ips)), nil
}

type mockMonitor struct {
	result *monitor.CheckResult
	err    error
	checks int
}

func (m *mockMonitor) Check(ctx context.Context) (*monitor.CheckResult, error) {
	m.checks++
	return m.result, m.err
}

func (m *mockMonitor) Status() monitor.Status {
	return monitor.Status{Running: true, PollInterval: "5m0s"}
}

type mockQuakes struct {
	events []*models.EarthquakeEvent
	err    error
}

func (m *mockQuakes) Recent(ctx context.Context, lookback time.Duration) ([]*models.EarthquakeEvent, error) {
	return m.events, m.err
}

type mockAdvisories struct {
	advisories []models.Advisory
	err        error
}

func (m *mockAdvisories) Advisories(ctx context.Context) ([]models.Advisory, error) {
	return m.advisories, m.err
}

type testEnv struct {
	router    *gin.Engine
	repo      *mockRepo
	snapshots *snapshot.Store
	monitor   *mockMonitor
	quakes    *mockQuakes
	cloud     *alerting.MemoryCloud
}

func setupTestRouter(t *testing.T, advisories monitor.AdvisorySource) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	assessor, err := impact.New(impact.DefaultConfig())
	if err != nil {
		t.Fatalf("failed to create assessor: %v", err)
	}
	clock := clockwork.NewFakeClockAt(testNow)

	env := &testEnv{
		repo:      &mockRepo{},
		snapshots: snapshot.New(10),
		monitor:   &mockMonitor{result: &monitor.CheckResult{CheckedAt: testNow, Reports: []*report.Report{}}},
		quakes:    &mockQuakes{},
		cloud:     alerting.NewMemoryCloud(),
	}
	dispatcher := alerting.NewDispatcher(env.cloud, env.repo, alerting.NewPusher(time.Second), nil, observability.NewMetricsForTesting(), clock, 1, 1)

	handler := NewHandler(Deps{
		Reports:     env.repo,
		Devices:     env.repo,
		Snapshots:   env.snapshots,
		Monitor:     env.monitor,
		Assessor:    assessor,
		Builder:     report.NewBuilder(impact.DefaultRegions(), clock),
		Predictor:   predictor.Heuristic{},
		Earthquakes: env.quakes,
		Advisories:  advisories,
		Alerts:      dispatcher,
		Broadcaster: stream.NewBroadcaster(),
		Clock:       clock,
	})

	env.router = gin.New()
	handler.RegisterRoutes(env.router)
	return env
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func testReport(id string, ts time.Time, level models.AlertLevel, atRisk bool) *report.Report {
	return &report.Report{
		ID:                  id,
		Timestamp:           ts,
		EventID:             "usgs_" + id,
		IndiaAtRisk:         atRisk,
		AlertLevel:          level,
		EffectiveAlertLevel: level,
		Earthquake: &report.EarthquakeInfo{
			ID:        "usgs_" + id,
			Magnitude: 7.5,
			DepthKm:   20,
			Location:  geo.Point{Lat: 12.0, Lon: 93.0},
			Place:     "Andaman Islands",
		},
		AffectedRegions: []string{},
	}
}

func TestHealth(t *testing.T) {
	env := setupTestRouter(t, nil)

	w := env.do("GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestMetrics(t *testing.T) {
	env := setupTestRouter(t, nil)

	w := env.do("GET", "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("expected default Go collector metrics")
	}
}

func TestCurrentAssessment(t *testing.T) {
	env := setupTestRouter(t, nil)

	w := env.do("GET", "/api/current-assessment", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 before first check, got %d", w.Code)
	}

	env.snapshots.Put(testReport("r1", testNow, models.AlertLevelWarning, true))

	w = env.do("GET", "/api/current-assessment", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var state snapshot.State
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if state.Version != 1 || state.Report.ID != "r1" {
		t.Errorf("unexpected state: version %d, report %+v", state.Version, state.Report)
	}
}

func TestGetAssessment(t *testing.T) {
	env := setupTestRouter(t, nil)
	env.snapshots.Put(testReport("in_snapshot", testNow, models.AlertLevelNone, false))
	env.repo.Add(context.Background(), testReport("in_history", testNow, models.AlertLevelAdvisory, true))

	for _, id := range []string{"in_snapshot", "in_history"} {
		w := env.do("GET", "/api/assessments/"+id, nil)
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", id, w.Code)
		}
	}

	w := env.do("GET", "/api/assessments/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGetAssessments_ReturnsGeoJSON(t *testing.T) {
	env := setupTestRouter(t, nil)
	env.repo.Add(context.Background(), testReport("r1", testNow, models.AlertLevelWarning, true))

	w := env.do("GET", "/api/assessments", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	contentType := w.Header().Get("Content-Type")
	if contentType != "application/geo+json" {
		t.Errorf("expected content-type application/geo+json, got %s", contentType)
	}

	var fc FeatureCollection
	if err := json.Unmarshal(w.Body.Bytes(), &fc); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if fc.Type != "FeatureCollection" {
		t.Errorf("expected type FeatureCollection, got %s", fc.Type)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(fc.Features))
	}

	// GeoJSON is [lon, lat]
	coords := fc.Features[0].Geometry.Coordinates
	if coords[0] != 93.0 || coords[1] != 12.0 {
		t.Errorf("expected [93, 12], got %v", coords)
	}
	if fc.Features[0].Properties["effective_alert_level"] != "WARNING" {
		t.Errorf("unexpected properties %v", fc.Features[0].Properties)
	}
}

func TestGetAssessments_Filters(t *testing.T) {
	env := setupTestRouter(t, nil)
	ctx := context.Background()
	env.repo.Add(ctx, testReport("warn", testNow, models.AlertLevelWarning, true))
	env.repo.Add(ctx, testReport("adv", testNow.Add(-48*time.Hour), models.AlertLevelAdvisory, true))
	env.repo.Add(ctx, testReport("none", testNow, models.AlertLevelNone, false))

	tests := []struct {
		query string
		want  int
	}{
		{"?at_risk=true", 2},
		{"?at_risk=false", 1},
		{"?min_alert_level=advisory", 2},
		{"?min_alert_level=WARNING", 1},
		{"?since=2024-12-25", 2},
		{"?since=2024-12-26T00:00:00Z&at_risk=true", 1},
		{"?limit=1", 1},
	}
	for _, tt := range tests {
		w := env.do("GET", "/api/assessments"+tt.query, nil)
		var fc FeatureCollection
		json.Unmarshal(w.Body.Bytes(), &fc)
		if len(fc.Features) != tt.want {
			t.Errorf("%s: expected %d features, got %d", tt.query, tt.want, len(fc.Features))
		}
	}
}

func TestGetAssessments_InvalidParams(t *testing.T) {
	env := setupTestRouter(t, nil)

	for _, q := range []string{"?limit=0", "?limit=abc", "?since=yesterday", "?at_risk=maybe", "?min_alert_level=red"} {
		w := env.do("GET", "/api/assessments"+q, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}
}

func TestAlertHistory(t *testing.T) {
	env := setupTestRouter(t, nil)
	ctx := context.Background()
	env.repo.Add(ctx, testReport("recent", testNow.Add(-2*time.Hour), models.AlertLevelWarning, true))
	env.repo.Add(ctx, testReport("old", testNow.Add(-30*time.Hour), models.AlertLevelWarning, true))
	env.repo.Add(ctx, testReport("quiet", testNow.Add(-time.Hour), models.AlertLevelNone, false))

	w := env.do("GET", "/api/alert-history", nil)
	var resp struct {
		Alerts []*report.Report `json:"alerts"`
		Count  int              `json:"count"`
		Hours  int              `json:"hours"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 1 || resp.Alerts[0].ID != "recent" || resp.Hours != 24 {
		t.Errorf("unexpected default history: %+v", resp)
	}

	w = env.do("GET", "/api/alert-history?hours=48", nil)
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 2 {
		t.Errorf("expected 2 alerts in 48h, got %d", resp.Count)
	}

	w = env.do("GET", "/api/alert-history?hours=0", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestRunCheck(t *testing.T) {
	env := setupTestRouter(t, nil)

	w := env.do("POST", "/api/run-check", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if env.monitor.checks != 1 {
		t.Errorf("expected 1 check, got %d", env.monitor.checks)
	}

	env.monitor.err = errors.New("usgs down")
	w = env.do("POST", "/api/run-check", nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}

func TestAssess(t *testing.T) {
	env := setupTestRouter(t, nil)

	body := map[string]any{
		"earthquake": map[string]any{
			"magnitude": 9.1, "depth_km": 30, "latitude": 3.3, "longitude": 95.9,
			"place": "off the west coast of northern Sumatra",
		},
		"prediction": map[string]any{"risk_probability": 0.85, "confidence": 0.9},
	}
	w := env.do("POST", "/api/assess", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Assessment impact.Assessment `json:"assessment"`
		Report     report.Report     `json:"report"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.Assessment.IndiaAtRisk || resp.Assessment.AlertLevel != models.AlertLevelWarning {
		t.Errorf("expected WARNING at risk, got %+v", resp.Assessment)
	}
	if len(resp.Assessment.Recommendations) == 0 {
		t.Error("expected recommendations")
	}
	if resp.Report.EffectiveAlertLevel != models.AlertLevelWarning {
		t.Errorf("expected report WARNING, got %s", resp.Report.EffectiveAlertLevel)
	}

	// Nothing is published
	if env.snapshots.Version() != 0 || len(env.repo.reports) != 0 {
		t.Error("assess must not publish or persist")
	}
}

func TestAssess_UsesPredictorWhenAbsent(t *testing.T) {
	env := setupTestRouter(t, nil)

	body := map[string]any{
		"earthquake": map[string]any{"magnitude": 5.0, "depth_km": 10, "latitude": 3.3, "longitude": 95.9},
	}
	w := env.do("POST", "/api/assess", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Prediction models.Prediction `json:"prediction"`
		Assessment impact.Assessment `json:"assessment"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Prediction.Model != predictor.HeuristicName {
		t.Errorf("expected heuristic prediction, got %q", resp.Prediction.Model)
	}
	if resp.Assessment.IndiaAtRisk {
		t.Error("M5.0 must not put India at risk")
	}
}

func TestAssess_InvalidInput(t *testing.T) {
	env := setupTestRouter(t, nil)

	tests := []struct {
		name string
		body any
	}{
		{"missing magnitude", map[string]any{"earthquake": map[string]any{"depth_km": 10, "latitude": 3, "longitude": 95}}},
		{"latitude out of range", map[string]any{"earthquake": map[string]any{"magnitude": 7, "depth_km": 10, "latitude": 95, "longitude": 95}}},
		{"probability out of range", map[string]any{
			"earthquake": map[string]any{"magnitude": 7, "depth_km": 10, "latitude": 3, "longitude": 95},
			"prediction": map[string]any{"risk_probability": 1.5, "confidence": 0.5},
		}},
		{"not json", "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("POST", "/api/assess", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestRecentEarthquakes(t *testing.T) {
	env := setupTestRouter(t, nil)
	env.quakes.events = []*models.EarthquakeEvent{
		{ID: "usgs_a", Magnitude: 6.1, DepthKm: 10, Latitude: 3, Longitude: 95},
		{ID: "usgs_nan", Magnitude: math.NaN(), DepthKm: 10, Latitude: 3, Longitude: 95},
	}

	w := env.do("GET", "/api/earthquakes/recent?hours=6", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp struct {
		Count int `json:"count"`
		Hours int `json:"hours"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 1 || resp.Hours != 6 {
		t.Errorf("unexpected response %+v", resp)
	}

	env.quakes.err = errors.New("timeout")
	w = env.do("GET", "/api/earthquakes/recent", nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}

func TestOceanConditions(t *testing.T) {
	env := setupTestRouter(t, nil)

	w := env.do("GET", "/api/ocean/conditions", nil)
	var cond models.OceanConditions
	json.Unmarshal(w.Body.Bytes(), &cond)
	if cond.SeaLevelAnomaly != models.AnomalyNormal {
		t.Errorf("expected normal conditions without collectors, got %+v", cond)
	}
}

func TestIncoisAdvisories(t *testing.T) {
	t.Run("active", func(t *testing.T) {
		env := setupTestRouter(t, &mockAdvisories{advisories: []models.Advisory{{ID: "a1", Level: "advisory"}}})
		w := env.do("GET", "/api/advisories/incois", nil)
		var resp struct {
			Enabled bool `json:"enabled"`
			Summary struct {
				AlertLevel models.AlertLevel `json:"alert_level"`
			} `json:"summary"`
		}
		json.Unmarshal(w.Body.Bytes(), &resp)
		if !resp.Enabled || resp.Summary.AlertLevel != models.AlertLevelAdvisory {
			t.Errorf("unexpected response %s", w.Body.String())
		}
	})

	t.Run("failure", func(t *testing.T) {
		env := setupTestRouter(t, &mockAdvisories{err: errors.New("boom")})
		w := env.do("GET", "/api/advisories/incois", nil)
		if w.Code != http.StatusBadGateway {
			t.Errorf("expected 502, got %d", w.Code)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		env := setupTestRouter(t, nil)
		w := env.do("GET", "/api/advisories/incois", nil)
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"enabled":false`) {
			t.Errorf("unexpected response %d %s", w.Code, w.Body.String())
		}
	})
}

func TestStatusAndModelInfo(t *testing.T) {
	env := setupTestRouter(t, nil)

	w := env.do("GET", "/api/status", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"monitoring_active":true`) {
		t.Errorf("unexpected status response %d %s", w.Code, w.Body.String())
	}

	w = env.do("GET", "/api/model/info", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), predictor.HeuristicName) {
		t.Errorf("unexpected model info %d %s", w.Code, w.Body.String())
	}
}

func TestCloudAlertLifecycle(t *testing.T) {
	env := setupTestRouter(t, nil)

	w := env.do("GET", "/iot/cloud/poll?device=esp-1", nil)
	if !strings.Contains(w.Body.String(), `"active":false`) {
		t.Errorf("expected inactive state, got %s", w.Body.String())
	}

	w = env.do("POST", "/iot/cloud/alert", map[string]any{"level": 3, "message": "evacuate"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	w = env.do("GET", "/iot/cloud/poll", nil)
	var poll struct {
		Active  bool   `json:"active"`
		Level   int    `json:"level"`
		Message string `json:"message"`
	}
	json.Unmarshal(w.Body.Bytes(), &poll)
	if !poll.Active || poll.Level != 3 || poll.Message != "evacuate" {
		t.Errorf("unexpected poll response %+v", poll)
	}

	w = env.do("GET", "/iot/cloud/status", nil)
	if !strings.Contains(w.Body.String(), `"source":"manual"`) {
		t.Errorf("expected manual source, got %s", w.Body.String())
	}

	w = env.do("POST", "/iot/cloud/clear", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	state, _ := env.cloud.Get(context.Background())
	if state.Active || state.Level != 0 {
		t.Errorf("expected cleared state, got %+v", state)
	}

	w = env.do("POST", "/iot/cloud/alert", map[string]any{"level": 7})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for level 7, got %d", w.Code)
	}
}

func TestDevices(t *testing.T) {
	env := setupTestRouter(t, nil)

	w := env.do("POST", "/iot/devices", map[string]any{"name": "no ip"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without ip, got %d", w.Code)
	}

	w = env.do("POST", "/iot/devices", map[string]any{"ip": "192.168.1.50"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Device_1") {
		t.Errorf("expected generated name, got %s", w.Body.String())
	}
	env.do("POST", "/iot/devices", map[string]any{"ip": "192.168.1.51", "name": "pier"})

	w = env.do("GET", "/iot/devices", nil)
	var list struct {
		Devices []models.Device `json:"devices"`
		Count   int             `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &list)
	if list.Count != 2 {
		t.Fatalf("expected 2 devices, got %d", list.Count)
	}
	names := []string{list.Devices[0].Name, list.Devices[1].Name}
	sort.Strings(names)
	if names[0] != "Device_1" || names[1] != "pier" {
		t.Errorf("unexpected names %v", names)
	}

	w = env.do("DELETE", "/iot/devices/192.168.1.50", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	w = env.do("DELETE", "/iot/devices/192.168.1.50", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", w.Code)
	}
}

func TestSendAlert(t *testing.T) {
	env := setupTestRouter(t, nil)

	payloads := make(chan alerting.DevicePayload, 1)
	device := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p alerting.DevicePayload
		json.NewDecoder(r.Body).Decode(&p)
		payloads <- p
		w.WriteHeader(http.StatusOK)
	}))
	defer device.Close()
	ip := strings.TrimPrefix(device.URL, "http://")
	env.do("POST", "/iot/devices", map[string]any{"ip": ip})

	w := env.do("POST", "/iot/alert", map[string]any{"level": 2, "message": "drill"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Results []alerting.DeliveryResult `json:"device_results"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) != 1 || !resp.Results[0].Success {
		t.Errorf("unexpected results %+v", resp.Results)
	}
	if got := <-payloads; got.Level != 2 || got.Message != "drill" {
		t.Errorf("device received %+v", got)
	}

	w = env.do("POST", "/iot/alert", map[string]any{"level": -1})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestClearDevices(t *testing.T) {
	env := setupTestRouter(t, nil)

	var cleared atomic.Int32
	device := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/clear" {
			cleared.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer device.Close()
	env.do("POST", "/iot/devices", map[string]any{"ip": strings.TrimPrefix(device.URL, "http://")})

	w := env.do("POST", "/iot/alert/clear", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if n := cleared.Load(); n != 1 {
		t.Errorf("expected 1 clear, got %d", n)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(1))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func(remoteAddr string) int {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/ping", nil)
		req.RemoteAddr = remoteAddr
		router.ServeHTTP(w, req)
		return w.Code
	}

	codes := []int{get("10.0.0.1:4000"), get("10.0.0.1:4001"), get("10.0.0.1:4002")}
	if codes[0] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("unexpected status codes %v", codes)
	}

	// Another device has its own bucket
	if code := get("10.0.0.2:4000"); code != http.StatusOK {
		t.Errorf("expected second client to pass, got %d", code)
	}
}

func TestClientLimiters_SweepsIdleClients(t *testing.T) {
	l := newClientLimiters(rate.Limit(1), 1)
	now := time.Now()

	l.allow("10.0.0.1", now)
	l.allow("10.0.0.2", now.Add(clientIdleTimeout))
	l.allow("10.0.0.2", now.Add(clientIdleTimeout+2*sweepInterval))

	if _, ok := l.clients["10.0.0.1"]; ok {
		t.Error("expected idle client to be swept")
	}
	if _, ok := l.clients["10.0.0.2"]; !ok {
		t.Error("expected active client to be kept")
	}
}
