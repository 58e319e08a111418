package api

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mr1hm/go-tsunami-alerts/internal/alerting"
	"github.com/mr1hm/go-tsunami-alerts/internal/impact"
	"github.com/mr1hm/go-tsunami-alerts/internal/ingestion"
	"github.com/mr1hm/go-tsunami-alerts/internal/models"
	"github.com/mr1hm/go-tsunami-alerts/internal/monitor"
	"github.com/mr1hm/go-tsunami-alerts/internal/observability"
	"github.com/mr1hm/go-tsunami-alerts/internal/predictor"
	"github.com/mr1hm/go-tsunami-alerts/internal/report"
	"github.com/mr1hm/go-tsunami-alerts/internal/repository"
	"github.com/mr1hm/go-tsunami-alerts/internal/snapshot"
	"github.com/mr1hm/go-tsunami-alerts/internal/stream"
)

type Monitor interface {
	Check(ctx context.Context) (*monitor.CheckResult, error)
	Status() monitor.Status
}

// Deps are the services behind the HTTP API. Ocean, Advisories and Metrics
// may be nil.
type Deps struct {
	Reports     repository.ReportRepository
	Devices     repository.DeviceRepository
	Snapshots   *snapshot.Store
	Monitor     Monitor
	Assessor    *impact.Assessor
	Builder     *report.Builder
	Predictor   predictor.Predictor
	Earthquakes monitor.EarthquakeSource
	Ocean       monitor.OceanSource
	Advisories  monitor.AdvisorySource
	Alerts      *alerting.Dispatcher
	Broadcaster *stream.Broadcaster
	Metrics     *observability.Metrics
	Clock       clockwork.Clock
}

type Handler struct {
	Deps
}

func NewHandler(deps Deps) *Handler {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &Handler{Deps: deps}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	ws := &stream.Handler{Broadcaster: h.Broadcaster}
	if h.Metrics != nil {
		ws.Subscribers = h.Metrics.StreamSubscribers
	}
	r.GET("/ws/alerts", gin.WrapH(ws))

	api := r.Group("/api")
	api.GET("/status", h.status)
	api.GET("/current-assessment", h.currentAssessment)
	api.GET("/assessments", h.getAssessments)
	api.GET("/assessments/:id", h.getAssessment)
	api.GET("/alert-history", h.alertHistory)
	api.POST("/run-check", h.runCheck)
	api.POST("/assess", h.assess)
	api.GET("/earthquakes/recent", h.recentEarthquakes)
	api.GET("/ocean/conditions", h.oceanConditions)
	api.GET("/advisories/incois", h.incoisAdvisories)
	api.GET("/model/info", h.modelInfo)

	h.registerIoTRoutes(r)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"monitor":            h.Monitor.Status(),
		"model":              h.Predictor.Info(),
		"snapshot_version":   h.Snapshots.Version(),
		"stream_subscribers": h.Broadcaster.SubscriberCount(),
		"timestamp":          h.Clock.Now().UTC(),
	})
}

func (h *Handler) currentAssessment(c *gin.Context) {
	state, ok := h.Snapshots.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "no assessment available yet",
		})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) getAssessment(c *gin.Context) {
	id := c.Param("id")
	if r, ok := h.Snapshots.Get(id); ok {
		c.JSON(http.StatusOK, r)
		return
	}

	r, err := h.Reports.GetByID(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "assessment not found"})
		return
	}
	if err != nil {
		slog.Error("error fetching report", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch assessment"})
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) getAssessments(c *gin.Context) {
	filter := repository.Filter{
		Limit: 20, // Default to 20 reports if limit param not supplied
	}

	if l := c.Query("limit"); l != "" {
		lim, err := strconv.Atoi(l)
		if err != nil || lim < 1 || lim > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		filter.Limit = lim
	}
	if s := c.Query("since"); s != "" {
		t, err := parseSince(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC 3339 or YYYY-MM-DD"})
			return
		}
		filter.Since = &t
	}
	if ar := c.Query("at_risk"); ar != "" {
		atRisk, err := strconv.ParseBool(ar)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "at_risk must be true or false"})
			return
		}
		filter.AtRisk = &atRisk
	}
	if mal := c.Query("min_alert_level"); mal != "" {
		level, ok := models.ParseAlertLevel(mal)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "min_alert_level must be NONE, WATCH, ADVISORY or WARNING"})
			return
		}
		filter.MinAlertLevel = &level
	}

	reports, err := h.Reports.ListReports(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to fetch assessments",
		})
		return
	}

	fc := toGeoJSON(reports)
	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, fc)
}

func (h *Handler) alertHistory(c *gin.Context) {
	hours, ok := hoursParam(c, 24)
	if !ok {
		return
	}

	since := h.Clock.Now().Add(-time.Duration(hours) * time.Hour)
	minLevel := models.AlertLevelWatch
	reports, err := h.Reports.ListReports(c.Request.Context(), repository.Filter{
		Limit:         500,
		Since:         &since,
		MinAlertLevel: &minLevel,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch alert history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": reports,
		"count":  len(reports),
		"hours":  hours,
	})
}

func (h *Handler) runCheck(c *gin.Context) {
	res, err := h.Monitor.Check(c.Request.Context())
	if err != nil {
		slog.Error("manual check failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "monitoring check failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

type assessRequest struct {
	Earthquake struct {
		ID        string    `json:"id"`
		Magnitude *float64  `json:"magnitude"`
		DepthKm   *float64  `json:"depth_km"`
		Latitude  *float64  `json:"latitude"`
		Longitude *float64  `json:"longitude"`
		Time      time.Time `json:"time"`
		Place     string    `json:"place"`
	} `json:"earthquake"`
	// Prediction is optional; the configured predictor is used when absent.
	Prediction *models.Prediction `json:"prediction"`
}

func (r *assessRequest) event(now time.Time) *models.EarthquakeEvent {
	e := &models.EarthquakeEvent{
		ID:        r.Earthquake.ID,
		Source:    "api",
		Magnitude: orNaN(r.Earthquake.Magnitude),
		DepthKm:   orNaN(r.Earthquake.DepthKm),
		Latitude:  orNaN(r.Earthquake.Latitude),
		Longitude: orNaN(r.Earthquake.Longitude),
		Time:      r.Earthquake.Time,
		Place:     r.Earthquake.Place,
	}
	if e.ID == "" {
		e.ID = "api_" + strconv.FormatInt(now.UnixMilli(), 10)
	}
	if e.Time.IsZero() {
		e.Time = now
	}
	return e
}

// assess evaluates a posted earthquake without persisting or publishing it.
func (h *Handler) assess(c *gin.Context) {
	var req assessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	event := req.event(h.Clock.Now().UTC())
	if err := impact.ValidateEvent(event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ocean := h.oceanNow(ctx)
	var prediction models.Prediction
	if req.Prediction != nil {
		prediction = *req.Prediction
	} else {
		var err error
		prediction, err = h.Predictor.Predict(ctx, event, ocean)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "prediction failed: " + err.Error()})
			return
		}
	}

	a, err := h.Assessor.Assess(event, prediction)
	var invalid *impact.InvalidInputError
	if errors.As(err, &invalid) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": invalid.Field})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "assessment failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"prediction": prediction,
		"assessment": a,
		"report":     h.Builder.Build(event, a, ocean, ingestion.SummarizeAdvisories(nil)),
	})
}

func (h *Handler) recentEarthquakes(c *gin.Context) {
	hours, ok := hoursParam(c, 24)
	if !ok {
		return
	}

	events, err := h.Earthquakes.Recent(c.Request.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		slog.Error("error fetching earthquakes", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to fetch earthquakes"})
		return
	}

	// Events with missing fields cannot be encoded as JSON numbers.
	out := make([]*models.EarthquakeEvent, 0, len(events))
	for _, e := range events {
		if impact.ValidateEvent(e) == nil {
			out = append(out, e)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"earthquakes": out,
		"count":       len(out),
		"hours":       hours,
	})
}

func (h *Handler) oceanConditions(c *gin.Context) {
	c.JSON(http.StatusOK, h.oceanNow(c.Request.Context()))
}

func (h *Handler) incoisAdvisories(c *gin.Context) {
	if h.Advisories == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false, "summary": ingestion.SummarizeAdvisories(nil)})
		return
	}

	advisories, err := h.Advisories.Advisories(c.Request.Context())
	if errors.Is(err, ingestion.ErrSourceDisabled) {
		c.JSON(http.StatusOK, gin.H{"enabled": false, "summary": ingestion.SummarizeAdvisories(nil)})
		return
	}
	if err != nil {
		slog.Error("error fetching advisories", "source", "incois", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to fetch INCOIS advisories"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "summary": ingestion.SummarizeAdvisories(advisories)})
}

func (h *Handler) modelInfo(c *gin.Context) {
	cfg := h.Assessor.Config()
	c.JSON(http.StatusOK, gin.H{
		"predictor":   h.Predictor.Info(),
		"thresholds":  cfg.Thresholds,
		"zone_floors": cfg.ZoneFloors,
		"zones":       cfg.Zones,
		"regions":     cfg.Regions,
	})
}

func (h *Handler) oceanNow(ctx context.Context) models.OceanConditions {
	if h.Ocean == nil {
		return models.NormalOceanConditions()
	}
	return h.Ocean.Conditions(ctx)
}

// hoursParam reads ?hours= and writes a 400 itself when it is invalid.
func hoursParam(c *gin.Context, fallback int) (int, bool) {
	v := c.Query("hours")
	if v == "" {
		return fallback, true
	}
	hours, err := strconv.Atoi(v)
	if err != nil || hours < 1 || hours > 24*30 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be between 1 and 720"})
		return 0, false
	}
	return hours, true
}

func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
