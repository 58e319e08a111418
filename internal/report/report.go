// Package report turns an impact assessment into the alert document served by
// the API, stored in history and pushed to subscribers.
package report

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/go-tsunami-alerts/internal/geo"
	"github.com/mr1hm/go-tsunami-alerts/internal/impact"
	"github.com/mr1hm/go-tsunami-alerts/internal/ingestion"
	"github.com/mr1hm/go-tsunami-alerts/internal/models"
)

// TsunamiSpeedKmh is the mean deep-ocean propagation speed used for arrival estimates.
const TsunamiSpeedKmh = 700.0

type EarthquakeInfo struct {
	ID        string    `json:"id"`
	Magnitude float64   `json:"magnitude"`
	DepthKm   float64   `json:"depth_km"`
	Location  geo.Point `json:"location"`
	Time      time.Time `json:"time"`
	Place     string    `json:"place"`
	URL       string    `json:"url,omitempty"`
}

type OfficialAdvisories struct {
	INCOISStatus    string            `json:"incois_status"`
	ActiveWarnings  int               `json:"active_warnings"`
	AlertLevel      models.AlertLevel `json:"alert_level"`
	AffectedRegions []string          `json:"affected_regions"`
}

type DataSources struct {
	Earthquake string   `json:"earthquake"`
	OceanData  []string `json:"ocean_data"`
	Official   string   `json:"official"`
}

// Report is immutable once published. Version is stamped by the snapshot store.
type Report struct {
	ID        string    `json:"assessment_id"`
	Version   uint64    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	EventID   string    `json:"event_id,omitempty"`

	IndiaAtRisk bool    `json:"india_at_risk"`
	RiskScore   float64 `json:"india_risk_score"`
	Confidence  float64 `json:"model_confidence"`
	// AlertLevel is the assessor's verdict; EffectiveAlertLevel also accounts
	// for official advisories.
	AlertLevel          models.AlertLevel `json:"alert_level"`
	EffectiveAlertLevel models.AlertLevel `json:"effective_alert_level"`

	Earthquake      *EarthquakeInfo      `json:"earthquake_info,omitempty"`
	Assessment      *impact.Assessment   `json:"assessment,omitempty"`
	AffectedRegions []string             `json:"affected_regions"`
	ArrivalTimes    map[string]time.Time `json:"estimated_arrival_times"`

	Ocean    models.OceanConditions `json:"ocean_conditions"`
	Official OfficialAdvisories     `json:"official_advisories"`

	Message         string      `json:"alert_message"`
	Recommendations []string    `json:"recommendations"`
	DataSources     DataSources `json:"data_sources"`
}

// Threat reports whether subscribers and devices should be alerted.
func (r *Report) Threat() bool {
	return r.EffectiveAlertLevel != models.AlertLevelNone
}

type Builder struct {
	clock   clockwork.Clock
	newID   func() string
	regions map[string]geo.Point
}

func NewBuilder(regions []impact.CoastalRegion, clock clockwork.Clock) *Builder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	points := make(map[string]geo.Point, len(regions))
	for _, r := range regions {
		points[r.Name] = r.Point
	}
	return &Builder{
		clock:   clock,
		newID:   uuid.NewString,
		regions: points,
	}
}

// Build wraps an assessment. Official advisories can raise the effective level
// but the assessment itself is carried unchanged.
func (b *Builder) Build(event *models.EarthquakeEvent, a *impact.Assessment, ocean models.OceanConditions, official ingestion.AdvisorySummary) *Report {
	effective := models.MaxAlertLevel(a.AlertLevel, official.AlertLevel)

	r := &Report{
		ID:                  b.newID(),
		Timestamp:           b.clock.Now().UTC(),
		EventID:             event.ID,
		IndiaAtRisk:         a.IndiaAtRisk,
		RiskScore:           a.RiskScore,
		Confidence:          a.Confidence,
		AlertLevel:          a.AlertLevel,
		EffectiveAlertLevel: effective,
		Earthquake: &EarthquakeInfo{
			ID:        event.ID,
			Magnitude: event.Magnitude,
			DepthKm:   event.DepthKm,
			Location:  event.Epicenter(),
			Time:      event.Time,
			Place:     placeOrUnknown(event.Place),
			URL:       event.URL,
		},
		Assessment:      a,
		AffectedRegions: a.AffectedRegions,
		ArrivalTimes:    b.arrivalTimes(event, a.AffectedRegions),
		Ocean:           ocean,
		Official:        officialFrom(official),
		Recommendations: impact.Recommendations(effective),
		DataSources:     dataSources(),
	}
	r.Message = alertMessage(effective, event, a.AffectedRegions)
	return r
}

// NoThreat is published when a cycle finds no candidate earthquakes.
func (b *Builder) NoThreat(ocean models.OceanConditions, official ingestion.AdvisorySummary) *Report {
	effective := official.AlertLevel
	if effective == "" {
		effective = models.AlertLevelNone
	}
	msg := "No tsunami threat to Indian coast"
	if effective != models.AlertLevelNone {
		msg = fmt.Sprintf("INCOIS reports an active tsunami %s; no qualifying earthquake detected", strings.ToLower(string(effective)))
	}
	return &Report{
		ID:                  b.newID(),
		Timestamp:           b.clock.Now().UTC(),
		AlertLevel:          models.AlertLevelNone,
		EffectiveAlertLevel: effective,
		AffectedRegions:     []string{},
		ArrivalTimes:        map[string]time.Time{},
		Ocean:               ocean,
		Official:            officialFrom(official),
		Message:             msg,
		Recommendations:     impact.Recommendations(effective),
		DataSources:         dataSources(),
	}
}

func (b *Builder) arrivalTimes(event *models.EarthquakeEvent, regions []string) map[string]time.Time {
	out := make(map[string]time.Time, len(regions))
	for _, name := range regions {
		p, ok := b.regions[name]
		if !ok {
			continue
		}
		hours := geo.HaversineKm(event.Epicenter(), p) / TsunamiSpeedKmh
		out[name] = event.Time.Add(time.Duration(hours * float64(time.Hour))).UTC()
	}
	return out
}

func officialFrom(s ingestion.AdvisorySummary) OfficialAdvisories {
	level := s.AlertLevel
	if level == "" {
		level = models.AlertLevelNone
	}
	status := s.Status
	if status == "" {
		status = "No active advisories"
	}
	regions := s.AffectedRegions
	if regions == nil {
		regions = []string{}
	}
	return OfficialAdvisories{
		INCOISStatus:    status,
		ActiveWarnings:  s.ActiveAdvisories,
		AlertLevel:      level,
		AffectedRegions: regions,
	}
}

func alertMessage(level models.AlertLevel, event *models.EarthquakeEvent, regions []string) string {
	mag := event.Magnitude
	depth := math.Max(0, event.DepthKm)
	place := placeOrUnknown(event.Place)

	switch level {
	case models.AlertLevelWarning:
		msg := fmt.Sprintf("TSUNAMI WARNING for Indian coast. A magnitude %.1f earthquake at %.0fkm depth near %s has generated tsunami waves. ", mag, depth, place)
		if len(regions) > 0 {
			msg += fmt.Sprintf("Affected regions: %s. ", strings.Join(regions, ", "))
		}
		return msg + "Immediate evacuation of coastal areas recommended."
	case models.AlertLevelAdvisory:
		msg := fmt.Sprintf("TSUNAMI ADVISORY for Indian coast. A magnitude %.1f earthquake at %.0fkm depth near %s may generate tsunami waves. ", mag, depth, place)
		if len(regions) > 0 {
			msg += fmt.Sprintf("Monitor advisories for: %s. ", strings.Join(regions, ", "))
		}
		return msg + "Stay alert and follow local authorities."
	case models.AlertLevelWatch:
		return fmt.Sprintf("TSUNAMI WATCH. A magnitude %.1f earthquake at %.0fkm depth near %s detected. Low risk to Indian coast but monitoring continues.", mag, depth, place)
	default:
		return fmt.Sprintf("NO THREAT to Indian coast from magnitude %.1f earthquake near %s.", mag, place)
	}
}

func placeOrUnknown(place string) string {
	if place == "" {
		return "Unknown location"
	}
	return place
}

func dataSources() DataSources {
	return DataSources{
		Earthquake: "USGS Earthquake API",
		OceanData:  []string{"NOAA Tides & Currents", "NOAA NDBC Buoys"},
		Official:   "INCOIS",
	}
}
