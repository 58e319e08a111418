package api

import (
	"github.com/mr1hm/go-tsunami-alerts/internal/report"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// toGeoJSON places each report at its epicenter. Reports without an
// earthquake have no location and are left out.
func toGeoJSON(reports []*report.Report) FeatureCollection {
	features := make([]Feature, 0, len(reports))

	for _, r := range reports {
		if r.Earthquake == nil {
			continue
		}
		eq := r.Earthquake
		f := Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{eq.Location.Lon, eq.Location.Lat},
			},
			Properties: map[string]any{
				"assessment_id":         r.ID,
				"event_id":              r.EventID,
				"version":               r.Version,
				"place":                 eq.Place,
				"magnitude":             eq.Magnitude,
				"depth_km":              eq.DepthKm,
				"india_at_risk":         r.IndiaAtRisk,
				"india_risk_score":      r.RiskScore,
				"alert_level":           r.AlertLevel,
				"effective_alert_level": r.EffectiveAlertLevel,
				"affected_regions":      r.AffectedRegions,
				"timestamp":             r.Timestamp,
			},
		}
		features = append(features, f)
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
