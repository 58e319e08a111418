package impact

import (
	"slices"
	"time"

	"github.com/mr1hm/go-tsunami-alerts/internal/models"
)

type StageName string

const (
	StageZone     StageName = "zone"
	StageDistance StageName = "distance"
	StagePhysical StageName = "physical"
	StageBearing  StageName = "bearing"
	StageCombine  StageName = "combine"
	StageRegions  StageName = "regions"
	StageAlert    StageName = "alert"
)

// StageResult records what one decision step concluded.
type StageResult struct {
	Stage  StageName `json:"stage"`
	Passed bool      `json:"passed"`
	Detail string    `json:"detail"`
}

// Assessment is the verdict for one earthquake. It is built once by Assess and
// must be treated as read-only.
type Assessment struct {
	EventID              string            `json:"event_id"`
	EventTime            time.Time         `json:"event_time"`
	IndiaAtRisk          bool              `json:"india_at_risk"`
	RiskScore            float64           `json:"india_risk_score"`
	ModelRiskProbability float64           `json:"model_risk_probability"`
	Confidence           float64           `json:"confidence"`
	AffectedRegions      []string          `json:"affected_regions"`
	AlertLevel           models.AlertLevel `json:"alert_level"`
	DistanceKm           float64           `json:"distance_km"`
	NearestRegion        string            `json:"nearest_region"`
	PropagationBearing   float64           `json:"propagation_bearing_degrees"`
	Zone                 string            `json:"zone,omitempty"`
	ZoneThreat           ThreatLevel       `json:"zone_threat,omitempty"`
	TsunamiCapable       bool              `json:"tsunami_capable"`
	Recommendations      []string          `json:"recommendations"`
	Stages               []StageResult     `json:"stages"`
	Reasoning            string            `json:"reasoning"`
}

// Stage returns the recorded result for name.
func (a *Assessment) Stage(name StageName) (StageResult, bool) {
	for _, s := range a.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageResult{}, false
}

var recommendations = map[models.AlertLevel][]string{
	models.AlertLevelWarning: {
		"Evacuate coastal areas immediately",
		"Move to higher ground (at least 20 meters elevation)",
		"Stay away from beaches, harbors, and low-lying coastal areas",
		"Follow instructions from local disaster management authorities",
		"Do not return to coastal areas until all-clear is issued",
		"Monitor official channels for updates",
	},
	models.AlertLevelAdvisory: {
		"Stay away from beaches and coastal areas",
		"Be prepared to evacuate if conditions worsen",
		"Monitor tsunami warnings and updates",
		"Have emergency supplies ready",
		"Follow local authority instructions",
		"Avoid swimming or boating",
	},
	models.AlertLevelWatch: {
		"Stay informed about developing situation",
		"Be aware of tsunami warning signs",
		"Review evacuation routes",
		"Monitor official advisories",
		"Exercise normal caution near coastal areas",
	},
	models.AlertLevelNone: {
		"No special action required",
		"Continue normal activities",
		"Stay informed through official channels",
	},
}

// Recommendations returns the static safety guidance for an alert level.
func Recommendations(level models.AlertLevel) []string {
	recs, ok := recommendations[level]
	if !ok {
		recs = recommendations[models.AlertLevelNone]
	}
	return slices.Clone(recs)
}
