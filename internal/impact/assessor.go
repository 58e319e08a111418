// Package impact decides whether an earthquake threatens the Indian coastline.
//
// The decision is a fixed pipeline of stages (zone, distance, physical,
// bearing, combine, regions, alert). Each stage reads the evaluation built so
// far and records a StageResult; the vetoes in the distance and physical
// stages force a negative verdict regardless of the model output.
package impact

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/mr1hm/go-tsunami-alerts/internal/geo"
	"github.com/mr1hm/go-tsunami-alerts/internal/models"
)

// Assessor is safe for concurrent use. It holds only read-only configuration.
type Assessor struct {
	cfg Config
}

func New(cfg Config) (*Assessor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Assessor{cfg: cfg.clone()}, nil
}

// Config returns a copy of the configuration in use.
func (a *Assessor) Config() Config {
	return a.cfg.clone()
}

type evaluation struct {
	event      *models.EarthquakeEvent
	prediction models.Prediction
	epicenter  geo.Point
	depthKm    float64

	zone       *CriticalZone
	nearest    *CoastalRegion
	distanceKm float64
	bearing    float64
	capable    bool
	vetoed     bool

	riskScore float64
	atRisk    bool
	regions   []string
	level     models.AlertLevel

	stages []StageResult
}

type stage struct {
	name StageName
	run  func(*Assessor, *evaluation) StageResult
}

var pipeline = []stage{
	{StageZone, (*Assessor).screenZone},
	{StageDistance, (*Assessor).screenDistance},
	{StagePhysical, (*Assessor).screenPhysical},
	{StageBearing, (*Assessor).propagationBearing},
	{StageCombine, (*Assessor).combine},
	{StageRegions, (*Assessor).mapRegions},
	{StageAlert, (*Assessor).deriveAlert},
}

// Assess evaluates one event against the model prediction. It returns an
// *InvalidInputError for malformed input; a negative verdict is not an error.
func (a *Assessor) Assess(event *models.EarthquakeEvent, prediction models.Prediction) (*Assessment, error) {
	if err := validateInput(event, prediction); err != nil {
		return nil, err
	}

	e := &evaluation{
		event:      event,
		prediction: prediction,
		epicenter:  event.Epicenter(),
		// USGS reports small negative depths for events above sea level.
		depthKm: math.Max(0, event.DepthKm),
	}
	for _, s := range pipeline {
		res := s.run(a, e)
		res.Stage = s.name
		e.stages = append(e.stages, res)
	}

	return a.build(e), nil
}

func validateInput(event *models.EarthquakeEvent, p models.Prediction) error {
	if err := ValidateEvent(event); err != nil {
		return err
	}
	if !between(p.RiskProbability, 0, 1) {
		return &InvalidInputError{Field: "risk_probability", Reason: fmt.Sprintf("must be within [0, 1], got %v", p.RiskProbability)}
	}
	if !between(p.Confidence, 0, 1) {
		return &InvalidInputError{Field: "confidence", Reason: fmt.Sprintf("must be within [0, 1], got %v", p.Confidence)}
	}
	return nil
}

// ValidateEvent checks the earthquake fields Assess depends on. Callers use it
// to reject an event before asking a predictor about it.
func ValidateEvent(event *models.EarthquakeEvent) error {
	if event == nil {
		return &InvalidInputError{Field: "event", Reason: "missing"}
	}
	if !finite(event.Magnitude) {
		return &InvalidInputError{Field: "magnitude", Reason: fmt.Sprintf("not a finite number: %v", event.Magnitude)}
	}
	if !finite(event.DepthKm) {
		return &InvalidInputError{Field: "depth_km", Reason: fmt.Sprintf("not a finite number: %v", event.DepthKm)}
	}
	if !event.Epicenter().Valid() {
		return &InvalidInputError{Field: "epicenter", Reason: fmt.Sprintf("invalid coordinates (%v, %v)", event.Latitude, event.Longitude)}
	}
	return nil
}

// screenZone picks the most severe zone containing the epicenter.
func (a *Assessor) screenZone(e *evaluation) StageResult {
	for i := range a.cfg.Zones {
		z := &a.cfg.Zones[i]
		if !z.Bounds.Contains(e.epicenter) {
			continue
		}
		if e.zone == nil || z.ThreatLevel.severity() > e.zone.ThreatLevel.severity() {
			e.zone = z
		}
	}
	if e.zone == nil {
		return StageResult{Passed: false, Detail: "epicenter outside critical zones"}
	}
	return StageResult{Passed: true, Detail: fmt.Sprintf("epicenter in %s zone (%s threat)", e.zone.Name, e.zone.ThreatLevel)}
}

func (a *Assessor) screenDistance(e *evaluation) StageResult {
	e.nearest, e.distanceKm = a.nearestRegion(e.epicenter)

	limit := a.cfg.Thresholds.MaxDistanceKm
	switch {
	case e.distanceKm <= limit:
		return StageResult{Passed: true, Detail: fmt.Sprintf("%.0f km to %s", e.distanceKm, e.nearest.Name)}
	case e.zone != nil:
		return StageResult{Passed: true, Detail: fmt.Sprintf("%.0f km to %s exceeds %.0f km, overridden by %s zone", e.distanceKm, e.nearest.Name, limit, e.zone.Name)}
	default:
		e.vetoed = true
		return StageResult{Passed: false, Detail: fmt.Sprintf("epicenter too distant (%.0f km > %.0f km)", e.distanceKm, limit)}
	}
}

func (a *Assessor) screenPhysical(e *evaluation) StageResult {
	t := a.cfg.Thresholds
	mag := e.event.Magnitude

	e.capable = mag >= t.MinMagnitude && e.depthKm < t.MaxDepthKm
	if !e.capable {
		e.vetoed = true
		return StageResult{Passed: false, Detail: fmt.Sprintf("M%.1f at %.0f km depth is not tsunami-capable (needs M>=%.1f, depth<%.0f km)", mag, e.depthKm, t.MinMagnitude, t.MaxDepthKm)}
	}
	return StageResult{Passed: true, Detail: fmt.Sprintf("M%.1f at %.0f km depth is tsunami-capable", mag, e.depthKm)}
}

func (a *Assessor) propagationBearing(e *evaluation) StageResult {
	e.bearing = geo.InitialBearing(e.epicenter, e.nearest.Point)
	return StageResult{Passed: true, Detail: fmt.Sprintf("bearing %.0f° toward %s", e.bearing, e.nearest.Name)}
}

// combine folds the model probability with the zone floor. The floor only
// applies once the model itself reaches ZoneFloorMinProbability.
func (a *Assessor) combine(e *evaluation) StageResult {
	if e.vetoed {
		e.riskScore = 0
		e.atRisk = false
		return StageResult{Passed: false, Detail: "vetoed by screening"}
	}

	t := a.cfg.Thresholds
	p := e.prediction.RiskProbability
	score := p
	detail := fmt.Sprintf("model probability %.2f", p)
	if e.zone != nil && p >= t.ZoneFloorMinProbability {
		if floor := a.cfg.ZoneFloors[e.zone.ThreatLevel]; floor > score {
			score = floor
			detail = fmt.Sprintf("model probability %.2f raised to %s zone floor %.2f", p, e.zone.ThreatLevel, floor)
		}
	}

	e.riskScore = clamp01(score)
	e.atRisk = e.riskScore >= t.MediumRisk
	if !e.atRisk {
		return StageResult{Passed: false, Detail: fmt.Sprintf("%s below threshold %.2f", detail, t.MediumRisk)}
	}
	return StageResult{Passed: true, Detail: detail}
}

func (a *Assessor) mapRegions(e *evaluation) StageResult {
	if !e.atRisk {
		e.regions = []string{}
		return StageResult{Passed: false, Detail: "no regions threatened"}
	}

	type candidate struct {
		name       string
		distanceKm float64
	}
	radius := ImpactRadiusKm(e.event.Magnitude)
	tolerance := a.cfg.Thresholds.AngularToleranceDeg

	var hits []candidate
	for _, r := range a.cfg.Regions {
		d := geo.HaversineKm(e.epicenter, r.Point)
		if d > radius {
			continue
		}
		if geo.AngularDifference(geo.InitialBearing(e.epicenter, r.Point), e.bearing) > tolerance {
			continue
		}
		hits = append(hits, candidate{name: r.Name, distanceKm: d})
	}
	slices.SortStableFunc(hits, func(x, y candidate) int { return cmp.Compare(x.distanceKm, y.distanceKm) })

	e.regions = make([]string, 0, len(hits))
	for _, h := range hits {
		e.regions = append(e.regions, h.name)
	}
	if len(e.regions) == 0 {
		e.regions = append(e.regions, e.nearest.Name)
		return StageResult{Passed: true, Detail: fmt.Sprintf("no region within %.0f km along bearing, falling back to %s", radius, e.nearest.Name)}
	}
	return StageResult{Passed: true, Detail: "affected: " + strings.Join(e.regions, ", ")}
}

func (a *Assessor) deriveAlert(e *evaluation) StageResult {
	e.level = models.AlertLevelNone
	if e.atRisk {
		e.level = a.alertLevelFor(e.riskScore)
	}
	return StageResult{Passed: e.level != models.AlertLevelNone, Detail: fmt.Sprintf("alert level %s", e.level)}
}

func (a *Assessor) alertLevelFor(score float64) models.AlertLevel {
	t := a.cfg.Thresholds
	switch {
	case score >= t.HighRisk:
		return models.AlertLevelWarning
	case score >= t.MediumRisk:
		return models.AlertLevelAdvisory
	case score >= t.LowRisk:
		return models.AlertLevelWatch
	default:
		return models.AlertLevelNone
	}
}

func (a *Assessor) nearestRegion(p geo.Point) (*CoastalRegion, float64) {
	var (
		nearest *CoastalRegion
		best    = math.Inf(1)
	)
	for i := range a.cfg.Regions {
		if d := geo.HaversineKm(p, a.cfg.Regions[i].Point); d < best {
			nearest, best = &a.cfg.Regions[i], d
		}
	}
	return nearest, best
}

func (a *Assessor) build(e *evaluation) *Assessment {
	// NONE is never reported as at risk.
	atRisk := e.atRisk && e.level != models.AlertLevelNone

	out := &Assessment{
		EventID:              e.event.ID,
		EventTime:            e.event.Time,
		IndiaAtRisk:          atRisk,
		RiskScore:            e.riskScore,
		ModelRiskProbability: e.prediction.RiskProbability,
		Confidence:           clamp01(e.prediction.Confidence),
		AffectedRegions:      e.regions,
		AlertLevel:           e.level,
		DistanceKm:           e.distanceKm,
		NearestRegion:        e.nearest.Name,
		PropagationBearing:   e.bearing,
		TsunamiCapable:       e.capable,
		Recommendations:      Recommendations(e.level),
		Stages:               e.stages,
	}
	if !atRisk {
		out.AffectedRegions = []string{}
	}
	if e.zone != nil {
		out.Zone = e.zone.Name
		out.ZoneThreat = e.zone.ThreatLevel
	}
	out.Reasoning = reasoning(out)
	return out
}

func reasoning(a *Assessment) string {
	parts := []string{fmt.Sprintf("India risk score: %.2f", a.RiskScore)}
	if a.Zone != "" {
		parts = append(parts, fmt.Sprintf("Epicenter in %s zone (%s threat)", a.Zone, a.ZoneThreat))
	} else {
		parts = append(parts, "Epicenter outside critical zones")
	}
	parts = append(parts, fmt.Sprintf("Distance to Indian coast: %.0f km", a.DistanceKm))

	for _, s := range a.Stages {
		if (s.Stage == StageDistance || s.Stage == StagePhysical) && !s.Passed {
			parts = append(parts, "Vetoed: "+s.Detail)
		}
	}
	if len(a.AffectedRegions) > 0 {
		parts = append(parts, "Potentially affected regions: "+strings.Join(a.AffectedRegions, ", "))
	} else {
		parts = append(parts, "No Indian coastal regions directly threatened")
	}
	return strings.Join(parts, " | ")
}

// ImpactRadiusKm is how far a tsunami from an earthquake of this magnitude is
// considered relevant to a coastal region.
func ImpactRadiusKm(magnitude float64) float64 {
	switch {
	case magnitude >= 8.5:
		return 4000
	case magnitude >= 8.0:
		return 3000
	case magnitude >= 7.5:
		return 2000
	case magnitude >= 7.0:
		return 1500
	default:
		return 1000
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
