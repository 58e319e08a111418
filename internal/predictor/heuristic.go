package predictor

import (
	"context"
	"errors"
	"math"

	"github.com/mr1hm/go-tsunami-alerts/internal/models"
)

const HeuristicName = "heuristic-logistic"

// Heuristic is a deterministic logistic score on magnitude and depth, nudged
// upward by ocean anomalies and the USGS tsunami flag.
type Heuristic struct{}

func (Heuristic) Predict(_ context.Context, event *models.EarthquakeEvent, ocean models.OceanConditions) (models.Prediction, error) {
	if event == nil {
		return models.Prediction{}, errors.New("heuristic: nil event")
	}
	if math.IsNaN(event.Magnitude) || math.IsInf(event.Magnitude, 0) ||
		math.IsNaN(event.DepthKm) || math.IsInf(event.DepthKm, 0) {
		return models.Prediction{}, errors.New("heuristic: magnitude and depth must be finite")
	}

	depth := math.Max(0, event.DepthKm)
	z := 2.0*(event.Magnitude-7.0) - 0.025*(depth-35)
	if ocean.SeaLevelAnomaly != "" && ocean.SeaLevelAnomaly != models.AnomalyNormal {
		z += 0.5
	}
	if ocean.WaveHeightAnomaly != "" && ocean.WaveHeightAnomaly != models.AnomalyNormal {
		z += 0.5
	}
	if event.TsunamiFlag {
		z += 0.5
	}

	p := 1 / (1 + math.Exp(-z))
	return models.Prediction{
		RiskProbability: p,
		// Confident near the extremes, least confident around 0.5.
		Confidence: 0.5 + 0.4*math.Abs(2*p-1),
		RiskClass:  models.ClassFor(p),
		Model:      HeuristicName,
	}, nil
}

func (Heuristic) Info() Info {
	return Info{Name: HeuristicName, Kind: "heuristic"}
}
