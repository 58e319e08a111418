// Package predictor produces the model risk estimate consumed by the impact
// assessor. A remote model service is preferred; the heuristic predictor is
// used when none is configured or when the service fails.
package predictor

import (
	"context"
	"log/slog"
	"time"

	"github.com/mr1hm/go-tsunami-alerts/internal/models"
)

type Predictor interface {
	Predict(ctx context.Context, event *models.EarthquakeEvent, ocean models.OceanConditions) (models.Prediction, error)
	Info() Info
}

// Info describes a predictor for the status endpoints.
type Info struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Endpoint string `json:"endpoint,omitempty"`
	Fallback string `json:"fallback,omitempty"`
}

// New returns the remote model backed by the heuristic, or the heuristic
// alone when url is empty.
func New(url string, timeout time.Duration) Predictor {
	if url == "" {
		return Heuristic{}
	}
	return WithFallback(NewClient(url, timeout), Heuristic{})
}

// Fallback tries Primary and answers with Secondary when it errors.
type Fallback struct {
	Primary   Predictor
	Secondary Predictor
}

func WithFallback(primary, secondary Predictor) *Fallback {
	return &Fallback{Primary: primary, Secondary: secondary}
}

func (f *Fallback) Predict(ctx context.Context, event *models.EarthquakeEvent, ocean models.OceanConditions) (models.Prediction, error) {
	p, err := f.Primary.Predict(ctx, event, ocean)
	if err == nil {
		return p, nil
	}
	slog.Warn("model prediction failed, using fallback", "id", event.ID, "fallback", f.Secondary.Info().Name, "error", err)
	return f.Secondary.Predict(ctx, event, ocean)
}

func (f *Fallback) Info() Info {
	info := f.Primary.Info()
	info.Fallback = f.Secondary.Info().Name
	return info
}
