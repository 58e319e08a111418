package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mr1hm/go-tsunami-alerts/internal/models"
)

const RemoteName = "remote-model"

type predictRequest struct {
	EventID           string   `json:"event_id"`
	Magnitude         float64  `json:"magnitude"`
	DepthKm           float64  `json:"depth_km"`
	Latitude          float64  `json:"latitude"`
	Longitude         float64  `json:"longitude"`
	Time              string   `json:"time"`
	SeaLevelAnomaly   string   `json:"sea_level_anomaly"`
	WaveHeightAnomaly string   `json:"wave_height_anomaly"`
	Indicators        []string `json:"buoy_indicators"`
}

type predictResponse struct {
	RiskProbability *float64 `json:"risk_probability"`
	Confidence      *float64 `json:"confidence"`
	RiskClass       string   `json:"risk_class"`
	Model           string   `json:"model"`
}

// Client calls an external model service that accepts a JSON event and
// answers with risk_probability, confidence and risk_class.
type Client struct {
	url        string
	httpClient *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Predict(ctx context.Context, event *models.EarthquakeEvent, ocean models.OceanConditions) (models.Prediction, error) {
	if event == nil {
		return models.Prediction{}, errors.New("model: nil event")
	}

	payload, err := json.Marshal(predictRequest{
		EventID:           event.ID,
		Magnitude:         event.Magnitude,
		DepthKm:           event.DepthKm,
		Latitude:          event.Latitude,
		Longitude:         event.Longitude,
		Time:              event.Time.UTC().Format(time.RFC3339),
		SeaLevelAnomaly:   ocean.SeaLevelAnomaly,
		WaveHeightAnomaly: ocean.WaveHeightAnomaly,
		Indicators:        ocean.Indicators,
	})
	if err != nil {
		return models.Prediction{}, fmt.Errorf("model: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return models.Prediction{}, fmt.Errorf("model: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Prediction{}, fmt.Errorf("model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Prediction{}, errors.New("model: returned status: " + resp.Status)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Prediction{}, fmt.Errorf("model: decoding response: %w", err)
	}
	return out.prediction()
}

func (r predictResponse) prediction() (models.Prediction, error) {
	if r.RiskProbability == nil || r.Confidence == nil {
		return models.Prediction{}, errors.New("model: response missing risk_probability or confidence")
	}
	p, conf := *r.RiskProbability, *r.Confidence
	if !(p >= 0 && p <= 1) || !(conf >= 0 && conf <= 1) {
		return models.Prediction{}, fmt.Errorf("model: values out of range (risk_probability=%v, confidence=%v)", p, conf)
	}

	class := models.RiskClass(r.RiskClass)
	switch class {
	case models.RiskClassLow, models.RiskClassMedium, models.RiskClassHigh:
	default:
		class = models.ClassFor(p)
	}

	name := r.Model
	if name == "" {
		name = RemoteName
	}
	return models.Prediction{
		RiskProbability: p,
		Confidence:      conf,
		RiskClass:       class,
		Model:           name,
	}, nil
}

func (c *Client) Info() Info {
	return Info{Name: RemoteName, Kind: "remote", Endpoint: c.url}
}
