package ingestion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultTidesURL = "https://api.tidesandcurrents.noaa.gov/api/prod/datagetter"

	tidesTimeLayout  = "20060102 15:04"
	tidesValueLayout = "2006-01-02 15:04"

	// SeaLevelAnomalyThreshold is the anomaly score above which a station is elevated.
	SeaLevelAnomalyThreshold = 2.0
)

type tidesResponse struct {
	Data  []tidesEntry `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type tidesEntry struct {
	T string `json:"t"`
	V string `json:"v"`
	S string `json:"s"`
	F string `json:"f"`
	Q string `json:"q"`
}

// TideReading is one water level sample in metres relative to MSL.
type TideReading struct {
	StationID   string    `json:"station_id"`
	Time        time.Time `json:"time"`
	WaterLevelM float64   `json:"water_level_m"`
	Sigma       float64   `json:"sigma"`
}

type TidesClient struct {
	baseURL string
	client  *http.Client
	clock   clockwork.Clock
}

func NewTidesClient(baseURL string, clock clockwork.Clock) *TidesClient {
	if baseURL == "" {
		baseURL = DefaultTidesURL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TidesClient{
		baseURL: baseURL,
		client:  newHTTPClient(defaultTimeout),
		clock:   clock,
	}
}

// WaterLevels fetches the last window of 6-minute samples for station, oldest first.
func (c *TidesClient) WaterLevels(ctx context.Context, station string, window time.Duration) ([]TideReading, error) {
	end := c.clock.Now().UTC()
	start := end.Add(-window)

	params := url.Values{
		"begin_date":  {start.Format(tidesTimeLayout)},
		"end_date":    {end.Format(tidesTimeLayout)},
		"station":     {station},
		"product":     {"water_level"},
		"datum":       {"MSL"},
		"units":       {"metric"},
		"time_zone":   {"gmt"},
		"format":      {"json"},
		"application": {"go-tsunami-alerts"},
	}

	var data tidesResponse
	if err := getJSON(ctx, c.client, c.baseURL+"?"+params.Encode(), &data); err != nil {
		return nil, fmt.Errorf("tides %s: %w", station, err)
	}
	if data.Error != nil {
		return nil, fmt.Errorf("tides %s: %w", station, errors.New(data.Error.Message))
	}

	readings := make([]TideReading, 0, len(data.Data))
	for _, e := range data.Data {
		ts, err := time.Parse(tidesValueLayout, e.T)
		if err != nil {
			continue
		}
		v, err := strconv.ParseFloat(e.V, 64)
		if err != nil {
			continue
		}
		sigma, _ := strconv.ParseFloat(e.S, 64)
		readings = append(readings, TideReading{
			StationID:   station,
			Time:        ts,
			WaterLevelM: v,
			Sigma:       sigma,
		})
	}
	slices.SortFunc(readings, func(a, b TideReading) int { return a.Time.Compare(b.Time) })
	return readings, nil
}

// SeaLevelAnomalyScore combines the peak rate of change (scaled to mm/s), the
// standard deviation and the range of the series. Readings must be time ordered.
func SeaLevelAnomalyScore(readings []TideReading) float64 {
	if len(readings) < 2 {
		return 0
	}

	var maxRate float64
	values := make([]float64, len(readings))
	for i, r := range readings {
		values[i] = r.WaterLevelM
		if i == 0 {
			continue
		}
		dt := r.Time.Sub(readings[i-1].Time).Seconds()
		if dt <= 0 {
			continue
		}
		maxRate = math.Max(maxRate, math.Abs(r.WaterLevelM-readings[i-1].WaterLevelM)/dt)
	}

	spread := slices.Max(values) - slices.Min(values)
	return (maxRate*1000 + stddev(values) + spread) / 3
}

// stddev is the sample standard deviation.
func stddev(v []float64) float64 {
	if len(v) < 2 {
		return 0
	}
	m := mean(v)
	var ss float64
	for _, x := range v {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(v)-1))
}
