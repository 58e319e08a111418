package ingestion

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultNDBCURL = "https://www.ndbc.noaa.gov/data/realtime2"

	buoyWindow         = 48 * time.Hour
	minSignatureSample = 10
)

// Indicator names reported in OceanConditions.
const (
	IndicatorLongPeriod      = "long_period"
	IndicatorRapidChange     = "rapid_change"
	IndicatorHighWaves       = "high_waves"
	IndicatorIncreasingTrend = "increasing_trend"
	IndicatorSeaLevel        = "sea_level_anomaly"
)

// BuoyReading is one row of an NDBC standard meteorological file. Missing
// values ("MM") are NaN.
type BuoyReading struct {
	StationID        string    `json:"station_id"`
	Time             time.Time `json:"time"`
	WaveHeightM      float64   `json:"wave_height_m"`
	DominantPeriodS  float64   `json:"dominant_period_s"`
	AveragePeriodS   float64   `json:"average_period_s"`
	WaveDirectionDeg float64   `json:"wave_direction_deg"`
}

type NDBCClient struct {
	baseURL string
	client  *http.Client
	clock   clockwork.Clock
}

func NewNDBCClient(baseURL string, clock clockwork.Clock) *NDBCClient {
	if baseURL == "" {
		baseURL = DefaultNDBCURL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &NDBCClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newHTTPClient(defaultTimeout),
		clock:   clock,
	}
}

// Readings returns the last 48 hours of a station, oldest first.
func (c *NDBCClient) Readings(ctx context.Context, station string) ([]BuoyReading, error) {
	resp, err := get(ctx, c.client, fmt.Sprintf("%s/%s.txt", c.baseURL, station))
	if err != nil {
		return nil, fmt.Errorf("ndbc %s: %w", station, err)
	}
	defer resp.Body.Close()

	readings, err := parseNDBC(resp.Body, station, c.clock.Now().Add(-buoyWindow))
	if err != nil {
		return nil, fmt.Errorf("ndbc %s: %w", station, err)
	}
	return readings, nil
}

func parseNDBC(r io.Reader, station string, cutoff time.Time) ([]BuoyReading, error) {
	scanner := bufio.NewScanner(r)

	var columns map[string]int
	var readings []BuoyReading
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			// The first comment line names the columns, the second holds units.
			if columns == nil {
				columns = headerColumns(strings.Fields(strings.TrimPrefix(line, "#")))
			}
			continue
		}
		if columns == nil {
			return nil, fmt.Errorf("data before header")
		}

		fields := strings.Fields(line)
		ts, ok := rowTime(fields, columns)
		if !ok || ts.Before(cutoff) {
			continue
		}
		readings = append(readings, BuoyReading{
			StationID:        station,
			Time:             ts,
			WaveHeightM:      column(fields, columns, "WVHT"),
			DominantPeriodS:  column(fields, columns, "DPD"),
			AveragePeriodS:   column(fields, columns, "APD"),
			WaveDirectionDeg: column(fields, columns, "MWD"),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading body: %w", err)
	}

	slices.SortFunc(readings, func(a, b BuoyReading) int { return a.Time.Compare(b.Time) })
	return readings, nil
}

func headerColumns(names []string) map[string]int {
	cols := make(map[string]int, len(names))
	for i, n := range names {
		if n == "YYYY" {
			n = "YY"
		}
		cols[n] = i
	}
	// Spectral files carry the swell period instead of DPD.
	if _, ok := cols["DPD"]; !ok {
		if i, ok := cols["SwP"]; ok {
			cols["DPD"] = i
		}
	}
	return cols
}

func rowTime(fields []string, cols map[string]int) (time.Time, bool) {
	var parts [5]int
	for i, name := range []string{"YY", "MM", "DD", "hh", "mm"} {
		idx, ok := cols[name]
		if !ok || idx >= len(fields) {
			return time.Time{}, false
		}
		v, err := strconv.Atoi(fields[idx])
		if err != nil {
			return time.Time{}, false
		}
		parts[i] = v
	}
	if parts[0] < 100 {
		parts[0] += 2000
	}
	return time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], 0, 0, time.UTC), true
}

func column(fields []string, cols map[string]int, name string) float64 {
	idx, ok := cols[name]
	if !ok || idx >= len(fields) || fields[idx] == "MM" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(fields[idx], 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// BuoySignature is the outcome of tsunami signature detection on one station.
type BuoySignature struct {
	Detected   bool     `json:"detected"`
	Confidence float64  `json:"confidence"`
	Indicators []string `json:"indicators"`
}

// DetectSignature flags a station when at least two of: long period waves,
// rapid height change, waves above 3 m, or a rising trend.
func DetectSignature(readings []BuoyReading) BuoySignature {
	var heights []BuoyReading
	var periods []float64
	for _, r := range readings {
		if !math.IsNaN(r.WaveHeightM) {
			heights = append(heights, r)
		}
		if !math.IsNaN(r.DominantPeriodS) {
			periods = append(periods, r.DominantPeriodS)
		}
	}
	if len(heights) < minSignatureSample {
		return BuoySignature{Indicators: []string{}}
	}

	var indicators []string
	if len(periods) > 0 && mean(periods) > 600 {
		indicators = append(indicators, IndicatorLongPeriod)
	}
	if maxHeightRate(heights) > 0.5 {
		indicators = append(indicators, IndicatorRapidChange)
	}

	values := make([]float64, len(heights))
	for i, h := range heights {
		values[i] = h.WaveHeightM
	}
	if slices.Max(values) > 3.0 {
		indicators = append(indicators, IndicatorHighWaves)
	}
	if mean(values[len(values)-minSignatureSample:])-mean(values[:minSignatureSample]) > 0.5 {
		indicators = append(indicators, IndicatorIncreasingTrend)
	}

	if indicators == nil {
		indicators = []string{}
	}
	return BuoySignature{
		Detected:   len(indicators) >= 2,
		Confidence: float64(len(indicators)) / 4.0,
		Indicators: indicators,
	}
}

// maxHeightRate is the largest absolute change in metres per hour.
func maxHeightRate(readings []BuoyReading) float64 {
	var best float64
	for i := 1; i < len(readings); i++ {
		dt := readings[i].Time.Sub(readings[i-1].Time).Hours()
		if dt <= 0 {
			continue
		}
		best = math.Max(best, math.Abs(readings[i].WaveHeightM-readings[i-1].WaveHeightM)/dt)
	}
	return best
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}
