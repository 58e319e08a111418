package ingestion

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/go-tsunami-alerts/internal/models"
)

// OceanCollector gathers buoy and tide gauge data for a monitoring cycle.
// Either client may be nil when that source is disabled.
type OceanCollector struct {
	Buoys        *NDBCClient
	BuoyStations []string
	Tides        *TidesClient
	TideStations []string
	TideWindow   time.Duration
	Clock        clockwork.Clock
}

// Conditions never fails: stations that cannot be read are logged and skipped.
func (o *OceanCollector) Conditions(ctx context.Context) models.OceanConditions {
	tides := make(map[string][]TideReading)
	if o.Tides != nil {
		window := o.TideWindow
		if window <= 0 {
			window = 6 * time.Hour
		}
		for _, station := range o.TideStations {
			readings, err := o.Tides.WaterLevels(ctx, station, window)
			if err != nil {
				slog.Warn("tide station fetch failed", "station", station, "error", err)
				continue
			}
			if len(readings) > 0 {
				tides[station] = readings
			}
		}
	}

	buoys := make(map[string][]BuoyReading)
	if o.Buoys != nil {
		for _, station := range o.BuoyStations {
			readings, err := o.Buoys.Readings(ctx, station)
			if err != nil {
				slog.Warn("buoy station fetch failed", "station", station, "error", err)
				continue
			}
			if len(readings) > 0 {
				buoys[station] = readings
			}
		}
	}

	cond := SummarizeOcean(tides, buoys)
	clock := o.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	cond.ObservedAt = clock.Now().UTC()
	return cond
}

// SummarizeOcean folds per-station readings into a single condition report.
func SummarizeOcean(tides map[string][]TideReading, buoys map[string][]BuoyReading) models.OceanConditions {
	cond := models.NormalOceanConditions()

	for _, station := range slices.Sorted(maps.Keys(tides)) {
		if SeaLevelAnomalyScore(tides[station]) > SeaLevelAnomalyThreshold {
			cond.SeaLevelAnomaly = models.AnomalyElevated
			cond.Indicators = appendUnique(cond.Indicators, IndicatorSeaLevel)
		}
	}
	for _, station := range slices.Sorted(maps.Keys(buoys)) {
		sig := DetectSignature(buoys[station])
		if sig.Detected {
			cond.WaveHeightAnomaly = models.AnomalyAnomalous
			cond.Indicators = appendUnique(cond.Indicators, sig.Indicators...)
		}
	}
	cond.StationsReporting = len(tides) + len(buoys)
	return cond
}

func appendUnique(dst []string, vals ...string) []string {
	for _, v := range vals {
		if !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}
