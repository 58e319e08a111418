package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/go-tsunami-alerts/internal/geo"
	"github.com/mr1hm/go-tsunami-alerts/internal/models"
)

const DefaultUSGSURL = "https://earthquake.usgs.gov/fdsnws/event/1/query"

// IndianOceanRegion is the search window sent to USGS.
var IndianOceanRegion = geo.Box{MinLat: -40, MaxLat: 30, MinLon: 40, MaxLon: 120}

const usgsTimeLayout = "2006-01-02T15:04:05"

type usgsResponse struct {
	Features []usgsFeature `json:"features"`
}

type usgsFeature struct {
	ID         string         `json:"id"`
	Properties usgsProperties `json:"properties"`
	Geometry   usgsGeometry   `json:"geometry"`
}
type usgsProperties struct {
	Mag     *float64 `json:"mag"` // null for some automatic solutions
	Place   string   `json:"place"`
	Time    int64    `json:"time"` // unix millis
	Title   string   `json:"title"`
	Tsunami int      `json:"tsunami"` // 0 or 1
	Sig     int      `json:"sig"`
	URL     string   `json:"url"`
}
type usgsGeometry struct {
	Coordinates []float64 `json:"coordinates"` // [lon, lat, depth]
}

type USGSClient struct {
	baseURL      string
	minMagnitude float64
	region       geo.Box
	client       *http.Client
	clock        clockwork.Clock
}

func NewUSGSClient(baseURL string, minMagnitude float64, clock clockwork.Clock) *USGSClient {
	if baseURL == "" {
		baseURL = DefaultUSGSURL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &USGSClient{
		baseURL:      baseURL,
		minMagnitude: minMagnitude,
		region:       IndianOceanRegion,
		client:       newHTTPClient(defaultTimeout),
		clock:        clock,
	}
}

// Recent returns events from the last lookback window, newest first.
// A missing magnitude or depth is reported as NaN so the assessor can reject it.
func (c *USGSClient) Recent(ctx context.Context, lookback time.Duration) ([]*models.EarthquakeEvent, error) {
	end := c.clock.Now().UTC()
	start := end.Add(-lookback)

	params := url.Values{
		"format":       {"geojson"},
		"eventtype":    {"earthquake"},
		"orderby":      {"time"},
		"starttime":    {start.Format(usgsTimeLayout)},
		"endtime":      {end.Format(usgsTimeLayout)},
		"minmagnitude": {strconv.FormatFloat(c.minMagnitude, 'f', -1, 64)},
		"minlatitude":  {strconv.FormatFloat(c.region.MinLat, 'f', -1, 64)},
		"maxlatitude":  {strconv.FormatFloat(c.region.MaxLat, 'f', -1, 64)},
		"minlongitude": {strconv.FormatFloat(c.region.MinLon, 'f', -1, 64)},
		"maxlongitude": {strconv.FormatFloat(c.region.MaxLon, 'f', -1, 64)},
	}

	var data usgsResponse
	if err := getJSON(ctx, c.client, c.baseURL+"?"+params.Encode(), &data); err != nil {
		return nil, fmt.Errorf("usgs: %w", err)
	}

	events := make([]*models.EarthquakeEvent, 0, len(data.Features))
	for _, f := range data.Features {
		coords := f.Geometry.Coordinates
		if len(coords) < 2 {
			slog.Warn("USGS feature without coordinates", "id", f.ID)
			continue
		}

		mag := math.NaN()
		if f.Properties.Mag != nil {
			mag = *f.Properties.Mag
		}
		depth := math.NaN()
		if len(coords) > 2 {
			depth = coords[2]
		}

		events = append(events, &models.EarthquakeEvent{
			ID:           "usgs_" + f.ID,
			Source:       "usgs",
			Magnitude:    mag,
			DepthKm:      depth,
			Longitude:    coords[0],
			Latitude:     coords[1],
			Time:         time.UnixMilli(f.Properties.Time).UTC(),
			Place:        f.Properties.Place,
			URL:          f.Properties.URL,
			TsunamiFlag:  f.Properties.Tsunami == 1,
			Significance: f.Properties.Sig,
		})
	}

	return events, nil
}
