package models

import (
	"time"

	"github.com/mr1hm/go-tsunami-alerts/internal/geo"
)

// EarthquakeEvent is a parsed seismic event as delivered by a collector.
type EarthquakeEvent struct {
	ID           string    `json:"id"`     // Unique ID from source (e.g., "usgs_us7000abcd")
	Source       string    `json:"source"` // "usgs", "api", ...
	Magnitude    float64   `json:"magnitude"`
	DepthKm      float64   `json:"depth_km"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Time         time.Time `json:"time"` // when the event occurred
	Place        string    `json:"place"`
	URL          string    `json:"url,omitempty"`
	TsunamiFlag  bool      `json:"tsunami_flag"` // USGS "tsunami" property
	Significance int       `json:"significance,omitempty"`
}

func (e *EarthquakeEvent) Epicenter() geo.Point {
	return geo.Point{
		Lat: e.Latitude,
		Lon: e.Longitude,
	}
}
