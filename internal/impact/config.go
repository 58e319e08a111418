package impact

import (
	"fmt"
	"math"
	"os"
	"slices"

	"github.com/goccy/go-yaml"

	"github.com/mr1hm/go-tsunami-alerts/internal/geo"
)

type ThreatLevel string

const (
	ThreatCritical ThreatLevel = "critical"
	ThreatHigh     ThreatLevel = "high"
	ThreatMedium   ThreatLevel = "medium"
)

func (t ThreatLevel) severity() int {
	switch t {
	case ThreatCritical:
		return 3
	case ThreatHigh:
		return 2
	case ThreatMedium:
		return 1
	default:
		return 0
	}
}

// CriticalZone is a tectonic region whose earthquakes threaten India regardless
// of how far the epicenter is from the coast.
type CriticalZone struct {
	Name        string      `json:"name" yaml:"name"`
	Bounds      geo.Box     `json:"bounds" yaml:"bounds"`
	ThreatLevel ThreatLevel `json:"threat_level" yaml:"threat_level"`
}

// CoastalRegion is a stretch of Indian coastline represented by one reference point.
type CoastalRegion struct {
	Name   string    `json:"name" yaml:"name"`
	Point  geo.Point `json:"point" yaml:"point"`
	States []string  `json:"states" yaml:"states"`
}

type Thresholds struct {
	MinMagnitude        float64 `json:"min_magnitude"`
	MaxDepthKm          float64 `json:"max_depth_km"`
	MaxDistanceKm       float64 `json:"max_distance_km"`
	AngularToleranceDeg float64 `json:"angular_tolerance_deg"`
	// ZoneFloorMinProbability is the model probability below which a zone
	// floor is not applied.
	ZoneFloorMinProbability float64 `json:"zone_floor_min_probability"`
	LowRisk                 float64 `json:"low_risk"`
	MediumRisk              float64 `json:"medium_risk"`
	HighRisk                float64 `json:"high_risk"`
}

// Config is the static input of the assessor. It is copied on construction and
// never mutated afterwards.
type Config struct {
	Zones      []CriticalZone          `json:"zones"`
	Regions    []CoastalRegion         `json:"regions"`
	Thresholds Thresholds              `json:"thresholds"`
	ZoneFloors map[ThreatLevel]float64 `json:"zone_floors"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MinMagnitude:            6.0,
		MaxDepthKm:              100,
		MaxDistanceKm:           5000,
		AngularToleranceDeg:     90,
		ZoneFloorMinProbability: 0.25,
		LowRisk:                 0.25,
		MediumRisk:              0.50,
		HighRisk:                0.75,
	}
}

func DefaultZones() []CriticalZone {
	return []CriticalZone{
		{Name: "andaman_subduction", Bounds: geo.Box{MinLat: 0, MaxLat: 15, MinLon: 90, MaxLon: 100}, ThreatLevel: ThreatCritical},
		{Name: "makran_subduction", Bounds: geo.Box{MinLat: 20, MaxLat: 27, MinLon: 60, MaxLon: 68}, ThreatLevel: ThreatHigh},
		{Name: "sumatra_subduction", Bounds: geo.Box{MinLat: -10, MaxLat: 5, MinLon: 90, MaxLon: 105}, ThreatLevel: ThreatMedium},
		{Name: "arabian_sea", Bounds: geo.Box{MinLat: 10, MaxLat: 25, MinLon: 60, MaxLon: 75}, ThreatLevel: ThreatMedium},
	}
}

func DefaultRegions() []CoastalRegion {
	return []CoastalRegion{
		{Name: "west_coast", Point: geo.Point{Lat: 15.0, Lon: 73.0}, States: []string{"Gujarat", "Maharashtra", "Goa", "Karnataka", "Kerala"}},
		{Name: "east_coast", Point: geo.Point{Lat: 13.0, Lon: 80.0}, States: []string{"Tamil Nadu", "Puducherry", "Andhra Pradesh", "Odisha", "West Bengal"}},
		{Name: "andaman_nicobar", Point: geo.Point{Lat: 11.0, Lon: 92.5}, States: []string{"Andaman and Nicobar Islands"}},
		{Name: "lakshadweep", Point: geo.Point{Lat: 10.57, Lon: 72.64}, States: []string{"Lakshadweep"}},
	}
}

func DefaultZoneFloors() map[ThreatLevel]float64 {
	return map[ThreatLevel]float64{
		ThreatCritical: 0.50,
		ThreatHigh:     0.40,
		ThreatMedium:   0.30,
	}
}

func DefaultConfig() Config {
	return Config{
		Zones:      DefaultZones(),
		Regions:    DefaultRegions(),
		Thresholds: DefaultThresholds(),
		ZoneFloors: DefaultZoneFloors(),
	}
}

// fileConfig mirrors the YAML layout. Absent sections keep their defaults.
type fileConfig struct {
	Zones      []CriticalZone     `yaml:"zones"`
	Regions    []CoastalRegion    `yaml:"regions"`
	Thresholds map[string]float64 `yaml:"thresholds"`
	ZoneFloors map[string]float64 `yaml:"zone_floors"`
}

// LoadConfigFile reads a YAML zone/region file on top of DefaultConfig.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &ConfigurationError{Reason: fmt.Sprintf("reading %s: %v", path, err)}
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, &ConfigurationError{Reason: fmt.Sprintf("parsing yaml: %v", err)}
	}

	cfg := DefaultConfig()
	if fc.Zones != nil {
		cfg.Zones = fc.Zones
	}
	if fc.Regions != nil {
		cfg.Regions = fc.Regions
	}
	for key, val := range fc.Thresholds {
		field := cfg.Thresholds.field(key)
		if field == nil {
			return Config{}, configErrorf("unknown threshold %q", key)
		}
		*field = val
	}
	for key, val := range fc.ZoneFloors {
		level := ThreatLevel(key)
		if level.severity() == 0 {
			return Config{}, configErrorf("zone floor for unknown threat level %q", key)
		}
		cfg.ZoneFloors[level] = val
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (t *Thresholds) field(key string) *float64 {
	switch key {
	case "min_magnitude":
		return &t.MinMagnitude
	case "max_depth_km":
		return &t.MaxDepthKm
	case "max_distance_km":
		return &t.MaxDistanceKm
	case "angular_tolerance_deg":
		return &t.AngularToleranceDeg
	case "zone_floor_min_probability":
		return &t.ZoneFloorMinProbability
	case "low_risk":
		return &t.LowRisk
	case "medium_risk":
		return &t.MediumRisk
	case "high_risk":
		return &t.HighRisk
	}
	return nil
}

// Validate returns a *ConfigurationError describing the first problem found.
func (c Config) Validate() error {
	seen := make(map[string]bool)
	for i, z := range c.Zones {
		if z.Name == "" {
			return configErrorf("zone %d has no name", i)
		}
		if seen[z.Name] {
			return configErrorf("duplicate zone %q", z.Name)
		}
		seen[z.Name] = true
		if z.ThreatLevel.severity() == 0 {
			return configErrorf("zone %q has unknown threat level %q", z.Name, z.ThreatLevel)
		}
		if err := validateBox(z.Bounds); err != nil {
			return configErrorf("zone %q: %v", z.Name, err)
		}
	}

	if len(c.Regions) == 0 {
		return configErrorf("at least one coastal region is required")
	}
	seen = make(map[string]bool)
	for i, r := range c.Regions {
		if r.Name == "" {
			return configErrorf("region %d has no name", i)
		}
		if seen[r.Name] {
			return configErrorf("duplicate region %q", r.Name)
		}
		seen[r.Name] = true
		if !r.Point.Valid() {
			return configErrorf("region %q has invalid reference point %+v", r.Name, r.Point)
		}
	}

	t := c.Thresholds
	switch {
	case !positive(t.MinMagnitude):
		return configErrorf("min_magnitude must be positive")
	case !positive(t.MaxDepthKm):
		return configErrorf("max_depth_km must be positive")
	case !positive(t.MaxDistanceKm):
		return configErrorf("max_distance_km must be positive")
	case !between(t.AngularToleranceDeg, 0, 180):
		return configErrorf("angular_tolerance_deg must be within [0, 180]")
	case !between(t.ZoneFloorMinProbability, 0, 1):
		return configErrorf("zone_floor_min_probability must be within [0, 1]")
	case !between(t.LowRisk, 0, 1) || !between(t.MediumRisk, 0, 1) || !between(t.HighRisk, 0, 1):
		return configErrorf("risk thresholds must be within [0, 1]")
	case t.LowRisk > t.MediumRisk || t.MediumRisk > t.HighRisk:
		return configErrorf("risk thresholds must satisfy low <= medium <= high")
	}

	for level, floor := range c.ZoneFloors {
		if level.severity() == 0 {
			return configErrorf("zone floor for unknown threat level %q", level)
		}
		if !between(floor, 0, 1) {
			return configErrorf("zone floor for %s must be within [0, 1]", level)
		}
	}
	return nil
}

func (c Config) clone() Config {
	out := Config{
		Zones:      slices.Clone(c.Zones),
		Regions:    make([]CoastalRegion, len(c.Regions)),
		Thresholds: c.Thresholds,
		ZoneFloors: make(map[ThreatLevel]float64, len(c.ZoneFloors)),
	}
	for i, r := range c.Regions {
		r.States = slices.Clone(r.States)
		out.Regions[i] = r
	}
	for k, v := range c.ZoneFloors {
		out.ZoneFloors[k] = v
	}
	return out
}

func validateBox(b geo.Box) error {
	lo := geo.Point{Lat: b.MinLat, Lon: b.MinLon}
	hi := geo.Point{Lat: b.MaxLat, Lon: b.MaxLon}
	if !lo.Valid() || !hi.Valid() {
		return fmt.Errorf("bounds %+v outside lat [-90, 90] / lon [-180, 180]", b)
	}
	if b.MinLat > b.MaxLat || b.MinLon > b.MaxLon {
		return fmt.Errorf("bounds %+v have min greater than max", b)
	}
	return nil
}

func positive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

func between(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}
