package models

import "time"

const (
	AnomalyNormal    = "normal"
	AnomalyElevated  = "elevated"
	AnomalyAnomalous = "anomalous"
)

// OceanConditions summarises buoy and tide gauge readings for one cycle.
type OceanConditions struct {
	SeaLevelAnomaly   string    `json:"sea_level_anomaly"`
	WaveHeightAnomaly string    `json:"wave_height_anomaly"`
	Indicators        []string  `json:"buoy_indicators"`
	StationsReporting int       `json:"stations_reporting"`
	ObservedAt        time.Time `json:"observed_at"`
}

func NormalOceanConditions() OceanConditions {
	return OceanConditions{
		SeaLevelAnomaly:   AnomalyNormal,
		WaveHeightAnomaly: AnomalyNormal,
		Indicators:        []string{},
	}
}

// Advisory is an official bulletin published by INCOIS.
type Advisory struct {
	ID              string   `json:"id"`
	IssueTime       string   `json:"issue_time"`
	Level           string   `json:"level"`
	Regions         []string `json:"affected_regions"`
	Message         string   `json:"message"`
	ExpectedArrival string   `json:"expected_arrival,omitempty"`
}
