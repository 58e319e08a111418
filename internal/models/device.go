package models

import "time"

// Device is a registered IoT siren/display unit reachable over HTTP.
type Device struct {
	IP             string     `json:"ip"`
	Name           string     `json:"name"`
	Location       string     `json:"location,omitempty"`
	RegisteredAt   time.Time  `json:"registered_at"`
	LastAlertLevel AlertLevel `json:"last_alert_level,omitempty"`
	LastAlertAt    *time.Time `json:"last_alert_at,omitempty"`
}
