package ingestion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/mr1hm/go-tsunami-alerts/internal/models"
)

// ErrSourceDisabled is returned by collectors constructed without an endpoint.
var ErrSourceDisabled = errors.New("source disabled")

type incoisResponse struct {
	Advisories []incoisAdvisory `json:"advisories"`
}

type incoisAdvisory struct {
	ID              string   `json:"id"`
	IssueTime       string   `json:"issue_time"`
	Level           string   `json:"level"`
	AffectedRegions []string `json:"affected_regions"`
	Message         string   `json:"message"`
	ExpectedArrival string   `json:"expected_arrival"`
}

type INCOISClient struct {
	url    string
	client *http.Client
}

func NewINCOISClient(url string) *INCOISClient {
	return &INCOISClient{
		url:    url,
		client: newHTTPClient(defaultTimeout),
	}
}

// Advisories fetches the currently active bulletins.
func (c *INCOISClient) Advisories(ctx context.Context) ([]models.Advisory, error) {
	if c.url == "" {
		return nil, ErrSourceDisabled
	}

	var data incoisResponse
	if err := getJSON(ctx, c.client, c.url, &data); err != nil {
		return nil, fmt.Errorf("incois: %w", err)
	}

	advisories := make([]models.Advisory, 0, len(data.Advisories))
	for _, a := range data.Advisories {
		level := a.Level
		if level == "" {
			level = "unknown"
		}
		advisories = append(advisories, models.Advisory{
			ID:              a.ID,
			IssueTime:       a.IssueTime,
			Level:           level,
			Regions:         a.AffectedRegions,
			Message:         a.Message,
			ExpectedArrival: a.ExpectedArrival,
		})
	}
	return advisories, nil
}

// AdvisorySummary is the aggregate INCOIS status for a set of advisories.
type AdvisorySummary struct {
	RiskLevel        string            `json:"risk_level"`
	ActiveAdvisories int               `json:"active_advisories"`
	AffectedRegions  []string          `json:"affected_regions"`
	AlertLevel       models.AlertLevel `json:"alert_level"`
	Status           string            `json:"incois_status"`
	Advisories       []models.Advisory `json:"advisories,omitempty"`
}

var advisoryRanks = map[string]int{
	"watch":         1,
	"advisory":      2,
	"warning":       3,
	"major_warning": 4,
}

var advisoryRiskNames = []string{"normal", "watch", "advisory", "warning", "major_warning"}

func SummarizeAdvisories(advisories []models.Advisory) AdvisorySummary {
	summary := AdvisorySummary{
		RiskLevel:        "normal",
		ActiveAdvisories: len(advisories),
		AffectedRegions:  []string{},
		AlertLevel:       models.AlertLevelNone,
		Status:           "No active advisories",
		Advisories:       advisories,
	}
	if len(advisories) == 0 {
		return summary
	}

	maxRank := 0
	for _, a := range advisories {
		maxRank = max(maxRank, advisoryRanks[strings.ToLower(a.Level)])
		summary.AlertLevel = models.MaxAlertLevel(summary.AlertLevel, models.AdvisoryAlertLevel(a.Level))
		for _, r := range a.Regions {
			if !slices.Contains(summary.AffectedRegions, r) {
				summary.AffectedRegions = append(summary.AffectedRegions, r)
			}
		}
	}
	summary.RiskLevel = advisoryRiskNames[maxRank]
	summary.Status = fmt.Sprintf("%d active advisory(ies)", len(advisories))
	return summary
}
