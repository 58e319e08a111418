package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mr1hm/go-tsunami-alerts/internal/models"
	"github.com/mr1hm/go-tsunami-alerts/internal/report"
)

var ErrNotFound = errors.New("not found")

type Filter struct {
	Limit         int
	Offset        int
	Since         *time.Time
	AtRisk        *bool
	MinAlertLevel *models.AlertLevel // >= this effective level (e.g., ADVISORY includes ADVISORY and WARNING)
}

type ReportRepository interface {
	Add(ctx context.Context, r *report.Report) error
	GetByID(ctx context.Context, id string) (*report.Report, error)
	// Exists reports whether an earthquake has already been assessed.
	Exists(ctx context.Context, eventID string) (bool, error)
	ListReports(ctx context.Context, opts Filter) ([]*report.Report, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type DeviceRepository interface {
	AddDevice(ctx context.Context, d *models.Device) error
	ListDevices(ctx context.Context) ([]models.Device, error)
	RemoveDevice(ctx context.Context, ip string) (bool, error)
	MarkAsSent(ctx context.Context, ips []string, level models.AlertLevel, at time.Time) (int64, error)
}
