package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mr1hm/go-tsunami-alerts/internal/models"
)

// AddDevice registers d, replacing the name and location of an existing IP.
func (s *SQLiteDB) AddDevice(ctx context.Context, d *models.Device) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (ip, name, location, registered_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(ip) DO UPDATE SET name = excluded.name, location = excluded.location`,
		d.IP, d.Name, d.Location, d.RegisteredAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("error adding device %s: %w", d.IP, err)
	}
	return nil
}

func (s *SQLiteDB) ListDevices(ctx context.Context) ([]models.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ip, name, location, registered_at_ms, last_alert_level, last_alert_at_ms
		FROM devices ORDER BY registered_at_ms, ip`)
	if err != nil {
		return nil, fmt.Errorf("error listing devices: %w", err)
	}
	defer rows.Close()

	devices := []models.Device{}
	for rows.Next() {
		var (
			d          models.Device
			location   sql.NullString
			registered int64
			lastLevel  sql.NullString
			lastAt     sql.NullInt64
		)
		if err := rows.Scan(&d.IP, &d.Name, &location, &registered, &lastLevel, &lastAt); err != nil {
			return nil, fmt.Errorf("error scanning device: %w", err)
		}
		d.Location = location.String
		d.RegisteredAt = time.UnixMilli(registered).UTC()
		d.LastAlertLevel = models.AlertLevel(lastLevel.String)
		if lastAt.Valid {
			t := time.UnixMilli(lastAt.Int64).UTC()
			d.LastAlertAt = &t
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (s *SQLiteDB) RemoveDevice(ctx context.Context, ip string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE ip = ?`, ip)
	if err != nil {
		return false, fmt.Errorf("error removing device %s: %w", ip, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkAsSent records the last alert delivered to each device.
func (s *SQLiteDB) MarkAsSent(ctx context.Context, ips []string, level models.AlertLevel, at time.Time) (int64, error) {
	if len(ips) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ips)), ",")
	args := make([]any, 0, len(ips)+2)
	args = append(args, string(level), at.UnixMilli())
	for _, ip := range ips {
		args = append(args, ip)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE devices SET last_alert_level = ?, last_alert_at_ms = ? WHERE ip IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("error marking devices: %w", err)
	}
	return res.RowsAffected()
}
