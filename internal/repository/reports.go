package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mr1hm/go-tsunami-alerts/internal/report"
)

func (s *SQLiteDB) Add(ctx context.Context, r *report.Report) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("error encoding report %s: %w", r.ID, err)
	}

	var mag, lat, lon sql.NullFloat64
	if r.Earthquake != nil {
		mag = sql.NullFloat64{Float64: r.Earthquake.Magnitude, Valid: true}
		lat = sql.NullFloat64{Float64: r.Earthquake.Location.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: r.Earthquake.Location.Lon, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (
			id, event_id, version, timestamp_ms, india_at_risk, risk_score,
			alert_level, effective_alert_level, alert_rank,
			magnitude, latitude, longitude, raw
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EventID, r.Version, r.Timestamp.UnixMilli(), r.IndiaAtRisk, r.RiskScore,
		string(r.AlertLevel), string(r.EffectiveAlertLevel), r.EffectiveAlertLevel.Rank(),
		mag, lat, lon, raw,
	)
	if err != nil {
		return fmt.Errorf("error inserting report %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLiteDB) GetByID(ctx context.Context, id string) (*report.Report, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT raw FROM reports WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying report %s: %w", id, err)
	}
	return decodeReport(raw)
}

func (s *SQLiteDB) Exists(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM reports WHERE event_id = ?)`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("error checking event %s: %w", eventID, err)
	}
	return exists, nil
}

// ListReports returns matching reports, newest first.
func (s *SQLiteDB) ListReports(ctx context.Context, opts Filter) ([]*report.Report, error) {
	var (
		where []string
		args  []any
	)
	if opts.Since != nil {
		where = append(where, "timestamp_ms >= ?")
		args = append(args, opts.Since.UnixMilli())
	}
	if opts.AtRisk != nil {
		where = append(where, "india_at_risk = ?")
		args = append(args, *opts.AtRisk)
	}
	if opts.MinAlertLevel != nil {
		where = append(where, "alert_rank >= ?")
		args = append(args, opts.MinAlertLevel.Rank())
	}

	query := "SELECT raw FROM reports"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp_ms DESC, id"

	switch {
	case opts.Limit > 0:
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, max(opts.Offset, 0))
	case opts.Offset > 0:
		query += " LIMIT -1 OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing reports: %w", err)
	}
	defer rows.Close()

	reports := []*report.Report{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("error scanning report: %w", err)
		}
		r, err := decodeReport(raw)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// PruneBefore deletes reports published before cutoff.
func (s *SQLiteDB) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE timestamp_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("error pruning reports: %w", err)
	}
	return res.RowsAffected()
}

func decodeReport(raw []byte) (*report.Report, error) {
	var r report.Report
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("error decoding report: %w", err)
	}
	return &r, nil
}
