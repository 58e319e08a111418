// Package monitor runs the polling loop: fetch earthquakes, assess each new
// candidate and publish the resulting reports.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/mr1hm/go-tsunami-alerts/internal/impact"
	"github.com/mr1hm/go-tsunami-alerts/internal/ingestion"
	"github.com/mr1hm/go-tsunami-alerts/internal/models"
	"github.com/mr1hm/go-tsunami-alerts/internal/observability"
	"github.com/mr1hm/go-tsunami-alerts/internal/predictor"
	"github.com/mr1hm/go-tsunami-alerts/internal/report"
	"github.com/mr1hm/go-tsunami-alerts/internal/repository"
	"github.com/mr1hm/go-tsunami-alerts/internal/snapshot"
)

type EarthquakeSource interface {
	Recent(ctx context.Context, lookback time.Duration) ([]*models.EarthquakeEvent, error)
}

type OceanSource interface {
	Conditions(ctx context.Context) models.OceanConditions
}

type AdvisorySource interface {
	Advisories(ctx context.Context) ([]models.Advisory, error)
}

type Broadcaster interface {
	Broadcast(r *report.Report)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, r *report.Report) error
}

type Options struct {
	PollInterval          time.Duration
	Lookback              time.Duration
	CandidateMinMagnitude float64
	Retention             time.Duration
	RetentionSchedule     string // cron schedule, e.g. "@every 1h"
}

// Deps are the collaborators of a Manager. Ocean, Advisories, Broadcaster and
// Dispatcher are optional.
type Deps struct {
	Earthquakes EarthquakeSource
	Ocean       OceanSource
	Advisories  AdvisorySource
	Predictor   predictor.Predictor
	Assessor    *impact.Assessor
	Builder     *report.Builder
	Reports     repository.ReportRepository
	Snapshots   *snapshot.Store
	Broadcaster Broadcaster
	Dispatcher  Dispatcher
	Metrics     *observability.Metrics
	Clock       clockwork.Clock
}

type Status struct {
	Running        bool       `json:"monitoring_active"`
	PollInterval   string     `json:"poll_interval"`
	LastCheck      *time.Time `json:"last_check"`
	LastError      string     `json:"last_error,omitempty"`
	Checks         uint64     `json:"checks"`
	EventsAssessed uint64     `json:"events_assessed"`
	AlertsIssued   uint64     `json:"alerts_issued"`
}

// CheckResult summarises one monitoring cycle.
type CheckResult struct {
	CheckedAt  time.Time        `json:"checked_at"`
	Fetched    int              `json:"earthquakes_fetched"`
	Candidates int              `json:"candidates"`
	Skipped    int              `json:"skipped"`
	Reports    []*report.Report `json:"reports"`
}

type Manager struct {
	opts Options
	deps Deps

	// checkMu serialises cycles started by the poller and by callers of Check.
	checkMu  sync.Mutex
	rejected map[string]struct{}

	mu     sync.RWMutex
	status Status

	cron *cron.Cron
	wg   sync.WaitGroup
}

func NewManager(opts Options, deps Deps) *Manager {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Minute
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 2 * time.Hour
	}
	return &Manager{
		opts:     opts,
		deps:     deps,
		rejected: make(map[string]struct{}),
		status:   Status{PollInterval: opts.PollInterval.String()},
	}
}

// Start launches the poller and the retention job. The poller exits when ctx
// is cancelled; call Stop afterwards.
func (m *Manager) Start(ctx context.Context) error {
	if m.opts.Retention > 0 && m.opts.RetentionSchedule != "" {
		m.cron = cron.New()
		_, err := m.cron.AddFunc(m.opts.RetentionSchedule, func() {
			if _, err := m.Prune(ctx); err != nil {
				slog.Error("retention prune failed", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("error scheduling retention job %q: %w", m.opts.RetentionSchedule, err)
		}
		m.cron.Start()
	}

	m.setRunning(true)
	m.wg.Add(1)
	go m.runPoller(ctx)
	return nil
}

func (m *Manager) runPoller(ctx context.Context) {
	defer m.wg.Done()
	slog.Info("starting poller", "source", "usgs", "interval", m.opts.PollInterval)

	ticker := m.deps.Clock.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	m.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("poller shutting down", "source", "usgs")
			return
		case <-ticker.Chan():
			m.poll(ctx)
		}
	}
}

func (m *Manager) poll(ctx context.Context) {
	res, err := m.Check(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("poll failed", "source", "usgs", "error", err)
		}
		return
	}
	slog.Debug("poll complete", "fetched", res.Fetched, "candidates", res.Candidates, "reports", len(res.Reports))
}

func (m *Manager) Stop() {
	m.wg.Wait()
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	m.setRunning(false)
	slog.Info("monitor stopped")
}

// Check runs one monitoring cycle synchronously. Earthquakes already in the
// report history are skipped, so repeated checks publish each event once.
func (m *Manager) Check(ctx context.Context) (*CheckResult, error) {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	start := m.deps.Clock.Now()
	res, err := m.check(ctx)

	if m.deps.Metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		m.deps.Metrics.ChecksTotal.WithLabelValues(outcome).Inc()
		m.deps.Metrics.CheckDuration.Observe(m.deps.Clock.Since(start).Seconds())
	}

	m.mu.Lock()
	checkedAt := start.UTC()
	m.status.LastCheck = &checkedAt
	m.status.Checks++
	m.status.LastError = ""
	if err != nil {
		m.status.LastError = err.Error()
	}
	if res != nil {
		for _, r := range res.Reports {
			if r.EventID != "" {
				m.status.EventsAssessed++
			}
			if r.Threat() {
				m.status.AlertsIssued++
			}
		}
	}
	m.mu.Unlock()

	return res, err
}

func (m *Manager) check(ctx context.Context) (*CheckResult, error) {
	res := &CheckResult{CheckedAt: m.deps.Clock.Now().UTC(), Reports: []*report.Report{}}

	events, err := m.deps.Earthquakes.Recent(ctx, m.opts.Lookback)
	if err != nil {
		m.sourceError("usgs")
		return nil, fmt.Errorf("error fetching earthquakes: %w", err)
	}
	res.Fetched = len(events)

	candidates, err := m.candidates(ctx, events)
	if err != nil {
		return nil, err
	}
	res.Candidates = len(candidates)
	res.Skipped = res.Fetched - res.Candidates

	official := m.officialAdvisories(ctx)
	ocean := models.NormalOceanConditions()
	if m.deps.Ocean != nil {
		ocean = m.deps.Ocean.Conditions(ctx)
	}

	if len(candidates) == 0 {
		r := m.deps.Builder.NoThreat(ocean, official)
		m.deps.Snapshots.Put(r)
		if r.Threat() {
			m.publish(ctx, r)
		}
		res.Reports = append(res.Reports, r)
		return res, nil
	}

	for _, event := range candidates {
		r, err := m.assess(ctx, event, ocean, official)
		if err != nil {
			var invalid *impact.InvalidInputError
			if errors.As(err, &invalid) {
				m.rejected[event.ID] = struct{}{}
				if m.deps.Metrics != nil {
					m.deps.Metrics.InvalidEvents.Inc()
				}
				slog.Warn("skipping invalid earthquake", "id", event.ID, "field", invalid.Field, "error", err)
			} else {
				slog.Error("error assessing earthquake", "id", event.ID, "error", err)
			}
			res.Skipped++
			continue
		}

		m.deps.Snapshots.Put(r)
		if err := m.deps.Reports.Add(ctx, r); err != nil {
			slog.Error("error adding report", "id", r.ID, "event_id", event.ID, "error", err)
		}
		m.publish(ctx, r)
		res.Reports = append(res.Reports, r)

		slog.Info("earthquake assessed",
			"id", event.ID,
			"magnitude", event.Magnitude,
			"india_at_risk", r.IndiaAtRisk,
			"alert_level", r.EffectiveAlertLevel,
		)
	}
	return res, nil
}

// candidates drops events already reported or rejected and those below the
// candidate magnitude. A NaN magnitude is kept so the assessor rejects it.
func (m *Manager) candidates(ctx context.Context, events []*models.EarthquakeEvent) ([]*models.EarthquakeEvent, error) {
	var out []*models.EarthquakeEvent
	for _, e := range events {
		if e.Magnitude < m.opts.CandidateMinMagnitude {
			continue
		}
		if _, ok := m.rejected[e.ID]; ok {
			continue
		}
		exists, err := m.deps.Reports.Exists(ctx, e.ID)
		if err != nil {
			return nil, fmt.Errorf("error checking existence of %s: %w", e.ID, err)
		}
		if exists {
			continue
		}
		if m.deps.Metrics != nil {
			m.deps.Metrics.EventsFetched.Inc()
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *Manager) assess(ctx context.Context, event *models.EarthquakeEvent, ocean models.OceanConditions, official ingestion.AdvisorySummary) (*report.Report, error) {
	if err := impact.ValidateEvent(event); err != nil {
		return nil, err
	}

	prediction, err := m.deps.Predictor.Predict(ctx, event, ocean)
	if err != nil {
		if m.deps.Metrics != nil {
			m.deps.Metrics.PredictorErrors.Inc()
		}
		return nil, fmt.Errorf("error predicting risk: %w", err)
	}

	a, err := m.deps.Assessor.Assess(event, prediction)
	if err != nil {
		return nil, err
	}
	if m.deps.Metrics != nil {
		m.deps.Metrics.EventsAssessed.Inc()
	}
	return m.deps.Builder.Build(event, a, ocean, official), nil
}

func (m *Manager) officialAdvisories(ctx context.Context) ingestion.AdvisorySummary {
	if m.deps.Advisories == nil {
		return ingestion.SummarizeAdvisories(nil)
	}
	advisories, err := m.deps.Advisories.Advisories(ctx)
	if err != nil && !errors.Is(err, ingestion.ErrSourceDisabled) {
		m.sourceError("incois")
		slog.Warn("poll failed", "source", "incois", "error", err)
	}
	return ingestion.SummarizeAdvisories(advisories)
}

func (m *Manager) publish(ctx context.Context, r *report.Report) {
	if m.deps.Metrics != nil {
		m.deps.Metrics.ReportsPublished.WithLabelValues(string(r.EffectiveAlertLevel)).Inc()
	}
	if m.deps.Broadcaster != nil {
		m.deps.Broadcaster.Broadcast(r)
	}
	if m.deps.Dispatcher != nil {
		if err := m.deps.Dispatcher.Dispatch(ctx, r); err != nil {
			slog.Error("error dispatching alert", "id", r.ID, "error", err)
		}
	}
}

// Prune removes reports older than the retention window and forgets rejected
// events.
func (m *Manager) Prune(ctx context.Context) (int64, error) {
	cutoff := m.deps.Clock.Now().Add(-m.opts.Retention)
	n, err := m.deps.Reports.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	m.checkMu.Lock()
	clear(m.rejected)
	m.checkMu.Unlock()

	if n > 0 {
		slog.Info("pruned old reports", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setRunning(running bool) {
	m.mu.Lock()
	m.status.Running = running
	m.mu.Unlock()
	if m.deps.Metrics != nil {
		v := 0.0
		if running {
			v = 1
		}
		m.deps.Metrics.MonitorRunning.Set(v)
	}
}

func (m *Manager) sourceError(source string) {
	if m.deps.Metrics != nil {
		m.deps.Metrics.SourceErrors.WithLabelValues(source).Inc()
	}
}
