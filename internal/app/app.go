// Package app assembles the monitoring service from its configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/mr1hm/go-tsunami-alerts/internal/alerting"
	"github.com/mr1hm/go-tsunami-alerts/internal/api"
	"github.com/mr1hm/go-tsunami-alerts/internal/config"
	"github.com/mr1hm/go-tsunami-alerts/internal/impact"
	"github.com/mr1hm/go-tsunami-alerts/internal/ingestion"
	"github.com/mr1hm/go-tsunami-alerts/internal/monitor"
	"github.com/mr1hm/go-tsunami-alerts/internal/observability"
	"github.com/mr1hm/go-tsunami-alerts/internal/predictor"
	"github.com/mr1hm/go-tsunami-alerts/internal/report"
	"github.com/mr1hm/go-tsunami-alerts/internal/repository"
	"github.com/mr1hm/go-tsunami-alerts/internal/snapshot"
	"github.com/mr1hm/go-tsunami-alerts/internal/stream"
)

type Options struct {
	// Dispatch enables the cloud state, alert sink and device pushes for
	// threat reports. One-off CLI checks usually leave it off.
	Dispatch bool
	Metrics  *observability.Metrics
	Clock    clockwork.Clock
}

type App struct {
	Config      *config.Config
	DB          *repository.SQLiteDB
	Assessor    *impact.Assessor
	Builder     *report.Builder
	Predictor   predictor.Predictor
	Earthquakes *ingestion.USGSClient
	Ocean       *ingestion.OceanCollector
	Advisories  monitor.AdvisorySource // nil when INCOIS is disabled
	Snapshots   *snapshot.Store
	Broadcaster *stream.Broadcaster
	Dispatcher  *alerting.Dispatcher
	Monitor     *monitor.Manager
	Metrics     *observability.Metrics
	Clock       clockwork.Clock

	redis *redis.Client
}

func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics()
	}

	impactCfg, err := cfg.ImpactConfig()
	if err != nil {
		return nil, fmt.Errorf("error loading impact config: %w", err)
	}
	assessor, err := impact.New(impactCfg)
	if err != nil {
		return nil, fmt.Errorf("error creating assessor: %w", err)
	}

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &App{
		Config:      cfg,
		DB:          db,
		Assessor:    assessor,
		Builder:     report.NewBuilder(impactCfg.Regions, clock),
		Predictor:   predictor.New(cfg.Model.URL, cfg.Model.Timeout),
		Earthquakes: ingestion.NewUSGSClient(cfg.Sources.USGSURL, cfg.Sources.USGSMinMagnitude, clock),
		Ocean:       oceanCollector(cfg.Sources, clock),
		Snapshots:   snapshot.New(100),
		Broadcaster: stream.NewBroadcaster(),
		Metrics:     metrics,
		Clock:       clock,
	}
	if cfg.Sources.INCOISEnabled {
		a.Advisories = ingestion.NewINCOISClient(cfg.Sources.INCOISURL)
	}

	cloud, err := a.cloudStore(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	var sink alerting.Publisher
	if len(cfg.Alerting.KafkaBrokers) > 0 {
		sink = alerting.NewKafkaPublisher(cfg.Alerting.KafkaBrokers, cfg.Alerting.KafkaTopic)
		slog.Info("alert sink enabled", "brokers", cfg.Alerting.KafkaBrokers, "topic", cfg.Alerting.KafkaTopic)
	}
	a.Dispatcher = alerting.NewDispatcher(cloud, db, alerting.NewPusher(0), sink, metrics, clock, cfg.Worker.Count, cfg.Worker.BufferSize)

	deps := monitor.Deps{
		Earthquakes: a.Earthquakes,
		Ocean:       a.Ocean,
		Advisories:  a.Advisories,
		Predictor:   a.Predictor,
		Assessor:    a.Assessor,
		Builder:     a.Builder,
		Reports:     db,
		Snapshots:   a.Snapshots,
		Broadcaster: a.Broadcaster,
		Metrics:     metrics,
		Clock:       clock,
	}
	if opts.Dispatch {
		deps.Dispatcher = a.Dispatcher
	}
	a.Monitor = monitor.NewManager(monitor.Options{
		PollInterval:          cfg.Sources.USGSPollInterval,
		Lookback:              cfg.Sources.USGSLookback,
		CandidateMinMagnitude: cfg.Sources.CandidateMinMagnitude,
		Retention:             cfg.Retention.Period,
		RetentionSchedule:     cfg.Retention.Schedule,
	}, deps)

	return a, nil
}

// cloudStore uses Redis when REDIS_URL is set so every replica serves the
// same device state.
func (a *App) cloudStore(ctx context.Context) (alerting.CloudStore, error) {
	if a.Config.Alerting.RedisURL == "" {
		return alerting.NewMemoryCloud(), nil
	}
	client, err := alerting.ConnectRedis(ctx, a.Config.Alerting.RedisURL)
	if err != nil {
		return nil, err
	}
	a.redis = client
	slog.Info("cloud alert state stored in redis")
	return alerting.NewRedisCloud(client), nil
}

func oceanCollector(src config.SourcesConfig, clock clockwork.Clock) *ingestion.OceanCollector {
	o := &ingestion.OceanCollector{Clock: clock}
	if src.NDBCEnabled {
		o.Buoys = ingestion.NewNDBCClient(src.NDBCURL, clock)
		o.BuoyStations = src.NDBCStations
	}
	if src.TidesEnabled {
		o.Tides = ingestion.NewTidesClient(src.TidesURL, clock)
		o.TideStations = src.TidesStations
	}
	return o
}

// Handler returns the HTTP API over the assembled components.
func (a *App) Handler() *api.Handler {
	return api.NewHandler(api.Deps{
		Reports:     a.DB,
		Devices:     a.DB,
		Snapshots:   a.Snapshots,
		Monitor:     a.Monitor,
		Assessor:    a.Assessor,
		Builder:     a.Builder,
		Predictor:   a.Predictor,
		Earthquakes: a.Earthquakes,
		Ocean:       a.Ocean,
		Advisories:  a.Advisories,
		Alerts:      a.Dispatcher,
		Broadcaster: a.Broadcaster,
		Metrics:     a.Metrics,
		Clock:       a.Clock,
	})
}

// Close releases everything New opened. The monitor must be stopped first.
func (a *App) Close() {
	a.Dispatcher.Stop()
	a.Broadcaster.Close()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Warn("error closing redis", "error", err)
		}
	}
	if err := a.DB.Close(); err != nil {
		slog.Warn("error closing database", "error", err)
	}
}
