package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tsunami_alerts"

// Metrics holds the Prometheus counters, histograms, and gauges for the monitoring service.
type Metrics struct {
	ChecksTotal    *prometheus.CounterVec // labels: outcome={ok,error}
	CheckDuration  prometheus.Histogram
	MonitorRunning prometheus.Gauge

	// Ingestion metrics.
	SourceErrors   *prometheus.CounterVec // labels: source={usgs,incois,ndbc,tides}
	EventsFetched  prometheus.Counter
	EventsAssessed prometheus.Counter
	InvalidEvents  prometheus.Counter

	// Alerting metrics.
	ReportsPublished  *prometheus.CounterVec // labels: level={NONE,WATCH,ADVISORY,WARNING}
	DeviceDeliveries  *prometheus.CounterVec // labels: outcome={success,error}
	SinkPublishErrors prometheus.Counter
	StreamSubscribers prometheus.Gauge
	PredictorErrors   prometheus.Counter
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		ChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Monitoring cycles by outcome.",
		}, []string{"outcome"}),
		CheckDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Duration of a complete monitoring cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		MonitorRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitor_running",
			Help:      "1 when the monitoring loop is active, 0 when stopped.",
		}),
		SourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_errors_total",
			Help:      "Failed fetches by upstream data source.",
		}, []string{"source"}),
		EventsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_fetched_total",
			Help:      "New candidate earthquakes above the candidate magnitude.",
		}),
		EventsAssessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_assessed_total",
			Help:      "Candidate earthquakes run through the impact assessor.",
		}),
		InvalidEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_events_total",
			Help:      "Candidate earthquakes rejected as invalid input.",
		}),
		ReportsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_published_total",
			Help:      "Published risk reports by effective alert level.",
		}, []string{"level"}),
		DeviceDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_deliveries_total",
			Help:      "Alert pushes to IoT devices by outcome.",
		}, []string{"outcome"}),
		SinkPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_publish_errors_total",
			Help:      "Failed writes to the alert sink topic.",
		}),
		StreamSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_subscribers",
			Help:      "Connected WebSocket report subscribers.",
		}),
		PredictorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictor_errors_total",
			Help:      "Predictions that failed on every configured predictor.",
		}),
	}

	prometheus.MustRegister(
		m.ChecksTotal,
		m.CheckDuration,
		m.MonitorRunning,
		m.SourceErrors,
		m.EventsFetched,
		m.EventsAssessed,
		m.InvalidEvents,
		m.ReportsPublished,
		m.DeviceDeliveries,
		m.SinkPublishErrors,
		m.StreamSubscribers,
		m.PredictorErrors,
	)

	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		ChecksTotal:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "checks_total"}, []string{"outcome"}),
		CheckDuration:     prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "check_duration_seconds"}),
		MonitorRunning:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "monitor_running"}),
		SourceErrors:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "source_errors_total"}, []string{"source"}),
		EventsFetched:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "events_fetched_total"}),
		EventsAssessed:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "events_assessed_total"}),
		InvalidEvents:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "invalid_events_total"}),
		ReportsPublished:  prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "reports_published_total"}, []string{"level"}),
		DeviceDeliveries:  prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "device_deliveries_total"}, []string{"outcome"}),
		SinkPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "sink_publish_errors_total"}),
		StreamSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "stream_subscribers"}),
		PredictorErrors:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "predictor_errors_total"}),
	}
}
