package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mr1hm/go-tsunami-alerts/internal/impact"
	"github.com/mr1hm/go-tsunami-alerts/internal/ingestion"
)

type Config struct {
	Server    ServerConfig
	Worker    WorkerConfig
	Sources   SourcesConfig
	Model     ModelConfig
	Impact    ImpactConfig
	Retention RetentionConfig
	Alerting  AlertingConfig
	DB        DatabaseConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	RateLimitRPS float64
}

type WorkerConfig struct {
	Count      int
	BufferSize int
}

type SourcesConfig struct {
	USGSURL               string
	USGSPollInterval      time.Duration
	USGSLookback          time.Duration
	USGSMinMagnitude      float64
	CandidateMinMagnitude float64

	INCOISEnabled bool
	INCOISURL     string

	NDBCEnabled  bool
	NDBCURL      string
	NDBCStations []string

	TidesEnabled  bool
	TidesURL      string
	TidesStations []string
}

type ModelConfig struct {
	URL     string
	Timeout time.Duration
}

// ImpactConfig holds the assessor overrides. Zero values keep whatever the
// zones file or the defaults say.
type ImpactConfig struct {
	ZonesFile           string
	MaxDistanceKm       float64
	MediumRiskThreshold float64
	AngularToleranceDeg float64
}

type RetentionConfig struct {
	Period   time.Duration
	Schedule string
}

type AlertingConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	RedisURL     string
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	env := &loader{}

	cfg := &Config{
		Server: ServerConfig{
			Host:         env.getEnv("SERVER_HOST", "localhost"),
			Port:         env.getEnvInt("SERVER_PORT", 8080),
			RateLimitRPS: env.getEnvFloat("RATE_LIMIT_RPS", 5),
		},
		Worker: WorkerConfig{
			Count:      env.getEnvInt("WORKER_COUNT", 4),
			BufferSize: env.getEnvInt("WORKER_BUFFER_SIZE", 64),
		},
		Sources: SourcesConfig{
			USGSURL:               env.getEnv("USGS_URL", ingestion.DefaultUSGSURL),
			USGSPollInterval:      env.getEnvDuration("USGS_POLL_INTERVAL", 5*time.Minute),
			USGSLookback:          env.getEnvDuration("USGS_LOOKBACK", 2*time.Hour),
			USGSMinMagnitude:      env.getEnvFloat("USGS_MIN_MAGNITUDE", 4.5),
			CandidateMinMagnitude: env.getEnvFloat("CANDIDATE_MIN_MAGNITUDE", 6.0),
			INCOISEnabled:         env.getEnvBool("INCOIS_ENABLED", false),
			INCOISURL:             env.getEnv("INCOIS_URL", ""),
			NDBCEnabled:           env.getEnvBool("NDBC_ENABLED", true),
			NDBCURL:               env.getEnv("NDBC_URL", ingestion.DefaultNDBCURL),
			NDBCStations:          env.getEnvList("NDBC_STATIONS", []string{"23401", "23227", "56003"}),
			TidesEnabled:          env.getEnvBool("TIDES_ENABLED", false),
			TidesURL:              env.getEnv("TIDES_URL", ingestion.DefaultTidesURL),
			TidesStations:         env.getEnvList("TIDES_STATIONS", nil),
		},
		Model: ModelConfig{
			URL:     env.getEnv("MODEL_URL", ""),
			Timeout: env.getEnvDuration("MODEL_TIMEOUT", 10*time.Second),
		},
		Impact: ImpactConfig{
			ZonesFile:           env.getEnv("ZONES_FILE", ""),
			MaxDistanceKm:       env.getEnvFloat("MAX_DISTANCE_KM", 0),
			MediumRiskThreshold: env.getEnvFloat("MEDIUM_RISK_THRESHOLD", 0),
			AngularToleranceDeg: env.getEnvFloat("ANGULAR_TOLERANCE_DEG", 0),
		},
		Retention: RetentionConfig{
			Period:   env.getEnvDuration("RETENTION", 720*time.Hour),
			Schedule: env.getEnv("RETENTION_SCHEDULE", "@every 1h"),
		},
		Alerting: AlertingConfig{
			KafkaBrokers: env.getEnvList("KAFKA_BROKERS", nil),
			KafkaTopic:   env.getEnv("KAFKA_TOPIC", "tsunami-alerts"),
			RedisURL:     env.getEnv("REDIS_URL", ""),
		},
		DB: DatabaseConfig{
			Path: env.getEnv("DB_PATH", "./data/tsunami-alerts.db"),
		},
		Logging: LoggingConfig{
			Level:  env.getEnv("LOG_LEVEL", "info"),
			Format: env.getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := errors.Join(env.errs...); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RateLimitRPS <= 0 {
		return fmt.Errorf("rate limit must be positive: %v", c.Server.RateLimitRPS)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Worker.Count < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}
	if c.Worker.BufferSize < 0 {
		return fmt.Errorf("worker buffer size cannot be negative")
	}

	if c.Sources.USGSPollInterval < time.Minute {
		return fmt.Errorf("USGS poll interval must be at least 1 minute")
	}
	if c.Sources.USGSLookback < c.Sources.USGSPollInterval {
		return fmt.Errorf("USGS lookback must cover at least one poll interval")
	}
	if c.Sources.INCOISEnabled && c.Sources.INCOISURL == "" {
		return fmt.Errorf("INCOIS_URL is required when INCOIS is enabled")
	}
	if c.Sources.NDBCEnabled && len(c.Sources.NDBCStations) == 0 {
		return fmt.Errorf("NDBC_STATIONS is required when NDBC is enabled")
	}
	if c.Sources.TidesEnabled && len(c.Sources.TidesStations) == 0 {
		return fmt.Errorf("TIDES_STATIONS is required when tides are enabled")
	}

	if c.Model.Timeout <= 0 {
		return fmt.Errorf("model timeout must be positive")
	}

	if c.Retention.Period < 0 {
		return fmt.Errorf("retention cannot be negative")
	}
	if c.Retention.Period > 0 {
		if _, err := cron.ParseStandard(c.Retention.Schedule); err != nil {
			return fmt.Errorf("invalid retention schedule %q: %w", c.Retention.Schedule, err)
		}
	}

	if len(c.Alerting.KafkaBrokers) > 0 && c.Alerting.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	return nil
}

// ImpactConfig loads the zones file (or the built-in defaults) and applies
// the environment overrides. The result is validated.
func (c *Config) ImpactConfig() (impact.Config, error) {
	cfg := impact.DefaultConfig()
	if c.Impact.ZonesFile != "" {
		var err error
		cfg, err = impact.LoadConfigFile(c.Impact.ZonesFile)
		if err != nil {
			return impact.Config{}, err
		}
	}

	if c.Impact.MaxDistanceKm != 0 {
		cfg.Thresholds.MaxDistanceKm = c.Impact.MaxDistanceKm
	}
	if c.Impact.MediumRiskThreshold != 0 {
		cfg.Thresholds.MediumRisk = c.Impact.MediumRiskThreshold
	}
	if c.Impact.AngularToleranceDeg != 0 {
		cfg.Thresholds.AngularToleranceDeg = c.Impact.AngularToleranceDeg
	}

	if err := cfg.Validate(); err != nil {
		return impact.Config{}, err
	}
	return cfg, nil
}

// loader reads typed environment variables and remembers every value that
// fails to parse.
type loader struct {
	errs []error
}

func (l *loader) getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func (l *loader) getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			l.fail(key, val, err)
			return fallback
		}
		return i
	}
	return fallback
}

func (l *loader) getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			l.fail(key, val, err)
			return fallback
		}
		return f
	}
	return fallback
}

func (l *loader) getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			l.fail(key, val, err)
			return fallback
		}
		return b
	}
	return fallback
}

func (l *loader) getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			l.fail(key, val, err)
			return fallback
		}
		return d
	}
	return fallback
}

// getEnvList splits a comma-separated value, dropping empty items.
func (l *loader) getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (l *loader) fail(key, val string, err error) {
	l.errs = append(l.errs, fmt.Errorf("invalid %s %q: %w", key, val, err))
}
