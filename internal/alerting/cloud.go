// Package alerting delivers published reports to IoT devices, the cloud poll
// state and the optional Kafka alert topic.
package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mr1hm/go-tsunami-alerts/internal/models"
	"github.com/mr1hm/go-tsunami-alerts/internal/report"
)

const (
	SourceManual  = "manual"
	SourceMonitor = "monitor"

	cloudStateKey = "tsunami:cloud:state"
)

// CloudState is what polling devices read from /iot/cloud/poll.
type CloudState struct {
	Active    bool              `json:"active"`
	Level     int               `json:"level"`
	LevelName models.AlertLevel `json:"level_name"`
	Message   string            `json:"message"`
	Timestamp *time.Time        `json:"timestamp"`
	Source    string            `json:"source,omitempty"`
	ReportID  string            `json:"report_id,omitempty"`
}

func InactiveState() CloudState {
	return CloudState{LevelName: models.AlertLevelNone}
}

func StateFromReport(r *report.Report) CloudState {
	ts := r.Timestamp
	return CloudState{
		Active:    r.Threat(),
		Level:     r.EffectiveAlertLevel.Rank(),
		LevelName: r.EffectiveAlertLevel,
		Message:   r.Message,
		Timestamp: &ts,
		Source:    SourceMonitor,
		ReportID:  r.ID,
	}
}

// CloudStore holds the single alert state shared by every polling device.
type CloudStore interface {
	Get(ctx context.Context) (CloudState, error)
	Set(ctx context.Context, s CloudState) error
}

type MemoryCloud struct {
	mu    sync.RWMutex
	state CloudState
}

func NewMemoryCloud() *MemoryCloud {
	return &MemoryCloud{state: InactiveState()}
}

func (m *MemoryCloud) Get(ctx context.Context) (CloudState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, nil
}

func (m *MemoryCloud) Set(ctx context.Context, s CloudState) error {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	return nil
}

// RedisCloud shares the state between service replicas.
type RedisCloud struct {
	client *redis.Client
}

func NewRedisCloud(client *redis.Client) *RedisCloud {
	return &RedisCloud{client: client}
}

// ConnectRedis parses url and verifies the server answers.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("error connecting to redis: %w", err)
	}
	return client, nil
}

func (r *RedisCloud) Get(ctx context.Context) (CloudState, error) {
	data, err := r.client.Get(ctx, cloudStateKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return InactiveState(), nil
	}
	if err != nil {
		return CloudState{}, fmt.Errorf("error reading cloud state: %w", err)
	}

	var s CloudState
	if err := json.Unmarshal(data, &s); err != nil {
		return CloudState{}, fmt.Errorf("error decoding cloud state: %w", err)
	}
	return s, nil
}

func (r *RedisCloud) Set(ctx context.Context, s CloudState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("error encoding cloud state: %w", err)
	}
	if err := r.client.Set(ctx, cloudStateKey, data, 0).Err(); err != nil {
		return fmt.Errorf("error writing cloud state: %w", err)
	}
	return nil
}
