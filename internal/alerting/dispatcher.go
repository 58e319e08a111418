package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/go-tsunami-alerts/internal/models"
	"github.com/mr1hm/go-tsunami-alerts/internal/observability"
	"github.com/mr1hm/go-tsunami-alerts/internal/repository"
	"github.com/mr1hm/go-tsunami-alerts/internal/report"
	"github.com/mr1hm/go-tsunami-alerts/internal/worker"
)

type delivery struct {
	ip      string
	level   models.AlertLevel
	payload DevicePayload
}

// Dispatcher fans threat reports out to the cloud state, the alert sink and
// every registered device. Device pushes run on a worker pool.
type Dispatcher struct {
	cloud   CloudStore
	devices repository.DeviceRepository
	pusher  *Pusher
	sink    Publisher
	metrics *observability.Metrics
	clock   clockwork.Clock
	pool    *worker.Pool[delivery]
}

// NewDispatcher creates a dispatcher. sink may be nil.
func NewDispatcher(cloud CloudStore, devices repository.DeviceRepository, pusher *Pusher, sink Publisher, metrics *observability.Metrics, clock clockwork.Clock, numWorkers, bufferSize int) *Dispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	d := &Dispatcher{
		cloud:   cloud,
		devices: devices,
		pusher:  pusher,
		sink:    sink,
		metrics: metrics,
		clock:   clock,
	}
	d.pool = worker.NewPool("device-push", numWorkers, bufferSize, d.deliver)
	return d
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.pool.Start(ctx)
}

// Stop drains queued pushes and closes the sink.
func (d *Dispatcher) Stop() {
	d.pool.Stop()
	if d.sink != nil {
		if err := d.sink.Close(); err != nil {
			slog.Warn("error closing alert sink", "error", err)
		}
	}
}

func (d *Dispatcher) Cloud() CloudStore {
	return d.cloud
}

// Dispatch alerts on r when it carries a threat and is a no-op otherwise.
// Device pushes are queued and happen asynchronously.
func (d *Dispatcher) Dispatch(ctx context.Context, r *report.Report) error {
	if !r.Threat() {
		return nil
	}

	var errs []error
	if err := d.cloud.Set(ctx, StateFromReport(r)); err != nil {
		errs = append(errs, err)
	}

	if d.sink != nil {
		if err := d.sink.Publish(ctx, r); err != nil {
			d.metrics.SinkPublishErrors.Inc()
			errs = append(errs, err)
		}
	}

	devices, err := d.devices.ListDevices(ctx)
	if err != nil {
		errs = append(errs, err)
		return errors.Join(errs...)
	}

	payload := payloadFromReport(r)
	for _, dev := range devices {
		job := delivery{ip: dev.IP, level: r.EffectiveAlertLevel, payload: payload}
		if !d.pool.Submit(ctx, job) {
			errs = append(errs, fmt.Errorf("error queueing alert for device %s: %w", dev.IP, ctx.Err()))
			break
		}
	}

	slog.Info("alert dispatched",
		"report_id", r.ID,
		"level", r.EffectiveAlertLevel,
		"devices", len(devices),
	)
	return errors.Join(errs...)
}

// Send pushes a manual alert synchronously. An empty ips targets every
// registered device.
func (d *Dispatcher) Send(ctx context.Context, level models.AlertLevel, message, earthquake string, ips []string) ([]DeliveryResult, error) {
	ips, err := d.targets(ctx, ips)
	if err != nil {
		return nil, err
	}
	if earthquake == "" {
		earthquake = "Manual alert"
	}

	payload := DevicePayload{
		Level:      level.Rank(),
		LevelName:  level,
		Message:    message,
		Earthquake: earthquake,
	}
	results := d.each(ips, func(ip string) DeliveryResult {
		return d.pusher.Push(ctx, ip, payload)
	})

	var delivered []string
	for _, res := range results {
		d.record(res)
		if res.Success {
			delivered = append(delivered, res.IP)
		}
	}
	if _, err := d.devices.MarkAsSent(ctx, delivered, level, d.clock.Now().UTC()); err != nil {
		slog.Warn("error recording delivered alerts", "error", err)
	}

	slog.Info("manual alert sent", "level", level, "devices", len(ips), "delivered", len(delivered))
	return results, nil
}

// ClearDevices silences devices. An empty ips targets every registered device.
func (d *Dispatcher) ClearDevices(ctx context.Context, ips []string) ([]DeliveryResult, error) {
	ips, err := d.targets(ctx, ips)
	if err != nil {
		return nil, err
	}
	return d.each(ips, func(ip string) DeliveryResult {
		return d.pusher.Clear(ctx, ip)
	}), nil
}

func (d *Dispatcher) targets(ctx context.Context, ips []string) ([]string, error) {
	if len(ips) > 0 {
		return ips, nil
	}
	devices, err := d.devices.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(devices))
	for i, dev := range devices {
		out[i] = dev.IP
	}
	return out, nil
}

// each runs fn for every ip concurrently and keeps results in ips order.
func (d *Dispatcher) each(ips []string, fn func(ip string) DeliveryResult) []DeliveryResult {
	results := make([]DeliveryResult, len(ips))
	var wg sync.WaitGroup
	for i, ip := range ips {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = fn(ip)
		}()
	}
	wg.Wait()
	return results
}

func (d *Dispatcher) deliver(ctx context.Context, job delivery) error {
	res := d.pusher.Push(ctx, job.ip, job.payload)
	d.record(res)
	if !res.Success {
		return fmt.Errorf("error pushing alert to %s: %s", job.ip, res.Error)
	}
	if _, err := d.devices.MarkAsSent(ctx, []string{job.ip}, job.level, d.clock.Now().UTC()); err != nil {
		return err
	}
	return nil
}

func (d *Dispatcher) record(res DeliveryResult) {
	outcome := "success"
	if !res.Success {
		outcome = "error"
	}
	d.metrics.DeviceDeliveries.WithLabelValues(outcome).Inc()
}

func payloadFromReport(r *report.Report) DevicePayload {
	earthquake := "No earthquake"
	if r.Earthquake != nil {
		earthquake = fmt.Sprintf("M%.1f %s at %s", r.Earthquake.Magnitude, r.Earthquake.Place, r.Earthquake.Time.Format(time.RFC3339))
	}
	return DevicePayload{
		Level:      r.EffectiveAlertLevel.Rank(),
		LevelName:  r.EffectiveAlertLevel,
		Message:    r.Message,
		Earthquake: earthquake,
	}
}
