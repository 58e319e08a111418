package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/mr1hm/go-tsunami-alerts/internal/report"
)

// Publisher forwards threat reports to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, r *report.Report) error
	Close() error
}

// KafkaPublisher writes each report as one JSON message keyed by report ID.
type KafkaPublisher struct {
	writer *kafkago.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w}
}

func (k *KafkaPublisher) Publish(ctx context.Context, r *report.Report) error {
	msg, err := serializeToMessage(r)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("error publishing report %s: %w", r.ID, err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

func serializeToMessage(r *report.Report) (kafkago.Message, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize report: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(r.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "alert_level", Value: []byte(r.EffectiveAlertLevel)},
			{Key: "event_id", Value: []byte(r.EventID)},
			{Key: "timestamp", Value: []byte(r.Timestamp.Format(time.RFC3339))},
		},
	}, nil
}
