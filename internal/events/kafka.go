// Package events publishes dispatch results for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/makt28/uptrack/internal/notify"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes each dispatch result as JSON keyed by its dispatch ID.
type KafkaSink struct {
	writer messageWriter
}

var _ notify.ResultSink = (*KafkaSink)(nil)

// batchTimeout bounds how long a write waits for more messages. Publish is
// synchronous inside a dispatch, and kafka-go's default is a full second.
const batchTimeout = 10 * time.Millisecond

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: batchTimeout,
			WriteTimeout: 5 * time.Second,
		},
	}
}

func (s *KafkaSink) Publish(ctx context.Context, r notify.Result) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal dispatch result: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(r.ID.String()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(r.EventType)},
		},
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// Discard drops every result. It is used when no brokers are configured.
type Discard struct{}

func (Discard) Publish(context.Context, notify.Result) error { return nil }

func (Discard) Close() error { return nil }

// Sink is a closable result sink.
type Sink interface {
	notify.ResultSink
	Close() error
}

// New returns a Kafka sink when brokers are set and Discard otherwise.
func New(brokers []string, topic string) Sink {
	if len(brokers) == 0 {
		return Discard{}
	}
	return NewKafkaSink(brokers, topic)
}
