// Package kafkasink ships monitoring events to the analytics Kafka topic.
//
// The sink is fire-and-forget: events are buffered in a channel and dropped
// (with a counter) when the buffer is full, so recording never blocks the
// pipeline.
package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/hireflow/wecom-relay/internal/adapter/observability"
	"github.com/hireflow/wecom-relay/internal/domain"
	"github.com/hireflow/wecom-relay/internal/monitoring"
)

const bufferSize = 1024

// Sink implements monitoring.Recorder on a Kafka producer.
type Sink struct {
	client *kgo.Client
	topic  string
	events chan monitoring.Event
	done   chan struct{}
}

// New builds a Sink and starts its background publisher.
func New(brokers []string, topic string) (*Sink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=kafkasink.New: no seed brokers provided")
	}
	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))),
	)
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequestRetries(5),
		kgo.WithHooks(kotelService.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=kafkasink.New: %w", err)
	}
	s := &Sink{
		client: client,
		topic:  topic,
		events: make(chan monitoring.Event, bufferSize),
		done:   make(chan struct{}),
	}
	go s.publish()
	return s, nil
}

// Record implements monitoring.Recorder. Never blocks.
func (s *Sink) Record(_ domain.Context, ev monitoring.Event) {
	select {
	case s.events <- ev:
	default:
		observability.MonitoringEventsDropped.Inc()
	}
}

func (s *Sink) publish() {
	for ev := range s.events {
		b, err := json.Marshal(ev)
		if err != nil {
			slog.Error("monitoring event marshal failed", slog.Any("error", err))
			continue
		}
		// A message id repeats across lifecycle events; the header gives
		// consumers a per-event identity for redelivery dedupe.
		rec := &kgo.Record{
			Topic:   s.topic,
			Key:     []byte(ev.MessageID),
			Value:   b,
			Headers: []kgo.RecordHeader{{Key: "event_id", Value: []byte(uuid.NewString())}},
		}
		s.client.Produce(context.Background(), rec, func(_ *kgo.Record, err error) {
			if err != nil {
				slog.Warn("monitoring event produce failed",
					slog.String("kind", string(ev.Kind)),
					slog.Any("error", err))
			}
		})
	}
	close(s.done)
}

// Close flushes buffered events and releases the producer.
func (s *Sink) Close() {
	close(s.events)
	<-s.done
	if err := s.client.Flush(context.Background()); err != nil {
		slog.Warn("monitoring sink flush failed", slog.Any("error", err))
	}
	s.client.Close()
}
