package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaSender publishes events as JSON, keyed by entity id so that every
// event for one entity lands on the same partition.
type KafkaSender struct {
	writer *kafka.Writer
}

func NewKafkaSender(brokers, topic string) *KafkaSender {
	return &KafkaSender{writer: &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(brokers, ",")...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}}
}

func (s *KafkaSender) Send(ctx context.Context, evt Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.Type, err)
	}
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.EntityID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish event %s: %w", evt.Type, err)
	}
	return nil
}

func (s *KafkaSender) Close() error {
	return s.writer.Close()
}

// LogSender writes events to the log. Used when no broker is configured.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, evt Event) error {
	s.logger.Info().
		Str("event_id", evt.ID.String()).
		Str("event_type", evt.Type).
		Str("entity_type", evt.EntityType).
		Str("entity_id", evt.EntityID.String()).
		Str("patient_id", evt.PatientID.String()).
		Msg("domain event")
	return nil
}

// MemorySender records events in memory.
type MemorySender struct {
	mu     sync.Mutex
	events []Event
	// Err, when set, is returned by every Send.
	Err error
}

func NewMemorySender() *MemorySender {
	return &MemorySender{}
}

func (s *MemorySender) Send(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.events = append(s.events, evt)
	return nil
}

func (s *MemorySender) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Types returns the recorded event types in send order.
func (s *MemorySender) Types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

// Recorder is a synchronous Publisher that keeps every event.
type Recorder struct {
	MemorySender
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(ctx context.Context, evt Event) {
	_ = r.Send(ctx, evt)
}
