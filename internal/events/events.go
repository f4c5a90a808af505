// Package events publishes post-ingestion notifications for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"docingest/internal/config"
)

// Event types, also sent as the "type" message header.
const (
	TypeDocumentIngested = "document.ingested"
	TypeObjectOrphaned   = "object.orphaned"
)

// Event is the JSON payload written to the topic. FilePath doubles as the
// message key so all events for one object land on the same partition.
type Event struct {
	Type         string    `json:"type"`
	DocumentID   string    `json:"document_id,omitempty"`
	FilePath     string    `json:"file_path"`
	UserID       string    `json:"user_id"`
	Title        string    `json:"title,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	FileSize     int64     `json:"file_size"`
	HasEmbedding bool      `json:"has_embedding"`
	Reason       string    `json:"reason,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Publisher delivers events; failures are reported but never retried here.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const publishBatchTimeout = 10 * time.Millisecond

// KafkaPublisher writes events to a single topic.
type KafkaPublisher struct {
	w   messageWriter
	now func() time.Time
}

// NewPublisher returns a Kafka-backed publisher, or a NopPublisher when no
// brokers are configured.
func NewPublisher(cfg config.KafkaConfig) Publisher {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return NopPublisher{}
	}
	// Publish is called inline per request, so a one-message batch must
	// flush at once instead of waiting out the writer's 1s default.
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			BatchSize:              1,
			BatchTimeout:           publishBatchTimeout,
		},
		now: time.Now,
	}
}

// Publish writes e keyed by its file path, stamping OccurredAt when unset.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = p.now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.FilePath),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// Close flushes pending writes and releases broker connections.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
