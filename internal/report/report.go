// Package report publishes fetch outcomes as events on a Kafka topic.
//
// Publication is best effort. A failed publish is logged and counted, and the
// outcome it describes is left as it was.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hamba/avro/v2"

	"github.com/RaikaSurendra/servicenow-change-adapter/internal/kafka"
	"github.com/RaikaSurendra/servicenow-change-adapter/internal/observability"
	"github.com/RaikaSurendra/servicenow-change-adapter/internal/servicenow"
)

// HeaderTable carries the table name on every produced record.
const HeaderTable = "sn_table"

// HeaderOutcome carries the outcome kind on every produced record.
const HeaderOutcome = "sn_outcome"

// Event is the reportable projection of one Outcome.
type Event struct {
	Table      string  `json:"table" avro:"table"`
	Outcome    string  `json:"outcome" avro:"outcome"`
	StatusCode *int    `json:"status_code,omitempty" avro:"status_code"`
	Message    *string `json:"message,omitempty" avro:"message"`
	ObservedAt int64   `json:"observed_at" avro:"observed_at"`
}

// FromOutcome builds the event for an outcome observed at at. StatusCode is
// set when a response was kept; Message is set for every failure.
func FromOutcome(table string, o servicenow.Outcome, at time.Time) Event {
	e := Event{
		Table:      table,
		Outcome:    o.Kind().String(),
		ObservedAt: at.UnixMilli(),
	}
	if code := o.StatusCode(); code != 0 {
		e.StatusCode = &code
	}
	if err := o.Err(); err != nil {
		msg := err.Error()
		e.Message = &msg
	}
	return e
}

// Encoder turns an Event into a record value.
type Encoder interface {
	Encode(ctx context.Context, e Event) ([]byte, error)
	ContentType() string
}

// JSONEncoder encodes events as plain JSON.
type JSONEncoder struct{}

func (JSONEncoder) Encode(_ context.Context, e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshaling event: %w", err)
	}
	return data, nil
}

func (JSONEncoder) ContentType() string { return "application/json" }

// AvroEncoder encodes events as Confluent-framed Avro.
type AvroEncoder struct {
	serializer *kafka.AvroSerializer
	subject    string
	schema     avro.Schema
}

// NewAvroEncoder creates an encoder registering its schema under the
// "<topic>-value" subject.
func NewAvroEncoder(registry kafka.SchemaRegistryClient, topic string) (*AvroEncoder, error) {
	schema, err := kafka.OutcomeEventSchema()
	if err != nil {
		return nil, fmt.Errorf("building outcome schema: %w", err)
	}
	return &AvroEncoder{
		serializer: kafka.NewAvroSerializer(registry),
		subject:    topic + "-value",
		schema:     schema,
	}, nil
}

func (a *AvroEncoder) Encode(ctx context.Context, e Event) ([]byte, error) {
	return a.serializer.Serialize(ctx, a.subject, a.schema, e)
}

func (a *AvroEncoder) ContentType() string { return "application/vnd.apache.avro" }

// Producer is the subset of kafka.Producer used by the publisher.
type Producer interface {
	ProduceSync(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaPublisher produces one record per event, keyed by table name.
type KafkaPublisher struct {
	producer Producer
	encoder  Encoder
	topic    string
	logger   *slog.Logger
}

func NewKafkaPublisher(producer Producer, encoder Encoder, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		encoder:  encoder,
		topic:    topic,
		logger:   logger.With("component", "report", "topic", topic),
	}
}

// Publish encodes e and produces it synchronously.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	value, err := p.encoder.Encode(ctx, e)
	if err != nil {
		observability.Metrics.ReportErrorsTotal.WithLabelValues(p.topic, "encode").Inc()
		p.logger.Error("failed to encode outcome event", "table", e.Table, "error", err)
		return fmt.Errorf("encoding event for %s: %w", e.Table, err)
	}

	headers := map[string]string{
		HeaderTable:    e.Table,
		HeaderOutcome:  e.Outcome,
		"content-type": p.encoder.ContentType(),
	}

	if err := p.producer.ProduceSync(ctx, p.topic, []byte(e.Table), value, headers); err != nil {
		observability.Metrics.ReportErrorsTotal.WithLabelValues(p.topic, "produce").Inc()
		p.logger.Error("failed to publish outcome event", "table", e.Table, "error", err)
		return fmt.Errorf("publishing event for %s: %w", e.Table, err)
	}

	observability.Metrics.ReportPublishedTotal.WithLabelValues(p.topic, e.Outcome).Inc()
	p.logger.Debug("outcome event published", "table", e.Table, "outcome", e.Outcome)
	return nil
}
