// Package kafka wraps the franz-go client and the Confluent schema registry
// for publishing fetch outcome events.
//
// # Producer
//
// The [Producer] is synchronous: ProduceSync blocks until the broker
// acknowledges the record or the context ends. Outcome events are small and
// infrequent, so batching is left to franz-go's linger defaults.
//
// # Avro
//
// [AvroSerializer] writes the Confluent wire format:
//
//	┌────────────┬──────────────────────┬──────────────────┐
//	│ magic (0)  │ schema ID (4 bytes)  │ Avro binary data │
//	└────────────┴──────────────────────┴──────────────────┘
//
// Schema IDs come from [HTTPRegistryClient], which registers the schema on
// first use.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/RaikaSurendra/servicenow-change-adapter/internal/config"
)

// Producer wraps a franz-go client for producing messages to Kafka.
//
// acks=all is used so an event counted as published has been replicated.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger
}

// NewProducer creates a Kafka producer from the adapter configuration. The
// client connects lazily on the first produce.
func NewProducer(cfg config.KafkaConfig, logger *slog.Logger) (*Producer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RecordRetries(5),
		kgo.RetryTimeout(30 * time.Second),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating Kafka producer client: %w", err)
	}

	return &Producer{
		client: client,
		logger: logger.With("component", "kafka-producer"),
	}, nil
}

// ProduceSync sends a single record to topic and waits for broker
// acknowledgement, cancellation, or an unrecoverable error.
func (p *Producer) ProduceSync(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	rec := &kgo.Record{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: recordHeaders(headers),
	}

	results := p.client.ProduceSync(ctx, rec)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("producing to %s: %w", topic, err)
	}

	p.logger.Debug("message produced",
		"topic", topic,
		"partition", results[0].Record.Partition,
		"offset", results[0].Record.Offset,
	)
	return nil
}

// Close flushes any pending messages and closes the Kafka connection.
func (p *Producer) Close() {
	p.client.Close()
}

func recordHeaders(headers map[string]string) []kgo.RecordHeader {
	if len(headers) == 0 {
		return nil
	}
	out := make([]kgo.RecordHeader, 0, len(headers))
	for k, v := range headers {
		out = append(out, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	return out
}
