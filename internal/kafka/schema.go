package kafka

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/hamba/avro/v2"
)

// AvroSerializer encodes values as Avro with the Confluent magic byte prefix.
// Schema IDs are cached per subject after the first successful lookup.
type AvroSerializer struct {
	registry SchemaRegistryClient

	mu  sync.Mutex
	ids map[string]int
}

func NewAvroSerializer(registry SchemaRegistryClient) *AvroSerializer {
	return &AvroSerializer{
		registry: registry,
		ids:      make(map[string]int),
	}
}

// Serialize encodes record with schema in the Confluent wire format:
// [Magic Byte (0)] [Schema ID (4 bytes)] [Avro Data]
func (s *AvroSerializer) Serialize(ctx context.Context, subject string, schema avro.Schema, record any) ([]byte, error) {
	schemaID, err := s.schemaID(ctx, subject, schema)
	if err != nil {
		return nil, fmt.Errorf("getting schema ID for subject %s: %w", subject, err)
	}

	data, err := avro.Marshal(schema, record)
	if err != nil {
		return nil, fmt.Errorf("marshaling avro: %w", err)
	}

	result := make([]byte, 5+len(data))
	result[0] = 0
	binary.BigEndian.PutUint32(result[1:5], uint32(schemaID))
	copy(result[5:], data)

	return result, nil
}

func (s *AvroSerializer) schemaID(ctx context.Context, subject string, schema avro.Schema) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.ids[subject]; ok {
		return id, nil
	}

	id, err := s.registry.GetSchemaID(ctx, subject, schema)
	if err != nil {
		return 0, err
	}
	s.ids[subject] = id
	return id, nil
}
