package kafka

import (
	"fmt"

	"github.com/hamba/avro/v2"
)

// OutcomeSchemaNamespace is the Avro namespace of outcome events.
const OutcomeSchemaNamespace = "com.servicenow.adapter"

// OutcomeEventSchema builds the Avro record schema for fetch outcome events.
//
//	table        string
//	outcome      string
//	status_code  ["null", "int"]    default null
//	message      ["null", "string"] default null
//	observed_at  long               unix milliseconds
func OutcomeEventSchema() (avro.Schema, error) {
	table, err := avro.NewField("table", avro.NewPrimitiveSchema(avro.String, nil))
	if err != nil {
		return nil, fmt.Errorf("creating field table: %w", err)
	}
	outcome, err := avro.NewField("outcome", avro.NewPrimitiveSchema(avro.String, nil))
	if err != nil {
		return nil, fmt.Errorf("creating field outcome: %w", err)
	}
	statusCode, err := optionalField("status_code", avro.Int)
	if err != nil {
		return nil, err
	}
	message, err := optionalField("message", avro.String)
	if err != nil {
		return nil, err
	}
	observedAt, err := avro.NewField("observed_at", avro.NewPrimitiveSchema(avro.Long, nil))
	if err != nil {
		return nil, fmt.Errorf("creating field observed_at: %w", err)
	}

	recordSchema, err := avro.NewRecordSchema("FetchOutcome", OutcomeSchemaNamespace,
		[]*avro.Field{table, outcome, statusCode, message, observedAt})
	if err != nil {
		return nil, fmt.Errorf("creating record schema: %w", err)
	}

	return recordSchema, nil
}

// optionalField creates a ["null", typ] union field defaulting to null.
func optionalField(name string, typ avro.Type) (*avro.Field, error) {
	schema, err := avro.NewUnionSchema([]avro.Schema{
		&avro.NullSchema{},
		avro.NewPrimitiveSchema(typ, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("creating union for %s: %w", name, err)
	}

	field, err := avro.NewField(name, schema, avro.WithDefault(nil))
	if err != nil {
		return nil, fmt.Errorf("creating field %s: %w", name, err)
	}
	return field, nil
}
