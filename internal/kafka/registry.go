package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hamba/avro/v2"
)

// SchemaRegistryClient resolves the registry ID of a schema under a subject.
type SchemaRegistryClient interface {
	GetSchemaID(ctx context.Context, subject string, schema avro.Schema) (int, error)
}

// HTTPRegistryClient implements SchemaRegistryClient using the Confluent HTTP API.
type HTTPRegistryClient struct {
	client *resty.Client
}

func NewHTTPRegistryClient(baseURL string) *HTTPRegistryClient {
	return &HTTPRegistryClient{
		client: resty.New().
			SetBaseURL(strings.TrimSuffix(baseURL, "/")).
			SetTimeout(10 * time.Second),
	}
}

// GetSchemaID registers schema under subject if needed and returns its ID.
// POST /subjects/{subject}/versions is idempotent for an identical schema.
func (c *HTTPRegistryClient) GetSchemaID(ctx context.Context, subject string, schema avro.Schema) (int, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/vnd.schemaregistry.v1+json").
		SetHeader("Accept", "application/vnd.schemaregistry.v1+json").
		SetPathParam("subject", subject).
		SetBody(map[string]string{"schema": schema.String()}).
		Post("/subjects/{subject}/versions")
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode() != 200 {
		return 0, fmt.Errorf("registry error (status %d): %s", resp.StatusCode(), resp.String())
	}

	var registerResp struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(resp.Body(), &registerResp); err != nil {
		return 0, fmt.Errorf("decoding response: %w", err)
	}

	return registerResp.ID, nil
}
