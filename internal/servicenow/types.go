// Package servicenow provides types and utilities for interacting with the ServiceNow Table API.
package servicenow

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Record represents a single ServiceNow table record as a map of field names to values.
type Record map[string]interface{}

// TableResponse represents the JSON response from the ServiceNow Table API.
type TableResponse struct {
	Result []Record `json:"result"`
}

// ErrorResponse represents a ServiceNow API error response body.
type ErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	} `json:"error"`
}

// Response is the raw result of a Table API call as seen by the transport.
// It is handed to callers unmodified.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Records decodes the {"result": [...]} envelope of a Table API response.
func (r *Response) Records() ([]Record, error) {
	var resp TableResponse
	if err := json.Unmarshal(r.Body, &resp); err != nil {
		return nil, fmt.Errorf("parsing response JSON: %w (body: %.200s)", err, string(r.Body))
	}
	return resp.Result, nil
}

// APIError decodes a ServiceNow error envelope. It returns false when the body
// is not an error envelope or carries no message.
func (r *Response) APIError() (ErrorResponse, bool) {
	var e ErrorResponse
	if err := json.Unmarshal(r.Body, &e); err != nil || e.Error.Message == "" {
		return ErrorResponse{}, false
	}
	return e, true
}
