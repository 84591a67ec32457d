// Package dialer is the adapter for the remote call-placement service. The
// core depends only on the PlacementClient interface; the HTTP client here
// keeps request and response shapes provider-agnostic.
package dialer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PlacementRequest asks the provider to originate one outbound call.
type PlacementRequest struct {
	Phone     string            `json:"phone"`
	CallerID  string            `json:"caller_id"`
	Variables map[string]string `json:"variables,omitempty"`
}

// PlacementResult is the provider's acknowledgment. CallID correlates the
// eventual completion event.
type PlacementResult struct {
	CallID string `json:"call_id"`
	Status string `json:"status"`
}

// PlacementClient places outbound calls.
type PlacementClient interface {
	Place(ctx context.Context, req PlacementRequest) (PlacementResult, error)
}

// TransientError marks failures worth retrying at the call site: network
// errors, 5xx, 429.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient placement failure: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentRejectionError marks numbers the provider will never accept
// (malformed, disconnected). The number is blocklisted, not retried.
type PermanentRejectionError struct {
	Phone  string
	Reason string
}

func (e *PermanentRejectionError) Error() string {
	return fmt.Sprintf("number %s permanently rejected: %s", e.Phone, e.Reason)
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanentRejection reports whether err demands blocklisting.
func IsPermanentRejection(err error) bool {
	var pe *PermanentRejectionError
	return errors.As(err, &pe)
}

// HTTPClient talks to the provider's REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a client for the given provider endpoint.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// errorBody is the provider's error response shape.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Place submits the call. Error kind drives the caller's policy: transient
// errors are retried with bounded backoff, permanent rejections blocklist
// the number.
func (c *HTTPClient) Place(ctx context.Context, req PlacementRequest) (PlacementResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return PlacementResult{}, fmt.Errorf("marshal placement request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/calls", bytes.NewReader(body))
	if err != nil {
		return PlacementResult{}, fmt.Errorf("build placement request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return PlacementResult{}, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var result PlacementResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return PlacementResult{}, fmt.Errorf("decode placement response: %w", err)
		}
		if result.CallID == "" {
			return PlacementResult{}, fmt.Errorf("placement response missing call_id")
		}
		return result, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return PlacementResult{}, &TransientError{
			Err: fmt.Errorf("provider returned %d", resp.StatusCode),
		}

	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		if eb.Code == "invalid_number" || eb.Code == "disconnected_number" {
			return PlacementResult{}, &PermanentRejectionError{Phone: req.Phone, Reason: eb.Code}
		}
		return PlacementResult{}, fmt.Errorf("placement rejected (%d): %s", resp.StatusCode, eb.Message)
	}
}
