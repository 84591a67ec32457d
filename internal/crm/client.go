// Package crm reports final call dispositions back to the lead management
// system. Fire-and-forget from the core's perspective: failures are logged
// by the caller, never retried here.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// LeadClient updates lead records after an outcome is classified.
type LeadClient interface {
	UpdateDisposition(ctx context.Context, leadID, outcome string) error
}

// HTTPClient talks to the CRM's REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a CRM client.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type dispositionBody struct {
	Outcome    string    `json:"outcome"`
	OccurredAt time.Time `json:"occurred_at"`
}

// UpdateDisposition posts the outcome for a lead.
func (c *HTTPClient) UpdateDisposition(ctx context.Context, leadID, outcome string) error {
	body, err := json.Marshal(dispositionBody{Outcome: outcome, OccurredAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal disposition: %w", err)
	}

	url := fmt.Sprintf("%s/v1/leads/%s/disposition", c.baseURL, leadID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build disposition request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post disposition for lead %s: %w", leadID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("crm returned %d for lead %s", resp.StatusCode, leadID)
	}
	return nil
}
