package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Client calls the bias detector sidecar's /detect endpoint.
type Client struct {
	url  string
	http *http.Client
}

// NewClient creates a detector Client pointing at the given base URL
// (e.g. "http://bias-detector:8002").
func NewClient(baseURL string) *Client {
	return &Client{
		url: baseURL + "/detect",
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type detectRequest struct {
	Records []map[string]any `json:"records"`
}

// DetectedFields sends the dataset to the sidecar and returns the flagged
// fields. If the sidecar is unreachable it logs a warning and returns no
// hint, so anonymization proceeds with the default policy.
func (c *Client) DetectedFields(ctx context.Context, records []map[string]any) (*Fields, error) {
	body, err := json.Marshal(detectRequest{Records: records})
	if err != nil {
		return nil, fmt.Errorf("detect: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("detect: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Warn("detect: sidecar unreachable, using default policy", "err", err)
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("detect: unexpected status", "code", resp.StatusCode)
		return nil, nil
	}

	var fields Fields
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
		return nil, fmt.Errorf("detect: decode: %w", err)
	}
	return &fields, nil
}
