package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPClientConfig configures the remote scorer client.
type HTTPClientConfig struct {
	BaseURL    string
	Path       string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPClient calls a remote scorer service. The call is synchronous and
// blocking with a per-call timeout; a timeout surfaces as an error for the
// scoring stage to report. Retries are deliberately left to the caller, whose
// re-runs are safe given the scorer's purity contract.
type HTTPClient struct {
	baseURL string
	path    string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPClient validates the config and returns a client.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("scorer base url required")
	}
	path := cfg.Path
	if path == "" {
		path = "/scorer/score"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		path:    path,
		client:  client,
		timeout: timeout,
	}, nil
}

type scoreResponse struct {
	Scores []Score `json:"scores"`
}

// Score posts the candidate batch and decodes the per-pair probabilities.
func (c *HTTPClient) Score(ctx context.Context, req Request) ([]Score, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("scorer marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("scorer build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("scorer call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scorer rejected request: %s", resp.Status)
	}
	var decoded scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("scorer decode response: %w", err)
	}
	if err := ValidateScores(decoded.Scores, req.Candidates); err != nil {
		return nil, fmt.Errorf("scorer malformed response: %w", err)
	}
	return decoded.Scores, nil
}
