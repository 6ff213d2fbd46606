// Package quota consumes the external usage-limit service. Limits are
// consulted here, never computed.
package quota

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Status is the answer to a usage-limit check.
type Status struct {
	Allowed bool `json:"allowed"`
	Used    int  `json:"used"`
	Limit   int  `json:"limit"`
}

// Exhausted reports whether the owner has no remaining quota.
func (s Status) Exhausted() bool {
	return s.Limit > 0 && s.Used >= s.Limit
}

// Service is the usage-limit contract consumed by the run orchestrator.
type Service interface {
	Check(ctx context.Context, ownerID int64) (Status, error)
	Increment(ctx context.Context, ownerID int64) (Status, error)
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPService implements Service against the billing service's HTTP API.
type HTTPService struct {
	baseURL string
	client  HTTPClient
}

// NewHTTP creates an HTTPService for the given base URL.
func NewHTTP(baseURL string) *HTTPService {
	return &HTTPService{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// NewHTTPWithClient creates an HTTPService with a custom HTTP client (useful for testing).
func NewHTTPWithClient(baseURL string, hc HTTPClient) *HTTPService {
	return &HTTPService{baseURL: strings.TrimRight(baseURL, "/"), client: hc}
}

// Check queries the owner's current usage status.
func (s *HTTPService) Check(ctx context.Context, ownerID int64) (Status, error) {
	url := fmt.Sprintf("%s/usage/%d", s.baseURL, ownerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Status{}, fmt.Errorf("new request: %w", err)
	}
	return s.do(req)
}

// Increment records one unit of usage and returns the updated status.
func (s *HTTPService) Increment(ctx context.Context, ownerID int64) (Status, error) {
	url := fmt.Sprintf("%s/usage/%d/increment", s.baseURL, ownerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(nil))
	if err != nil {
		return Status{}, fmt.Errorf("new request: %w", err)
	}
	return s.do(req)
}

func (s *HTTPService) do(req *http.Request) (Status, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("quota request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Status{}, fmt.Errorf("quota error %s", resp.Status)
	}

	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return Status{}, fmt.Errorf("decode quota response: %w", err)
	}
	return st, nil
}
