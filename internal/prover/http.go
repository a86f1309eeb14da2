package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient talks to a theorem-checker daemon over HTTP.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

type checkRequest struct {
	Source string `json:"source"`
}

type checkResponse struct {
	Accepted    bool   `json:"accepted"`
	Partial     bool   `json:"partial,omitempty"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// NewHTTPClient creates a client for the checker daemon at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("prover URL is required")
	}
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
	}, nil
}

// Name returns the client name
func (c *HTTPClient) Name() string {
	return "http"
}

// Check submits proof source to the daemon's /check endpoint.
func (c *HTTPClient) Check(ctx context.Context, proofSource string) (*Result, error) {
	body, err := json.Marshal(checkRequest{Source: proofSource})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/check", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeoutErr(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrToolUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to parse
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return nil, fmt.Errorf("%w: HTTP %d", ErrTimeout, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrToolUnavailable, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var checkResp checkResponse
	if err := json.Unmarshal(respBody, &checkResp); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrToolUnavailable, err)
	}

	return &Result{
		Accepted:    checkResp.Accepted,
		Partial:     checkResp.Partial,
		Diagnostics: checkResp.Diagnostics,
	}, nil
}

func isTimeoutErr(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
