package properties

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

	"github.com/sony/gobreaker/v2"
)

// HTTPDoer is the subset of *http.Client the gateway needs
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientOptions configures the remote gateway
type ClientOptions struct {
	BaseURL                string
	SessionCookie          string
	Timeout                time.Duration
	MaxConsecutiveFailures uint32
	BreakerTimeout         time.Duration
}

// Client implements Gateway against the property HTTP API. Requests run
// through a circuit breaker so a dead backend fails fast.
type Client struct {
	baseURL       string
	sessionCookie string
	httpClient    HTTPDoer
	breaker       *gobreaker.CircuitBreaker[*http.Response]
}

// NewClient creates a client with its own *http.Client
func NewClient(opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewClientWithHTTPDoer(opts, &http.Client{Timeout: timeout})
}

// NewClientWithHTTPDoer creates a client that sends requests through doer
func NewClientWithHTTPDoer(opts ClientOptions, doer HTTPDoer) *Client {
	maxFailures := opts.MaxConsecutiveFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	breakerTimeout := opts.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}

	return &Client{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		sessionCookie: opts.SessionCookie,
		httpClient:    doer,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        "property-api",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     breakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
		}),
	}
}

// ListProperties fetches every stored property
func (c *Client) ListProperties(ctx context.Context) ([]Property, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/properties", nil)
	if err != nil {
		return nil, &PersistenceError{Op: OpList, Message: "failed to create request", Err: err}
	}

	var response listResponse
	if err := c.do(req, OpList, &response); err != nil {
		return nil, err
	}

	return response.Properties, nil
}

// SaveProperty creates a property record and returns it as stored
func (c *Client) SaveProperty(ctx context.Context, payload SavePayload) (*Property, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &PersistenceError{Op: OpSave, Message: "failed to marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/properties", bytes.NewReader(body))
	if err != nil {
		return nil, &PersistenceError{Op: OpSave, Message: "failed to create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	var response saveResponse
	if err := c.do(req, OpSave, &response); err != nil {
		return nil, err
	}
	if response.Property == nil {
		return nil, &PersistenceError{Op: OpSave, Message: "response did not include the saved property"}
	}

	return response.Property, nil
}

func (c *Client) do(req *http.Request, op string, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	if c.sessionCookie != "" {
		req.Header.Set("Cookie", c.sessionCookie)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		r, doErr := c.httpClient.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		// 5xx counts against the breaker; 4xx is the caller's problem
		if r.StatusCode >= 500 {
			return r, fmt.Errorf("upstream returned %d", r.StatusCode)
		}
		return r, nil
	})
	if resp != nil {
		defer resp.Body.Close()
	}

	if err != nil && resp == nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &PersistenceError{Op: op, Message: "property API unavailable", Err: err}
		}
		return &PersistenceError{Op: op, Message: "failed to execute request", Err: err}
	}

	if resp.StatusCode >= 400 {
		return &PersistenceError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(resp)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &PersistenceError{Op: op, StatusCode: resp.StatusCode, Message: "failed to decode response", Err: err}
	}

	return nil
}

// errorMessage pulls {"error": "..."} out of a failed response, falling back
// to the raw body
func errorMessage(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
