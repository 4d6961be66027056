package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds every request round-trip.
const DefaultTimeout = 30 * time.Second

// ErrNetwork marks transport-level failures (timeout, unreachable, aborted).
// These are retryable by the caller; application errors are not.
var ErrNetwork = errors.New("api: network error")

// Error is a server-signaled failure. Code carries the machine-readable
// error code verbatim when the server provided one.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: %s (status %d)", e.Code, e.Status)
	}
	return fmt.Sprintf("api: request failed (status %d): %s", e.Status, e.Message)
}

// AsError extracts the server error from err, if it is one.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// Client talks to the verification server. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client against baseURL (e.g. "https://api.example.com/api").
// A non-positive timeout selects DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// ScanStart opens a verification session for a scanned payload.
func (c *Client) ScanStart(ctx context.Context, req ScanStartRequest) (*ScanStartResponse, error) {
	var resp ScanStartResponse
	if err := c.post(ctx, "/geocam/scan/start", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Verify submits an image with its gates for server-side verification.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (*VerifyResponse, error) {
	var resp VerifyResponse
	if err := c.post(ctx, "/geocam/verify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register claims the item after a successful verification.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	var resp RegisterResponse
	if err := c.post(ctx, "/geocam/register", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status looks up the lifecycle state of a claimed item.
func (c *Client) Status(ctx context.Context, dinaID string) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.get(ctx, "/geocam/status/"+url.PathEscape(dinaID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("api: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and unreachable hosts are a retryable network condition,
		// distinct from anything the server said.
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return &Error{Status: resp.StatusCode, Code: body.Error, Message: body.Message}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode response: %w", err)
	}
	return nil
}
