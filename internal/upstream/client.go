// Package upstream is the gateway's client for the internal worker tier.
// Every call carries the shared-secret token and a bounded timeout; network
// failures are classified as timeout vs unreachable so the gateway can
// answer 504 or 502 accordingly.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// AuthHeader is the shared-secret header both tiers understand.
const AuthHeader = "X-Auth-Token"

var (
	// ErrTimeout means the worker did not answer within the request timeout.
	// The underlying job may still complete on the worker.
	ErrTimeout = errors.New("upstream request timed out")

	// ErrUnreachable means the worker could not be reached at all.
	ErrUnreachable = errors.New("upstream unreachable")
)

// Response is a buffered upstream reply, used for the JSON endpoints where
// the gateway inspects or re-emits the body.
type Response struct {
	Status      int
	Body        []byte
	ContentType string
}

// Client talks to the worker tier. It is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client // long-call budget (generate, status, artifacts)
	probec  *http.Client // short budget for health probes
}

// New constructs a Client for the worker at baseURL (no trailing slash),
// authenticating with token. timeout bounds regular calls, healthTimeout
// bounds health probes.
func New(baseURL, token string, timeout, healthTimeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: timeout},
		probec:  &http.Client{Timeout: healthTimeout},
	}
}

// Generate forwards a validated generation payload and returns the worker's
// buffered reply.
func (c *Client) Generate(ctx context.Context, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.buffered(c.httpc, req)
}

// Status fetches the worker's view of a job.
func (c *Client) Status(ctx context.Context, jobID string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/status/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, err
	}
	return c.buffered(c.httpc, req)
}

// Health probes the worker with the short timeout.
func (c *Client) Health(ctx context.Context) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	return c.buffered(c.probec, req)
}

// Artifact requests an artifact's bytes. The response body streams; the
// caller must close it. Non-2xx responses are returned as-is so the gateway
// can translate the status.
func (c *Client) Artifact(ctx context.Context, publicID string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/output/"+url.PathEscape(publicID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(AuthHeader, c.token)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	return resp, nil
}

// buffered executes req with the token attached and drains the body.
func (c *Client) buffered(hc *http.Client, req *http.Request) (*Response, error) {
	req.Header.Set(AuthHeader, c.token)
	resp, err := hc.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnreachable, err)
	}
	return &Response{
		Status:      resp.StatusCode,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// classify maps transport errors onto the two sentinel failure modes.
func classify(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
