package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/petrijr/prepare/pkg/api"
)

const (
	defaultClientTimeout = 30 * time.Second
	maxErrorBody         = 1 << 10
)

// Client resolves action maps against a remote resolve endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// NewClient returns a Client posting to baseURL + DefaultPath.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:   strings.TrimRight(baseURL, "/") + DefaultPath,
		httpClient: &http.Client{Timeout: defaultClientTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ api.Resolver = (*Client)(nil)

// Resolve posts actions and the ambient page, and decodes the results.
// A non-2xx response yields a *api.TransportError.
func (c *Client) Resolve(ctx context.Context, actions *api.ActionMap, amb api.Ambient) (api.Accumulation, error) {
	if actions == nil {
		actions = api.NewActionMap()
	}

	body := request{Fetch: actions}
	if amb.Page.Pathname != "" || amb.Page.Path != "" {
		page := amb.Page
		body.Page = &page
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("prepare client: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("prepare client: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prepare client: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &api.TransportError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(excerpt)),
		}
	}

	var out api.Accumulation
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("prepare client: decode: %w", err)
	}
	if out == nil {
		out = api.Accumulation{}
	}
	return out, nil
}
