// Package cachepush pushes product snapshots to a downstream cache service over HTTP.
package cachepush

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/catalog-sync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/catalog-sync/pkg/errors"
)

const (
	storeName             = "cache-push"
	responseBodyReadLimit = 1024
	defaultTimeout        = 10 * time.Second
)

var errBaseURLRequired = errors.New("cache push base url is required")

// Client talks to the downstream cache service (PUT/DELETE /products/{id}, GET /health).
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the request timeout on the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 && c.httpClient != nil {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient builds the cache push client for the given base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}
	client := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return client, nil
}

// Name identifies the store in logs and fan-out errors.
func (c *Client) Name() string {
	return storeName
}

// Upsert PUTs the full snapshot to the downstream cache.
func (c *Client) Upsert(ctx context.Context, entry *models.ProductCache) (bool, error) {
	if c == nil {
		return false, pkgerrors.New(pkgerrors.CodeDependency, "cache push client not configured")
	}
	if entry == nil || strings.TrimSpace(entry.ID) == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal product snapshot")
	}

	resp, err := c.do(ctx, http.MethodPut, c.productURL(entry.ID), payload)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, statusError(resp, "cache push upsert failed")
	}
	return true, nil
}

// Remove DELETEs the product downstream. A 404 is reported as not existing, not as an error.
func (c *Client) Remove(ctx context.Context, id string) (bool, error) {
	if c == nil {
		return false, pkgerrors.New(pkgerrors.CodeDependency, "cache push client not configured")
	}
	if strings.TrimSpace(id) == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}

	resp, err := c.do(ctx, http.MethodDelete, c.productURL(id), nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, statusError(resp, "cache push delete failed")
	}
}

// Ping probes GET /health on the downstream cache service.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "cache push client not configured")
	}
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp, "cache push health check failed")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build cache push request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute cache push request")
	}
	return resp, nil
}

func (c *Client) productURL(id string) string {
	return fmt.Sprintf("%s/products/%s", c.baseURL, url.PathEscape(strings.TrimSpace(id)))
}

func statusError(resp *http.Response, message string) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), message)
}
