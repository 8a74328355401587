package auditlog

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

	pkgerrors "github.com/angelmondragon/catalog-sync/pkg/errors"
)

const (
	messagesPath          = "messages"
	responseBodyReadLimit = 1024
	defaultTimeout        = 5 * time.Second
)

var errBaseURLRequired = errors.New("audit log base url is required")

// Message is the body accepted by POST /messages on the central audit log.
type Message struct {
	MessageType      string          `json:"messageType"`
	SourceSystem     string          `json:"sourceSystem"`
	EventType        string          `json:"eventType"`
	CorrelationID    string          `json:"correlationId"`
	ProductID        string          `json:"productId,omitempty"`
	ProductSKU       string          `json:"productSku,omitempty"`
	ProductName      string          `json:"productName,omitempty"`
	MessagePayload   json.RawMessage `json:"messagePayload,omitempty"`
	ProcessingTimeMs int64           `json:"processingTimeMs"`
	RetryCount       int             `json:"retryCount"`
	ErrorMessage     *string         `json:"errorMessage"`
}

// Client posts audit records to the central message log service.
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

// NewClient builds the audit log client for the given base URL.
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

// Post writes one message to the audit log.
func (c *Client) Post(ctx context.Context, msg Message) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "audit log client not configured")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal audit message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+messagesPath, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build audit request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute audit request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), "audit request failed")
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
