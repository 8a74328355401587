package auditlog

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/catalog-sync/pkg/errors"
)

func TestClientPostMessage(t *testing.T) {
	var capturedURL, capturedMethod string
	var body map[string]any

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		capturedMethod = req.Method
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			t.Fatalf("read request body: %v", err)
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Fatalf("unmarshal request body: %v", err)
		}
		return &http.Response{StatusCode: http.StatusCreated, Body: io.NopCloser(strings.NewReader(`{}`)), Header: http.Header{}}, nil
	})

	client, err := NewClient("http://audit.test/api/", WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	err = client.Post(context.Background(), Message{
		MessageType:      "consumed",
		SourceSystem:     "catalog-sync",
		EventType:        "product.launched",
		CorrelationID:    "product.launchedP1",
		ProductID:        "P1",
		ProductSKU:       "SKU-1",
		MessagePayload:   json.RawMessage(`{"id":"P1"}`),
		ProcessingTimeMs: 12,
		RetryCount:       2,
	})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if capturedMethod != http.MethodPost || capturedURL != "http://audit.test/api/messages" {
		t.Fatalf("unexpected request %s %s", capturedMethod, capturedURL)
	}
	if body["messageType"] != "consumed" || body["productSku"] != "SKU-1" || body["retryCount"] != float64(2) {
		t.Fatalf("unexpected body %+v", body)
	}
	if _, ok := body["errorMessage"]; !ok || body["errorMessage"] != nil {
		t.Fatalf("expected explicit null errorMessage, got %+v", body["errorMessage"])
	}
}

func TestClientPostNon2xxIsDependencyError(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusBadGateway, Body: io.NopCloser(strings.NewReader("upstream down")), Header: http.Header{}}, nil
	})
	client, err := NewClient("http://audit.test", WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	err = client.Post(context.Background(), Message{MessageType: "consumed"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if pkgerrors.CodeOf(err) != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency code, got %s", pkgerrors.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "upstream down") {
		t.Fatalf("expected response body in error, got %v", err)
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient("  "); err == nil {
		t.Fatalf("expected error for blank base url")
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
