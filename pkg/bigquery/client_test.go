package bigquery

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/angelmondragon/catalog-sync/pkg/config"
	"google.golang.org/api/googleapi"
)

func TestAuditSchemaColumns(t *testing.T) {
	schema, err := AuditSchema()
	if err != nil {
		t.Fatalf("infer schema: %v", err)
	}
	names := map[string]bool{}
	for _, field := range schema {
		names[field.Name] = true
	}
	for _, want := range []string{"message_type", "correlation_id", "retry_count", "created_at"} {
		if !names[want] {
			t.Fatalf("expected column %q in schema", want)
		}
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	ctx := context.Background()
	if _, err := NewClient(ctx, config.GCPConfig{}, config.BigQueryConfig{Dataset: "d", AuditTable: "t"}, nil); !errors.Is(err, errProjectIDRequired) {
		t.Fatalf("expected project id error, got %v", err)
	}
	if _, err := NewClient(ctx, config.GCPConfig{ProjectID: "p"}, config.BigQueryConfig{AuditTable: "t"}, nil); !errors.Is(err, errDatasetRequired) {
		t.Fatalf("expected dataset error, got %v", err)
	}
	if _, err := NewClient(ctx, config.GCPConfig{ProjectID: "p"}, config.BigQueryConfig{Dataset: "d", AuditTable: " "}, nil); !errors.Is(err, errTableNameRequired) {
		t.Fatalf("expected table error, got %v", err)
	}
}

func TestClientOptionsPrioritizesJSON(t *testing.T) {
	gcp := config.GCPConfig{
		CredentialsJSON:        `{"dummy": "value"}`,
		ApplicationCredentials: "/tmp/creds",
	}

	opts := clientOptions(gcp)
	if len(opts) != 1 {
		t.Fatalf("expected 1 option, got %d", len(opts))
	}
}

func TestClientOptionsEmpty(t *testing.T) {
	if opts := clientOptions(config.GCPConfig{}); len(opts) != 0 {
		t.Fatalf("expected 0 options when no credentials provided, got %d", len(opts))
	}
}

func TestErrorClassification(t *testing.T) {
	notFound := &googleapi.Error{Code: http.StatusNotFound}
	conflict := &googleapi.Error{Code: http.StatusConflict}

	if !isNotFound(notFound) || isNotFound(conflict) {
		t.Fatalf("unexpected not-found classification")
	}
	if !isAlreadyExists(conflict) || isAlreadyExists(errors.New("plain")) {
		t.Fatalf("unexpected already-exists classification")
	}
}

func TestNilClientGuards(t *testing.T) {
	var c *Client
	if err := c.InsertRows(context.Background(), "t", []any{1}); !errors.Is(err, errClientNotInitialized) {
		t.Fatalf("expected not initialized error, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client should be a no-op, got %v", err)
	}
}
