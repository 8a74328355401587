package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/angelmondragon/catalog-sync/pkg/config"
	"github.com/angelmondragon/catalog-sync/pkg/logger"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	metadataCheckTimeout = 10 * time.Second
)

// AuditRow is the BigQuery shape of a consumed/published lifecycle audit record.
type AuditRow struct {
	ID               string    `bigquery:"id"`
	MessageType      string    `bigquery:"message_type"`
	SourceSystem     string    `bigquery:"source_system"`
	EventType        string    `bigquery:"event_type"`
	CorrelationID    string    `bigquery:"correlation_id"`
	ProductID        string    `bigquery:"product_id"`
	ProductSKU       string    `bigquery:"product_sku"`
	ProductName      string    `bigquery:"product_name"`
	MessagePayload   string    `bigquery:"message_payload"`
	ProcessingTimeMs int64     `bigquery:"processing_time_ms"`
	RetryCount       int64     `bigquery:"retry_count"`
	ErrorMessage     string    `bigquery:"error_message"`
	CreatedAt        time.Time `bigquery:"created_at"`
}

type Client struct {
	client     *bigquery.Client
	dataset    *bigquery.Dataset
	projectID  string
	auditTable string
}

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

type Pinger interface {
	Ping(context.Context) error
}

// NewClient creates a BigQuery client, verifies the dataset and creates the audit table when missing.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}

	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}

	table := strings.TrimSpace(cfg.AuditTable)
	if table == "" {
		return nil, errTableNameRequired
	}

	bqClient, err := bigquery.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}

	client := &Client{
		client:     bqClient,
		dataset:    bqClient.Dataset(datasetID),
		projectID:  projectID,
		auditTable: table,
	}

	if err := client.ensureAuditTable(ctx); err != nil {
		_ = bqClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "table", table), "bigquery audit sink initialized")
	}

	return client, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	var opts []option.ClientOption
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(gcp.CredentialsJSON)))
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		opts = append(opts, option.WithCredentialsFile(gcp.ApplicationCredentials))
	}
	return opts
}

// AuditSchema returns the table schema inferred from AuditRow.
func AuditSchema() (bigquery.Schema, error) {
	return bigquery.InferSchema(AuditRow{})
}

func (c *Client) ensureAuditTable(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}

	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("dataset %q does not exist", c.dataset.DatasetID)
		}
		return fmt.Errorf("checking dataset %q: %w", c.dataset.DatasetID, err)
	}

	table := c.dataset.Table(c.auditTable)
	if _, err := table.Metadata(ctx); err == nil {
		return nil
	} else if !isNotFound(err) {
		return fmt.Errorf("checking table %q: %w", c.auditTable, err)
	}

	schema, err := AuditSchema()
	if err != nil {
		return fmt.Errorf("inferring audit schema: %w", err)
	}
	meta := &bigquery.TableMetadata{
		Schema:           schema,
		TimePartitioning: &bigquery.TimePartitioning{Field: "created_at"},
	}
	if err := table.Create(ctx, meta); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("creating table %q: %w", c.auditTable, err)
	}
	return nil
}

// Ping verifies the dataset and audit table are accessible.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()
	if _, err := c.dataset.Table(c.auditTable).Metadata(ctx); err != nil {
		return fmt.Errorf("checking table %q: %w", c.auditTable, err)
	}
	return nil
}

// InsertAudit streams audit rows into the audit table.
func (c *Client) InsertAudit(ctx context.Context, rows ...AuditRow) error {
	if len(rows) == 0 {
		return nil
	}
	items := make([]any, 0, len(rows))
	for i := range rows {
		items = append(items, &rows[i])
	}
	return c.InsertRows(ctx, c.auditTable, items)
}

// InsertRows sends rows to the given table in the configured dataset.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.client == nil {
		return errClientNotInitialized
	}
	if strings.TrimSpace(table) == "" {
		return errTableNameRequired
	}
	if len(rows) == 0 {
		return nil
	}

	inserter := c.dataset.Table(strings.TrimSpace(table)).Inserter()
	return inserter.Put(ctx, rows)
}

// Close releases the BigQuery client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return apiErr.Code == http.StatusNotFound
	}
	return false
}

func isAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return apiErr.Code == http.StatusConflict
	}
	return false
}
