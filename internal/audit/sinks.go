package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/catalog-sync/pkg/auditlog"
	"github.com/angelmondragon/catalog-sync/pkg/bigquery"
)

// Sink persists audit records somewhere outside the process.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec Record) error
}

// SinkError reports a record a sink could not write.
type SinkError struct {
	Sink   string
	Record Record
	Err    error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("audit sink %s: %v", e.Sink, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

type messagePoster interface {
	Post(ctx context.Context, msg auditlog.Message) error
}

// LogSink posts records to the central audit log service.
type LogSink struct {
	client messagePoster
}

func NewLogSink(client messagePoster) (*LogSink, error) {
	if client == nil {
		return nil, errors.New("audit log client is required")
	}
	return &LogSink{client: client}, nil
}

func (s *LogSink) Name() string {
	return "audit-log"
}

func (s *LogSink) Write(ctx context.Context, rec Record) error {
	return s.client.Post(ctx, auditlog.Message{
		MessageType:      rec.MessageType.String(),
		SourceSystem:     rec.SourceSystem,
		EventType:        rec.EventType,
		CorrelationID:    rec.CorrelationID,
		ProductID:        rec.ProductID,
		ProductSKU:       rec.ProductSKU,
		ProductName:      rec.ProductName,
		MessagePayload:   rec.MessagePayload,
		ProcessingTimeMs: rec.ProcessingTimeMs,
		RetryCount:       rec.RetryCount,
		ErrorMessage:     rec.ErrorMessage,
	})
}

type auditInserter interface {
	InsertAudit(ctx context.Context, rows ...bigquery.AuditRow) error
}

// BigQuerySink streams records into the audit table.
type BigQuerySink struct {
	client auditInserter
}

func NewBigQuerySink(client auditInserter) (*BigQuerySink, error) {
	if client == nil {
		return nil, errors.New("bigquery client is required")
	}
	return &BigQuerySink{client: client}, nil
}

func (s *BigQuerySink) Name() string {
	return "bigquery"
}

func (s *BigQuerySink) Write(ctx context.Context, rec Record) error {
	row := bigquery.AuditRow{
		ID:               rec.ID.String(),
		MessageType:      rec.MessageType.String(),
		SourceSystem:     rec.SourceSystem,
		EventType:        rec.EventType,
		CorrelationID:    rec.CorrelationID,
		ProductID:        rec.ProductID,
		ProductSKU:       rec.ProductSKU,
		ProductName:      rec.ProductName,
		MessagePayload:   string(rec.MessagePayload),
		ProcessingTimeMs: rec.ProcessingTimeMs,
		RetryCount:       int64(rec.RetryCount),
		CreatedAt:        rec.CreatedAt,
	}
	if rec.ErrorMessage != nil {
		row.ErrorMessage = *rec.ErrorMessage
	}
	return s.client.InsertAudit(ctx, row)
}
