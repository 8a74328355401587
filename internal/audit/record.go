package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/catalog-sync/internal/lifecycle"
	"github.com/angelmondragon/catalog-sync/pkg/enums"
)

// Record is one append-only audit entry for a consumed or published lifecycle message.
type Record struct {
	ID               uuid.UUID
	MessageType      enums.AuditMessageType
	SourceSystem     string
	EventType        string
	CorrelationID    string
	ProductID        string
	ProductSKU       string
	ProductName      string
	MessagePayload   json.RawMessage
	ProcessingTimeMs int64
	RetryCount       int
	ErrorMessage     *string
	CreatedAt        time.Time
}

func newRecord(messageType enums.AuditMessageType, source string, ev lifecycle.Event, payload []byte, err error) Record {
	rec := Record{
		ID:             uuid.New(),
		MessageType:    messageType,
		SourceSystem:   source,
		EventType:      ev.RawType,
		CorrelationID:  ev.CorrelationID,
		ProductID:      ev.ProductID,
		ProductSKU:     ev.SKU,
		ProductName:    ev.Name,
		MessagePayload: snapshot(payload),
		CreatedAt:      time.Now().UTC(),
	}
	if ev.DeliveryCount > 1 {
		rec.RetryCount = ev.DeliveryCount - 1
	}
	if err != nil {
		msg := err.Error()
		rec.ErrorMessage = &msg
	}
	return rec
}

// snapshot keeps payloads that are not valid JSON as a JSON string so every sink can
// serialize the record.
func snapshot(payload []byte) json.RawMessage {
	if len(payload) == 0 {
		return nil
	}
	if json.Valid(payload) {
		return json.RawMessage(payload)
	}
	encoded, err := json.Marshal(string(payload))
	if err != nil {
		return nil
	}
	return encoded
}
