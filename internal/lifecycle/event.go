package lifecycle

import (
	"encoding/json"
	"strings"

	"github.com/angelmondragon/catalog-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/catalog-sync/pkg/errors"
)

// Broker attribute keys set by upstream publishers.
const (
	AttrEventType     = "event_type"
	AttrCorrelationID = "correlation_id"
)

// Event is a product lifecycle event as received from the broker. It is never
// mutated after Decode.
type Event struct {
	MessageID     string
	RawType       string
	Type          enums.LifecycleEventType
	CorrelationID string
	ProductID     string
	SKU           string
	Name          string
	Status        enums.ProductStatus
	Payload       json.RawMessage
	DeliveryCount int
}

// Recognized reports whether the event type maps to a known lifecycle transition.
func (e Event) Recognized() bool {
	return e.Type.IsValid()
}

type envelope struct {
	EventType     string `json:"eventType"`
	ID            string `json:"id"`
	ProductID     string `json:"productId"`
	SKU           string `json:"sku"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	CorrelationID string `json:"correlationId"`
}

// Decode builds an Event from a broker message body and attributes. The returned
// Event carries whatever could be read even when err is non-nil, so callers can
// still audit and dead-letter the message.
func Decode(messageID string, data []byte, attrs map[string]string, deliveryCount int) (Event, error) {
	ev := Event{
		MessageID:     messageID,
		Payload:       json.RawMessage(data),
		DeliveryCount: deliveryCount,
		RawType:       strings.TrimSpace(attrs[AttrEventType]),
		CorrelationID: strings.TrimSpace(attrs[AttrCorrelationID]),
	}

	var env envelope
	decodeErr := json.Unmarshal(data, &env)
	if decodeErr == nil {
		if ev.RawType == "" {
			ev.RawType = strings.TrimSpace(env.EventType)
		}
		if ev.CorrelationID == "" {
			ev.CorrelationID = strings.TrimSpace(env.CorrelationID)
		}
		ev.ProductID = firstNonEmpty(env.ID, env.ProductID)
		ev.SKU = strings.TrimSpace(env.SKU)
		ev.Name = strings.TrimSpace(env.Name)
		ev.Status = enums.NormalizeProductStatus(env.Status)
	}

	if parsed, err := enums.ParseLifecycleEventType(ev.RawType); err == nil {
		ev.Type = parsed
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = ev.RawType + ev.ProductID
	}

	if decodeErr != nil {
		return ev, pkgerrors.Wrap(pkgerrors.CodeValidation, decodeErr, "decode lifecycle event").
			WithDetails(map[string]any{"message_id": messageID})
	}
	return ev, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
