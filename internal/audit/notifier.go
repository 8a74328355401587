package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/catalog-sync/internal/lifecycle"
	"github.com/angelmondragon/catalog-sync/pkg/enums"
	"github.com/angelmondragon/catalog-sync/pkg/logger"
)

const defaultPublishTimeout = 10 * time.Second

var _ lifecycle.Notifier = (*PubSubNotifier)(nil)

// HealthCheckable is implemented by collaborators that can report their own health.
type HealthCheckable interface {
	CheckHealth(ctx context.Context) error
}

type notificationPublisher interface {
	Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error)
	Ping(ctx context.Context) error
}

type publishedLogger interface {
	LogPublished(ev lifecycle.Event, payload []byte, err error)
}

// Notification is the body fanned out to UI-facing subscribers.
type Notification struct {
	EventType     string    `json:"eventType"`
	Action        string    `json:"action"`
	ProductID     string    `json:"productId"`
	SKU           string    `json:"sku,omitempty"`
	Name          string    `json:"name,omitempty"`
	CorrelationID string    `json:"correlationId"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// PubSubNotifier publishes customer-visible changes to the notification topic. Each
// notification is attempted once, on its own goroutine.
type PubSubNotifier struct {
	publisher notificationPublisher
	topic     string
	audit     publishedLogger
	logg      *logger.Logger
	timeout   time.Duration
	wg        sync.WaitGroup
}

func NewPubSubNotifier(publisher notificationPublisher, topic string, audit publishedLogger, logg *logger.Logger) (*PubSubNotifier, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("notification topic is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &PubSubNotifier{
		publisher: publisher,
		topic:     strings.TrimSpace(topic),
		audit:     audit,
		logg:      logg,
		timeout:   defaultPublishTimeout,
	}, nil
}

// Notify publishes in the background and returns immediately.
func (n *PubSubNotifier) Notify(ctx context.Context, ev lifecycle.Event, action enums.SyncAction) {
	body, err := json.Marshal(Notification{
		EventType:     ev.RawType,
		Action:        action.String(),
		ProductID:     ev.ProductID,
		SKU:           ev.SKU,
		Name:          ev.Name,
		CorrelationID: ev.CorrelationID,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		n.logg.Warn(n.logg.WithField(ctx, "error", err.Error()), "failed to encode notification")
		return
	}

	attrs := map[string]string{
		lifecycle.AttrEventType:     ev.RawType,
		lifecycle.AttrCorrelationID: ev.CorrelationID,
		"action":                    action.String(),
	}
	publishCtx := context.WithoutCancel(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(publishCtx, n.timeout)
		defer cancel()

		_, err := n.publisher.Publish(ctx, n.topic, body, attrs)
		if err != nil {
			n.logg.Warn(n.logg.WithFields(ctx, map[string]any{
				"topic": n.topic,
				"error": err.Error(),
			}), "notification publish failed")
		}
		if n.audit != nil {
			n.audit.LogPublished(ev, body, err)
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (n *PubSubNotifier) Wait() {
	n.wg.Wait()
}

// CheckHealth reports whether the broker behind the notifier is reachable.
func (n *PubSubNotifier) CheckHealth(ctx context.Context) error {
	return n.publisher.Ping(ctx)
}
