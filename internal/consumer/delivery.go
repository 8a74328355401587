package consumer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/catalog-sync/pkg/logger"
	"github.com/angelmondragon/catalog-sync/pkg/pubsub"
)

const (
	defaultDeliveryTTL = 24 * time.Hour
	localCounterLimit  = 10000
)

type deliveryStore interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	DeliveryKey(subscription, messageID string) string
}

// DeliveryTracker resolves how many times a message has been delivered. Pub/Sub only
// reports delivery attempts when a dead-letter policy is attached to the subscription,
// so a Redis counter keyed by message id stands in when the broker value is missing.
// While Redis is unreachable an in-process counter keeps the count moving so a failing
// message still reaches its delivery limit.
type DeliveryTracker struct {
	store        deliveryStore
	subscription string
	ttl          time.Duration
	local        *localCounter
	logg         *logger.Logger
}

// NewDeliveryTracker builds a tracker scoped to a subscription.
func NewDeliveryTracker(store deliveryStore, subscription string, ttl time.Duration, logg *logger.Logger) (*DeliveryTracker, error) {
	if store == nil {
		return nil, errors.New("delivery store is required")
	}
	if strings.TrimSpace(subscription) == "" {
		return nil, errors.New("subscription is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if ttl <= 0 {
		ttl = defaultDeliveryTTL
	}
	return &DeliveryTracker{
		store:        store,
		subscription: strings.TrimSpace(subscription),
		ttl:          ttl,
		local:        newLocalCounter(localCounterLimit, ttl),
		logg:         logg,
	}, nil
}

// Resolve returns the 1-based delivery count of msg. It never fails: when Redis is
// unavailable the count comes from the in-process counter.
func (t *DeliveryTracker) Resolve(ctx context.Context, msg pubsub.Message) int {
	if msg.DeliveryAttempt > 0 {
		return msg.DeliveryAttempt
	}
	if t == nil || msg.ID == "" {
		return 1
	}
	count, err := t.store.IncrWithTTL(ctx, t.store.DeliveryKey(t.subscription, msg.ID), t.ttl)
	if err != nil {
		local := t.local.incr(msg.ID)
		t.logg.Warn(t.logg.WithFields(ctx, map[string]any{
			"message_id":     msg.ID,
			"delivery_count": local,
			"error":          err.Error(),
		}), "delivery counter unavailable, counting in process")
		return local
	}
	if local := t.local.peek(msg.ID); local > int(count) {
		return local
	}
	if count < 1 {
		return 1
	}
	return int(count)
}

// Forget drops the counter once a message has been settled.
func (t *DeliveryTracker) Forget(ctx context.Context, messageID string) {
	if t == nil || messageID == "" {
		return
	}
	t.local.forget(messageID)
	if _, err := t.store.Del(ctx, t.store.DeliveryKey(t.subscription, messageID)); err != nil {
		t.logg.Debug(t.logg.WithField(ctx, "message_id", messageID), "failed to clear delivery counter")
	}
}

type localCount struct {
	n       int
	expires time.Time
}

// localCounter is a bounded per-process delivery counter with expiring entries.
type localCounter struct {
	mu      sync.Mutex
	entries map[string]localCount
	limit   int
	ttl     time.Duration
	now     func() time.Time
}

func newLocalCounter(limit int, ttl time.Duration) *localCounter {
	return &localCounter{
		entries: make(map[string]localCount),
		limit:   limit,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (l *localCounter) incr(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.entries[id]
	if !ok || now.After(entry.expires) {
		entry = localCount{}
		if len(l.entries) >= l.limit {
			l.evict(now)
		}
	}
	entry.n++
	entry.expires = now.Add(l.ttl)
	l.entries[id] = entry
	return entry.n
}

func (l *localCounter) peek(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[id]
	if !ok || l.now().After(entry.expires) {
		return 0
	}
	return entry.n
}

func (l *localCounter) forget(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, id)
}

// evict drops expired entries, or the one closest to expiry when none have expired.
func (l *localCounter) evict(now time.Time) {
	var oldestID string
	var oldest time.Time
	for id, entry := range l.entries {
		if now.After(entry.expires) {
			delete(l.entries, id)
			continue
		}
		if oldestID == "" || entry.expires.Before(oldest) {
			oldestID, oldest = id, entry.expires
		}
	}
	if len(l.entries) >= l.limit && oldestID != "" {
		delete(l.entries, oldestID)
	}
}
