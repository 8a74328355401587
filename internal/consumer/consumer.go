package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angelmondragon/catalog-sync/internal/lifecycle"
	"github.com/angelmondragon/catalog-sync/pkg/config"
	"github.com/angelmondragon/catalog-sync/pkg/db/models"
	"github.com/angelmondragon/catalog-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/catalog-sync/pkg/errors"
	"github.com/angelmondragon/catalog-sync/pkg/logger"
	"github.com/angelmondragon/catalog-sync/pkg/metrics"
	"github.com/angelmondragon/catalog-sync/pkg/pubsub"
)

const (
	defaultPullWait   = 5 * time.Second
	defaultAckWait    = 30 * time.Second
	defaultNakDelay   = 5 * time.Second
	defaultMaxBackoff = 30 * time.Second
	settleTimeout     = 10 * time.Second
	settleMargin      = 5 * time.Second

	outcomeAck        = "ack"
	outcomeNack       = "nack"
	outcomeDeadLetter = "dead_letter"
)

// Broker is the durable subscription the consumer drains.
type Broker interface {
	Pull(ctx context.Context, max int, wait time.Duration) ([]pubsub.Message, error)
	Ack(ctx context.Context, ackIDs ...string) error
	Nack(ctx context.Context, delay time.Duration, ackIDs ...string) error
	Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error)
	DeadLetterTopic() string
}

// Engine applies a decoded lifecycle event.
type Engine interface {
	Apply(ctx context.Context, ev lifecycle.Event) (lifecycle.Result, error)
}

// Auditor receives every consumed message before it is processed. It must not block.
type Auditor interface {
	LogConsumed(ev lifecycle.Event, processingTime time.Duration, err error)
}

type deadLetterWriter interface {
	Insert(ctx context.Context, entry models.SyncDeadLetter) (*models.SyncDeadLetter, error)
}

type deliveryResolver interface {
	Resolve(ctx context.Context, msg pubsub.Message) int
	Forget(ctx context.Context, messageID string)
}

// Params wires the consumer dependencies.
type Params struct {
	Config      config.ConsumerConfig
	Broker      Broker
	Engine      Engine
	Deliveries  deliveryResolver
	DeadLetters deadLetterWriter
	Auditor     Auditor
	Logger      *logger.Logger
	Metrics     *metrics.SyncMetrics
}

// State is a point-in-time view of the pull loop.
type State struct {
	Running      bool      `json:"running"`
	Connected    bool      `json:"connected"`
	LastPoll     time.Time `json:"lastPoll"`
	LastError    string    `json:"lastError,omitempty"`
	Processed    uint64    `json:"processed"`
	Acked        uint64    `json:"acked"`
	Nacked       uint64    `json:"nacked"`
	DeadLettered uint64    `json:"deadLettered"`
}

// Consumer pulls lifecycle messages one batch at a time and settles each one.
type Consumer struct {
	cfg         config.ConsumerConfig
	broker      Broker
	engine      Engine
	deliveries  deliveryResolver
	deadLetters deadLetterWriter
	auditor     Auditor
	logg        *logger.Logger
	metrics     *metrics.SyncMetrics

	running   atomic.Bool
	connected atomic.Bool
	processed atomic.Uint64
	acked     atomic.Uint64
	nacked    atomic.Uint64
	dead      atomic.Uint64

	mu        sync.RWMutex
	lastPoll  time.Time
	lastError string
}

func New(params Params) (*Consumer, error) {
	if params.Broker == nil {
		return nil, errors.New("broker is required")
	}
	if params.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if params.Deliveries == nil {
		return nil, errors.New("delivery tracker is required")
	}
	if params.DeadLetters == nil {
		return nil, errors.New("dead letter repository is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}

	cfg := params.Config
	if cfg.MaxDeliveries < 1 {
		cfg.MaxDeliveries = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.PullWait <= 0 {
		cfg.PullWait = defaultPullWait
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = defaultAckWait
	}
	if cfg.NakDelay <= 0 {
		cfg.NakDelay = defaultNakDelay
	}
	if cfg.ReconnectMaxBackoff <= 0 {
		cfg.ReconnectMaxBackoff = defaultMaxBackoff
	}

	return &Consumer{
		cfg:         cfg,
		broker:      params.Broker,
		engine:      params.Engine,
		deliveries:  params.Deliveries,
		deadLetters: params.DeadLetters,
		auditor:     params.Auditor,
		logg:        params.Logger,
		metrics:     params.Metrics,
	}, nil
}

// Run pulls until ctx is cancelled. Broker failures never end the loop; they are
// retried with doubling backoff. A batch already pulled is always settled.
func (c *Consumer) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("consumer already running")
	}
	defer c.running.Store(false)

	c.logg.Info(ctx, "lifecycle consumer started")
	var backoff time.Duration
	for {
		select {
		case <-ctx.Done():
			c.logg.Info(ctx, "lifecycle consumer stopping")
			return ctx.Err()
		default:
		}

		msgs, err := c.broker.Pull(ctx, c.cfg.BatchSize, c.cfg.PullWait)
		if err != nil {
			if ctx.Err() != nil {
				c.logg.Info(ctx, "lifecycle consumer stopping")
				return ctx.Err()
			}
			c.markPoll(err)
			c.metrics.IncFetchError()
			backoff = nextBackoff(backoff, baseBackoff, c.cfg.ReconnectMaxBackoff)
			c.logg.Error(c.logg.WithField(ctx, "retry_in", backoff.String()), "lifecycle pull failed", err)
			if err := sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}
		c.markPoll(nil)
		backoff = 0

		batchCtx := context.WithoutCancel(ctx)
		for _, msg := range msgs {
			c.handle(batchCtx, msg)
		}
	}
}

// handle processes one message and settles it. The returned outcome is used by tests.
func (c *Consumer) handle(ctx context.Context, msg pubsub.Message) string {
	started := time.Now()
	count := c.deliveries.Resolve(ctx, msg)

	ev, err := lifecycle.Decode(msg.ID, msg.Data, msg.Attributes, count)
	if c.auditor != nil {
		c.auditor.LogConsumed(ev, time.Since(started), err)
	}

	logCtx := c.logg.WithDelivery(ctx, logger.Delivery{
		MessageID:     msg.ID,
		CorrelationID: ev.CorrelationID,
		ProductID:     ev.ProductID,
		EventType:     ev.RawType,
		Attempt:       count,
	})

	if err == nil {
		applyCtx, cancel := context.WithTimeout(logCtx, c.applyTimeout())
		_, err = c.engine.Apply(applyCtx, ev)
		cancel()
	}
	c.metrics.ObserveProcessing(ev.RawType, time.Since(started))
	c.processed.Add(1)

	if err == nil {
		c.ack(logCtx, msg)
		c.acked.Add(1)
		c.metrics.IncMessage(outcomeAck)
		return outcomeAck
	}

	if count < c.cfg.MaxDeliveries {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "lifecycle event failed, scheduling redelivery")
		c.nack(logCtx, msg, count)
		c.nacked.Add(1)
		c.metrics.IncMessage(outcomeNack)
		return outcomeNack
	}

	return c.terminal(logCtx, msg, ev, count, err)
}

// applyTimeout leaves room to settle the message before its ack deadline passes.
func (c *Consumer) applyTimeout() time.Duration {
	timeout := c.cfg.AckWait - settleMargin
	if floor := c.cfg.AckWait / 2; timeout < floor {
		timeout = floor
	}
	return timeout
}

// terminal records the message as a dead letter and acks it. When the dead letter
// cannot be written the message is nacked instead so it is never dropped.
func (c *Consumer) terminal(ctx context.Context, msg pubsub.Message, ev lifecycle.Event, count int, cause error) string {
	reason := enums.DeadLetterReasonMaxDeliveries
	if !pkgerrors.IsRetryable(cause) {
		reason = enums.DeadLetterReasonNonRetryable
	}
	ctx = c.logg.WithFields(ctx, map[string]any{
		"error_reason": reason,
		"error":        cause.Error(),
		"error_dump":   pkgerrors.Dump(cause),
	})
	c.logg.Warn(ctx, "lifecycle event will not be retried")

	entry := models.SyncDeadLetter{
		MessageID:     msg.ID,
		EventType:     ev.RawType,
		CorrelationID: ev.CorrelationID,
		Payload:       jsonPayload(msg.Data),
		Reason:        reason,
		ErrorMessage:  errorMessage(cause),
		DeliveryCount: count,
		FailedAt:      time.Now().UTC(),
	}
	if ev.ProductID != "" {
		productID := ev.ProductID
		entry.ProductID = &productID
	}

	settleCtx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()
	if _, err := c.deadLetters.Insert(settleCtx, entry); err != nil {
		c.logg.Error(ctx, "failed to record dead letter, redelivering", err)
		c.nack(ctx, msg, count)
		c.nacked.Add(1)
		c.metrics.IncMessage(outcomeNack)
		return outcomeNack
	}

	if topic := c.broker.DeadLetterTopic(); topic != "" {
		attrs := copyAttributes(msg.Attributes)
		attrs["dead_letter_reason"] = string(reason)
		attrs["delivery_count"] = strconv.Itoa(count)
		attrs["source_message_id"] = msg.ID
		if _, err := c.broker.Publish(settleCtx, topic, msg.Data, attrs); err != nil {
			c.logg.Error(c.logg.WithField(ctx, "topic", topic), "failed to publish dead letter", err)
		}
	}

	c.ack(ctx, msg)
	c.dead.Add(1)
	c.metrics.IncMessage(outcomeDeadLetter)
	return outcomeDeadLetter
}

func (c *Consumer) ack(ctx context.Context, msg pubsub.Message) {
	settleCtx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()
	if err := c.broker.Ack(settleCtx, msg.AckID); err != nil {
		c.logg.Error(ctx, "failed to ack lifecycle message", err)
		return
	}
	c.deliveries.Forget(settleCtx, msg.ID)
}

func (c *Consumer) nack(ctx context.Context, msg pubsub.Message, count int) {
	settleCtx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()
	if err := c.broker.Nack(settleCtx, c.redeliveryDelay(count), msg.AckID); err != nil {
		c.logg.Error(ctx, "failed to nack lifecycle message", err)
	}
}

// redeliveryDelay grows linearly with the delivery count, capped at the broker maximum.
func (c *Consumer) redeliveryDelay(count int) time.Duration {
	if count < 1 {
		count = 1
	}
	delay := c.cfg.NakDelay * time.Duration(count)
	if delay > pubsub.MaxAckDeadline || delay <= 0 {
		return pubsub.MaxAckDeadline
	}
	return delay
}

func (c *Consumer) markPoll(err error) {
	c.connected.Store(err == nil)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPoll = time.Now().UTC()
	if err != nil {
		c.lastError = err.Error()
	} else {
		c.lastError = ""
	}
}

// State reports the loop status for health checks.
func (c *Consumer) State() State {
	c.mu.RLock()
	lastPoll, lastError := c.lastPoll, c.lastError
	c.mu.RUnlock()
	return State{
		Running:      c.running.Load(),
		Connected:    c.connected.Load(),
		LastPoll:     lastPoll,
		LastError:    lastError,
		Processed:    c.processed.Load(),
		Acked:        c.acked.Load(),
		Nacked:       c.nacked.Load(),
		DeadLettered: c.dead.Load(),
	}
}

func jsonPayload(data []byte) string {
	if len(data) == 0 {
		return "null"
	}
	if json.Valid(data) {
		return string(data)
	}
	encoded, err := json.Marshal(string(data))
	if err != nil {
		return "null"
	}
	return string(encoded)
}

func errorMessage(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}

func copyAttributes(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs)+3)
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
