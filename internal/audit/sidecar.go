package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/catalog-sync/internal/lifecycle"
	"github.com/angelmondragon/catalog-sync/pkg/enums"
	"github.com/angelmondragon/catalog-sync/pkg/logger"
	"github.com/angelmondragon/catalog-sync/pkg/metrics"
)

const (
	defaultBufferSize   = 256
	defaultSinkTimeout  = 5 * time.Second
	defaultSourceSystem = "catalog-sync"
	errorBufferSize     = 32
	drainTimeout        = 5 * time.Second
)

// SidecarParams wires the sidecar dependencies.
type SidecarParams struct {
	SourceSystem string
	BufferSize   int
	SinkTimeout  time.Duration
	Sinks        []Sink
	Logger       *logger.Logger
	Metrics      *metrics.SyncMetrics
}

// Sidecar writes audit records off the processing path. Enqueueing never blocks and
// sink failures never reach the caller; they surface on Errors and in the logs.
type Sidecar struct {
	source      string
	sinks       []Sink
	sinkTimeout time.Duration
	records     chan Record
	errs        chan error
	logg        *logger.Logger
	metrics     *metrics.SyncMetrics
}

func NewSidecar(params SidecarParams) (*Sidecar, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	for _, sink := range params.Sinks {
		if sink == nil {
			return nil, errors.New("audit sink is nil")
		}
	}
	size := params.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	timeout := params.SinkTimeout
	if timeout <= 0 {
		timeout = defaultSinkTimeout
	}
	source := strings.TrimSpace(params.SourceSystem)
	if source == "" {
		source = defaultSourceSystem
	}
	return &Sidecar{
		source:      source,
		sinks:       params.Sinks,
		sinkTimeout: timeout,
		records:     make(chan Record, size),
		errs:        make(chan error, errorBufferSize),
		logg:        params.Logger,
		metrics:     params.Metrics,
	}, nil
}

// LogConsumed records a message taken off the subscription. Redeliveries show up as
// records with a non-zero retry count.
func (s *Sidecar) LogConsumed(ev lifecycle.Event, processingTime time.Duration, err error) {
	rec := newRecord(enums.AuditMessageConsumed, s.source, ev, ev.Payload, err)
	rec.ProcessingTimeMs = processingTime.Milliseconds()
	s.enqueue(rec)
}

// LogPublished records a message this service emitted, such as a change notification.
func (s *Sidecar) LogPublished(ev lifecycle.Event, payload []byte, err error) {
	s.enqueue(newRecord(enums.AuditMessagePublished, s.source, ev, payload, err))
}

func (s *Sidecar) enqueue(rec Record) {
	if s == nil {
		return
	}
	select {
	case s.records <- rec:
	default:
		s.metrics.IncAuditDropped()
		s.logg.Warn(s.logg.WithFields(context.Background(), map[string]any{
			"message_type":   rec.MessageType,
			"event_type":     rec.EventType,
			"correlation_id": rec.CorrelationID,
		}), "audit buffer full, record dropped")
	}
}

// Errors exposes sink failures. Failures are dropped when nobody reads them.
func (s *Sidecar) Errors() <-chan error {
	return s.errs
}

// Run writes queued records until ctx is cancelled, then flushes what is already
// buffered within a short deadline.
func (s *Sidecar) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return nil
		case rec := <-s.records:
			s.write(ctx, rec)
		}
	}
}

func (s *Sidecar) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case rec := <-s.records:
			s.write(ctx, rec)
		default:
			return
		}
	}
}

func (s *Sidecar) write(ctx context.Context, rec Record) {
	for _, sink := range s.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, s.sinkTimeout)
		err := sink.Write(sinkCtx, rec)
		cancel()
		if err == nil {
			continue
		}
		s.metrics.IncAuditFailure(sink.Name())
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"sink":           sink.Name(),
			"correlation_id": rec.CorrelationID,
			"error":          err.Error(),
		}), "audit sink write failed")
		select {
		case s.errs <- &SinkError{Sink: sink.Name(), Record: rec, Err: err}:
		default:
		}
	}
}
