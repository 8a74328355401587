package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/catalog-sync/pkg/db/models"
	"github.com/angelmondragon/catalog-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/catalog-sync/pkg/errors"
	"github.com/angelmondragon/catalog-sync/pkg/logger"
	"github.com/angelmondragon/catalog-sync/pkg/metrics"
)

// Store is a downstream cache the engine keeps in sync. Upsert reports whether the
// entry was written; Remove reports whether it existed.
type Store interface {
	Name() string
	Upsert(ctx context.Context, entry *models.ProductCache) (bool, error)
	Remove(ctx context.Context, id string) (bool, error)
}

// Notifier receives customer-visible changes. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, ev Event, action enums.SyncAction)
}

// Result describes what the engine did with one event.
type Result struct {
	Action  enums.SyncAction
	Changed bool
	// Stale is set when the primary store kept a newer version of the entry.
	Stale bool
}

// EngineParams wires the engine dependencies. The first store is the primary.
type EngineParams struct {
	Stores   []Store
	Notifier Notifier
	Logger   *logger.Logger
	Metrics  *metrics.SyncMetrics
	Now      func() time.Time
}

// Engine applies lifecycle events to every configured cache store.
type Engine struct {
	stores   []Store
	notifier Notifier
	logg     *logger.Logger
	metrics  *metrics.SyncMetrics
	now      func() time.Time
}

func NewEngine(params EngineParams) (*Engine, error) {
	if len(params.Stores) == 0 {
		return nil, fmt.Errorf("at least one cache store is required")
	}
	for i, store := range params.Stores {
		if store == nil {
			return nil, fmt.Errorf("cache store %d is nil", i)
		}
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		stores:   params.Stores,
		notifier: params.Notifier,
		logg:     params.Logger,
		metrics:  params.Metrics,
		now:      now,
	}, nil
}

// Decide maps an event onto the cache mutation it requires.
func Decide(ev Event) enums.SyncAction {
	switch ev.Type {
	case enums.LifecycleEventCreated:
		if ev.Status.IsActive() {
			return enums.SyncActionUpsert
		}
		return enums.SyncActionNoop
	case enums.LifecycleEventUpdated:
		if ev.Status.IsActive() {
			return enums.SyncActionUpsert
		}
		return enums.SyncActionDelete
	case enums.LifecycleEventLaunched:
		return enums.SyncActionUpsert
	case enums.LifecycleEventDeactivated, enums.LifecycleEventDeleted:
		return enums.SyncActionDelete
	default:
		return enums.SyncActionSkip
	}
}

// Apply performs the mutation chosen by Decide. Payload problems are returned as
// validation errors; store failures are returned as dependency errors so the
// consumer can redeliver.
func (e *Engine) Apply(ctx context.Context, ev Event) (Result, error) {
	ctx = e.logg.WithFields(ctx, map[string]any{
		"event_type":     ev.RawType,
		"correlation_id": ev.CorrelationID,
		"product_id":     ev.ProductID,
	})

	action := Decide(ev)
	e.metrics.IncAction(action.String())

	switch action {
	case enums.SyncActionUpsert:
		return e.upsert(ctx, ev)
	case enums.SyncActionDelete:
		return e.remove(ctx, ev)
	case enums.SyncActionNoop:
		e.logg.Debug(ctx, "inactive product created, nothing to cache")
		return Result{Action: action}, nil
	default:
		e.logg.Warn(ctx, "unrecognized lifecycle event type, skipping")
		return Result{Action: enums.SyncActionSkip}, nil
	}
}

func (e *Engine) upsert(ctx context.Context, ev Event) (Result, error) {
	result := Result{Action: enums.SyncActionUpsert}

	entry, err := BuildEntry(ev, e.now())
	if err != nil {
		return result, err
	}
	if ev.Type == enums.LifecycleEventLaunched {
		entry.Status = enums.ProductStatusActive
	}
	if !entry.Status.IsActive() {
		return result, pkgerrors.New(pkgerrors.CodeValidation, "payload status disagrees with event status").
			WithDetails(map[string]any{"status": entry.Status, "event_status": ev.Status})
	}

	// The primary store decides staleness; secondaries only follow an accepted write.
	primary := e.stores[0]
	written, err := primary.Upsert(ctx, entry)
	if err != nil {
		return result, storeError(fmt.Errorf("%s: %w", primary.Name(), err), "upsert product into cache stores")
	}
	if !written {
		result.Stale = true
		e.logg.Info(ctx, "cache holds a newer version, stale write skipped")
		return result, nil
	}
	result.Changed = true

	var errs error
	for _, store := range e.stores[1:] {
		if _, err := store.Upsert(ctx, entry); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", store.Name(), err))
		}
	}
	if errs != nil {
		return result, storeError(errs, "upsert product into cache stores")
	}

	e.logg.Info(e.logg.WithField(ctx, "source_version", entry.SourceVersion), "product cached")
	if ev.Type == enums.LifecycleEventLaunched {
		e.notify(ctx, ev, result.Action)
	}
	return result, nil
}

func (e *Engine) remove(ctx context.Context, ev Event) (Result, error) {
	result := Result{Action: enums.SyncActionDelete}
	if ev.ProductID == "" {
		return result, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}

	var errs error
	for _, store := range e.stores {
		existed, err := store.Remove(ctx, ev.ProductID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", store.Name(), err))
			continue
		}
		result.Changed = result.Changed || existed
	}
	if errs != nil {
		return result, storeError(errs, "remove product from cache stores")
	}

	if result.Changed {
		e.logg.Info(ctx, "product removed from cache")
	} else {
		e.logg.Debug(ctx, "product already absent from cache")
	}
	if result.Changed && (ev.Type == enums.LifecycleEventDeactivated || ev.Type == enums.LifecycleEventDeleted) {
		e.notify(ctx, ev, result.Action)
	}
	return result, nil
}

func (e *Engine) notify(ctx context.Context, ev Event, action enums.SyncAction) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, ev, action)
}

// storeError keeps a typed store error's code and classifies anything else as a
// retryable dependency failure.
func storeError(err error, message string) error {
	if pkgerrors.As(err) != nil {
		return fmt.Errorf("%s: %w", message, err)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
