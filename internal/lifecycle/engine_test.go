package lifecycle

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/catalog-sync/pkg/db/models"
	"github.com/angelmondragon/catalog-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/catalog-sync/pkg/errors"
	"github.com/angelmondragon/catalog-sync/pkg/logger"
)

func TestDecide(t *testing.T) {
	cases := []struct {
		name   string
		typ    enums.LifecycleEventType
		status enums.ProductStatus
		want   enums.SyncAction
	}{
		{"created active", enums.LifecycleEventCreated, enums.ProductStatusActive, enums.SyncActionUpsert},
		{"created draft", enums.LifecycleEventCreated, enums.ProductStatusDraft, enums.SyncActionNoop},
		{"updated active", enums.LifecycleEventUpdated, enums.ProductStatusActive, enums.SyncActionUpsert},
		{"updated inactive", enums.LifecycleEventUpdated, enums.ProductStatusInactive, enums.SyncActionDelete},
		{"launched without status", enums.LifecycleEventLaunched, "", enums.SyncActionUpsert},
		{"deactivated", enums.LifecycleEventDeactivated, enums.ProductStatusActive, enums.SyncActionDelete},
		{"deleted", enums.LifecycleEventDeleted, "", enums.SyncActionDelete},
		{"unknown", "", enums.ProductStatusActive, enums.SyncActionSkip},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Decide(Event{Type: tc.typ, Status: tc.status}))
		})
	}
}

func TestEngineLaunchedThenDeactivatedTwice(t *testing.T) {
	store := newMemStore("primary")
	notifier := &recordingNotifier{}
	engine := newTestEngine(t, notifier, store)
	ctx := context.Background()

	launched := decodeEvent(t, `{"eventType":"product.launched","id":"P1","sku":"SKU-1","status":"active","basePrice":10.00}`)
	res, err := engine.Apply(ctx, launched)
	require.NoError(t, err)
	assert.Equal(t, enums.SyncActionUpsert, res.Action)
	assert.True(t, res.Changed)

	entry := store.get("P1")
	require.NotNil(t, entry)
	assert.Equal(t, "SKU-1", entry.SKU)
	assert.Equal(t, "10.00", entry.BasePrice.StringFixed(2))
	assert.Equal(t, enums.ProductStatusActive, entry.Status)
	require.NotNil(t, entry.SyncedAt)
	assert.Equal(t, fixedNow.UTC(), *entry.SyncedAt)

	deactivated := decodeEvent(t, `{"eventType":"product.deactivated","id":"P1"}`)
	res, err = engine.Apply(ctx, deactivated)
	require.NoError(t, err)
	assert.Equal(t, enums.SyncActionDelete, res.Action)
	assert.True(t, res.Changed)
	assert.Nil(t, store.get("P1"))

	res, err = engine.Apply(ctx, deactivated)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Nil(t, store.get("P1"))

	assert.Equal(t, []enums.SyncAction{enums.SyncActionUpsert, enums.SyncActionDelete}, notifier.actions())
}

func TestEngineNeverCachesInactiveProducts(t *testing.T) {
	store := newMemStore("primary")
	engine := newTestEngine(t, nil, store)
	ctx := context.Background()

	for _, body := range []string{
		`{"eventType":"product.created","id":"P2","sku":"SKU-2","status":"draft"}`,
		`{"eventType":"product.updated","id":"P2","sku":"SKU-2","status":"inactive"}`,
	} {
		_, err := engine.Apply(ctx, decodeEvent(t, body))
		require.NoError(t, err)
	}
	assert.Equal(t, 0, store.upserts)
	assert.Nil(t, store.get("P2"))
}

func TestEngineUpdatedInactiveRemovesCachedEntry(t *testing.T) {
	store := newMemStore("primary")
	engine := newTestEngine(t, nil, store)
	ctx := context.Background()

	_, err := engine.Apply(ctx, decodeEvent(t, `{"eventType":"product.updated","id":"P3","sku":"SKU-3","status":"active"}`))
	require.NoError(t, err)
	require.NotNil(t, store.get("P3"))

	res, err := engine.Apply(ctx, decodeEvent(t, `{"eventType":"product.updated","id":"P3","sku":"SKU-3","status":"archived"}`))
	require.NoError(t, err)
	assert.Equal(t, enums.SyncActionDelete, res.Action)
	assert.Nil(t, store.get("P3"))
}

func TestEngineUnknownTypeIsSkipped(t *testing.T) {
	store := newMemStore("primary")
	engine := newTestEngine(t, nil, store)

	res, err := engine.Apply(context.Background(), decodeEvent(t, `{"eventType":"product.repriced","id":"P4","sku":"SKU-4","status":"active"}`))
	require.NoError(t, err)
	assert.Equal(t, enums.SyncActionSkip, res.Action)
	assert.Equal(t, 0, store.upserts)
}

func TestEngineMalformedPayloadIsValidationError(t *testing.T) {
	store := newMemStore("primary")
	engine := newTestEngine(t, nil, store)

	_, err := engine.Apply(context.Background(), decodeEvent(t, `{"eventType":"product.launched","id":"P5","status":"active"}`))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	assert.False(t, pkgerrors.IsRetryable(err))

	_, err = engine.Apply(context.Background(), decodeEvent(t, `{"eventType":"product.deleted"}`))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestEngineStoreFailureIsRetryable(t *testing.T) {
	healthy := newMemStore("primary")
	broken := newMemStore("push")
	broken.err = errors.New("connection refused")
	engine := newTestEngine(t, nil, healthy, broken)

	_, err := engine.Apply(context.Background(), decodeEvent(t, `{"eventType":"product.launched","id":"P6","sku":"SKU-6"}`))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(err))
	assert.True(t, pkgerrors.IsRetryable(err))
	assert.Contains(t, err.Error(), "push")
	assert.NotNil(t, healthy.get("P6"), "healthy store still receives the write")
}

func TestEngineKeepsTypedStoreErrors(t *testing.T) {
	store := newMemStore("primary")
	store.err = pkgerrors.New(pkgerrors.CodeStateConflict, "inactive entry")
	engine := newTestEngine(t, nil, store)

	_, err := engine.Apply(context.Background(), decodeEvent(t, `{"eventType":"product.launched","id":"P7","sku":"SKU-7"}`))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
}

func TestEngineStaleWriteDoesNotNotify(t *testing.T) {
	store := newMemStore("primary")
	store.rejectWrites = true
	notifier := &recordingNotifier{}
	engine := newTestEngine(t, notifier, store)

	res, err := engine.Apply(context.Background(), decodeEvent(t, `{"eventType":"product.launched","id":"P8","sku":"SKU-8"}`))
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Empty(t, notifier.actions())
}

func TestEngineStalePrimarySkipsSecondaryStores(t *testing.T) {
	primary := newMemStore("primary")
	primary.rejectWrites = true
	secondary := newMemStore("push")
	notifier := &recordingNotifier{}
	engine := newTestEngine(t, notifier, primary, secondary)

	res, err := engine.Apply(context.Background(), decodeEvent(t,
		`{"eventType":"product.updated","id":"P9","sku":"SKU-9","status":"active","lastModifiedAt":"2026-01-01T00:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, enums.SyncActionUpsert, res.Action)
	assert.True(t, res.Stale)
	assert.False(t, res.Changed)
	assert.Equal(t, 0, secondary.upserts)
	assert.Nil(t, secondary.get("P9"))
	assert.Empty(t, notifier.actions())
}

func TestEnginePrimaryFailureSkipsSecondaryStores(t *testing.T) {
	primary := newMemStore("primary")
	primary.err = errors.New("connection refused")
	secondary := newMemStore("push")
	engine := newTestEngine(t, nil, primary, secondary)

	_, err := engine.Apply(context.Background(), decodeEvent(t, `{"eventType":"product.launched","id":"P10","sku":"SKU-10"}`))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsRetryable(err))
	assert.Contains(t, err.Error(), "primary")
	assert.Nil(t, secondary.get("P10"))
}

func TestNewEngineRequiresStores(t *testing.T) {
	_, err := NewEngine(EngineParams{Logger: testLogger()})
	require.Error(t, err)
}

var fixedNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, notifier Notifier, stores ...Store) *Engine {
	t.Helper()
	params := EngineParams{
		Stores: stores,
		Logger: testLogger(),
		Now:    func() time.Time { return fixedNow },
	}
	if notifier != nil {
		params.Notifier = notifier
	}
	engine, err := NewEngine(params)
	require.NoError(t, err)
	return engine
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "lifecycle-test", Output: io.Discard})
}

func decodeEvent(t *testing.T, body string) Event {
	t.Helper()
	ev, err := Decode("msg-1", []byte(body), nil, 1)
	require.NoError(t, err)
	return ev
}

type memStore struct {
	name         string
	mu           sync.Mutex
	entries      map[string]models.ProductCache
	upserts      int
	err          error
	rejectWrites bool
}

func newMemStore(name string) *memStore {
	return &memStore{name: name, entries: map[string]models.ProductCache{}}
}

func (s *memStore) Name() string { return s.name }

func (s *memStore) Upsert(_ context.Context, entry *models.ProductCache) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if s.rejectWrites {
		return false, nil
	}
	s.upserts++
	s.entries[entry.ID] = *entry
	return true, nil
}

func (s *memStore) Remove(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	_, ok := s.entries[id]
	delete(s.entries, id)
	return ok, nil
}

func (s *memStore) get(id string) *models.ProductCache {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil
	}
	return &entry
}

type recordingNotifier struct {
	mu   sync.Mutex
	seen []enums.SyncAction
}

func (n *recordingNotifier) Notify(_ context.Context, _ Event, action enums.SyncAction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, action)
}

func (n *recordingNotifier) actions() []enums.SyncAction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]enums.SyncAction(nil), n.seen...)
}
