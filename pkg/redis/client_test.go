package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/catalog-sync/pkg/config"
)

func TestIncrWithTTLSetsExpiryOnce(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := NewFromCmdable(mock)
	key := client.DeliveryKey("catalog-sync", "msg-1")

	for want := int64(1); want <= 3; want++ {
		got, err := client.IncrWithTTL(ctx, key, time.Hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Fatalf("expected counter %d got %d", want, got)
		}
	}
	if mock.evalCalls != 3 {
		t.Fatalf("expected one round trip per increment, got %d", mock.evalCalls)
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expected a single expire call, got %d", len(mock.expireCalls))
	}
	if mock.expireCalls[0].ttl != time.Hour {
		t.Fatalf("unexpected ttl %v", mock.expireCalls[0].ttl)
	}
}

func TestIncrWithTTLFailureLeavesNoCounter(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	mock.evalErr = errors.New("connection reset")
	client := NewFromCmdable(mock)
	key := client.DeliveryKey("catalog-sync", "msg-2")

	if _, err := client.IncrWithTTL(ctx, key, time.Hour); err == nil {
		t.Fatalf("expected the eval error to surface")
	}
	if _, ok := mock.incr[key]; ok {
		t.Fatalf("a failed increment must not leave a counter behind")
	}

	mock.evalErr = nil
	got, err := client.IncrWithTTL(ctx, key, time.Hour)
	if err != nil || got != 1 {
		t.Fatalf("expected counter 1 after recovery, got %d err=%v", got, err)
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expected the recovered counter to carry a ttl, got %d expire calls", len(mock.expireCalls))
	}
}

func TestIncrWithTTLScriptSetsExpiryAtomically(t *testing.T) {
	for _, cmd := range []string{"INCR", "PTTL", "PEXPIRE"} {
		if !strings.Contains(incrWithTTLScript, cmd) {
			t.Fatalf("script should call %s", cmd)
		}
	}
}

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	client := NewFromCmdable(newMockCmdable())
	key := client.SnapshotKey("product", "P1")

	if err := client.Set(ctx, key, `{"id":"P1"}`, 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	value, err := client.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if value != `{"id":"P1"}` {
		t.Fatalf("unexpected value %q", value)
	}

	removed, err := client.Del(ctx, key)
	if err != nil || removed != 1 {
		t.Fatalf("expected one key removed, got %d err=%v", removed, err)
	}
	removed, err = client.Del(ctx, key)
	if err != nil || removed != 0 {
		t.Fatalf("expected no key removed on second delete, got %d err=%v", removed, err)
	}
	if _, err := client.Get(ctx, key); err != Nil {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.DeliveryKey("catalog-sync", "123"); got != "cs:delivery:catalog-sync:123" {
		t.Fatalf("unexpected delivery key %s", got)
	}
	if got := client.SnapshotKey("product", "P1"); got != "cs:snapshot:product:P1" {
		t.Fatalf("unexpected snapshot key %s", got)
	}
	if got := client.DeliveryKey("", "123"); got != "cs:delivery:123" {
		t.Fatalf("empty parts should be skipped, got %s", got)
	}
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	if err := client.Ping(context.Background()); err == nil {
		t.Fatalf("expected error from uninitialized client")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close on uninitialized client should be a no-op, got %v", err)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6379/2", PoolSize: 7, DialTimeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.DB != 2 || opts.PoolSize != 7 || opts.DialTimeout != time.Second {
		t.Fatalf("unexpected options %+v", opts)
	}
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatalf("expected error without url or address")
	}
}

type mockCmdable struct {
	data        map[string]string
	incr        map[string]int64
	ttls        map[string]time.Duration
	expireCalls []expireCall
	evalCalls   int
	evalErr     error
}

type expireCall struct {
	key string
	ttl time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		incr: make(map[string]int64),
		ttls: make(map[string]time.Duration),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

// Eval mirrors incrWithTTLScript: increment, then set the ttl when the key has none.
func (m *mockCmdable) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	m.evalCalls++
	if m.evalErr != nil {
		return redis.NewCmdResult(nil, m.evalErr)
	}
	key := keys[0]
	m.incr[key]++
	if ms, _ := args[0].(int64); ms > 0 {
		if _, ok := m.ttls[key]; !ok {
			ttl := time.Duration(ms) * time.Millisecond
			m.ttls[key] = ttl
			m.expireCalls = append(m.expireCalls, expireCall{key: key, ttl: ttl})
		}
	}
	return redis.NewCmdResult(m.incr[key], nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var removed int64
	for _, key := range keys {
		if _, ok := m.data[key]; ok {
			removed++
		}
		delete(m.data, key)
	}
	return redis.NewIntResult(removed, nil)
}
