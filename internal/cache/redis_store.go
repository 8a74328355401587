package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/catalog-sync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/catalog-sync/pkg/errors"
	"github.com/angelmondragon/catalog-sync/pkg/redis"
)

const (
	redisStoreName = "redis-snapshot"
	snapshotKind   = "product"
)

// SnapshotKV is the redis surface the snapshot store needs.
type SnapshotKV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	SnapshotKey(kind, id string) string
}

// RedisStore keeps a JSON snapshot of each active product for low-latency reads.
type RedisStore struct {
	kv  SnapshotKV
	ttl time.Duration
}

// NewRedisStore builds the snapshot store. A zero ttl keeps snapshots until removed.
func NewRedisStore(kv SnapshotKV, ttl time.Duration) *RedisStore {
	return &RedisStore{kv: kv, ttl: ttl}
}

func (s *RedisStore) Name() string {
	return redisStoreName
}

// Upsert writes the snapshot unless the stored one has a newer lastModifiedAt.
func (s *RedisStore) Upsert(ctx context.Context, entry *models.ProductCache) (bool, error) {
	if err := checkEntry(entry); err != nil {
		return false, err
	}
	key := s.kv.SnapshotKey(snapshotKind, entry.ID)

	current, err := s.Get(ctx, entry.ID)
	if err != nil && pkgerrors.CodeOf(err) != pkgerrors.CodeNotFound {
		return false, err
	}
	if current != nil && isNewer(current.LastModifiedAt, entry.LastModifiedAt) {
		return false, nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal product snapshot")
	}
	if err := s.kv.Set(ctx, key, string(data), s.ttl); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write product snapshot")
	}
	return true, nil
}

// Remove deletes the snapshot and reports whether it existed.
func (s *RedisStore) Remove(ctx context.Context, id string) (bool, error) {
	if strings.TrimSpace(id) == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	n, err := s.kv.Del(ctx, s.kv.SnapshotKey(snapshotKind, id))
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete product snapshot")
	}
	return n > 0, nil
}

// Get loads a snapshot by product id.
func (s *RedisStore) Get(ctx context.Context, id string) (*models.ProductCache, error) {
	raw, err := s.kv.Get(ctx, s.kv.SnapshotKey(snapshotKind, id))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product snapshot not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read product snapshot")
	}
	var entry models.ProductCache
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode product snapshot")
	}
	return &entry, nil
}

func isNewer(stored, incoming *time.Time) bool {
	if stored == nil || incoming == nil {
		return false
	}
	return stored.After(*incoming)
}
