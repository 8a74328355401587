package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/catalog-sync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/catalog-sync/pkg/errors"
)

const (
	storeName                 = "product_cache"
	bulkBatchSize             = 100
	DefaultStalenessThreshold = 24 * time.Hour
)

// ErrInactiveEntry is returned when a caller tries to cache a product that is not active.
var ErrInactiveEntry = pkgerrors.New(pkgerrors.CodeStateConflict, "only active products may be cached")

// staleWriteGuard keeps the stored row when it carries a newer source modification time.
var staleWriteGuard = clause.Where{Exprs: []clause.Expression{clause.Expr{
	SQL: "excluded.last_modified_at IS NULL OR product_cache.last_modified_at IS NULL OR excluded.last_modified_at >= product_cache.last_modified_at",
}}}

// Repository is the only writer of the product_cache table.
type Repository struct {
	db        *gorm.DB
	staleness time.Duration
	now       func() time.Time
}

// NewRepository builds a repository tied to the provided GORM DB. A zero staleness
// threshold falls back to DefaultStalenessThreshold.
func NewRepository(db *gorm.DB, staleness time.Duration) *Repository {
	if staleness <= 0 {
		staleness = DefaultStalenessThreshold
	}
	return &Repository{db: db, staleness: staleness, now: time.Now}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx, staleness: r.staleness, now: r.now}
}

// Name identifies the store in fan-out errors.
func (r *Repository) Name() string {
	return storeName
}

// Upsert inserts the entry or overwrites every column of the existing row. It reports
// false when the stored row has a newer lastModifiedAt and was kept.
func (r *Repository) Upsert(ctx context.Context, entry *models.ProductCache) (bool, error) {
	if err := checkEntry(entry); err != nil {
		return false, err
	}
	normalizeEntry(entry)

	res := r.db.WithContext(ctx).Clauses(upsertClause()).Create(entry)
	if res.Error != nil {
		return false, dbError(res.Error, "upsert product cache entry")
	}
	return res.RowsAffected > 0, nil
}

// BulkUpsert validates every entry, then writes them in batches inside one transaction.
// It returns the number of rows written.
func (r *Repository) BulkUpsert(ctx context.Context, entries []*models.ProductCache) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	for _, entry := range entries {
		if err := checkEntry(entry); err != nil {
			return 0, err
		}
		normalizeEntry(entry)
	}

	written := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := bulkWrite(tx, entries)
		written = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// Replace clears the table and loads the given entries in one transaction (full resync).
func (r *Repository) Replace(ctx context.Context, entries []*models.ProductCache) (removed int64, written int, err error) {
	for _, entry := range entries {
		if err := checkEntry(entry); err != nil {
			return 0, 0, err
		}
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := r.WithTx(tx)
		n, err := txRepo.Clear(ctx)
		if err != nil {
			return err
		}
		removed = n
		written, err = txRepo.BulkUpsert(ctx, entries)
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	return removed, written, nil
}

func bulkWrite(tx *gorm.DB, entries []*models.ProductCache) (int, error) {
	written := 0
	for start := 0; start < len(entries); start += bulkBatchSize {
		end := start + bulkBatchSize
		if end > len(entries) {
			end = len(entries)
		}
		batch := entries[start:end]
		res := tx.Clauses(upsertClause()).Create(&batch)
		if res.Error != nil {
			return written, dbError(res.Error, "bulk upsert product cache entries")
		}
		written += int(res.RowsAffected)
	}
	return written, nil
}

// Remove deletes the entry by id and reports whether it existed.
func (r *Repository) Remove(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.ProductCache{})
	if res.Error != nil {
		return false, dbError(res.Error, "remove product cache entry")
	}
	return res.RowsAffected > 0, nil
}

// RemoveBySKU deletes every entry with the given sku and reports whether any existed.
func (r *Repository) RemoveBySKU(ctx context.Context, sku string) (bool, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "sku is required")
	}
	res := r.db.WithContext(ctx).Where("sku = ?", sku).Delete(&models.ProductCache{})
	if res.Error != nil {
		return false, dbError(res.Error, "remove product cache entry by sku")
	}
	return res.RowsAffected > 0, nil
}

// Clear removes every entry. Only full resyncs call it.
func (r *Repository) Clear(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.ProductCache{})
	if res.Error != nil {
		return 0, dbError(res.Error, "clear product cache")
	}
	return res.RowsAffected, nil
}

// Get loads one entry by id.
func (r *Repository) Get(ctx context.Context, id string) (*models.ProductCache, error) {
	var entry models.ProductCache
	if err := r.db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not cached")
		}
		return nil, dbError(err, "load product cache entry")
	}
	return &entry, nil
}

// Count returns the number of cached entries.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.ProductCache{}).Count(&total).Error; err != nil {
		return 0, dbError(err, "count product cache entries")
	}
	return total, nil
}

// Ping verifies the underlying connection.
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return dbError(err, "get sql db handle")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ping cache database")
	}
	return nil
}

func upsertClause() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(models.ProductCacheColumns),
		Where:     staleWriteGuard,
	}
}

func checkEntry(entry *models.ProductCache) error {
	if entry == nil || strings.TrimSpace(entry.ID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if !entry.Status.IsActive() {
		return fmt.Errorf("%w: product %s has status %q", ErrInactiveEntry, entry.ID, entry.Status)
	}
	return nil
}

func normalizeEntry(entry *models.ProductCache) {
	entry.LastModifiedAt = utcMicro(entry.LastModifiedAt)
	entry.SyncedAt = utcMicro(entry.SyncedAt)
}

func utcMicro(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC().Truncate(time.Microsecond)
	return &v
}

func dbError(err error, message string) error {
	if pkgerrors.IsTransientDB(err) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, message)
}
