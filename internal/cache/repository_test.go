package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/catalog-sync/pkg/db/models"
	"github.com/angelmondragon/catalog-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/catalog-sync/pkg/errors"
)

var testNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func setupCacheTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.ProductCache{}))
	return db
}

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repo := NewRepository(setupCacheTestDB(t), 0)
	repo.now = func() time.Time { return testNow }
	return repo
}

func activeEntry(id string, syncedAt time.Time) *models.ProductCache {
	synced := syncedAt
	return &models.ProductCache{
		ID:           id,
		SKU:          "SKU-" + id,
		Name:         "Product " + id,
		Status:       enums.ProductStatusActive,
		BasePrice:    decimal.RequireFromString("10.00"),
		Currency:     "USD",
		IsAvailable:  true,
		PricingTiers: []models.PricingTier{{MinQuantity: 10, UnitPrice: decimal.RequireFromString("9.50")}},
		Approvals:    []models.Approval{{Approver: "pricing", Status: "approved"}},
		Tags:         []string{"core"},
		SyncedAt:     &synced,
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	var last time.Time
	for i := 0; i < 3; i++ {
		last = testNow.Add(time.Duration(i) * time.Minute)
		written, err := repo.Upsert(ctx, activeEntry("P1", last))
		require.NoError(t, err)
		assert.True(t, written)
	}

	total, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	got, err := repo.Get(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "SKU-P1", got.SKU)
	assert.True(t, got.BasePrice.Equal(decimal.RequireFromString("10")))
	require.Len(t, got.PricingTiers, 1)
	assert.True(t, got.PricingTiers[0].UnitPrice.Equal(decimal.RequireFromString("9.5")))
	assert.Equal(t, []string{"core"}, got.Tags)
	require.NotNil(t, got.SyncedAt)
	assert.True(t, got.SyncedAt.Equal(last), "syncedAt advances on every write")
}

func TestUpsertOverwritesAllFields(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, activeEntry("P1", testNow))
	require.NoError(t, err)

	updated := activeEntry("P1", testNow.Add(time.Minute))
	updated.Name = "Renamed"
	updated.IsAvailable = false
	updated.Tags = []string{}
	updated.BasePrice = decimal.RequireFromString("12.25")
	_, err = repo.Upsert(ctx, updated)
	require.NoError(t, err)

	got, err := repo.Get(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.False(t, got.IsAvailable)
	assert.Empty(t, got.Tags)
	assert.Equal(t, "12.25", got.BasePrice.StringFixed(2))
}

func TestUpsertRejectsNonActive(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	for _, status := range []enums.ProductStatus{enums.ProductStatusDraft, enums.ProductStatusInactive, ""} {
		entry := activeEntry("P1", testNow)
		entry.Status = status
		written, err := repo.Upsert(ctx, entry)
		require.Error(t, err)
		assert.False(t, written)
		assert.True(t, errors.Is(err, ErrInactiveEntry))
		assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
	}

	total, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestUpsertKeepsNewerSourceVersion(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	newer := testNow.Add(-time.Hour)
	older := testNow.Add(-2 * time.Hour)

	first := activeEntry("P1", testNow)
	first.LastModifiedAt = &newer
	first.Name = "newer"
	written, err := repo.Upsert(ctx, first)
	require.NoError(t, err)
	require.True(t, written)

	late := activeEntry("P1", testNow.Add(time.Minute))
	late.LastModifiedAt = &older
	late.Name = "older"
	written, err = repo.Upsert(ctx, late)
	require.NoError(t, err)
	assert.False(t, written, "older source modification must not overwrite")

	got, err := repo.Get(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "newer", got.Name)

	same := activeEntry("P1", testNow.Add(2*time.Minute))
	same.LastModifiedAt = &newer
	same.Name = "replayed"
	written, err = repo.Upsert(ctx, same)
	require.NoError(t, err)
	assert.True(t, written, "replays of the same version still refresh the row")
}

func TestRemoveIsIdempotent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	existed, err := repo.Remove(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = repo.Upsert(ctx, activeEntry("P1", testNow))
	require.NoError(t, err)

	existed, err = repo.Remove(ctx, "P1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = repo.Remove(ctx, "P1")
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = repo.Get(ctx, "P1")
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestRemoveBySKU(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, activeEntry("P1", testNow))
	require.NoError(t, err)

	existed, err := repo.RemoveBySKU(ctx, "SKU-P1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = repo.RemoveBySKU(ctx, "SKU-P1")
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = repo.RemoveBySKU(ctx, " ")
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestBulkUpsertBatches(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	entries := make([]*models.ProductCache, 0, 250)
	for i := 0; i < 250; i++ {
		entries = append(entries, activeEntry(fmt.Sprintf("P%03d", i), testNow))
	}
	written, err := repo.BulkUpsert(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, 250, written)

	total, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(250), total)
}

func TestBulkUpsertRejectsWholeBatchWithInactiveEntry(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	bad := activeEntry("P2", testNow)
	bad.Status = enums.ProductStatusArchived
	_, err := repo.BulkUpsert(ctx, []*models.ProductCache{activeEntry("P1", testNow), bad})
	require.ErrorIs(t, err, ErrInactiveEntry)

	total, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestReplaceAndClear(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.BulkUpsert(ctx, []*models.ProductCache{activeEntry("OLD1", testNow), activeEntry("OLD2", testNow)})
	require.NoError(t, err)

	removed, written, err := repo.Replace(ctx, []*models.ProductCache{activeEntry("NEW1", testNow)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	assert.Equal(t, 1, written)

	_, err = repo.Get(ctx, "OLD1")
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	cleared, err := repo.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)
}

func TestReplaceRollsBackClearWhenLoadFails(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.BulkUpsert(ctx, []*models.ProductCache{activeEntry("OLD1", testNow), activeEntry("OLD2", testNow)})
	require.NoError(t, err)

	loadErr := errors.New("disk full")
	require.NoError(t, repo.db.Callback().Create().Before("gorm:create").Register("test:fail_create", func(tx *gorm.DB) {
		_ = tx.AddError(loadErr)
	}))

	removed, written, err := repo.Replace(ctx, []*models.ProductCache{activeEntry("NEW1", testNow)})
	require.Error(t, err)
	assert.ErrorIs(t, err, loadErr)
	assert.Zero(t, removed)
	assert.Zero(t, written)

	total, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	_, err = repo.Get(ctx, "OLD1")
	require.NoError(t, err)
}

func TestGetSyncStatusDetectsStaleEntries(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, activeEntry("FRESH", testNow.Add(-time.Hour)))
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, activeEntry("STALE", testNow.Add(-30*time.Hour)))
	require.NoError(t, err)

	status, err := repo.GetSyncStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.Healthy)
	assert.Equal(t, int64(2), status.Total)
	assert.Equal(t, int64(1), status.Stale)
	require.Len(t, status.Issues, 1)
	assert.Equal(t, IssueStale, status.Issues[0].Kind)
	assert.Equal(t, []string{"STALE"}, status.Issues[0].SampleIDs)
	require.NotNil(t, status.OldestSyncedAt)
	assert.True(t, status.OldestSyncedAt.Equal(testNow.Add(-30*time.Hour)))
	require.NotNil(t, status.NewestSyncedAt)
	assert.True(t, status.NewestSyncedAt.Equal(testNow.Add(-time.Hour)))
}

func TestGetSyncStatusHealthyWhenFresh(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := repo.Upsert(ctx, activeEntry(fmt.Sprintf("P%d", i), testNow.Add(-time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}

	status, err := repo.GetSyncStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.Empty(t, status.Issues)
	assert.Equal(t, int64(3), status.Synced)
	assert.Equal(t, "24h0m0s", status.StalenessThreshold)
}

func TestGetSyncStatusFlagsUnsyncedEntries(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	entry := activeEntry("NEVER", testNow)
	entry.SyncedAt = nil
	_, err := repo.Upsert(ctx, entry)
	require.NoError(t, err)

	status, err := repo.GetSyncStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.Healthy)
	assert.Equal(t, int64(1), status.Unsynced)
	require.Len(t, status.Issues, 1)
	assert.Equal(t, IssueUnsynced, status.Issues[0].Kind)
}

func TestHealthCheckStates(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	report := repo.HealthCheck(ctx)
	assert.Equal(t, HealthHealthy, report.Status)

	_, err := repo.Upsert(ctx, activeEntry("STALE", testNow.Add(-48*time.Hour)))
	require.NoError(t, err)
	report = repo.HealthCheck(ctx)
	assert.Equal(t, HealthDegraded, report.Status)
	assert.Equal(t, int64(1), report.TotalEntries)

	sqlDB, err := repo.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	report = repo.HealthCheck(ctx)
	assert.Equal(t, HealthError, report.Status)
	assert.Equal(t, "unreachable", report.Database)
	assert.NotEmpty(t, report.Error)
}

func TestAnalytics(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	hardware := "hardware"
	a := activeEntry("A", testNow)
	a.BasePrice = decimal.RequireFromString("10")
	a.Category = &hardware
	a.RequiresLicense = true
	b := activeEntry("B", testNow)
	b.BasePrice = decimal.RequireFromString("20")
	b.Category = &hardware
	b.IsAvailable = false
	c := activeEntry("C", testNow)
	c.BasePrice = decimal.RequireFromString("30")
	c.SeatBasedPricing = true

	_, err := repo.BulkUpsert(ctx, []*models.ProductCache{a, b, c})
	require.NoError(t, err)

	stats, err := repo.Analytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalProducts)
	assert.Equal(t, int64(2), stats.Available)
	assert.Equal(t, int64(1), stats.RequiresLicense)
	assert.Equal(t, int64(1), stats.SeatBasedPricing)
	require.True(t, stats.MinBasePrice.Valid)
	assert.True(t, stats.MinBasePrice.Decimal.Equal(decimal.NewFromInt(10)))
	assert.True(t, stats.MaxBasePrice.Decimal.Equal(decimal.NewFromInt(30)))
	assert.True(t, stats.AvgBasePrice.Decimal.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, []CategoryCount{{Category: "hardware", Count: 2}, {Category: "uncategorized", Count: 1}}, stats.ByCategory)
}

func TestAnalyticsEmptyCache(t *testing.T) {
	repo := newTestRepository(t)

	stats, err := repo.Analytics(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalProducts)
	assert.False(t, stats.MinBasePrice.Valid)
	assert.Empty(t, stats.ByCategory)
}
