package cache

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/catalog-sync/pkg/db/models"
)

const issueSampleSize = 20

// Issue classes reported by GetSyncStatus.
const (
	IssueStale    = "stale"
	IssueUnsynced = "unsynced"
)

// Overall states reported by HealthCheck.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthError    = "error"
)

// SyncIssue is one class of problem found in the cache.
type SyncIssue struct {
	Kind      string   `json:"kind"`
	Count     int64    `json:"count"`
	Message   string   `json:"message"`
	SampleIDs []string `json:"sampleIds,omitempty"`
}

// SyncStatus is computed on demand from product_cache and never stored.
type SyncStatus struct {
	Total              int64       `json:"total"`
	Synced             int64       `json:"synced"`
	Unsynced           int64       `json:"unsynced"`
	Stale              int64       `json:"stale"`
	OldestSyncedAt     *time.Time  `json:"oldestSyncedAt,omitempty"`
	NewestSyncedAt     *time.Time  `json:"newestSyncedAt,omitempty"`
	StalenessThreshold string      `json:"stalenessThreshold"`
	Issues             []SyncIssue `json:"issues"`
	Healthy            bool        `json:"healthy"`
	CheckedAt          time.Time   `json:"checkedAt"`
}

// HealthReport composes connectivity, sync status and counts.
type HealthReport struct {
	Status       string      `json:"status"`
	Database     string      `json:"database"`
	TotalEntries int64       `json:"totalEntries"`
	Sync         *SyncStatus `json:"sync,omitempty"`
	Error        string      `json:"error,omitempty"`
	CheckedAt    time.Time   `json:"checkedAt"`
}

type syncedAtRow struct {
	SyncedAt *time.Time
}

// GetSyncStatus compares every entry's syncedAt against the staleness threshold.
// Entries without syncedAt are reported as their own issue class.
func (r *Repository) GetSyncStatus(ctx context.Context) (*SyncStatus, error) {
	now := r.now().UTC()
	cutoff := now.Add(-r.staleness)
	status := &SyncStatus{
		StalenessThreshold: r.staleness.String(),
		Issues:             []SyncIssue{},
		CheckedAt:          now,
	}

	base := func() *gorm.DB { return r.db.WithContext(ctx).Model(&models.ProductCache{}) }

	if err := base().Count(&status.Total).Error; err != nil {
		return nil, dbError(err, "count product cache entries")
	}
	if err := base().Where("synced_at IS NULL").Count(&status.Unsynced).Error; err != nil {
		return nil, dbError(err, "count unsynced entries")
	}
	if err := base().Where("synced_at < ?", cutoff).Count(&status.Stale).Error; err != nil {
		return nil, dbError(err, "count stale entries")
	}
	status.Synced = status.Total - status.Unsynced

	var oldest, newest syncedAtRow
	if err := base().Select("synced_at").Where("synced_at IS NOT NULL").Order("synced_at ASC").Limit(1).Scan(&oldest).Error; err != nil {
		return nil, dbError(err, "load oldest sync time")
	}
	if err := base().Select("synced_at").Where("synced_at IS NOT NULL").Order("synced_at DESC").Limit(1).Scan(&newest).Error; err != nil {
		return nil, dbError(err, "load newest sync time")
	}
	status.OldestSyncedAt = utcMicro(oldest.SyncedAt)
	status.NewestSyncedAt = utcMicro(newest.SyncedAt)

	if status.Stale > 0 {
		var ids []string
		if err := base().Where("synced_at < ?", cutoff).Order("synced_at ASC").Limit(issueSampleSize).Pluck("id", &ids).Error; err != nil {
			return nil, dbError(err, "sample stale entries")
		}
		status.Issues = append(status.Issues, SyncIssue{
			Kind:      IssueStale,
			Count:     status.Stale,
			Message:   fmt.Sprintf("%d entries not synced within %s", status.Stale, r.staleness),
			SampleIDs: ids,
		})
	}
	if status.Unsynced > 0 {
		var ids []string
		if err := base().Where("synced_at IS NULL").Order("id ASC").Limit(issueSampleSize).Pluck("id", &ids).Error; err != nil {
			return nil, dbError(err, "sample unsynced entries")
		}
		status.Issues = append(status.Issues, SyncIssue{
			Kind:      IssueUnsynced,
			Count:     status.Unsynced,
			Message:   fmt.Sprintf("%d entries have never been synced", status.Unsynced),
			SampleIDs: ids,
		})
	}

	status.Healthy = len(status.Issues) == 0
	return status, nil
}

// HealthCheck reports healthy, degraded (reachable but issues found) or error
// (store unreachable or unreadable).
func (r *Repository) HealthCheck(ctx context.Context) HealthReport {
	report := HealthReport{Database: "ok", CheckedAt: r.now().UTC()}

	if err := r.Ping(ctx); err != nil {
		report.Status = HealthError
		report.Database = "unreachable"
		report.Error = err.Error()
		return report
	}

	status, err := r.GetSyncStatus(ctx)
	if err != nil {
		report.Status = HealthError
		report.Error = err.Error()
		return report
	}
	report.Sync = status
	report.TotalEntries = status.Total

	if status.Healthy {
		report.Status = HealthHealthy
	} else {
		report.Status = HealthDegraded
	}
	return report
}
