package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/angelmondragon/catalog-sync/internal/lifecycle"
	"github.com/angelmondragon/catalog-sync/pkg/db/models"
)

// snapshotResult is what a catalog export yields once inactive products are dropped.
type snapshotResult struct {
	Entries  []*models.ProductCache
	Inactive int
	Invalid  []string
}

// loadSnapshot reads a JSON array of product payloads. Invalid products are reported
// by position and skipped so one bad record does not block a full resync.
func loadSnapshot(r io.Reader, now time.Time) (*snapshotResult, error) {
	var raw []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	result := &snapshotResult{Entries: make([]*models.ProductCache, 0, len(raw))}
	seen := make(map[string]int, len(raw))
	for i, item := range raw {
		entry, err := lifecycle.BuildEntry(lifecycle.Event{Payload: item}, now)
		if err != nil {
			result.Invalid = append(result.Invalid, fmt.Sprintf("#%d: %v", i, err))
			continue
		}
		if !entry.Status.IsActive() {
			result.Inactive++
			continue
		}
		// later records win when an export repeats a product
		if idx, ok := seen[entry.ID]; ok {
			result.Entries[idx] = entry
			continue
		}
		seen[entry.ID] = len(result.Entries)
		result.Entries = append(result.Entries, entry)
	}
	return result, nil
}
