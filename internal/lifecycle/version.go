package lifecycle

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/angelmondragon/catalog-sync/pkg/db/models"
)

// SourceVersion is a content hash over identity, price and the source modification
// time. Equal hashes mean a redundant write; the hash does not order writes.
func SourceVersion(entry *models.ProductCache) string {
	if entry == nil {
		return ""
	}
	modified := ""
	if entry.LastModifiedAt != nil {
		modified = entry.LastModifiedAt.UTC().Format(time.RFC3339Nano)
	}
	parts := []string{entry.ID, entry.SKU, entry.BasePrice.StringFixed(2), modified}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
