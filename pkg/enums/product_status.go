package enums

import "strings"

// ProductStatus is the source record status carried on lifecycle events.
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusDraft    ProductStatus = "draft"
	ProductStatusInactive ProductStatus = "inactive"
	ProductStatusArchived ProductStatus = "archived"
)

// NormalizeProductStatus lowercases and trims the raw status. Unknown statuses are
// kept as-is; only active matters to the cache.
func NormalizeProductStatus(value string) ProductStatus {
	return ProductStatus(strings.ToLower(strings.TrimSpace(value)))
}

// IsActive reports whether the status allows the product into the cache.
func (s ProductStatus) IsActive() bool {
	return s == ProductStatusActive
}

func (s ProductStatus) String() string {
	return string(s)
}
