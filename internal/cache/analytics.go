package cache

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/catalog-sync/pkg/db/models"
)

const categoryExpr = "COALESCE(category, 'uncategorized')"

// CategoryCount is the number of cached products in one category.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
}

// Analytics aggregates the cached catalog for dashboards and pricing checks.
type Analytics struct {
	TotalProducts    int64               `json:"totalProducts"`
	Available        int64               `json:"available"`
	DisplayOnWeb     int64               `json:"displayOnWeb"`
	RequiresLicense  int64               `json:"requiresLicense"`
	ContractItems    int64               `json:"contractItems"`
	SeatBasedPricing int64               `json:"seatBasedPricing"`
	MinBasePrice     decimal.NullDecimal `json:"minBasePrice"`
	MaxBasePrice     decimal.NullDecimal `json:"maxBasePrice"`
	AvgBasePrice     decimal.NullDecimal `json:"avgBasePrice"`
	ByCategory       []CategoryCount     `json:"byCategory"`
	GeneratedAt      time.Time           `json:"generatedAt"`
}

type analyticsRow struct {
	Total            int64
	Available        int64
	DisplayOnWeb     int64
	RequiresLicense  int64
	ContractItems    int64
	SeatBasedPricing int64
	MinPrice         decimal.NullDecimal
	MaxPrice         decimal.NullDecimal
	AvgPrice         decimal.NullDecimal
}

const analyticsSelect = `
COUNT(*) AS total,
COALESCE(SUM(CASE WHEN is_available THEN 1 ELSE 0 END), 0) AS available,
COALESCE(SUM(CASE WHEN display_on_web THEN 1 ELSE 0 END), 0) AS display_on_web,
COALESCE(SUM(CASE WHEN requires_license THEN 1 ELSE 0 END), 0) AS requires_license,
COALESCE(SUM(CASE WHEN is_contract_item THEN 1 ELSE 0 END), 0) AS contract_items,
COALESCE(SUM(CASE WHEN seat_based_pricing THEN 1 ELSE 0 END), 0) AS seat_based_pricing,
MIN(base_price) AS min_price,
MAX(base_price) AS max_price,
ROUND(AVG(base_price), 2) AS avg_price
`

// Analytics computes flag counts, price range and category distribution.
func (r *Repository) Analytics(ctx context.Context) (*Analytics, error) {
	var row analyticsRow
	if err := r.db.WithContext(ctx).
		Model(&models.ProductCache{}).
		Select(analyticsSelect).
		Scan(&row).Error; err != nil {
		return nil, dbError(err, "aggregate product cache")
	}

	categories := []CategoryCount{}
	if err := r.db.WithContext(ctx).
		Model(&models.ProductCache{}).
		Select(categoryExpr + " AS category, COUNT(*) AS count").
		Group(categoryExpr).
		Order("count DESC, category ASC").
		Scan(&categories).Error; err != nil {
		return nil, dbError(err, "aggregate product cache categories")
	}

	return &Analytics{
		TotalProducts:    row.Total,
		Available:        row.Available,
		DisplayOnWeb:     row.DisplayOnWeb,
		RequiresLicense:  row.RequiresLicense,
		ContractItems:    row.ContractItems,
		SeatBasedPricing: row.SeatBasedPricing,
		MinBasePrice:     row.MinPrice,
		MaxBasePrice:     row.MaxPrice,
		AvgBasePrice:     row.AvgPrice,
		ByCategory:       categories,
		GeneratedAt:      r.now().UTC(),
	}, nil
}
