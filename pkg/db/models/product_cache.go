package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/catalog-sync/pkg/enums"
)

// ProductCache is the denormalized, read-optimized product snapshot served to
// storefronts and pricing. Only active products are ever stored.
type ProductCache struct {
	ID               string              `gorm:"column:id;primaryKey" json:"id"`
	SKU              string              `gorm:"column:sku;not null;index" json:"sku"`
	Name             string              `gorm:"column:name;not null" json:"name"`
	Description      *string             `gorm:"column:description" json:"description,omitempty"`
	Category         *string             `gorm:"column:category;index" json:"category,omitempty"`
	Status           enums.ProductStatus `gorm:"column:status;not null" json:"status"`
	BasePrice        decimal.Decimal     `gorm:"column:base_price;type:numeric(12,2);not null" json:"basePrice"`
	Currency         string              `gorm:"column:currency;not null" json:"currency"`
	IsAvailable      bool                `gorm:"column:is_available;not null" json:"isAvailable"`
	DisplayOnWeb     bool                `gorm:"column:display_on_web;not null" json:"displayOnWeb"`
	RequiresLicense  bool                `gorm:"column:requires_license;not null" json:"requiresLicense"`
	IsContractItem   bool                `gorm:"column:is_contract_item;not null" json:"isContractItem"`
	SeatBasedPricing bool                `gorm:"column:seat_based_pricing;not null" json:"seatBasedPricing"`
	PricingTiers     []PricingTier       `gorm:"column:pricing_tiers;type:jsonb;serializer:json" json:"pricingTiers"`
	Approvals        []Approval          `gorm:"column:approvals;type:jsonb;serializer:json" json:"approvals"`
	Tags             []string            `gorm:"column:tags;type:jsonb;serializer:json" json:"tags"`
	LastModifiedAt   *time.Time          `gorm:"column:last_modified_at" json:"lastModifiedAt,omitempty"`
	SyncedAt         *time.Time          `gorm:"column:synced_at;index" json:"syncedAt,omitempty"`
	SourceVersion    string              `gorm:"column:source_version;not null" json:"sourceVersion"`
}

func (ProductCache) TableName() string {
	return "product_cache"
}

// PricingTier is a quantity break on the base price.
type PricingTier struct {
	MinQuantity int             `json:"minQuantity"`
	MaxQuantity *int            `json:"maxQuantity,omitempty"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

// Approval records a sign-off on the product (legal, pricing, compliance).
type Approval struct {
	Approver   string     `json:"approver"`
	Role       string     `json:"role,omitempty"`
	Status     string     `json:"status"`
	ApprovedAt *time.Time `json:"approvedAt,omitempty"`
}

// ProductCacheColumns lists every mutable column, used for overwrite-on-conflict upserts.
var ProductCacheColumns = []string{
	"sku",
	"name",
	"description",
	"category",
	"status",
	"base_price",
	"currency",
	"is_available",
	"display_on_web",
	"requires_license",
	"is_contract_item",
	"seat_based_pricing",
	"pricing_tiers",
	"approvals",
	"tags",
	"last_modified_at",
	"synced_at",
	"source_version",
}
