package lifecycle

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/catalog-sync/pkg/db/models"
	"github.com/angelmondragon/catalog-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/catalog-sync/pkg/errors"
)

const defaultCurrency = "USD"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// ProductPayload is the product body carried by upsert-bearing lifecycle events.
type ProductPayload struct {
	ID               string            `json:"id" validate:"required"`
	ProductID        string            `json:"productId"`
	SKU              string            `json:"sku" validate:"required"`
	Name             string            `json:"name"`
	Description      *string           `json:"description"`
	Category         *string           `json:"category"`
	Status           string            `json:"status"`
	BasePrice        *decimal.Decimal  `json:"basePrice"`
	Currency         string            `json:"currency" validate:"omitempty,len=3"`
	IsAvailable      bool              `json:"isAvailable"`
	DisplayOnWeb     bool              `json:"displayOnWeb"`
	RequiresLicense  bool              `json:"requiresLicense"`
	IsContractItem   bool              `json:"isContractItem"`
	SeatBasedPricing bool              `json:"seatBasedPricing"`
	PricingTiers     []PricingTierBody `json:"pricingTiers" validate:"dive"`
	Approvals        []ApprovalBody    `json:"approvals" validate:"dive"`
	Tags             []string          `json:"tags"`
	LastModifiedAt   *time.Time        `json:"lastModifiedAt"`
}

type PricingTierBody struct {
	MinQuantity int             `json:"minQuantity" validate:"gte=0"`
	MaxQuantity *int            `json:"maxQuantity" validate:"omitempty,gte=0"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

type ApprovalBody struct {
	Approver   string     `json:"approver" validate:"required"`
	Role       string     `json:"role"`
	Status     string     `json:"status"`
	ApprovedAt *time.Time `json:"approvedAt"`
}

// ParsePayload decodes and validates the product body of an event.
func ParsePayload(raw []byte) (*ProductPayload, error) {
	var p ProductPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed product payload")
	}
	p.ID = firstNonEmpty(p.ID, p.ProductID)
	p.SKU = strings.TrimSpace(p.SKU)
	if err := validate.Struct(&p); err != nil {
		return nil, formatValidationErrors(err)
	}
	return &p, nil
}

// BuildEntry projects an event payload into a cache entry stamped with syncedAt.
func BuildEntry(ev Event, syncedAt time.Time) (*models.ProductCache, error) {
	p, err := ParsePayload(ev.Payload)
	if err != nil {
		return nil, err
	}

	entry := &models.ProductCache{
		ID:               p.ID,
		SKU:              p.SKU,
		Name:             firstNonEmpty(p.Name, ev.Name),
		Description:      p.Description,
		Category:         p.Category,
		Status:           enums.NormalizeProductStatus(p.Status),
		BasePrice:        decimal.Zero,
		Currency:         strings.ToUpper(firstNonEmpty(p.Currency, defaultCurrency)),
		IsAvailable:      p.IsAvailable,
		DisplayOnWeb:     p.DisplayOnWeb,
		RequiresLicense:  p.RequiresLicense,
		IsContractItem:   p.IsContractItem,
		SeatBasedPricing: p.SeatBasedPricing,
		PricingTiers:     make([]models.PricingTier, 0, len(p.PricingTiers)),
		Approvals:        make([]models.Approval, 0, len(p.Approvals)),
		Tags:             p.Tags,
		LastModifiedAt:   normalizeTime(p.LastModifiedAt),
	}
	if p.BasePrice != nil {
		entry.BasePrice = *p.BasePrice
	}
	if entry.Tags == nil {
		entry.Tags = []string{}
	}
	for _, tier := range p.PricingTiers {
		entry.PricingTiers = append(entry.PricingTiers, models.PricingTier{
			MinQuantity: tier.MinQuantity,
			MaxQuantity: tier.MaxQuantity,
			UnitPrice:   tier.UnitPrice,
		})
	}
	for _, approval := range p.Approvals {
		entry.Approvals = append(entry.Approvals, models.Approval{
			Approver:   approval.Approver,
			Role:       approval.Role,
			Status:     approval.Status,
			ApprovedAt: normalizeTime(approval.ApprovedAt),
		})
	}

	synced := syncedAt.UTC().Truncate(time.Microsecond)
	entry.SyncedAt = &synced
	entry.SourceVersion = SourceVersion(entry)
	return entry, nil
}

func normalizeTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC().Truncate(time.Microsecond)
	return &v
}

func formatValidationErrors(err error) error {
	if errs, ok := err.(validator.ValidationErrors); ok {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Namespace()] = validationMessage(fieldErr)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid product payload").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product payload")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "len":
		return fmt.Sprintf("must be %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	}
	return "is invalid"
}
