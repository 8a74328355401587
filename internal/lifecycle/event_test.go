package lifecycle

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/catalog-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/catalog-sync/pkg/errors"
)

func TestDecodeSynthesizesCorrelationID(t *testing.T) {
	ev, err := Decode("m-1", []byte(`{"eventType":"product.updated","productId":"P1","sku":"SKU-1","status":"Active"}`), nil, 2)
	require.NoError(t, err)

	assert.Equal(t, enums.LifecycleEventUpdated, ev.Type)
	assert.Equal(t, "P1", ev.ProductID)
	assert.Equal(t, enums.ProductStatusActive, ev.Status)
	assert.Equal(t, "product.updatedP1", ev.CorrelationID)
	assert.Equal(t, 2, ev.DeliveryCount)
	assert.Equal(t, "m-1", ev.MessageID)
}

func TestDecodePrefersAttributes(t *testing.T) {
	attrs := map[string]string{AttrEventType: "product.deleted", AttrCorrelationID: "corr-9"}
	ev, err := Decode("m-2", []byte(`{"eventType":"product.updated","id":"P1","correlationId":"body-corr"}`), attrs, 1)
	require.NoError(t, err)

	assert.Equal(t, enums.LifecycleEventDeleted, ev.Type)
	assert.Equal(t, "corr-9", ev.CorrelationID)
}

func TestDecodeMalformedKeepsWhatItCan(t *testing.T) {
	attrs := map[string]string{AttrEventType: "product.launched"}
	ev, err := Decode("m-3", []byte(`{not json`), attrs, 3)
	require.Error(t, err)

	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	assert.Equal(t, enums.LifecycleEventLaunched, ev.Type)
	assert.Equal(t, "product.launched", ev.CorrelationID)
	assert.Equal(t, 3, ev.DeliveryCount)
	assert.Equal(t, "{not json", string(ev.Payload))
}

func TestDecodeUnknownType(t *testing.T) {
	ev, err := Decode("m-4", []byte(`{"eventType":"product.repriced","id":"P1"}`), nil, 1)
	require.NoError(t, err)
	assert.False(t, ev.Recognized())
	assert.Equal(t, "product.repriced", ev.RawType)
}

func TestBuildEntryProjectsPayload(t *testing.T) {
	body := `{
		"eventType":"product.launched",
		"productId":"P1",
		"sku":" SKU-1 ",
		"name":"Seat License",
		"status":"active",
		"basePrice":"199.5",
		"currency":"eur",
		"isAvailable":true,
		"seatBasedPricing":true,
		"pricingTiers":[{"minQuantity":10,"maxQuantity":49,"unitPrice":180},{"minQuantity":50,"unitPrice":"150.00"}],
		"approvals":[{"approver":"legal@corp","status":"approved","approvedAt":"2026-09-30T10:00:00+02:00"}],
		"tags":["b2b"],
		"lastModifiedAt":"2026-09-30T08:15:30.1234567Z"
	}`
	ev, err := Decode("m-5", []byte(body), nil, 1)
	require.NoError(t, err)

	syncedAt := time.Date(2026, 10, 1, 9, 0, 0, 999, time.FixedZone("x", 3600))
	entry, err := BuildEntry(ev, syncedAt)
	require.NoError(t, err)

	assert.Equal(t, "P1", entry.ID)
	assert.Equal(t, "SKU-1", entry.SKU)
	assert.Equal(t, "Seat License", entry.Name)
	assert.Equal(t, "EUR", entry.Currency)
	assert.True(t, entry.BasePrice.Equal(decimal.RequireFromString("199.50")))
	assert.True(t, entry.IsAvailable)
	assert.True(t, entry.SeatBasedPricing)
	assert.False(t, entry.RequiresLicense)
	require.Len(t, entry.PricingTiers, 2)
	require.NotNil(t, entry.PricingTiers[0].MaxQuantity)
	assert.Equal(t, 49, *entry.PricingTiers[0].MaxQuantity)
	assert.Nil(t, entry.PricingTiers[1].MaxQuantity)
	require.Len(t, entry.Approvals, 1)
	assert.Equal(t, time.UTC, entry.Approvals[0].ApprovedAt.Location())
	assert.Equal(t, []string{"b2b"}, entry.Tags)

	require.NotNil(t, entry.LastModifiedAt)
	assert.Equal(t, 123456000, entry.LastModifiedAt.Nanosecond())
	require.NotNil(t, entry.SyncedAt)
	assert.Equal(t, time.UTC, entry.SyncedAt.Location())
	assert.Equal(t, 0, entry.SyncedAt.Nanosecond())
	assert.Equal(t, SourceVersion(entry), entry.SourceVersion)
}

func TestBuildEntryDefaults(t *testing.T) {
	ev, err := Decode("m-6", []byte(`{"eventType":"product.created","id":"P1","sku":"SKU-1","status":"active"}`), nil, 1)
	require.NoError(t, err)

	entry, err := BuildEntry(ev, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "USD", entry.Currency)
	assert.True(t, entry.BasePrice.IsZero())
	assert.NotNil(t, entry.Tags)
	assert.NotNil(t, entry.PricingTiers)
	assert.Nil(t, entry.LastModifiedAt)
}

func TestParsePayloadValidation(t *testing.T) {
	cases := map[string]string{
		"missing id":         `{"sku":"SKU-1"}`,
		"missing sku":        `{"id":"P1"}`,
		"bad currency":       `{"id":"P1","sku":"SKU-1","currency":"dollars"}`,
		"negative tier":      `{"id":"P1","sku":"SKU-1","pricingTiers":[{"minQuantity":-1,"unitPrice":1}]}`,
		"approval approver":  `{"id":"P1","sku":"SKU-1","approvals":[{"status":"approved"}]}`,
		"bad price":          `{"id":"P1","sku":"SKU-1","basePrice":"ten"}`,
		"bad modified stamp": `{"id":"P1","sku":"SKU-1","lastModifiedAt":"yesterday"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePayload([]byte(body))
			require.Error(t, err)
			assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
		})
	}
}

func TestSourceVersionStableAndSensitive(t *testing.T) {
	ev, err := Decode("m-7", []byte(`{"eventType":"product.updated","id":"P1","sku":"SKU-1","status":"active","basePrice":10,"name":"A"}`), nil, 1)
	require.NoError(t, err)

	first, err := BuildEntry(ev, time.Now())
	require.NoError(t, err)
	second, err := BuildEntry(ev, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first.SourceVersion, second.SourceVersion, "syncedAt must not affect the version")

	second.Name = "B"
	assert.Equal(t, first.SourceVersion, SourceVersion(second), "display fields are not hashed")

	second.BasePrice = decimal.NewFromInt(11)
	assert.NotEqual(t, first.SourceVersion, SourceVersion(second))
	assert.Empty(t, SourceVersion(nil))
}
