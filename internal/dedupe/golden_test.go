package dedupe

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
)

// Keys are persisted as unique constraints; any change to their derivation
// silently splits every previously ingested entity in two. The golden file
// holds digests computed independently of this package.
//
// Do not regenerate with -update unless a migration rewrites stored keys.
func TestKeysGolden(t *testing.T) {
	flag := true
	orderDate := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	itemDate := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	total := decimal.RequireFromString("1000.50")
	price := decimal.NewFromInt(100)
	qty := decimal.NewFromInt(2)
	number := decimal.NewFromFloat(1.5)

	cases := []struct {
		name string
		key  string
	}{
		{"order_external", OrderKey(OrderIdentity{StoreCode: "ozon", ExternalOrderID: "123456"})},
		{"order_message", OrderKey(OrderIdentity{StoreCode: "ozon", SourceMessageID: "m-1"})},
		{"order_fallback", OrderKey(OrderIdentity{StoreCode: "ozon", OrderDate: &orderDate, TotalAmount: &total})},
		{"item_external", ItemKey(ItemIdentity{StoreCode: "wildberries", ExternalItemID: "i-1"})},
		{"item_message", ItemKey(ItemIdentity{StoreCode: "ozon", SourceMessageID: "m-1", ItemIndex: 2})},
		{"item_fallback", ItemKey(ItemIdentity{StoreCode: "ozon", SKU: "ABC-1", OrderDate: &itemDate, UnitPrice: &price, Quantity: &qty})},
		{"product", ProductKey("Apple", "A2890", "SKU-9", "iPhone 15")},
		{"attribute_text", AttributeValueKey("Red", nil, nil)},
		{"attribute_number_bool", AttributeValueKey("", &number, &flag)},
	}

	var buf bytes.Buffer
	for _, c := range cases {
		fmt.Fprintf(&buf, "%s %s\n", c.name, c.key)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "keys", buf.Bytes())
}
