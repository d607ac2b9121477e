package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Domain tags for key derivation.
const (
	DomainOrder     = "order"
	DomainItem      = "item"
	DomainProduct   = "product"
	DomainAttribute = "attr"
)

// Tier tags keep the order/item priority levels from colliding with each other
// (an external id equal to some message id must not produce the same key).
const (
	tierExternal = "ext"
	tierMessage  = "msg"
	tierFallback = "fallback"
)

const separator = "||"

// OrderIdentity holds the identity-bearing fields of one order observation.
type OrderIdentity struct {
	StoreCode       string
	ExternalOrderID string
	SourceMessageID string
	OrderDate       *time.Time
	TotalAmount     *decimal.Decimal
}

// ItemIdentity holds the identity-bearing fields of one line item observation.
type ItemIdentity struct {
	StoreCode       string
	ExternalItemID  string
	SourceMessageID string
	ItemIndex       int
	SKU             string
	OrderDate       *time.Time
	UnitPrice       *decimal.Decimal
	Quantity        *decimal.Decimal
}

// Hash returns the hex SHA-256 of the normalized parts. Each part is written
// as its byte length, a colon and its text, and parts are joined with "||", so
// a separator inside a part cannot shift a boundary.
//
// Panics on a part type it does not know how to normalize; callers only ever
// pass strings, integers, decimals, floats, bools and times.
func Hash(parts ...any) string {
	normalized := make([]string, len(parts))
	for i, part := range parts {
		p := normalizePart(part)
		normalized[i] = strconv.Itoa(len(p)) + ":" + p
	}
	sum := sha256.Sum256([]byte(strings.Join(normalized, separator)))
	return hex.EncodeToString(sum[:])
}

// OrderKey derives the order dedupe key.
// Priority: external order id, then source message id, then (order date, total).
func OrderKey(id OrderIdentity) string {
	if present(id.ExternalOrderID) {
		return Hash(DomainOrder, id.StoreCode, tierExternal, id.ExternalOrderID)
	}
	if present(id.SourceMessageID) {
		return Hash(DomainOrder, id.StoreCode, tierMessage, id.SourceMessageID)
	}
	return Hash(DomainOrder, id.StoreCode, tierFallback, id.OrderDate, id.TotalAmount)
}

// ItemKey derives the line item dedupe key. The result is only unique within
// its parent order; the store pairs it with the order id.
// Priority: external item id, then (source message id, item index), then
// (sku, order date, unit price, quantity).
func ItemKey(id ItemIdentity) string {
	if present(id.ExternalItemID) {
		return Hash(DomainItem, id.StoreCode, tierExternal, id.ExternalItemID)
	}
	if present(id.SourceMessageID) {
		return Hash(DomainItem, id.StoreCode, tierMessage, id.SourceMessageID, id.ItemIndex)
	}
	return Hash(DomainItem, id.StoreCode, tierFallback, id.SKU, id.OrderDate, id.UnitPrice, id.Quantity)
}

// ProductKey derives the canonical product key. Products have no store-assigned
// identity, so the key is always the content of (brand, model, sku, title).
func ProductKey(brand, model, sku, title string) string {
	return Hash(DomainProduct, brand, model, sku, title)
}

// AttributeValueKey derives the value part of an attribute's identity. Two
// observations of the same attribute key on the same item are the same row
// only when text, number and bool all normalize identically.
func AttributeValueKey(text string, number *decimal.Decimal, flag *bool) string {
	return Hash(DomainAttribute, text, number, flag)
}

func present(s string) bool {
	return strings.TrimSpace(s) != ""
}

func normalizePart(part any) string {
	switch v := part.(type) {
	case nil:
		return ""
	case string:
		return normalizeString(v)
	case *string:
		if v == nil {
			return ""
		}
		return normalizeString(*v)
	case time.Time:
		return normalizeTime(v)
	case *time.Time:
		if v == nil {
			return ""
		}
		return normalizeTime(*v)
	case decimal.Decimal:
		return v.String()
	case *decimal.Decimal:
		if v == nil {
			return ""
		}
		return v.String()
	case float64:
		return decimal.NewFromFloat(v).String()
	case *float64:
		if v == nil {
			return ""
		}
		return decimal.NewFromFloat(*v).String()
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case *bool:
		if v == nil {
			return ""
		}
		return strconv.FormatBool(*v)
	default:
		panic(fmt.Sprintf("dedupe: unsupported key part type %T", part))
	}
}

// normalizeString trims, NFC-normalizes and lower-cases s. A Caser is not safe
// for concurrent use, so one is built per call.
func normalizeString(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	return cases.Lower(language.Und).String(s)
}

func normalizeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
