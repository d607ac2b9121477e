package normalize

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/shopspring/decimal"
)

// orderSchema constrains a normalized order before it is persisted.
const orderSchema = `
#Money: number & >=0

#Attribute: {
	key:             string & !=""
	value_type:      *"text" | "number" | "bool" | "json"
	value_text?:     string
	value_number?:   number
	value_bool?:     bool
	value_json_raw?: string
	source?:         string
}

#Item: {
	title_full:       string & !=""
	title_short?:     string
	external_item_id?: string
	sku?:              string
	quantity:         number & >0
	unit_price?:      #Money
	discount_amount?: #Money
	shipping_amount?: #Money
	total_amount?:    #Money
	currency?:        =~"^[A-Z]{3}$"
	attributes?: [...#Attribute]
	media_urls?: [...=~"^https?://"]
}

#Order: {
	store_code:         =~"^[a-z0-9_]+$"
	store_name:         string & !=""
	external_order_id?: string
	source_message_id?: string
	currency?:          =~"^[A-Z]{3}$"
	subtotal_amount?:   #Money
	shipping_amount?:   #Money
	discount_amount?:   #Money
	total_amount?:      #Money
	status?:            string
	source_url?:        string
	seller_name?:       string
	items: [#Item, ...#Item]
}
`

// ValidationError reports an order that does not satisfy the schema.
type ValidationError struct {
	StoreCode string
	Details   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s order: %s", e.StoreCode, strings.Join(e.Details, "; "))
}

// Validator checks orders against the compiled schema. It is not safe for
// concurrent use.
type Validator struct {
	ctx    *cue.Context
	schema cue.Value
}

// NewValidator compiles the order schema.
func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(orderSchema)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile order schema: %w", err)
	}
	schema := v.LookupPath(cue.ParsePath("#Order"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("lookup #Order: %w", err)
	}
	return &Validator{ctx: ctx, schema: schema}, nil
}

// Validate returns a *ValidationError when o violates the schema.
func (v *Validator) Validate(o Order) error {
	val := v.ctx.Encode(orderDocument(o))
	if err := val.Err(); err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	if err := v.schema.Unify(val).Validate(cue.Concrete(true)); err != nil {
		var details []string
		for _, e := range cueerrors.Errors(err) {
			details = append(details, strings.TrimSpace(cueerrors.Details(e, nil)))
		}
		return &ValidationError{StoreCode: o.StoreCode, Details: details}
	}
	return nil
}

// orderDocument renders o as the plain map the schema sees. Absent optional
// fields are left out.
func orderDocument(o Order) map[string]any {
	doc := map[string]any{
		"store_code": o.StoreCode,
		"store_name": o.StoreName,
	}
	putString(doc, "external_order_id", o.ExternalOrderID)
	putString(doc, "source_message_id", o.SourceMessageID)
	putString(doc, "currency", o.Currency)
	putString(doc, "status", o.Status)
	putString(doc, "source_url", o.SourceURL)
	putString(doc, "seller_name", o.SellerName)
	putNumber(doc, "subtotal_amount", o.Subtotal)
	putNumber(doc, "shipping_amount", o.Shipping)
	putNumber(doc, "discount_amount", o.Discount)
	putNumber(doc, "total_amount", o.Total)

	items := make([]any, 0, len(o.Items))
	for _, it := range o.Items {
		item := map[string]any{"title_full": it.TitleFull}
		if it.Quantity != nil {
			item["quantity"] = it.Quantity.InexactFloat64()
		}
		putString(item, "title_short", it.TitleShort)
		putString(item, "external_item_id", it.ExternalItemID)
		putString(item, "sku", it.SKU)
		putString(item, "currency", it.Currency)
		putNumber(item, "unit_price", it.UnitPrice)
		putNumber(item, "discount_amount", it.Discount)
		putNumber(item, "shipping_amount", it.Shipping)
		putNumber(item, "total_amount", it.Total)

		if len(it.Attributes) > 0 {
			attrs := make([]any, 0, len(it.Attributes))
			for _, a := range it.Attributes {
				attr := map[string]any{"key": a.Key}
				putString(attr, "value_type", a.ValueType)
				putString(attr, "value_text", a.ValueText)
				putNumber(attr, "value_number", a.ValueNumber)
				if a.ValueBool != nil {
					attr["value_bool"] = *a.ValueBool
				}
				putString(attr, "value_json_raw", a.ValueJSONRaw)
				putString(attr, "source", a.Source)
				attrs = append(attrs, attr)
			}
			item["attributes"] = attrs
		}
		if len(it.MediaURLs) > 0 {
			urls := make([]any, len(it.MediaURLs))
			for i, u := range it.MediaURLs {
				urls[i] = u
			}
			item["media_urls"] = urls
		}
		items = append(items, item)
	}
	doc["items"] = items
	return doc
}

func putString(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func putNumber(m map[string]any, key string, value *decimal.Decimal) {
	if value != nil {
		m[key] = value.InexactFloat64()
	}
}
