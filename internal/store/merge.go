package store

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// mergeField is the refinement policy for every optional field: an incoming
// value replaces the stored one, an absent incoming value never does.
func mergeField[T any](existing, incoming *T) *T {
	if incoming != nil {
		return incoming
	}
	return existing
}

// mergeString applies mergeField to text where "" (or whitespace) is absent.
func mergeString(existing, incoming string) string {
	if present(incoming) {
		return incoming
	}
	return existing
}

func present(s string) bool {
	return strings.TrimSpace(s) != ""
}

// merger applies the policy field by field and remembers whether any stored
// value changed.
type merger struct {
	changed bool
}

func (m *merger) str(dst *string, incoming string) {
	next := mergeString(*dst, incoming)
	if next != *dst {
		*dst = next
		m.changed = true
	}
}

func (m *merger) id(dst **int64, incoming *int64) {
	mergeInto(m, dst, incoming, func(a, b int64) bool { return a == b })
}

func (m *merger) dec(dst **decimal.Decimal, incoming *decimal.Decimal) {
	mergeInto(m, dst, incoming, decimal.Decimal.Equal)
}

func (m *merger) time(dst **time.Time, incoming *time.Time) {
	mergeInto(m, dst, incoming, time.Time.Equal)
}

func mergeInto[T any](m *merger, dst **T, incoming *T, equal func(a, b T) bool) {
	next := mergeField(*dst, incoming)
	if next == *dst {
		return
	}
	if *dst != nil && equal(**dst, *next) {
		return
	}
	*dst = next
	m.changed = true
}

func (s *Shop) merge(in Shop) bool {
	var m merger
	m.str(&s.Name, in.Name)
	m.str(&s.Website, in.Website)
	return m.changed
}

func (a *Account) merge(in Account) bool {
	var m merger
	m.str(&a.DisplayName, in.DisplayName)
	return m.changed
}

func (s *Seller) merge(in Seller) bool {
	var m merger
	m.str(&s.LegalEntity, in.LegalEntity)
	return m.changed
}

func (p *Product) merge(in Product) bool {
	var m merger
	m.str(&p.TitleFull, in.TitleFull)
	m.str(&p.TitleShort, in.TitleShort)
	m.str(&p.Brand, in.Brand)
	m.str(&p.Model, in.Model)
	m.str(&p.SKU, in.SKU)
	return m.changed
}

func (o *Order) merge(in Order) bool {
	var m merger
	m.id(&o.AccountID, in.AccountID)
	m.id(&o.SellerID, in.SellerID)
	m.str(&o.ExternalOrderID, in.ExternalOrderID)
	m.time(&o.OrderDate, in.OrderDate)
	m.time(&o.PaidDate, in.PaidDate)
	m.time(&o.DeliveredDate, in.DeliveredDate)
	m.str(&o.Currency, in.Currency)
	m.dec(&o.Subtotal, in.Subtotal)
	m.dec(&o.Shipping, in.Shipping)
	m.dec(&o.Discount, in.Discount)
	m.dec(&o.Total, in.Total)
	m.str(&o.Status, in.Status)
	m.str(&o.SourceURL, in.SourceURL)
	m.str(&o.RawRef, in.RawRef)
	return m.changed
}

func (it *OrderItem) merge(in OrderItem) bool {
	var m merger
	m.str(&it.ExternalItemID, in.ExternalItemID)
	m.id(&it.ProductID, in.ProductID)
	m.str(&it.TitleFull, in.TitleFull)
	m.str(&it.TitleShort, in.TitleShort)
	m.str(&it.StoreCategoryPath, in.StoreCategoryPath)
	m.str(&it.UnifiedCategoryPath, in.UnifiedCategoryPath)
	m.str(&it.Brand, in.Brand)
	m.str(&it.Model, in.Model)
	m.str(&it.SKU, in.SKU)
	m.dec(&it.Quantity, in.Quantity)
	m.dec(&it.UnitPrice, in.UnitPrice)
	m.dec(&it.Discount, in.Discount)
	m.dec(&it.Shipping, in.Shipping)
	m.dec(&it.Total, in.Total)
	m.str(&it.Currency, in.Currency)
	m.str(&it.ProductURL, in.ProductURL)
	m.str(&it.OrderURL, in.OrderURL)
	m.str(&it.ReceiptURL, in.ReceiptURL)
	return m.changed
}

func (a *ProductAttribute) merge(in ProductAttribute) bool {
	var m merger
	m.id(&a.ProductID, in.ProductID)
	m.str(&a.ValueJSONRaw, in.ValueJSONRaw)
	m.str(&a.Source, in.Source)
	return m.changed
}

// merge for media: local_path always follows the latest save, the rest
// refines. downloaded_at is bumped by the caller on every observation.
func (md *Media) merge(in Media) bool {
	var m merger
	if in.LocalPath != "" && in.LocalPath != md.LocalPath {
		md.LocalPath = in.LocalPath
		m.changed = true
	}
	m.str(&md.MIME, in.MIME)
	if in.Size > 0 && in.Size != md.Size {
		md.Size = in.Size
		m.changed = true
	}
	m.str(&md.Source, in.Source)
	if in.Meta != nil {
		md.Meta = in.Meta
		m.changed = true
	}
	return m.changed
}

func (r *RawMessage) merge(in RawMessage) bool {
	var m merger
	m.id(&r.AccountID, in.AccountID)
	m.str(&r.ThreadID, in.ThreadID)
	m.time(&r.MessageDate, in.MessageDate)
	m.str(&r.Subject, in.Subject)
	m.str(&r.Sender, in.Sender)
	if len(in.Recipients) > 0 && strings.Join(in.Recipients, ",") != strings.Join(r.Recipients, ",") {
		r.Recipients = in.Recipients
		m.changed = true
	}
	m.str(&r.RawText, in.RawText)
	m.str(&r.RawHTML, in.RawHTML)
	if in.RawJSON != nil {
		r.RawJSON = in.RawJSON
		m.changed = true
	}
	return m.changed
}
