package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by the Get* lookups when no row matches.
var ErrNotFound = errors.New("not found")

const selectProduct = `
	SELECT id, canonical_key, title_full, title_short, brand, model, sku, created_at, updated_at
	FROM products`

const selectOrder = `
	SELECT id, store_id, account_id, seller_id, external_order_id, dedupe_key,
		order_datetime, paid_datetime, delivered_datetime, currency,
		subtotal_amount, shipping_amount, discount_amount, total_amount,
		status, source_url, raw_ref, created_at, updated_at
	FROM orders`

const selectOrderItem = `
	SELECT id, order_id, external_item_id, dedupe_key, product_id,
		title_full, title_short, store_category_path, unified_category_path,
		brand, model, sku, quantity, unit_price, discount_amount, shipping_amount,
		total_amount, currency, product_url, order_url, receipt_url, created_at, updated_at
	FROM order_items`

const selectProductAttribute = `
	SELECT id, product_id, item_id, attr_key, value_key, value_type,
		value_text, value_number, value_bool, value_json_raw, source
	FROM product_attributes`

const selectMedia = `
	SELECT id, related_item_id, source_url, local_path_abs, mime, sha256,
		size_bytes, source, meta_json, downloaded_at
	FROM media`

const selectRawMessage = `
	SELECT id, source, account_id, external_message_id, thread_id, message_datetime,
		subject, sender, recipients, raw_text, raw_html, raw_json
	FROM raw_messages`

func scanShop(row rowScanner) (Shop, error) {
	var shop Shop
	err := row.Scan(&shop.ID, &shop.Code, &shop.Name, optString(&shop.Website))
	return shop, err
}

func scanProduct(row rowScanner) (Product, error) {
	var p Product
	err := row.Scan(
		&p.ID, &p.CanonicalKey,
		optString(&p.TitleFull), optString(&p.TitleShort),
		optString(&p.Brand), optString(&p.Model), optString(&p.SKU),
		reqTime(&p.CreatedAt), reqTime(&p.UpdatedAt),
	)
	return p, err
}

func scanOrder(row rowScanner) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.StoreID, &o.AccountID, &o.SellerID,
		optString(&o.ExternalOrderID), &o.DedupeKey,
		optTime(&o.OrderDate), optTime(&o.PaidDate), optTime(&o.DeliveredDate),
		optString(&o.Currency),
		optDecimal(&o.Subtotal), optDecimal(&o.Shipping), optDecimal(&o.Discount), optDecimal(&o.Total),
		optString(&o.Status), optString(&o.SourceURL), optString(&o.RawRef),
		reqTime(&o.CreatedAt), reqTime(&o.UpdatedAt),
	)
	return o, err
}

func scanOrderItem(row rowScanner) (OrderItem, error) {
	var it OrderItem
	err := row.Scan(
		&it.ID, &it.OrderID, optString(&it.ExternalItemID), &it.DedupeKey, &it.ProductID,
		&it.TitleFull, optString(&it.TitleShort),
		optString(&it.StoreCategoryPath), optString(&it.UnifiedCategoryPath),
		optString(&it.Brand), optString(&it.Model), optString(&it.SKU),
		optDecimal(&it.Quantity), optDecimal(&it.UnitPrice),
		optDecimal(&it.Discount), optDecimal(&it.Shipping), optDecimal(&it.Total),
		optString(&it.Currency),
		optString(&it.ProductURL), optString(&it.OrderURL), optString(&it.ReceiptURL),
		reqTime(&it.CreatedAt), reqTime(&it.UpdatedAt),
	)
	return it, err
}

func scanProductAttribute(row rowScanner) (ProductAttribute, error) {
	var a ProductAttribute
	err := row.Scan(
		&a.ID, &a.ProductID, &a.ItemID, &a.Key, &a.ValueKey, &a.ValueType,
		optString(&a.ValueText), optDecimal(&a.ValueNumber), &a.ValueBool,
		optString(&a.ValueJSONRaw), optString(&a.Source),
	)
	return a, err
}

func scanMedia(row rowScanner) (Media, error) {
	var m Media
	var meta sql.NullString
	err := row.Scan(
		&m.ID, &m.ItemID, &m.SourceURL, &m.LocalPath, optString(&m.MIME), &m.SHA256,
		&m.Size, optString(&m.Source), &meta, reqTime(&m.DownloadedAt),
	)
	if err != nil {
		return Media{}, err
	}
	if err := unmarshalJSON(meta, &m.Meta); err != nil {
		return Media{}, err
	}
	return m, nil
}

func scanRawMessage(row rowScanner) (RawMessage, error) {
	var msg RawMessage
	var recipients, rawJSON sql.NullString
	err := row.Scan(
		&msg.ID, &msg.Source, &msg.AccountID, &msg.ExternalMessageID,
		optString(&msg.ThreadID), optTime(&msg.MessageDate),
		optString(&msg.Subject), optString(&msg.Sender), &recipients,
		optString(&msg.RawText), optString(&msg.RawHTML), &rawJSON,
	)
	if err != nil {
		return RawMessage{}, err
	}
	if err := unmarshalJSON(recipients, &msg.Recipients); err != nil {
		return RawMessage{}, err
	}
	if err := unmarshalJSON(rawJSON, &msg.RawJSON); err != nil {
		return RawMessage{}, err
	}
	return msg, nil
}

func notFound(entity string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("get %s: %w", entity, ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", entity, err)
}

// GetStore returns the store with the given code.
func (s *Store) GetStore(ctx context.Context, code string) (Shop, error) {
	shop, err := scanShop(s.db.QueryRowContext(ctx, `
		SELECT id, code, name, website FROM stores WHERE code = ?
	`, code))
	if err != nil {
		return Shop{}, notFound("store", err)
	}
	return shop, nil
}

// GetProduct returns a product by id.
func (s *Store) GetProduct(ctx context.Context, id int64) (Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, selectProduct+` WHERE id = ?`, id))
	if err != nil {
		return Product{}, notFound("product", err)
	}
	return p, nil
}

// GetOrder returns an order by id.
func (s *Store) GetOrder(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, selectOrder+` WHERE id = ?`, id))
	if err != nil {
		return Order{}, notFound("order", err)
	}
	return o, nil
}

// GetOrderItem returns an order item by id.
func (s *Store) GetOrderItem(ctx context.Context, id int64) (OrderItem, error) {
	it, err := scanOrderItem(s.db.QueryRowContext(ctx, selectOrderItem+` WHERE id = ?`, id))
	if err != nil {
		return OrderItem{}, notFound("order item", err)
	}
	return it, nil
}

// GetRawMessage returns a raw message by id.
func (s *Store) GetRawMessage(ctx context.Context, id int64) (RawMessage, error) {
	msg, err := scanRawMessage(s.db.QueryRowContext(ctx, selectRawMessage+` WHERE id = ?`, id))
	if err != nil {
		return RawMessage{}, notFound("raw message", err)
	}
	return msg, nil
}

// ListProductAttributes returns the attributes of one item in insertion order.
func (s *Store) ListProductAttributes(ctx context.Context, itemID int64) ([]ProductAttribute, error) {
	rows, err := s.db.QueryContext(ctx, selectProductAttribute+` WHERE item_id = ? ORDER BY id ASC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query product attributes: %w", err)
	}
	defer rows.Close()

	attrs := []ProductAttribute{}
	for rows.Next() {
		a, err := scanProductAttribute(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product attribute: %w", err)
		}
		attrs = append(attrs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product attributes: %w", err)
	}
	return attrs, nil
}

// FindMediaBySHA256 returns the earliest media row holding the payload, or
// ok=false when the payload has never been stored.
func (s *Store) FindMediaBySHA256(ctx context.Context, sha256 string) (m Media, ok bool, err error) {
	m, err = scanMedia(s.db.QueryRowContext(ctx, selectMedia+` WHERE sha256 = ? ORDER BY id ASC LIMIT 1`, sha256))
	if errors.Is(err, sql.ErrNoRows) {
		return Media{}, false, nil
	}
	if err != nil {
		return Media{}, false, fmt.Errorf("find media by sha256: %w", err)
	}
	return m, true, nil
}

// ListMedia returns the media rows of one item in insertion order.
func (s *Store) ListMedia(ctx context.Context, itemID int64) ([]Media, error) {
	rows, err := s.db.QueryContext(ctx, selectMedia+` WHERE related_item_id = ? ORDER BY id ASC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query media: %w", err)
	}
	defer rows.Close()

	media := []Media{}
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		media = append(media, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate media: %w", err)
	}
	return media, nil
}

// ExportRow is the flat per-item projection used for tabular export.
type ExportRow struct {
	OrderID             int64            `json:"order_db_id"`
	ItemID              int64            `json:"item_db_id"`
	StoreCode           string           `json:"store_code"`
	StoreName           string           `json:"store_name"`
	ExternalOrderID     string           `json:"external_order_id"`
	OrderDate           *time.Time       `json:"order_datetime"`
	PaidDate            *time.Time       `json:"paid_datetime"`
	DeliveredDate       *time.Time       `json:"delivered_datetime"`
	Currency            string           `json:"currency"`
	Subtotal            *decimal.Decimal `json:"subtotal_amount"`
	Shipping            *decimal.Decimal `json:"shipping_amount"`
	Discount            *decimal.Decimal `json:"discount_amount"`
	Total               *decimal.Decimal `json:"total_amount"`
	Status              string           `json:"status"`
	SourceURL           string           `json:"source_url"`
	ExternalItemID      string           `json:"external_item_id"`
	TitleFull           string           `json:"title_full"`
	TitleShort          string           `json:"title_short"`
	StoreCategoryPath   string           `json:"store_category_path"`
	UnifiedCategoryPath string           `json:"unified_category_path"`
	Brand               string           `json:"brand"`
	Model               string           `json:"model"`
	SKU                 string           `json:"sku"`
	Quantity            *decimal.Decimal `json:"quantity"`
	UnitPrice           *decimal.Decimal `json:"unit_price"`
	ItemDiscount        *decimal.Decimal `json:"item_discount_amount"`
	ItemShipping        *decimal.Decimal `json:"item_shipping_amount"`
	ItemTotal           *decimal.Decimal `json:"item_total_amount"`
	ProductURL          string           `json:"product_url"`
	OrderURL            string           `json:"order_url"`
	ReceiptURL          string           `json:"receipt_url"`
	MediaPaths          string           `json:"media_paths"`
	MediaURLs           string           `json:"media_urls"`
}

// ExportRows returns one row per item, newest orders first.
func (s *Store) ExportRows(ctx context.Context) ([]ExportRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			o.id, oi.id, s.code, s.name, o.external_order_id,
			o.order_datetime, o.paid_datetime, o.delivered_datetime, o.currency,
			o.subtotal_amount, o.shipping_amount, o.discount_amount, o.total_amount,
			o.status, o.source_url,
			oi.external_item_id, oi.title_full, oi.title_short,
			oi.store_category_path, oi.unified_category_path,
			oi.brand, oi.model, oi.sku, oi.quantity, oi.unit_price,
			oi.discount_amount, oi.shipping_amount, oi.total_amount,
			oi.product_url, oi.order_url, oi.receipt_url,
			(SELECT group_concat(m.local_path_abs, ' | ') FROM media m WHERE m.related_item_id = oi.id),
			(SELECT group_concat(NULLIF(m.source_url, ''), ' | ') FROM media m WHERE m.related_item_id = oi.id)
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		JOIN stores s ON s.id = o.store_id
		ORDER BY COALESCE(o.order_datetime, o.created_at) DESC, o.id DESC, oi.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query export rows: %w", err)
	}
	defer rows.Close()

	out := []ExportRow{}
	for rows.Next() {
		var r ExportRow
		if err := rows.Scan(
			&r.OrderID, &r.ItemID, &r.StoreCode, &r.StoreName, optString(&r.ExternalOrderID),
			optTime(&r.OrderDate), optTime(&r.PaidDate), optTime(&r.DeliveredDate), optString(&r.Currency),
			optDecimal(&r.Subtotal), optDecimal(&r.Shipping), optDecimal(&r.Discount), optDecimal(&r.Total),
			optString(&r.Status), optString(&r.SourceURL),
			optString(&r.ExternalItemID), &r.TitleFull, optString(&r.TitleShort),
			optString(&r.StoreCategoryPath), optString(&r.UnifiedCategoryPath),
			optString(&r.Brand), optString(&r.Model), optString(&r.SKU),
			optDecimal(&r.Quantity), optDecimal(&r.UnitPrice),
			optDecimal(&r.ItemDiscount), optDecimal(&r.ItemShipping), optDecimal(&r.ItemTotal),
			optString(&r.ProductURL), optString(&r.OrderURL), optString(&r.ReceiptURL),
			optString(&r.MediaPaths), optString(&r.MediaURLs),
		); err != nil {
			return nil, fmt.Errorf("scan export row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate export rows: %w", err)
	}
	return out, nil
}

// OrderDuplicate is a (store, external order id) pair held by several orders.
type OrderDuplicate struct {
	StoreID         int64  `json:"store_id"`
	ExternalOrderID string `json:"external_order_id"`
	Count           int64  `json:"count"`
}

// ItemDuplicate is a group of items in one order that look alike.
type ItemDuplicate struct {
	OrderID   int64            `json:"order_id"`
	TitleFull string           `json:"title_full"`
	Quantity  *decimal.Decimal `json:"quantity,omitempty"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	Count     int64            `json:"count"`
}

// Duplicates is the report of suspected duplicates that dedupe keys did not
// collapse, typically orders first seen without and later with an external id.
type Duplicates struct {
	Orders []OrderDuplicate `json:"orders"`
	Items  []ItemDuplicate  `json:"items"`
}

// DuplicateDiagnostics reports suspected duplicates.
func (s *Store) DuplicateDiagnostics(ctx context.Context) (Duplicates, error) {
	report := Duplicates{Orders: []OrderDuplicate{}, Items: []ItemDuplicate{}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT store_id, external_order_id, COUNT(*)
		FROM orders
		WHERE external_order_id IS NOT NULL
		GROUP BY store_id, external_order_id
		HAVING COUNT(*) > 1
		ORDER BY store_id, external_order_id
	`)
	if err != nil {
		return Duplicates{}, fmt.Errorf("query order duplicates: %w", err)
	}
	for rows.Next() {
		var d OrderDuplicate
		if err := rows.Scan(&d.StoreID, &d.ExternalOrderID, &d.Count); err != nil {
			rows.Close()
			return Duplicates{}, fmt.Errorf("scan order duplicate: %w", err)
		}
		report.Orders = append(report.Orders, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return Duplicates{}, fmt.Errorf("iterate order duplicates: %w", err)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT order_id, title_full, quantity, unit_price, COUNT(*)
		FROM order_items
		GROUP BY order_id, title_full, quantity, unit_price
		HAVING COUNT(*) > 1
		ORDER BY order_id, title_full
	`)
	if err != nil {
		return Duplicates{}, fmt.Errorf("query item duplicates: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d ItemDuplicate
		if err := rows.Scan(&d.OrderID, &d.TitleFull, optDecimal(&d.Quantity), optDecimal(&d.UnitPrice), &d.Count); err != nil {
			return Duplicates{}, fmt.Errorf("scan item duplicate: %w", err)
		}
		report.Items = append(report.Items, d)
	}
	if err := rows.Err(); err != nil {
		return Duplicates{}, fmt.Errorf("iterate item duplicates: %w", err)
	}
	return report, nil
}

// CountedTables are the tables reported by Counts, in display order.
var CountedTables = []string{
	"stores",
	"accounts",
	"sellers",
	"orders",
	"order_items",
	"products",
	"product_attributes",
	"media",
	"raw_messages",
	"sync_runs",
	"audit_log",
}

// Counts returns the row count of every table in CountedTables.
func (s *Store) Counts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(CountedTables))
	for _, table := range CountedTables {
		var n int64
		// table names come from the fixed list above
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
