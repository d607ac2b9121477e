package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Optional text fields use "" for absent. Optional numbers, times and
// references use nil.

// Shop is a row of the stores table.
type Shop struct {
	ID      int64  `json:"id"`
	Code    string `json:"code"`
	Name    string `json:"name"`
	Website string `json:"website,omitempty"`
}

// Account is a mailbox or marketplace login that observed purchases.
type Account struct {
	ID          int64  `json:"id"`
	Provider    string `json:"provider"`
	Identifier  string `json:"account_identifier"`
	DisplayName string `json:"display_name,omitempty"`
}

// Seller is a merchant inside a store. INN may be empty.
type Seller struct {
	ID          int64  `json:"id"`
	StoreID     int64  `json:"store_id"`
	Name        string `json:"name"`
	INN         string `json:"inn,omitempty"`
	LegalEntity string `json:"legal_entity,omitempty"`
}

// Product is a store-independent catalogue entry keyed by content.
type Product struct {
	ID           int64     `json:"id"`
	CanonicalKey string    `json:"canonical_key"`
	TitleFull    string    `json:"title_full,omitempty"`
	TitleShort   string    `json:"title_short,omitempty"`
	Brand        string    `json:"brand,omitempty"`
	Model        string    `json:"model,omitempty"`
	SKU          string    `json:"sku,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Order is one purchase. DedupeKey is assigned once and never changes.
type Order struct {
	ID              int64            `json:"id"`
	StoreID         int64            `json:"store_id"`
	AccountID       *int64           `json:"account_id,omitempty"`
	SellerID        *int64           `json:"seller_id,omitempty"`
	ExternalOrderID string           `json:"external_order_id,omitempty"`
	DedupeKey       string           `json:"dedupe_key"`
	OrderDate       *time.Time       `json:"order_datetime,omitempty"`
	PaidDate        *time.Time       `json:"paid_datetime,omitempty"`
	DeliveredDate   *time.Time       `json:"delivered_datetime,omitempty"`
	Currency        string           `json:"currency,omitempty"`
	Subtotal        *decimal.Decimal `json:"subtotal_amount,omitempty"`
	Shipping        *decimal.Decimal `json:"shipping_amount,omitempty"`
	Discount        *decimal.Decimal `json:"discount_amount,omitempty"`
	Total           *decimal.Decimal `json:"total_amount,omitempty"`
	Status          string           `json:"status,omitempty"`
	SourceURL       string           `json:"source_url,omitempty"`
	RawRef          string           `json:"raw_ref,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// OrderItem is one line of an order. DedupeKey is unique within the order.
type OrderItem struct {
	ID                  int64            `json:"id"`
	OrderID             int64            `json:"order_id"`
	ExternalItemID      string           `json:"external_item_id,omitempty"`
	DedupeKey           string           `json:"dedupe_key"`
	ProductID           *int64           `json:"product_id,omitempty"`
	TitleFull           string           `json:"title_full"`
	TitleShort          string           `json:"title_short,omitempty"`
	StoreCategoryPath   string           `json:"store_category_path,omitempty"`
	UnifiedCategoryPath string           `json:"unified_category_path,omitempty"`
	Brand               string           `json:"brand,omitempty"`
	Model               string           `json:"model,omitempty"`
	SKU                 string           `json:"sku,omitempty"`
	Quantity            *decimal.Decimal `json:"quantity,omitempty"`
	UnitPrice           *decimal.Decimal `json:"unit_price,omitempty"`
	Discount            *decimal.Decimal `json:"discount_amount,omitempty"`
	Shipping            *decimal.Decimal `json:"shipping_amount,omitempty"`
	Total               *decimal.Decimal `json:"total_amount,omitempty"`
	Currency            string           `json:"currency,omitempty"`
	ProductURL          string           `json:"product_url,omitempty"`
	OrderURL            string           `json:"order_url,omitempty"`
	ReceiptURL          string           `json:"receipt_url,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// ProductAttribute is one observed key/value pair of an item. ValueKey is
// derived from the value fields by the caller (dedupe.AttributeValueKey).
type ProductAttribute struct {
	ID           int64            `json:"id"`
	ProductID    *int64           `json:"product_id,omitempty"`
	ItemID       int64            `json:"item_id"`
	Key          string           `json:"attr_key"`
	ValueKey     string           `json:"value_key"`
	ValueType    string           `json:"value_type"`
	ValueText    string           `json:"value_text,omitempty"`
	ValueNumber  *decimal.Decimal `json:"value_number,omitempty"`
	ValueBool    *bool            `json:"value_bool,omitempty"`
	ValueJSONRaw string           `json:"value_json_raw,omitempty"`
	Source       string           `json:"source,omitempty"`
}

// Media is a stored payload attached to an item.
type Media struct {
	ID           int64          `json:"id"`
	ItemID       int64          `json:"related_item_id"`
	SourceURL    string         `json:"source_url,omitempty"`
	LocalPath    string         `json:"local_path_abs"`
	MIME         string         `json:"mime,omitempty"`
	SHA256       string         `json:"sha256"`
	Size         int64          `json:"size_bytes"`
	Source       string         `json:"source,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
	DownloadedAt time.Time      `json:"downloaded_at"`
}

// RawMessage is the retained form of one collected message.
type RawMessage struct {
	ID                int64          `json:"id"`
	Source            string         `json:"source"`
	AccountID         *int64         `json:"account_id,omitempty"`
	ExternalMessageID string         `json:"external_message_id"`
	ThreadID          string         `json:"thread_id,omitempty"`
	MessageDate       *time.Time     `json:"message_datetime,omitempty"`
	Subject           string         `json:"subject,omitempty"`
	Sender            string         `json:"sender,omitempty"`
	Recipients        []string       `json:"recipients,omitempty"`
	RawText           string         `json:"raw_text,omitempty"`
	RawHTML           string         `json:"raw_html,omitempty"`
	RawJSON           map[string]any `json:"raw_json,omitempty"`
}

// RunStatus is the lifecycle state of a SyncRun.
type RunStatus string

const (
	RunRunning             RunStatus = "running"
	RunSuccess             RunStatus = "success"
	RunCompletedWithErrors RunStatus = "completed_with_errors"
	RunFailed              RunStatus = "failed"
)

// SyncRun is the ledger row of one ingestion attempt.
type SyncRun struct {
	ID            int64            `json:"id"`
	CorrelationID string           `json:"correlation_id"`
	Source        string           `json:"source"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    *time.Time       `json:"finished_at,omitempty"`
	Status        RunStatus        `json:"status"`
	Stats         map[string]int64 `json:"stats,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// AuditEntry is one append-only audit_log row.
type AuditEntry struct {
	ID            int64     `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Action        string    `json:"action"`
	Before        string    `json:"before_json,omitempty"`
	After         string    `json:"after_json,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
