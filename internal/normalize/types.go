package normalize

import (
	"time"

	"github.com/shopspring/decimal"
)

// Message is one collected mail in normalized form.
type Message struct {
	Source      string
	Provider    string
	Account     string
	MessageID   string
	ThreadID    string
	Subject     string
	Sender      string
	Recipients  []string
	SentAt      *time.Time
	TextBody    string
	HTMLBody    string
	Links       []string
	Attachments []Attachment
	RawPayload  map[string]any
}

// Attachment is a binary part of a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
	SourceURL   string
}

// Order is one purchase extracted from a message.
// Optional text fields use "" for absent.
type Order struct {
	StoreCode       string
	StoreName       string
	ExternalOrderID string
	SourceMessageID string

	OrderDate     *time.Time
	PaidDate      *time.Time
	DeliveredDate *time.Time

	Currency string
	Subtotal *decimal.Decimal
	Shipping *decimal.Decimal
	Discount *decimal.Decimal
	Total    *decimal.Decimal

	Status    string
	SourceURL string

	SellerName        string
	SellerINN         string
	SellerLegalEntity string

	Items []Item
}

// Item is one line of an Order.
type Item struct {
	ExternalItemID      string
	TitleFull           string
	TitleShort          string
	StoreCategoryPath   string
	UnifiedCategoryPath string
	Brand               string
	Model               string
	SKU                 string

	Quantity  *decimal.Decimal
	UnitPrice *decimal.Decimal
	Discount  *decimal.Decimal
	Shipping  *decimal.Decimal
	Total     *decimal.Decimal
	Currency  string

	ProductURL string
	OrderURL   string
	ReceiptURL string

	Attributes []Attribute
	MediaURLs  []string
}

// Attribute value types.
const (
	ValueText   = "text"
	ValueNumber = "number"
	ValueBool   = "bool"
	ValueJSON   = "json"
)

// Attribute is one key/value observation about an item.
type Attribute struct {
	Key          string
	ValueType    string
	ValueText    string
	ValueNumber  *decimal.Decimal
	ValueBool    *bool
	ValueJSONRaw string
	Source       string
}

// Parser extracts orders from a message. A message that carries no purchase
// yields no orders and no error.
type Parser func(Message) ([]Order, error)

// OrderRef is the path component used to group an order's media: the
// external order id, else the order date, else "unknown_date".
func (o Order) OrderRef() string {
	if o.ExternalOrderID != "" {
		return o.ExternalOrderID
	}
	if o.OrderDate != nil {
		return o.OrderDate.UTC().Format("2006-01-02")
	}
	return "unknown_date"
}
