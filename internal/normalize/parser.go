package normalize

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	maxShortTitle  = 120
	fallbackTitle  = "Покупка из письма"
	fallbackSource = "email_fallback"
)

// Prices are written with spaces, no-break spaces or dots as thousand
// separators and a comma or dot as the decimal mark.
const amount = `(\d[\d\s\x{00A0}\x{202F}.,]*)`

var (
	orderIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:заказ|order|№)\s*[#:№-]*\s*([A-Za-zА-Яа-я0-9-]{5,})`),
		regexp.MustCompile(`(?i)номер\s*заказа\s*[:№-]*\s*([A-Za-zА-Яа-я0-9-]{5,})`),
	}
	aliOrderIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:order\s*id|order\s*no\.?|заказ|номер\s*заказа)\s*[:#№-]*\s*([0-9A-Z-]{6,})`),
		regexp.MustCompile(`(?i)aliexpress\s*order\s*#\s*([0-9A-Z-]{6,})`),
	}
	pricePattern    = regexp.MustCompile(`(?i)` + amount + `\s*(?:₽|руб|RUB)`)
	itemLinePattern = regexp.MustCompile(`(?i)^[-•*\d).]+\s*(?P<title>.+?)(?:,|\s+-\s+|\s+x\s+)(?:(?P<qty>\d+(?:[.,]\d+)?)\s*(?:шт|pcs|x)?)?(?:.*?(?P<price>` + amount[1:len(amount)-1] + `)\s*(?:₽|руб|RUB))?`)
	totalMarkers    = []string{"итог", "итого", "к оплате", "total"}
)

// ParseEmail is the default Parser. Messages mentioning AliExpress go through
// the AliExpress variant; everything else is matched against the marketplace
// markers. A message with no text yields no orders.
func ParseEmail(msg Message) ([]Order, error) {
	blob := textBlob(msg)
	if strings.TrimSpace(blob) == "" {
		return nil, nil
	}
	if isAliExpress(msg) {
		return []Order{parseAliExpress(msg, blob)}, nil
	}

	code, name := detectStore(strings.Join([]string{msg.Subject, msg.Sender, msg.TextBody, msg.HTMLBody}, " "))
	total := extractTotal(blob)
	currency := guessCurrency(blob)

	items := parseItemLines(msg.TextBody)
	if len(items) == 0 {
		items = []Item{fallbackItem(msg.Subject, total, currency)}
	}
	media := FilterMediaLinks(msg.Links)
	for i := range items {
		if items[i].Currency == "" {
			items[i].Currency = currency
		}
		items[i].MediaURLs = append(items[i].MediaURLs, media...)
	}

	return []Order{{
		StoreCode:       code,
		StoreName:       name,
		ExternalOrderID: firstSubmatch(orderIDPatterns, blob),
		SourceMessageID: msg.MessageID,
		OrderDate:       msg.SentAt,
		Currency:        currency,
		Total:           total,
		SourceURL:       firstHTTPLink(msg.Links),
		Items:           items,
	}}, nil
}

func isAliExpress(msg Message) bool {
	haystack := strings.ToLower(msg.Subject + " " + msg.Sender)
	return strings.Contains(haystack, "aliexpress")
}

// parseAliExpress builds a single-item order from the subject. AliExpress
// notifications carry no parseable item lines.
func parseAliExpress(msg Message, blob string) Order {
	title := strings.TrimSpace(msg.Subject)
	if title == "" {
		title = fallbackTitle
	}
	items := []Item{{
		TitleFull:  title,
		TitleShort: truncate(title, maxShortTitle),
		Quantity:   decimalPtr(decimal.NewFromInt(1)),
		MediaURLs:  FilterMediaLinks(msg.Links),
	}}
	return Order{
		StoreCode:       StoreAliExpress,
		StoreName:       "AliExpress",
		ExternalOrderID: firstSubmatch(aliOrderIDPatterns, blob),
		SourceMessageID: msg.MessageID,
		OrderDate:       msg.SentAt,
		SourceURL:       firstHTTPLink(msg.Links),
		Items:           items,
	}
}

func textBlob(msg Message) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{msg.Subject, msg.TextBody, msg.HTMLBody} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n")
}

func firstSubmatch(patterns []*regexp.Regexp, text string) string {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

// extractTotal prefers a price on a line that names the total, else the first
// price anywhere in the text.
func extractTotal(text string) *decimal.Decimal {
	for _, line := range strings.Split(text, "\n") {
		lowered := strings.ToLower(line)
		if !containsAny(lowered, totalMarkers) {
			continue
		}
		if m := pricePattern.FindStringSubmatch(line); m != nil {
			return parseAmount(m[1])
		}
	}
	if m := pricePattern.FindStringSubmatch(text); m != nil {
		return parseAmount(m[1])
	}
	return nil
}

func guessCurrency(text string) string {
	lowered := strings.ToLower(text)
	switch {
	case strings.Contains(lowered, "₽") || strings.Contains(lowered, "руб"):
		return "RUB"
	case strings.Contains(lowered, "usd") || strings.Contains(lowered, "$"):
		return "USD"
	case strings.Contains(lowered, "eur") || strings.Contains(lowered, "€"):
		return "EUR"
	}
	return ""
}

func parseItemLines(text string) []Item {
	var items []Item
	titleIdx := itemLinePattern.SubexpIndex("title")
	qtyIdx := itemLinePattern.SubexpIndex("qty")
	priceIdx := itemLinePattern.SubexpIndex("price")

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		m := itemLinePattern.FindStringSubmatch(line)
		if m == nil || strings.TrimSpace(m[titleIdx]) == "" {
			continue
		}
		title := strings.TrimSpace(m[titleIdx])
		qty := parseAmount(m[qtyIdx])
		if qty == nil || qty.IsZero() {
			qty = decimalPtr(decimal.NewFromInt(1))
		}
		price := parseAmount(m[priceIdx])

		item := Item{
			TitleFull:  title,
			TitleShort: shortTitle(title),
			Quantity:   qty,
			UnitPrice:  price,
		}
		if price != nil {
			item.Total = decimalPtr(price.Mul(*qty))
		}
		items = append(items, item)
	}
	return items
}

func fallbackItem(subject string, total *decimal.Decimal, currency string) Item {
	title := subject
	if strings.TrimSpace(title) == "" {
		title = fallbackTitle
	}
	return Item{
		TitleFull:  title,
		TitleShort: shortTitle(title),
		Quantity:   decimalPtr(decimal.NewFromInt(1)),
		UnitPrice:  total,
		Total:      total,
		Currency:   currency,
		Attributes: []Attribute{{Key: "source", ValueType: ValueText, ValueText: fallbackSource}},
	}
}

// shortTitle cuts a title at the first ",", " - " or " (".
func shortTitle(title string) string {
	title = strings.TrimSpace(title)
	for _, sep := range []string{",", " - ", " ("} {
		if i := strings.Index(title, sep); i >= 0 {
			return truncate(strings.TrimSpace(title[:i]), maxShortTitle)
		}
	}
	return truncate(title, maxShortTitle)
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// parseAmount reads "1 990,50" style numbers. Unparseable input yields nil.
func parseAmount(s string) *decimal.Decimal {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\u00a0', '\u202f':
			return -1
		case ',':
			return '.'
		}
		return r
	}, s)
	s = strings.TrimRight(s, ".")
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }
