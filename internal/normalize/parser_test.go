package normalize

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amountOf(t *testing.T, d *decimal.Decimal) string {
	t.Helper()
	require.NotNil(t, d)
	return d.String()
}

func TestParseEmail_ItemLines(t *testing.T) {
	sent := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	msg := Message{
		Source:    "email",
		MessageID: "<m1@ozon.ru>",
		Subject:   "Ваш заказ 12345678 оформлен",
		Sender:    "Ozon <noreply@ozon.ru>",
		SentAt:    &sent,
		TextBody: "Здравствуйте!\n" +
			"- Наушники Sony WH-1000XM5, 1 шт, 29 990 ₽\n" +
			"- Чехол для телефона x 2 шт 500 ₽\n" +
			"- Кабель USB-C, без цены\n" +
			"Итого: 30 990 ₽\n",
		Links: []string{"https://ozon.ru/my/orderdetails", "https://cdn.ozon.ru/p/1.jpg"},
	}

	orders, err := ParseEmail(msg)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	o := orders[0]

	assert.Equal(t, StoreOzon, o.StoreCode)
	assert.Equal(t, "Ozon", o.StoreName)
	assert.Equal(t, "12345678", o.ExternalOrderID)
	assert.Equal(t, "<m1@ozon.ru>", o.SourceMessageID)
	assert.Equal(t, &sent, o.OrderDate)
	assert.Equal(t, "RUB", o.Currency)
	assert.Equal(t, "30990", amountOf(t, o.Total))
	assert.Equal(t, "https://ozon.ru/my/orderdetails", o.SourceURL)

	require.Len(t, o.Items, 3)

	head := o.Items[0]
	assert.Equal(t, "Наушники Sony WH-1000XM5", head.TitleFull)
	assert.Equal(t, "1", amountOf(t, head.Quantity))
	assert.Equal(t, "29990", amountOf(t, head.UnitPrice))
	assert.Equal(t, "29990", amountOf(t, head.Total))
	assert.Equal(t, "RUB", head.Currency)
	assert.Equal(t, []string{"https://cdn.ozon.ru/p/1.jpg"}, head.MediaURLs)

	pair := o.Items[1]
	assert.Equal(t, "Чехол для телефона", pair.TitleFull)
	assert.Equal(t, "2", amountOf(t, pair.Quantity))
	assert.Equal(t, "500", amountOf(t, pair.UnitPrice))
	assert.Equal(t, "1000", amountOf(t, pair.Total))

	cable := o.Items[2]
	assert.Equal(t, "Кабель USB-C", cable.TitleFull)
	assert.Nil(t, cable.UnitPrice)
	assert.Nil(t, cable.Total)
}

func TestParseEmail_FallbackItem(t *testing.T) {
	msg := Message{
		MessageID: "m-dns",
		Subject:   "Спасибо за покупку в DNS",
		TextBody:  "Сумма к оплате: 4 599 руб.\n",
	}

	orders, err := ParseEmail(msg)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	o := orders[0]

	assert.Equal(t, StoreDNS, o.StoreCode)
	assert.Empty(t, o.ExternalOrderID)
	assert.Equal(t, "4599", amountOf(t, o.Total))
	require.Len(t, o.Items, 1)

	item := o.Items[0]
	assert.Equal(t, "Спасибо за покупку в DNS", item.TitleFull)
	assert.Equal(t, "1", amountOf(t, item.Quantity))
	assert.Equal(t, "4599", amountOf(t, item.UnitPrice))
	assert.Equal(t, "4599", amountOf(t, item.Total))
	assert.Equal(t, "RUB", item.Currency)
	assert.Equal(t, []Attribute{{Key: "source", ValueType: ValueText, ValueText: "email_fallback"}}, item.Attributes)
}

func TestParseEmail_FallbackTitleWithoutSubject(t *testing.T) {
	orders, err := ParseEmail(Message{MessageID: "m", TextBody: "Оплачено 100 руб"})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, StoreOther, orders[0].StoreCode)
	assert.Equal(t, "Покупка из письма", orders[0].Items[0].TitleFull)
}

func TestParseEmail_EmptyMessage(t *testing.T) {
	orders, err := ParseEmail(Message{MessageID: "m", Subject: "  "})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestParseEmail_AliExpress(t *testing.T) {
	msg := Message{
		MessageID: "ali-1",
		Subject:   "AliExpress order #8123456789012 shipped",
		Sender:    "AliExpress <transaction@notice.aliexpress.com>",
		TextBody:  "Your parcel is on the way",
		Links:     []string{"https://ae01.alicdn.com/kf/photo.jpg", "https://aliexpress.com/p/order"},
	}

	orders, err := ParseEmail(msg)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	o := orders[0]

	assert.Equal(t, StoreAliExpress, o.StoreCode)
	assert.Equal(t, "AliExpress", o.StoreName)
	assert.Equal(t, "8123456789012", o.ExternalOrderID)
	assert.Equal(t, "https://ae01.alicdn.com/kf/photo.jpg", o.SourceURL)
	require.Len(t, o.Items, 1)
	assert.Equal(t, msg.Subject, o.Items[0].TitleFull)
	assert.Equal(t, "1", amountOf(t, o.Items[0].Quantity))
	assert.Equal(t, []string{"https://ae01.alicdn.com/kf/photo.jpg"}, o.Items[0].MediaURLs)
}

func TestDetectStore(t *testing.T) {
	tests := []struct {
		blob string
		want string
	}{
		{"Ваш заказ в WB доставлен", StoreWildberries},
		{"noreply@wildberries.ru", StoreWildberries},
		{"Заказ на Яндекс Маркете", StoreYandex},
		{"https://market.yandex.ru/my/orders", StoreYandex},
		{"СберМегаМаркет: заказ собран", StoreMegamarket},
		{"Ашан доставка", StoreAuchan},
		{"orders@shopwb.example", StoreOther},
		{"addns record updated", StoreOther},
		{"", StoreOther},
	}
	for _, tt := range tests {
		t.Run(tt.blob, func(t *testing.T) {
			code, _ := detectStore(tt.blob)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1 990", "1990"},
		{"1 234,50", "1234.5"},
		{"12.30 ", "12.3"},
		{"500.", "500"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, amountOf(t, parseAmount(tt.in)))
		})
	}
	assert.Nil(t, parseAmount(""))
	assert.Nil(t, parseAmount("1.234.56"))
}

func TestGuessCurrency(t *testing.T) {
	assert.Equal(t, "RUB", guessCurrency("итого 100 ₽"))
	assert.Equal(t, "RUB", guessCurrency("100 РУБ"))
	assert.Equal(t, "USD", guessCurrency("total $12"))
	assert.Equal(t, "EUR", guessCurrency("12 €"))
	assert.Equal(t, "", guessCurrency("no money here"))
}

func TestShortTitle(t *testing.T) {
	assert.Equal(t, "Наушники", shortTitle("Наушники, черные"))
	assert.Equal(t, "Чайник", shortTitle("Чайник - 1.7 л"))
	assert.Equal(t, "Кружка", shortTitle(" Кружка (белая) "))
	assert.Len(t, []rune(shortTitle(strings.Repeat("я", 200))), 120)
}

func TestOrderRef(t *testing.T) {
	day := time.Date(2026, 3, 4, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "A1", Order{ExternalOrderID: "A1", OrderDate: &day}.OrderRef())
	assert.Equal(t, "2026-03-04", Order{OrderDate: &day}.OrderRef())
	assert.Equal(t, "unknown_date", Order{}.OrderRef())
}
