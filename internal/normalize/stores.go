package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Store codes recognized by ParseEmail.
const (
	StoreOzon        = "ozon"
	StoreWildberries = "wildberries"
	StoreYandex      = "yamarket"
	StoreMegamarket  = "megamarket"
	StoreDNS         = "dns"
	StoreAuchan      = "auchan"
	StoreAliExpress  = "aliexpress"
	StoreOther       = "email_other"
)

// ErrUnknownSource is returned by StoreFilter for a source name it does not know.
var ErrUnknownSource = errors.New("unknown source")

type storeMarker struct {
	marker *regexp.Regexp
	code   string
	name   string
}

// Markers are checked in order against the lower-cased message blob. Short
// latin markers must stand alone so "wb" does not fire on "web".
var storeMarkers = []storeMarker{
	{substr("ozon"), StoreOzon, "Ozon"},
	{substr("wildberries"), StoreWildberries, "Wildberries"},
	{word("wb"), StoreWildberries, "Wildberries"},
	{substr("яндекс маркет"), StoreYandex, "Яндекс Маркет"},
	{substr("yandex market"), StoreYandex, "Яндекс Маркет"},
	{substr("market.yandex"), StoreYandex, "Яндекс Маркет"},
	{substr("мегамаркет"), StoreMegamarket, "Мегамаркет"},
	{word("dns"), StoreDNS, "DNS"},
	{substr("ашан"), StoreAuchan, "Ашан"},
}

func substr(s string) *regexp.Regexp { return regexp.MustCompile(regexp.QuoteMeta(s)) }
func word(s string) *regexp.Regexp   { return regexp.MustCompile(`\b` + regexp.QuoteMeta(s) + `\b`) }

// detectStore returns the store code and display name for a message blob.
func detectStore(blob string) (code, name string) {
	lowered := strings.ToLower(blob)
	for _, m := range storeMarkers {
		if m.marker.MatchString(lowered) {
			return m.code, m.name
		}
	}
	return StoreOther, "Email/прочее"
}

var sourceFilters = map[string]string{
	"all":         "",
	"email":       "",
	"ozon":        StoreOzon,
	"wb":          StoreWildberries,
	"wildberries": StoreWildberries,
	"yamarket":    StoreYandex,
	"megamarket":  StoreMegamarket,
	"dns":         StoreDNS,
	"auchan":      StoreAuchan,
	"aliexpress":  StoreAliExpress,
	"ali":         StoreAliExpress,
}

// StoreFilter maps a run source name to the store code whose orders the run
// keeps. An empty code means every store is kept.
func StoreFilter(source string) (string, error) {
	code, ok := sourceFilters[strings.ToLower(strings.TrimSpace(source))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	return code, nil
}

// Sources lists the accepted run source names.
func Sources() []string {
	return []string{"all", "email", "ozon", "wb", "wildberries", "yamarket", "megamarket", "dns", "auchan", "aliexpress", "ali"}
}
