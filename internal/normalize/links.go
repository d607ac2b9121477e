package normalize

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var urlPattern = regexp.MustCompile(`(?i)https?://[^\s"'<>]+`)

var mediaExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif", ".mp4", ".webm", ".mov"}

// ExtractLinks collects absolute URLs from a text body and from the href/src
// attributes of an HTML body, in order of appearance, without duplicates.
func ExtractLinks(text, html string) []string {
	var links []string
	if text != "" {
		links = append(links, urlPattern.FindAllString(text, -1)...)
	}
	if strings.TrimSpace(html) != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
			doc.Find("a, img, source, video").Each(func(_ int, sel *goquery.Selection) {
				attr := "src"
				if goquery.NodeName(sel) == "a" {
					attr = "href"
				}
				if v, ok := sel.Attr(attr); ok && strings.HasPrefix(v, "http") {
					links = append(links, v)
				}
			})
		}
	}
	return dedupeLinks(links)
}

func dedupeLinks(links []string) []string {
	seen := make(map[string]bool, len(links))
	out := make([]string, 0, len(links))
	for _, link := range links {
		link = strings.TrimSpace(link)
		if link == "" || seen[link] {
			continue
		}
		seen[link] = true
		out = append(out, link)
	}
	return out
}

// FilterMediaLinks keeps links whose URL path ends in an image or video
// extension.
func FilterMediaLinks(links []string) []string {
	var out []string
	for _, link := range links {
		u, err := url.Parse(link)
		if err != nil {
			continue
		}
		ext := strings.ToLower(path.Ext(u.Path))
		for _, m := range mediaExtensions {
			if ext == m {
				out = append(out, link)
				break
			}
		}
	}
	return out
}

// firstHTTPLink returns the first link containing "http", or "".
func firstHTTPLink(links []string) string {
	for _, link := range links {
		if strings.Contains(link, "http") {
			return link
		}
	}
	return ""
}
