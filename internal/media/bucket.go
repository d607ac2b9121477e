package media

import (
	"mime"
	"path"
	"strings"
)

// Buckets group stored payloads by kind.
const (
	BucketVideos = "videos"
	BucketImages = "images"
	BucketFiles  = "files"
)

var videoExts = []string{".mp4", ".webm", ".mov", ".avi"}
var imageExts = []string{".jpg", ".jpeg", ".png", ".webp", ".gif"}

// Bucket classifies a payload from its MIME type, filename and source URL.
// Video wins over image when both match.
func Bucket(mimeType, filename, url string) string {
	haystack := strings.ToLower(mimeType + " " + filename + " " + url)
	if strings.Contains(haystack, "video") || containsAny(haystack, videoExts) {
		return BucketVideos
	}
	if strings.Contains(haystack, "image") || containsAny(haystack, imageExts) {
		return BucketImages
	}
	return BucketFiles
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// knownExts pins the extension for common types; mime.ExtensionsByType
// depends on the host's mime tables.
var knownExts = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"image/gif":       ".gif",
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/quicktime": ".mov",
	"application/pdf": ".pdf",
	"text/plain":      ".txt",
	"text/html":       ".html",
}

// extension picks the stored file extension: the filename's, else one
// derived from the MIME type, else ".bin".
func extension(filename, mimeType string) string {
	if ext := path.Ext(filename); ext != "" && ext != "." {
		return strings.ToLower(ext)
	}
	if mimeType != "" {
		mediaType, _, err := mime.ParseMediaType(mimeType)
		if err == nil {
			if ext, ok := knownExts[mediaType]; ok {
				return ext
			}
			if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
				return exts[0]
			}
		}
	}
	return ".bin"
}

const maxRefLen = 120

// safeRef turns an external reference into a single path segment.
func safeRef(value, fallback string) string {
	cleaned := strings.TrimSpace(value)
	cleaned = strings.NewReplacer("/", "_", `\`, "_").Replace(cleaned)
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return fallback
	}
	if len(cleaned) > maxRefLen {
		cleaned = truncateUTF8(cleaned, maxRefLen)
	}
	return cleaned
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	for n > 0 && n < len(s) && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
