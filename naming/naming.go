// Package naming derives destination file names for downloaded records.
package naming

import (
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// FallbackExtension is used when neither the URL nor the response tells us
// what kind of file we received.
const FallbackExtension = ".bin"

var unwantedCharacters = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Sanitize turns a display name and an identifier into a filesystem-safe stem.
//
// Whitespace runs in name collapse into single underscores, the result is
// lower-cased and stripped of everything outside [A-Za-z0-9_-], then a hyphen
// and the trimmed identifier are appended. "Blue Widget" and " SK-1 " become
// "blue_widget-SK-1".
func Sanitize(name, identifier string) string {
	stem := strings.ToLower(strings.Join(strings.Fields(name), "_"))
	stem = unwantedCharacters.ReplaceAllString(stem, "")
	return stem + "-" + strings.TrimSpace(identifier)
}

// URLExtension returns the dot-suffix of the last path segment of rawURL,
// e.g. ".png" for "https://x/img.png?w=10". Names without a dot, names that
// only start with one and names ending in one have no suffix.
func URLExtension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	i := strings.LastIndex(name, ".")
	if i <= 0 || i == len(name)-1 {
		return ""
	}
	return name[i:]
}

// Source records where a resolved extension came from.
type Source string

const (
	FromURL         Source = "url"
	FromContentType Source = "content-type"
	FromContent     Source = "content"
	FromFallback    Source = "fallback"
)

// Resolve picks the output extension for a download.
//
// A non-empty explicit suffix (see URLExtension) always wins. Otherwise the
// declared content type is mapped to an extension, then the first bytes of
// the body are sniffed, and finally FallbackExtension is returned. head may
// be nil when the body has not been read.
func Resolve(explicit, contentType string, head []byte) (string, Source) {
	if explicit != "" {
		return explicit, FromURL
	}
	if ext := ExtensionForContentType(contentType); ext != "" {
		return ext, FromContentType
	}
	if len(head) > 0 {
		if ext := mimetype.Detect(head).Extension(); ext != "" {
			return ext, FromContent
		}
	}
	return FallbackExtension, FromFallback
}

// ExtensionForContentType maps a Content-Type header value such as
// "image/jpeg; charset=binary" to ".jpg". Unknown or generic binary types map
// to "".
func ExtensionForContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	}
	m := mimetype.Lookup(strings.ToLower(mediaType))
	if m == nil {
		return ""
	}
	return m.Extension()
}
