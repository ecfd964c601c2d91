// Package markdown renders spec content to sanitized HTML and provides the
// small text utilities (slugs, tables of contents, ETags) the API layer needs.
package markdown

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/danqzq/specmarket/internal/models"
)

var (
	md = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)

	// policy mirrors the service's allow-list: prose, code blocks, tables and
	// blockquotes, with class attributes kept for syntax highlighting.
	policy = func() *bluemonday.Policy {
		p := bluemonday.UGCPolicy()
		p.AllowAttrs("class").OnElements("code", "pre")
		p.AllowAttrs("rel").OnElements("a")
		return p
	}()

	headingPattern = regexp.MustCompile(`^(#{2,6})\s+(.*)`)

	slugStrip    = regexp.MustCompile(`[^a-zA-Z0-9\-\s]`)
	slugCollapse = regexp.MustCompile(`\s+`)
)

// Render converts markdown to sanitized HTML. Raw HTML in the source is
// rendered by goldmark and then stripped by the sanitizer, so the output is
// safe to serve regardless of who authored the spec.
func Render(src string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		// Conversion only fails on writer errors, which bytes.Buffer never has.
		return ""
	}
	return string(policy.SanitizeBytes(buf.Bytes()))
}

// Slugify lowercases text and reduces it to hyphen-separated alphanumerics.
func Slugify(text string) string {
	sanitized := strings.ToLower(strings.TrimSpace(slugStrip.ReplaceAllString(text, "")))
	return slugCollapse.ReplaceAllString(sanitized, "-")
}

// BuildTOC extracts ##..###### headings from markdown source in order.
func BuildTOC(src string) []models.TocItem {
	var toc []models.TocItem
	for _, line := range strings.Split(src, "\n") {
		m := headingPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		text := strings.TrimSpace(m[2])
		toc = append(toc, models.TocItem{
			Text:  text,
			ID:    Slugify(text),
			Level: len(m[1]),
		})
	}
	return toc
}

// ComputeETag returns the hex SHA-256 of payload, used for HTTP caching.
func ComputeETag(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// TitleCase capitalizes the first letter of each space-separated word,
// matching how category and tag names are displayed.
func TitleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
