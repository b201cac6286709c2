// Package render builds the HTML served on the redirect and extension paths.
package render

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

// Content turns the markdown body of a link into sanitized HTML.
type Content struct {
	md        goldmark.Markdown
	sanitizer *bluemonday.Policy
}

// NewContent returns a pipeline with GFM enabled and a UGC sanitizer.
func NewContent() *Content {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Typographer,
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
			html.WithUnsafe(), // bluemonday runs afterwards
		),
	)

	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowAttrs("id").OnElements("h1", "h2", "h3", "h4", "h5", "h6")
	sanitizer.AllowAttrs("alt", "title", "width", "height").OnElements("img")
	sanitizer.AllowAttrs("src").Matching(regexp.MustCompile(`^https?://`)).OnElements("img")
	sanitizer.RequireNoReferrerOnLinks(true)

	return &Content{md: md, sanitizer: sanitizer}
}

// Render converts markdown to sanitized HTML.
func (c *Content) Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := c.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return string(c.sanitizer.SanitizeBytes(buf.Bytes())), nil
}
