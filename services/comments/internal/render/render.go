// Package render turns the markdown a user typed into the sanitized HTML
// stored alongside it.
package render

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// Output is the result of rendering one comment.
type Output struct {
	// HTML is safe to embed in a page.
	HTML string
	// Text is the visible text with all markup stripped.
	Text string
}

// Empty reports whether nothing visible is left after rendering.
func (o Output) Empty() bool { return strings.TrimSpace(o.Text) == "" }

// Renderer is safe for concurrent use.
type Renderer struct {
	md     goldmark.Markdown
	ugc    *bluemonday.Policy
	strict *bluemonday.Policy
}

func New() *Renderer {
	ugc := bluemonday.UGCPolicy()
	ugc.AddTargetBlankToFullyQualifiedLinks(true)
	ugc.RequireNoReferrerOnLinks(true)
	ugc.RequireNoFollowOnLinks(true)

	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(
				gmhtml.WithHardWraps(),
				gmhtml.WithXHTML(),
			),
		),
		ugc:    ugc,
		strict: bluemonday.StrictPolicy(),
	}
}

// Render converts raw markdown. Raw HTML in the input is dropped by goldmark
// and whatever survives is sanitized again.
func (r *Renderer) Render(raw string) (Output, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(raw), &buf); err != nil {
		return Output{}, fmt.Errorf("render markdown: %w", err)
	}
	safe := r.ugc.SanitizeBytes(buf.Bytes())
	text := html.UnescapeString(string(r.strict.SanitizeBytes(safe)))
	return Output{
		HTML: strings.TrimSpace(string(safe)),
		Text: strings.TrimSpace(text),
	}, nil
}
