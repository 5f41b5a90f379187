// Package render turns assistant replies into HTML for the browser UI.
package render

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(
		html.WithHardWraps(),
	),
)

// Markdown renders text as GFM. Raw HTML in the input is not passed through.
func Markdown(text string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return template.HTML(buf.String()), nil
}

// MarkdownOrEscaped falls back to escaped plain text when rendering fails.
func MarkdownOrEscaped(text string) template.HTML {
	out, err := Markdown(text)
	if err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return out
}
