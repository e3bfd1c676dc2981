package export

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Raw HTML in article bodies is dropped; goldmark escapes it unless the
// unsafe renderer option is set.
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// MarkdownToHTML renders an article body.
func MarkdownToHTML(body string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(body), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return template.HTML(buf.String()), nil
}
