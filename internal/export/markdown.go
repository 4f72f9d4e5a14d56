package export

import (
	"bytes"
	"html/template"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	markdownOnce sync.Once
	markdownConv goldmark.Markdown
)

// Raw HTML in the source is dropped since goldmark's renderer is not
// configured with html.WithUnsafe.
func markdownRenderer() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownConv = goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.DefinitionList,
			),
		)
	})
	return markdownConv
}

// MarkdownToHTML renders markdown field content for the report body.
func MarkdownToHTML(source string) (template.HTML, error) {
	if source == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := markdownRenderer().Convert([]byte(source), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}
