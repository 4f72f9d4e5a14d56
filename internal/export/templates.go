package export

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"strconv"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var recordTemplate = template.Must(
	template.New("record.html").Funcs(template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.UTC().Format(layout)
		},
	}).ParseFS(templateFS, "templates/record.html"),
)

type templateData struct {
	Report
	Fields []templateField
}

type templateField struct {
	Label    string
	HTML     template.HTML
	Verified bool
}

// RenderHTML renders the report as a standalone HTML document.
func RenderHTML(report Report) (string, error) {
	data := templateData{Report: report, Fields: make([]templateField, 0, len(report.Fields))}
	for _, f := range report.Fields {
		body, err := fieldHTML(f)
		if err != nil {
			return "", fmt.Errorf("render field %s: %w", f.Slug, err)
		}
		label := f.Label
		if label == "" {
			label = f.Slug
		}
		data.Fields = append(data.Fields, templateField{Label: label, HTML: body, Verified: f.Verified})
	}

	var buf bytes.Buffer
	if err := recordTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func fieldHTML(f Field) (template.HTML, error) {
	if f.Markdown {
		if s, ok := f.Value.(string); ok {
			return MarkdownToHTML(s)
		}
	}
	return template.HTML(template.HTMLEscapeString(displayValue(f.Value))), nil
}

func displayValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "yes"
		}
		return "no"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, displayValue(item))
		}
		return strings.Join(parts, ", ")
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}
