// Package export renders a record as an HTML or PDF case report.
package export

import (
	"errors"
	"time"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// ParseFormat maps a query value to a Format. Empty means HTML.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Field is one payload value in display order.
type Field struct {
	Slug     string
	Label    string
	Markdown bool
	Value    any
	Verified bool
}

// Report is everything the case report shows about a record.
type Report struct {
	RecordID    int64
	Title       string
	ProjectName string
	RecordType  string
	Status      string
	ReviewCycle int
	FirstReview *Signoff
	Verified    *Signoff
	Fields      []Field
	Evidence    []EvidenceItem
	GeneratedAt time.Time
}

type Signoff struct {
	By string
	At time.Time
}

type EvidenceItem struct {
	ContentType string
	ContentHash string
	Size        int64
	SourceURL   string
}

type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates no Chromium binary is available.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
