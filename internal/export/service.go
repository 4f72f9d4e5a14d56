package export

import (
	"context"
	"fmt"
)

type pdfPrinter func(ctx context.Context, html string) ([]byte, error)

type Service struct {
	printPDF pdfPrinter
}

func NewService() *Service {
	return &Service{printPDF: chromePDF}
}

// Render produces the case report for a record in the requested format.
func (s *Service) Render(ctx context.Context, report Report, format Format) (*Result, error) {
	html, err := RenderHTML(report)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	name := fmt.Sprintf("record-%d-%s", report.RecordID, sanitizeFilename(report.Title))

	switch format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: name + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		data, err := s.printPDF(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:     data,
			Filename: name + ".pdf",
			MimeType: "application/pdf",
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
