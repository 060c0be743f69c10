package export

import (
	"context"
	"fmt"
	"time"

	"planner/api/internal/rollup"
)

type converter func(ctx context.Context, html, title string) (*Result, error)

// Service renders plan exports. The PDF and DOCX converters shell out to
// headless Chrome and pandoc respectively.
type Service struct {
	pdf  converter
	docx converter
	now  func() time.Time
}

// NewService creates a new export service
func NewService() *Service {
	return &Service{pdf: exportPDF, docx: exportDOCX, now: time.Now}
}

// Request contains parameters for an export operation
type Request struct {
	Project rollup.Project
	Owner   string
	Format  Format
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	html, err := RenderPlanHTML(PlanData{
		Project:     req.Project,
		Owner:       req.Owner,
		GeneratedAt: s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(req.Project.Name) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return s.pdf(ctx, html, req.Project.Name)
	case FormatDOCX:
		return s.docx(ctx, html, req.Project.Name)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}
