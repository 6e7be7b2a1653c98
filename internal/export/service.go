package export

import "fmt"

// Service renders documents into downloadable formats.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Export generates an export of the document in the requested format. The
// caller has already checked the viewer can read the document.
func (s *Service) Export(doc Document, format Format) (*Result, error) {
	html, err := RenderDocumentHTML(TemplateData{
		Title:     doc.Title,
		Content:   doc.Content,
		Author:    doc.Author,
		Version:   doc.Version,
		UpdatedAt: doc.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch format {
	case FormatPDF:
		return exportPDF(html, doc.Title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
