// Package export renders documents to downloadable formats.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format.
type Format string

const FormatPDF Format = "pdf"

// Document is the content and metadata needed to render an export. The
// caller resolves permissions and version selection before handing it over.
type Document struct {
	ID        string
	Title     string
	Content   string // stored document HTML
	Author    string
	Version   int
	UpdatedAt time.Time
}

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrUnsupportedFormat indicates the requested format is not available.
	ErrUnsupportedFormat = errors.New("export format unsupported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
