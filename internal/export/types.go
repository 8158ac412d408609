// Package export renders a document snapshot with its annotations to PDF,
// HTML or DOCX and can archive the result in object storage.
package export

import "errors"

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatHTML Format = "html"
	FormatDOCX Format = "docx"
)

// ParseFormat defaults to PDF.
func ParseFormat(value string) (Format, bool) {
	switch Format(value) {
	case "":
		return FormatPDF, true
	case FormatPDF, FormatHTML, FormatDOCX:
		return Format(value), true
	default:
		return "", false
	}
}

// Request contains parameters for an export operation
type Request struct {
	Ref                string
	Format             Format
	IncludeAnnotations bool
	IncludeResolved    bool
	// Archive stores a copy in the configured bucket.
	Archive bool
}

// Result contains the export output
type Result struct {
	Data       []byte
	Filename   string
	MimeType   string
	ArchiveKey string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
	// ErrArchiveUnavailable means an archive was requested without a configured bucket.
	ErrArchiveUnavailable = errors.New("export archive unavailable")
	ErrUnsupportedFormat  = errors.New("unsupported export format")
)
