package export

import (
	"context"
	"fmt"
	"html/template"
	"log"
	"time"

	"docmerge/internal/anchor"
	"docmerge/internal/docmodel"
)

// DataStore is the read side of a document store.
type DataStore interface {
	GetDocument(ctx context.Context, ref string) (docmodel.Document, error)
	ListAnnotations(ctx context.Context, ref string, includeResolved bool) ([]docmodel.Annotation, error)
}

// Archiver keeps a copy of an export under key.
type Archiver interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

type renderFunc func(ctx context.Context, html, title string) (*Result, error)

// Service provides document export functionality
type Service struct {
	store    DataStore
	archiver Archiver
	timeout  time.Duration
	now      func() time.Time
	pdf      renderFunc
	docx     renderFunc
}

// NewService creates a new export service. archiver may be nil.
func NewService(store DataStore, archiver Archiver, timeout time.Duration) *Service {
	s := &Service{
		store:   store,
		timeout: timeout,
		now:     time.Now,
		docx:    exportDOCX,
	}
	if archiver != nil {
		s.archiver = archiver
	}
	s.pdf = func(ctx context.Context, html, title string) (*Result, error) {
		return exportPDF(ctx, html, title, s.timeout)
	}
	return s
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if req.Archive && s.archiver == nil {
		return nil, ErrArchiveUnavailable
	}

	doc, err := s.store.GetDocument(ctx, req.Ref)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	var annotations []docmodel.Annotation
	if req.IncludeAnnotations {
		annotations, err = s.store.ListAnnotations(ctx, req.Ref, req.IncludeResolved)
		if err != nil {
			return nil, fmt.Errorf("list annotations: %w", err)
		}
	}
	ranges := anchor.Resolve(doc, annotations)

	generatedAt := s.now().UTC()
	data := TemplateData{
		Title:       doc.Title,
		Ref:         doc.Ref,
		ContentHTML: template.HTML(ParagraphsToHTML(doc, ranges)),
		GeneratedAt: generatedAt,
		Annotations: templateAnnotations(annotations, ranges),
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	var result *Result
	switch req.Format {
	case FormatPDF:
		result, err = s.pdf(ctx, html, doc.Title)
	case FormatDOCX:
		result, err = s.docx(ctx, html, doc.Title)
	case FormatHTML:
		result = &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(doc.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
	if err != nil {
		return nil, err
	}

	if req.Archive {
		key := fmt.Sprintf("%s/%s-%s", sanitizeFilename(doc.Ref), generatedAt.Format("20060102T150405Z"), result.Filename)
		if err := s.archiver.Put(ctx, key, result.Data, result.MimeType); err != nil {
			return nil, fmt.Errorf("archive export: %w", err)
		}
		log.Printf("export: archived %s (%d bytes)", key, len(result.Data))
		result.ArchiveKey = key
	}
	return result, nil
}

func templateAnnotations(annotations []docmodel.Annotation, ranges []docmodel.CommentedRange) []TemplateAnnotation {
	out := make([]TemplateAnnotation, 0, len(annotations))
	for _, a := range annotations {
		_, anchored := anchor.Find(ranges, a.ID)
		item := TemplateAnnotation{
			ID:         a.ID,
			AnchorText: a.AnchorText,
			Content:    a.Content,
			Author:     a.Author,
			Resolved:   a.Resolved,
			Orphaned:   a.AnchorText != "" && !anchored,
			Replies:    make([]TemplateReply, 0, len(a.Replies)),
		}
		for _, r := range a.Replies {
			item.Replies = append(item.Replies, TemplateReply{Author: r.Author, Body: r.Content})
		}
		out = append(out, item)
	}
	return out
}
