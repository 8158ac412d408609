package export

import (
	"context"
	"errors"
	"html/template"
	"strings"
	"testing"
	"time"

	"docmerge/internal/docmodel"
)

type fakeStore struct {
	doc         docmodel.Document
	annotations []docmodel.Annotation
	err         error
}

func (f fakeStore) GetDocument(ctx context.Context, ref string) (docmodel.Document, error) {
	if f.err != nil {
		return docmodel.Document{}, f.err
	}
	return f.doc, nil
}

func (f fakeStore) ListAnnotations(ctx context.Context, ref string, includeResolved bool) ([]docmodel.Annotation, error) {
	out := make([]docmodel.Annotation, 0, len(f.annotations))
	for _, a := range f.annotations {
		if a.Resolved && !includeResolved {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

type fakeArchiver struct {
	keys []string
}

func (f *fakeArchiver) Put(ctx context.Context, key string, data []byte, contentType string) error {
	f.keys = append(f.keys, key+"|"+contentType)
	return nil
}

func sampleDocument() docmodel.Document {
	return docmodel.NewDocument("doc-1", "Quarterly Plan", []docmodel.Block{
		{Start: 1, End: 16, Text: "Quarterly Plan\n", Style: docmodel.StyleTitle},
		{Start: 16, End: 22, Text: "Notes\n", Style: "HEADING_1"},
		{Start: 22, End: 45, Text: "Budget <needs> review.\n", Style: docmodel.StyleNormal},
	})
}

func TestParagraphsToHTML(t *testing.T) {
	doc := sampleDocument()
	ranges := []docmodel.CommentedRange{
		{AnnotationID: "c1", Start: 22, End: 28},
		{AnnotationID: "c2", Start: 25, End: 30},
	}

	got := ParagraphsToHTML(doc, ranges)
	want := `<h1 class="title">Quarterly Plan</h1>` + "\n" +
		"<h1>Notes</h1>\n" +
		`<p><mark data-annotations="c1 c2">Budget &lt;</mark>needs&gt; review.</p>` + "\n"
	if got != want {
		t.Fatalf("ParagraphsToHTML() = %q, want %q", got, want)
	}
}

func TestByteIndexCountsSurrogatePairs(t *testing.T) {
	text := "a😀b"
	if got := byteIndex(text, 1); got != 1 {
		t.Fatalf("byteIndex(1) = %d", got)
	}
	if got := byteIndex(text, 3); got != 5 {
		t.Fatalf("byteIndex(3) = %d, want 5", got)
	}
	if got := byteIndex(text, 10); got != len(text) {
		t.Fatalf("byteIndex(10) = %d", got)
	}
}

func TestExportHTMLWithAnnotations(t *testing.T) {
	store := fakeStore{
		doc: sampleDocument(),
		annotations: []docmodel.Annotation{
			{ID: "c1", AnchorText: "review", Content: "Who owns this?", Author: "Sam",
				Replies: []docmodel.Reply{{Author: "Avery", Content: "Finance"}}},
			{ID: "c2", AnchorText: "vanished text", Content: "Stale"},
			{ID: "c3", AnchorText: "Notes", Content: "Done", Resolved: true},
		},
	}
	archiver := &fakeArchiver{}
	svc := NewService(store, archiver, time.Second)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }

	result, err := svc.Export(context.Background(), Request{Ref: "doc-1", Format: FormatHTML, IncludeAnnotations: true, Archive: true})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	html := string(result.Data)
	if !strings.Contains(html, `<mark data-annotations="c1">review</mark>`) {
		t.Fatalf("missing highlighted anchor in %s", html)
	}
	if !strings.Contains(html, "text no longer present") {
		t.Fatal("expected orphaned annotation marker")
	}
	if strings.Contains(html, "Done") {
		t.Fatal("resolved annotation should be excluded")
	}
	if !strings.Contains(html, "Finance") {
		t.Fatal("missing reply")
	}
	if result.Filename != "Quarterly-Plan.html" {
		t.Fatalf("Filename = %q", result.Filename)
	}
	if result.ArchiveKey != "doc-1/20260301T093000Z-Quarterly-Plan.html" || len(archiver.keys) != 1 {
		t.Fatalf("ArchiveKey = %q keys = %v", result.ArchiveKey, archiver.keys)
	}
}

func TestExportDispatchesPDF(t *testing.T) {
	svc := NewService(fakeStore{doc: sampleDocument()}, nil, time.Second)
	var rendered string
	svc.pdf = func(ctx context.Context, html, title string) (*Result, error) {
		rendered = html
		return &Result{Data: []byte("%PDF"), Filename: sanitizeFilename(title) + ".pdf", MimeType: "application/pdf"}, nil
	}

	result, err := svc.Export(context.Background(), Request{Ref: "doc-1", Format: FormatPDF})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.MimeType != "application/pdf" || !strings.Contains(rendered, "Budget &lt;needs&gt; review.") {
		t.Fatalf("Export() = %+v", result)
	}
}

func TestExportErrors(t *testing.T) {
	svc := NewService(fakeStore{doc: sampleDocument()}, nil, time.Second)
	if _, err := svc.Export(context.Background(), Request{Ref: "doc-1", Format: FormatHTML, Archive: true}); !errors.Is(err, ErrArchiveUnavailable) {
		t.Fatalf("Export() error = %v, want ErrArchiveUnavailable", err)
	}
	if _, err := svc.Export(context.Background(), Request{Ref: "doc-1", Format: Format("odt")}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Export() error = %v, want ErrUnsupportedFormat", err)
	}

	missing := NewService(fakeStore{err: docmodel.ErrNotFound}, nil, time.Second)
	if _, err := missing.Export(context.Background(), Request{Ref: "nope", Format: FormatHTML}); !errors.Is(err, docmodel.ErrNotFound) {
		t.Fatalf("Export() error = %v, want ErrNotFound", err)
	}
}

func TestParseFormat(t *testing.T) {
	if f, ok := ParseFormat(""); !ok || f != FormatPDF {
		t.Fatalf("ParseFormat(\"\") = %q, %v", f, ok)
	}
	if _, ok := ParseFormat("odt"); ok {
		t.Fatal("expected odt to be rejected")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"My Document v1.2", "My-Document-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "document"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderDocumentHTML(t *testing.T) {
	data := TemplateData{
		Title:       "Test Document",
		Ref:         "doc-9",
		ContentHTML: template.HTML("<p>This is the content.</p>"),
		GeneratedAt: time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC),
		Annotations: []TemplateAnnotation{{ID: "c1", AnchorText: "content", Content: "Looks good"}},
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		t.Fatalf("RenderDocumentHTML() error = %v", err)
	}
	if !strings.Contains(html, "Test Document") || !strings.Contains(html, "Jan 2, 2026 03:04") {
		t.Error("HTML missing title or date")
	}
	if !strings.Contains(html, "Annotations") || !strings.Contains(html, "Looks good") {
		t.Error("HTML missing annotations section")
	}
	if strings.Contains(html, "&lt;p&gt;") {
		t.Error("HTML content was escaped")
	}
	if !strings.Contains(html, "<p>This is the content.</p>") {
		t.Error("HTML content should contain unescaped <p> tags")
	}
}
