// Package attribution records where merged content came from by re-finding
// it in the updated document and leaving a comment that describes the spot.
package attribution

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"docmerge/internal/docmodel"
)

const (
	DefaultPrefixLen     = 50
	DefaultExcerptRadius = 40
)

type documentStore interface {
	GetDocument(ctx context.Context, ref string) (docmodel.Document, error)
	CreateAnnotation(ctx context.Context, ref, content string) (string, error)
}

// Result reports which path Annotate took. ParagraphIndex is nil for the
// document-level fallback.
type Result struct {
	AnnotationID   string `json:"annotationId"`
	Anchored       bool   `json:"anchored"`
	ParagraphIndex *int   `json:"paragraphIndex,omitempty"`
	Excerpt        string `json:"excerpt,omitempty"`
}

type Annotator struct {
	store         documentStore
	prefixLen     int
	excerptRadius int
}

func New(store documentStore, prefixLen, excerptRadius int) *Annotator {
	if prefixLen <= 0 {
		prefixLen = DefaultPrefixLen
	}
	if excerptRadius <= 0 {
		excerptRadius = DefaultExcerptRadius
	}
	return &Annotator{store: store, prefixLen: prefixLen, excerptRadius: excerptRadius}
}

// Annotate re-reads ref and comments on the paragraph holding inserted. When
// the text cannot be found the comment is created without location details.
func (a *Annotator) Annotate(ctx context.Context, ref, inserted, description string) (Result, error) {
	doc, err := a.store.GetDocument(ctx, ref)
	if err != nil {
		return Result{}, fmt.Errorf("get document for attribution: %w", err)
	}

	body := fmt.Sprintf("Added from %s", description)
	result := Result{}
	if paragraph, excerpt, err := a.find(doc, inserted); err == nil {
		index := paragraph
		result.Anchored = true
		result.ParagraphIndex = &index
		result.Excerpt = excerpt
		body = fmt.Sprintf("%s\n\nLocation: Paragraph #%d\nContext: \"...%s...\"", body, paragraph, excerpt)
	}

	id, err := a.store.CreateAnnotation(ctx, ref, body)
	if err != nil {
		return Result{}, fmt.Errorf("create attribution annotation: %w", err)
	}
	result.AnnotationID = id
	return result, nil
}

// find returns the 0-based ordinal of the top-level paragraph holding the
// first case-insensitive match of the inserted prefix, and an excerpt from
// that paragraph. Matches never span paragraphs; tables and other containers
// are skipped and do not count toward the ordinal.
func (a *Annotator) find(doc docmodel.Document, inserted string) (int, string, error) {
	prefix := leadingRunes(strings.TrimSpace(inserted), a.prefixLen)
	if prefix == "" {
		return 0, "", docmodel.ErrAnchorNotFound
	}
	needle, _ := fold(prefix)

	ordinal := -1
	for _, block := range doc.Blocks {
		if !block.IsParagraph() {
			continue
		}
		ordinal++

		var builder strings.Builder
		for _, run := range block.TextRuns() {
			builder.WriteString(run.Text)
		}
		text := builder.String()
		folded, origin := fold(text)
		if idx := strings.Index(folded, needle); idx >= 0 {
			return ordinal, a.excerpt(text, origin[idx], prefix), nil
		}
	}
	return 0, "", docmodel.ErrAnchorNotFound
}

func (a *Annotator) excerpt(text string, start int, prefix string) string {
	runes := []rune(text)
	at := utf8.RuneCountInString(text[:start])
	lo := max(at-a.excerptRadius, 0)
	hi := min(at+utf8.RuneCountInString(prefix)+a.excerptRadius, len(runes))
	return strings.TrimSpace(strings.ReplaceAll(string(runes[lo:hi]), "\n", " "))
}

// fold lower-cases text rune by rune and maps each byte of the result back to
// the byte offset of the rune it came from.
func fold(text string) (string, []int) {
	var builder strings.Builder
	origin := make([]int, 0, len(text))
	for i, r := range text {
		lower := strings.ToLower(string(r))
		builder.WriteString(lower)
		for range len(lower) {
			origin = append(origin, i)
		}
	}
	return builder.String(), origin
}

func leadingRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
