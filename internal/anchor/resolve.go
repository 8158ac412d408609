// Package anchor re-derives annotation positions from their anchor text.
package anchor

import (
	"strings"

	"docmerge/internal/docmodel"
)

// Resolve returns one range per annotation whose anchor text is found in doc.
// Annotations with an empty or missing anchor are dropped. When an anchor
// occurs more than once the first occurrence in reading order wins.
func Resolve(doc docmodel.Document, annotations []docmodel.Annotation) []docmodel.CommentedRange {
	ranges := make([]docmodel.CommentedRange, 0, len(annotations))
	for _, annotation := range annotations {
		if annotation.AnchorText == "" {
			continue
		}
		start, end, ok := Locate(doc.Blocks, annotation.AnchorText)
		if !ok {
			continue
		}
		ranges = append(ranges, docmodel.CommentedRange{
			AnnotationID: annotation.ID,
			Start:        start,
			End:          end,
			AnchorText:   annotation.AnchorText,
		})
	}
	return ranges
}

// Locate finds the first run containing needle and returns its absolute
// [start, end) offsets. Nested containers are searched in place.
func Locate(blocks []docmodel.Block, needle string) (int, int, bool) {
	if needle == "" {
		return 0, 0, false
	}
	for _, block := range blocks {
		if !block.IsParagraph() {
			if start, end, ok := Locate(block.Children, needle); ok {
				return start, end, true
			}
			continue
		}
		for _, run := range block.TextRuns() {
			idx := strings.Index(run.Text, needle)
			if idx < 0 {
				continue
			}
			start := run.Start + docmodel.OffsetOf(run.Text, idx)
			return start, start + docmodel.TextLen(needle), true
		}
	}
	return 0, 0, false
}

// Covering returns the ranges that contain offset, in input order.
func Covering(ranges []docmodel.CommentedRange, offset int) []docmodel.CommentedRange {
	var hits []docmodel.CommentedRange
	for _, r := range ranges {
		if r.Contains(offset) {
			hits = append(hits, r)
		}
	}
	return hits
}

// Find returns the resolved range for an annotation id.
func Find(ranges []docmodel.CommentedRange, annotationID string) (docmodel.CommentedRange, bool) {
	for _, r := range ranges {
		if r.AnnotationID == annotationID {
			return r, true
		}
	}
	return docmodel.CommentedRange{}, false
}
