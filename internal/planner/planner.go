// Package planner picks the offset new content is inserted at and classifies
// it against the resolved annotation ranges.
package planner

import (
	"fmt"

	"docmerge/internal/anchor"
	"docmerge/internal/docmodel"
)

// Plan computes the insertion point for sectionHint. It never relocates an
// unsafe target; the caller's policy decides what to do with it.
func Plan(doc docmodel.Document, ranges []docmodel.CommentedRange, sectionHint string, policy docmodel.ConflictPolicy) docmodel.InsertionPoint {
	var point docmodel.InsertionPoint
	switch {
	case doc.IsEmpty():
		point = docmodel.InsertionPoint{
			Offset:   docmodel.FirstOffset,
			Strategy: docmodel.StrategyNewSection,
			Reason:   "Document is empty, inserting at start",
		}
	case sectionHint != "":
		if section, ok := doc.FindSection(sectionHint); ok {
			point = docmodel.InsertionPoint{
				Offset:      section.End - 1,
				SectionName: section.Heading,
				Strategy:    docmodel.StrategyAfter,
				Reason:      fmt.Sprintf("End of section %q", section.Heading),
			}
		} else {
			point = docmodel.InsertionPoint{
				Offset:   documentTail(doc),
				Strategy: docmodel.StrategyNewSection,
				Reason:   fmt.Sprintf("Section %q not found, inserting at document end", sectionHint),
			}
		}
	default:
		point = docmodel.InsertionPoint{
			Offset:   documentTail(doc),
			Strategy: docmodel.StrategyNewSection,
			Reason:   "Inserting at document end",
		}
	}

	classify(&point, ranges)
	if !point.Safe && policy == docmodel.PolicyForce {
		point.Reason += "; overlaps annotated text, forced"
	}
	return point
}

// Alternatives returns the insert-before and insert-after candidates around
// the annotations affected by point, each classified on its own.
func Alternatives(doc docmodel.Document, ranges []docmodel.CommentedRange, point docmodel.InsertionPoint) []docmodel.InsertionPoint {
	if point.Safe || len(point.AffectedAnnotationIDs) == 0 {
		return nil
	}
	affected := anchor.Covering(ranges, point.Offset)
	if len(affected) == 0 {
		return nil
	}
	earliest, latest := affected[0].Start, affected[0].End
	for _, r := range affected[1:] {
		earliest = min(earliest, r.Start)
		latest = max(latest, r.End)
	}

	before := docmodel.InsertionPoint{
		Offset:      earliest,
		SectionName: point.SectionName,
		Strategy:    docmodel.StrategyBefore,
		Reason:      "Before the commented paragraph",
	}
	if block, ok := containingParagraph(doc, earliest); ok {
		before.Offset = block.Start
	}
	after := docmodel.InsertionPoint{
		Offset:      latest,
		SectionName: point.SectionName,
		Strategy:    docmodel.StrategyAfter,
		Reason:      "After the commented paragraph",
	}
	if block, ok := containingParagraph(doc, latest-1); ok {
		after.Offset = block.End - 1
	}

	classify(&before, ranges)
	classify(&after, ranges)
	return []docmodel.InsertionPoint{before, after}
}

func classify(point *docmodel.InsertionPoint, ranges []docmodel.CommentedRange) {
	point.AffectedAnnotationIDs = []string{}
	for _, r := range anchor.Covering(ranges, point.Offset) {
		point.AffectedAnnotationIDs = append(point.AffectedAnnotationIDs, r.AnnotationID)
	}
	point.Safe = len(point.AffectedAnnotationIDs) == 0
}

func documentTail(doc docmodel.Document) int {
	return max(doc.End()-1, docmodel.FirstOffset)
}

func containingParagraph(doc docmodel.Document, offset int) (docmodel.Block, bool) {
	for _, block := range doc.Paragraphs() {
		if block.Start <= offset && offset < block.End {
			return block, true
		}
	}
	return docmodel.Block{}, false
}
