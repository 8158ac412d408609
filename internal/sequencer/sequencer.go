// Package sequencer turns an insert or replace intent into an ordered plan of
// primitive edits. Each edit's offsets are expressed against the document as
// left by the edits before it, so the builders track a running cursor instead
// of reading positions back from the live document.
package sequencer

import (
	"errors"
	"fmt"
	"strings"

	"docmerge/internal/docmodel"
	"docmerge/internal/textbuf"
)

// AttributionColor is the foreground colour of inline source attributions.
const AttributionColor = "#9933CC"

const separator = "\n\n"

var ErrEmptyReplacement = errors.New("replacement text is empty")

// FormatContent surrounds content with blank-line separators. Content that
// already starts or ends with a newline is left alone on that side, so the
// function is idempotent.
func FormatContent(content string) string {
	if !strings.HasPrefix(content, "\n") {
		content = separator + content
	}
	if !strings.HasSuffix(content, "\n") {
		content += separator
	}
	return content
}

// Attribution returns the inline suffix naming where content came from.
func Attribution(description string) string {
	return fmt.Sprintf(" (from: %s)", description)
}

// Append builds the plan for inserting content at offset, outside of any
// annotated range. A non-empty attribution adds an italic source suffix right
// after the inserted text.
func Append(offset int, content, attribution string) docmodel.Plan {
	padded := FormatContent(content)
	cursor := offset

	plan := docmodel.Plan{docmodel.InsertText(cursor, padded)}
	end := cursor + docmodel.TextLen(padded)
	plan = append(plan, docmodel.SetParagraphStyle(cursor, end, docmodel.StyleNormal))
	cursor = end

	if attribution != "" {
		suffix := Attribution(attribution)
		suffixEnd := cursor + docmodel.TextLen(suffix)
		plan = append(plan,
			docmodel.InsertText(cursor, suffix),
			docmodel.SetTextStyle(cursor, suffixEnd, docmodel.TextStyle{Italic: true, Color: AttributionColor}),
		)
	}
	return plan
}

// ReplaceWithin replaces the text of r with newText without ever emptying the
// range: the new text goes in at an interior split point first, then the
// shifted tail and the untouched head of the old text are deleted.
func ReplaceWithin(r docmodel.CommentedRange, newText string) (docmodel.Plan, error) {
	if r.Len() <= 0 {
		return nil, fmt.Errorf("%w: empty range [%d,%d)", docmodel.ErrMutationRejected, r.Start, r.End)
	}
	if newText == "" {
		return nil, ErrEmptyReplacement
	}

	split := SplitPoint(r)
	shift := docmodel.TextLen(newText)

	plan := docmodel.Plan{docmodel.InsertText(split, newText)}
	if tailStart, tailEnd := split+shift, r.End+shift; tailEnd > tailStart {
		plan = append(plan, docmodel.DeleteRange(tailStart, tailEnd))
	}
	if split > r.Start {
		plan = append(plan, docmodel.DeleteRange(r.Start, split))
	}
	return plan, nil
}

// SplitPoint returns the midpoint of r moved back onto a character boundary
// of its anchor text. A one-unit range splits at its start.
func SplitPoint(r docmodel.CommentedRange) int {
	mid := r.Len() / 2
	if r.AnchorText == "" || docmodel.TextLen(r.AnchorText) != r.Len() {
		return r.Start + mid
	}
	best, units := 0, 0
	for _, ch := range r.AnchorText {
		if units > mid {
			break
		}
		best = units
		units += docmodel.TextLen(string(ch))
	}
	if best == 0 && units < r.Len() {
		best = units
	}
	return r.Start + best
}

// Simulate applies plan to a local copy of doc's paragraphs.
func Simulate(doc docmodel.Document, plan docmodel.Plan) (*textbuf.Buffer, error) {
	buf := BufferFor(doc)
	if err := buf.ApplyPlan(plan); err != nil {
		return nil, err
	}
	return buf, nil
}

// BufferFor loads doc's paragraphs into a simulation buffer.
func BufferFor(doc docmodel.Document) *textbuf.Buffer {
	paragraphs := doc.Paragraphs()
	base := docmodel.FirstOffset
	if len(paragraphs) > 0 {
		base = paragraphs[0].Start
	}
	out := make([]textbuf.Paragraph, 0, len(paragraphs))
	for _, block := range paragraphs {
		out = append(out, textbuf.Paragraph{Text: block.Text, Style: block.Style})
	}
	return textbuf.FromParagraphs(base, out)
}
