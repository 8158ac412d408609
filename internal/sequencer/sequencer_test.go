package sequencer

import (
	"errors"
	"testing"

	"docmerge/internal/docmodel"
	"docmerge/internal/textbuf"
)

func TestFormatContentIsIdempotent(t *testing.T) {
	cases := []string{"plain", "\nleading", "trailing\n", "\n\nboth\n\n", ""}
	for _, input := range cases {
		once := FormatContent(input)
		twice := FormatContent(once)
		if once != twice {
			t.Fatalf("FormatContent(%q) not idempotent: %q then %q", input, once, twice)
		}
	}
	if got := FormatContent("plain"); got != "\n\nplain\n\n" {
		t.Fatalf("FormatContent() = %q", got)
	}
}

func TestAppendInsertsPaddedContentAsNormalText(t *testing.T) {
	buf := textbuf.FromParagraphs(1, []textbuf.Paragraph{
		{Text: "Title\n", Style: "HEADING_1"},
		{Text: "Body\n", Style: docmodel.StyleNormal},
	})
	offset := 6
	content := "Merged paragraph"
	padded := FormatContent(content)

	plan := Append(offset, content, "")
	if len(plan) != 2 {
		t.Fatalf("Append() len = %d, want 2", len(plan))
	}
	if err := buf.ApplyPlan(plan); err != nil {
		t.Fatalf("ApplyPlan() error = %v", err)
	}

	got, err := buf.Slice(offset, offset+docmodel.TextLen(padded))
	if err != nil {
		t.Fatalf("Slice() error = %v", err)
	}
	if got != padded {
		t.Fatalf("inserted text = %q, want %q", got, padded)
	}
	style, err := buf.ParagraphStyleAt(offset)
	if err != nil {
		t.Fatalf("ParagraphStyleAt() error = %v", err)
	}
	if style != docmodel.StyleNormal {
		t.Fatalf("paragraph style = %q, want NORMAL_TEXT", style)
	}
}

func TestAppendAttributionFollowsInsertedContent(t *testing.T) {
	buf := textbuf.New(1, "Existing text\n")
	offset := buf.End() - 1
	padded := FormatContent("New")

	plan := Append(offset, "New", "meeting notes")
	if len(plan) != 4 {
		t.Fatalf("Append() len = %d, want 4", len(plan))
	}
	suffixStart := offset + docmodel.TextLen(padded)
	if plan[2].Offset != suffixStart {
		t.Fatalf("attribution offset = %d, want %d", plan[2].Offset, suffixStart)
	}
	if err := buf.ApplyPlan(plan); err != nil {
		t.Fatalf("ApplyPlan() error = %v", err)
	}

	want := "Existing text" + padded + " (from: meeting notes)\n"
	if buf.Text() != want {
		t.Fatalf("Text() = %q, want %q", buf.Text(), want)
	}
	style, err := buf.TextStyleAt(suffixStart + 2)
	if err != nil {
		t.Fatalf("TextStyleAt() error = %v", err)
	}
	if !style.Italic || style.Color != AttributionColor {
		t.Fatalf("attribution style = %+v", style)
	}
	plain, _ := buf.TextStyleAt(offset + 3)
	if plain != (docmodel.TextStyle{}) {
		t.Fatalf("content style = %+v, want plain", plain)
	}
}

func TestReplaceWithinRoundTrip(t *testing.T) {
	text := "Keep this sentence intact.\n"
	buf := textbuf.New(1, text)
	r := docmodel.CommentedRange{AnnotationID: "c1", Start: 11, End: 19, AnchorText: "sentence"}
	if got, _ := buf.Slice(r.Start, r.End); got != "sentence" {
		t.Fatalf("fixture range covers %q", got)
	}

	plan, err := ReplaceWithin(r, "paragraph")
	if err != nil {
		t.Fatalf("ReplaceWithin() error = %v", err)
	}
	if len(plan) != 3 || plan[0].Kind != docmodel.EditInsertText {
		t.Fatalf("plan = %v", plan)
	}
	if plan[1].Start != 24 || plan[1].End != 28 || plan[2].Start != 11 || plan[2].End != 15 {
		t.Fatalf("plan = %v", plan)
	}

	before := buf.Len()
	for i, edit := range plan {
		if err := buf.Apply(edit); err != nil {
			t.Fatalf("Apply(%d) error = %v", i, err)
		}
		// Some text of the original anchor survives or borders the new text
		// after every step.
		if buf.Len() == 0 {
			t.Fatalf("buffer emptied at step %d", i)
		}
	}
	if buf.Text() != "Keep this paragraph intact.\n" {
		t.Fatalf("Text() = %q", buf.Text())
	}
	if delta := buf.Len() - before; delta != docmodel.TextLen("paragraph")-r.Len() {
		t.Fatalf("length delta = %d", delta)
	}
	if plan.Delta() != 1 {
		t.Fatalf("plan.Delta() = %d, want 1", plan.Delta())
	}
}

func TestReplaceWithinSingleUnitRange(t *testing.T) {
	buf := textbuf.New(1, "a X b\n")
	r := docmodel.CommentedRange{Start: 3, End: 4, AnchorText: "X"}
	plan, err := ReplaceWithin(r, "YY")
	if err != nil {
		t.Fatalf("ReplaceWithin() error = %v", err)
	}
	if len(plan) != 2 {
		t.Fatalf("plan = %v, want insert and tail delete", plan)
	}
	if err := buf.ApplyPlan(plan); err != nil {
		t.Fatalf("ApplyPlan() error = %v", err)
	}
	if buf.Text() != "a YY b\n" {
		t.Fatalf("Text() = %q", buf.Text())
	}
}

func TestReplaceWithinKeepsSurrogatePairsWhole(t *testing.T) {
	buf := textbuf.New(1, "x😀a y\n")
	r := docmodel.CommentedRange{Start: 2, End: 5, AnchorText: "😀a"}
	if split := SplitPoint(r); split != 4 {
		t.Fatalf("SplitPoint() = %d, want 4", split)
	}
	plan, err := ReplaceWithin(r, "ok")
	if err != nil {
		t.Fatalf("ReplaceWithin() error = %v", err)
	}
	if err := buf.ApplyPlan(plan); err != nil {
		t.Fatalf("ApplyPlan() error = %v", err)
	}
	if buf.Text() != "xok y\n" {
		t.Fatalf("Text() = %q", buf.Text())
	}
}

func TestReplaceWithinRejectsEmptyInput(t *testing.T) {
	if _, err := ReplaceWithin(docmodel.CommentedRange{Start: 4, End: 4}, "x"); !errors.Is(err, docmodel.ErrMutationRejected) {
		t.Fatalf("empty range error = %v", err)
	}
	if _, err := ReplaceWithin(docmodel.CommentedRange{Start: 4, End: 6}, ""); !errors.Is(err, ErrEmptyReplacement) {
		t.Fatalf("empty text error = %v", err)
	}
}

func TestSimulateLeavesSnapshotUntouched(t *testing.T) {
	doc := docmodel.NewDocument("doc", "T", []docmodel.Block{
		{Start: 1, End: 7, Text: "Intro\n", Style: docmodel.StyleNormal},
	})
	buf, err := Simulate(doc, Append(6, "more", ""))
	if err != nil {
		t.Fatalf("Simulate() error = %v", err)
	}
	if buf.Text() != "Intro\n\nmore\n\n\n" {
		t.Fatalf("Text() = %q", buf.Text())
	}
	if doc.Text() != "Intro\n" {
		t.Fatalf("snapshot changed: %q", doc.Text())
	}
}
