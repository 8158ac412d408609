package docmodel

import (
	"errors"
	"testing"
)

func TestBuildSectionsExtendsOverFollowingParagraphs(t *testing.T) {
	blocks := []Block{
		{Start: 1, End: 7, Text: "Intro\n", Style: StyleNormal},
		{Start: 7, End: 13, Text: "Notes\n", Style: "HEADING_1"},
		{Start: 13, End: 20, Text: "first.\n", Style: StyleNormal},
		{Start: 20, End: 28, Text: "second.\n", Style: StyleNormal},
		{Start: 28, End: 35, Text: "Other\n", Style: "HEADING_2"},
	}

	sections := BuildSections(blocks)
	if len(sections) != 2 {
		t.Fatalf("BuildSections() len = %d, want 2", len(sections))
	}
	if sections[0].Heading != "Notes" || sections[0].Start != 7 || sections[0].End != 28 {
		t.Fatalf("first section = %+v", sections[0])
	}
	if sections[1].Level != 2 || sections[1].End != 35 {
		t.Fatalf("second section = %+v", sections[1])
	}
}

func TestFindSectionIsCaseInsensitiveSubstring(t *testing.T) {
	doc := NewDocument("d", "T", []Block{
		{Start: 1, End: 16, Text: "Meeting Notes\n", Style: "HEADING_1"},
	})
	section, ok := doc.FindSection("notes")
	if !ok {
		t.Fatal("expected section match")
	}
	if section.Heading != "Meeting Notes" {
		t.Fatalf("section heading = %q", section.Heading)
	}
	if _, ok := doc.FindSection("missing"); ok {
		t.Fatal("unexpected match for missing section")
	}
	if _, ok := doc.FindSection("  "); ok {
		t.Fatal("blank hint must not match")
	}
}

func TestEmptyDocumentEnd(t *testing.T) {
	doc := NewDocument("d", "", nil)
	if !doc.IsEmpty() || doc.End() != FirstOffset {
		t.Fatalf("empty document end = %d", doc.End())
	}
}

func TestTextLenCountsUTF16Units(t *testing.T) {
	cases := map[string]int{
		"":      0,
		"abc":   3,
		"héllo": 5,
		"a😀b":   4,
	}
	for input, want := range cases {
		if got := TextLen(input); got != want {
			t.Fatalf("TextLen(%q) = %d, want %d", input, got, want)
		}
	}
	if got := OffsetOf("a😀b", len("a😀")); got != 3 {
		t.Fatalf("OffsetOf() = %d, want 3", got)
	}
}

func TestParseRef(t *testing.T) {
	cases := map[string]string{
		"https://docs.google.com/document/d/abc_DEF-123/edit": "abc_DEF-123",
		"  abc123  ": "abc123",
	}
	for input, want := range cases {
		if got := ParseRef(input); got != want {
			t.Fatalf("ParseRef(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestPlanValidate(t *testing.T) {
	if err := (Plan{}).Validate(); !errors.Is(err, ErrMutationRejected) {
		t.Fatalf("empty plan error = %v", err)
	}
	bad := Plan{InsertText(1, "x"), DeleteRange(5, 5)}
	if err := bad.Validate(); !errors.Is(err, ErrMutationRejected) {
		t.Fatalf("bad range error = %v", err)
	}
	good := Plan{InsertText(10, "hello"), DeleteRange(15, 18), SetTextStyle(1, 3, TextStyle{Italic: true})}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if good.Delta() != 2 {
		t.Fatalf("Delta() = %d, want 2", good.Delta())
	}
}

func TestParsePolicy(t *testing.T) {
	if policy, ok := ParsePolicy(""); !ok || policy != PolicyPreserve {
		t.Fatalf("ParsePolicy(\"\") = %q, %v", policy, ok)
	}
	if _, ok := ParsePolicy("merge"); ok {
		t.Fatal("unexpected ok for unknown policy")
	}
}

func TestCommentedRangeContainsIsInclusive(t *testing.T) {
	r := CommentedRange{Start: 100, End: 120}
	for _, offset := range []int{100, 110, 120} {
		if !r.Contains(offset) {
			t.Fatalf("Contains(%d) = false", offset)
		}
	}
	if r.Contains(99) || r.Contains(121) {
		t.Fatal("Contains() outside bounds")
	}
}

func TestCommentedRangeOverlapsIsHalfOpen(t *testing.T) {
	r := CommentedRange{Start: 10, End: 20}
	cases := []struct {
		start, end int
		want       bool
	}{
		{5, 10, false},
		{5, 11, true},
		{12, 15, true},
		{19, 30, true},
		{20, 30, false},
		{0, 100, true},
	}
	for _, c := range cases {
		if got := r.Overlaps(c.start, c.end); got != c.want {
			t.Fatalf("Overlaps(%d, %d) = %v, want %v", c.start, c.end, got, c.want)
		}
	}
	empty := CommentedRange{Start: 10, End: 10}
	if empty.Overlaps(0, 100) {
		t.Fatal("empty range overlaps")
	}
}
