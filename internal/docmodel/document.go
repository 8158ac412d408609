// Package docmodel holds the snapshot types shared by the merge engine and the
// document store adapters.
//
// Offsets are 1-based and counted in UTF-16 code units, the index space of the
// Google Docs API. A Document is only valid until the next mutation.
package docmodel

import (
	"strconv"
	"strings"
	"unicode/utf16"
)

const (
	StyleNormal   = "NORMAL_TEXT"
	StyleTitle    = "TITLE"
	StyleSubtitle = "SUBTITLE"
	headingPrefix = "HEADING_"
)

// FirstOffset is the first insertable position of any document.
const FirstOffset = 1

// Run is a contiguous piece of text inside a block with its absolute start.
type Run struct {
	Start int    `json:"start"`
	Text  string `json:"text"`
}

// Block is a paragraph or container (table, table cell) of a document.
type Block struct {
	Start    int     `json:"start"`
	End      int     `json:"end"`
	Text     string  `json:"text"`
	Style    string  `json:"style,omitempty"`
	Runs     []Run   `json:"runs,omitempty"`
	Children []Block `json:"children,omitempty"`
}

// IsParagraph reports whether the block carries text directly rather than
// through nested containers.
func (b Block) IsParagraph() bool {
	return len(b.Children) == 0
}

// TextRuns returns the block runs, or the whole text as a single run when the
// source did not split the paragraph.
func (b Block) TextRuns() []Run {
	if len(b.Runs) > 0 {
		return b.Runs
	}
	if b.Text == "" {
		return nil
	}
	return []Run{{Start: b.Start, Text: b.Text}}
}

// Section is the span of a heading and the blocks that follow it up to the
// next heading.
type Section struct {
	Heading string `json:"heading"`
	Level   int    `json:"level"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

type Document struct {
	Ref      string    `json:"ref"`
	Title    string    `json:"title"`
	Blocks   []Block   `json:"blocks"`
	Sections []Section `json:"sections"`
}

// NewDocument builds a snapshot and derives its sections.
func NewDocument(ref, title string, blocks []Block) Document {
	return Document{
		Ref:      ref,
		Title:    title,
		Blocks:   blocks,
		Sections: BuildSections(blocks),
	}
}

// End returns the end offset of the last block, or FirstOffset for an empty
// document.
func (d Document) End() int {
	if len(d.Blocks) == 0 {
		return FirstOffset
	}
	return d.Blocks[len(d.Blocks)-1].End
}

// IsEmpty reports whether the document has no content to anchor against.
func (d Document) IsEmpty() bool {
	return len(d.Blocks) == 0
}

// Text concatenates every paragraph in reading order.
func (d Document) Text() string {
	var builder strings.Builder
	var walk func([]Block)
	walk = func(blocks []Block) {
		for _, block := range blocks {
			if block.IsParagraph() {
				builder.WriteString(block.Text)
				continue
			}
			walk(block.Children)
		}
	}
	walk(d.Blocks)
	return builder.String()
}

// Paragraphs flattens the block tree into its text-carrying leaves.
func (d Document) Paragraphs() []Block {
	var out []Block
	var walk func([]Block)
	walk = func(blocks []Block) {
		for _, block := range blocks {
			if block.IsParagraph() {
				out = append(out, block)
				continue
			}
			walk(block.Children)
		}
	}
	walk(d.Blocks)
	return out
}

// FindSection returns the first section whose heading contains hint,
// case-insensitively.
func (d Document) FindSection(hint string) (Section, bool) {
	needle := strings.ToLower(strings.TrimSpace(hint))
	if needle == "" {
		return Section{}, false
	}
	for _, section := range d.Sections {
		if section.Heading == "" {
			continue
		}
		if strings.Contains(strings.ToLower(section.Heading), needle) {
			return section, true
		}
	}
	return Section{}, false
}

// BuildSections walks top-level blocks and opens a section at every heading.
func BuildSections(blocks []Block) []Section {
	sections := make([]Section, 0)
	var current *Section
	for _, block := range blocks {
		if level, ok := HeadingLevel(block.Style); ok {
			if current != nil {
				sections = append(sections, *current)
			}
			current = &Section{
				Heading: strings.TrimRight(block.Text, "\n"),
				Level:   level,
				Start:   block.Start,
				End:     block.End,
			}
			continue
		}
		if current != nil {
			current.End = block.End
		}
	}
	if current != nil {
		sections = append(sections, *current)
	}
	return sections
}

// HeadingLevel parses HEADING_n paragraph styles.
func HeadingLevel(style string) (int, bool) {
	if !strings.HasPrefix(style, headingPrefix) {
		return 0, false
	}
	level, err := strconv.Atoi(strings.TrimPrefix(style, headingPrefix))
	if err != nil || level < 1 {
		return 0, false
	}
	return level, true
}

// TextLen measures s in UTF-16 code units.
func TextLen(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// OffsetOf converts a byte index into s to a UTF-16 offset from the start of s.
func OffsetOf(s string, byteIndex int) int {
	if byteIndex <= 0 {
		return 0
	}
	if byteIndex > len(s) {
		byteIndex = len(s)
	}
	return TextLen(s[:byteIndex])
}
