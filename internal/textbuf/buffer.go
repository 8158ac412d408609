// Package textbuf is an in-memory, absolutely indexed text buffer used to apply
// mutation plans locally. It follows the remote store's rules: offsets are
// UTF-16 code units starting at a base index, paragraph styles live on whole
// paragraphs, and every edit shifts the offsets after it.
package textbuf

import (
	"errors"
	"fmt"
	"unicode/utf16"

	"docmerge/internal/docmodel"
)

var (
	// ErrInvalidPosition indicates an offset outside the buffer.
	ErrInvalidPosition = errors.New("position out of bounds")

	// ErrSplitSurrogate indicates an edit boundary inside a surrogate pair.
	ErrSplitSurrogate = errors.New("edit would split a surrogate pair")
)

// Span is a styled run relative to the start of its paragraph.
type Span struct {
	Start int                `json:"start"`
	End   int                `json:"end"`
	Style docmodel.TextStyle `json:"style"`
}

// Paragraph is one newline-terminated piece of the buffer.
type Paragraph struct {
	Text  string `json:"text"`
	Style string `json:"style"`
	Spans []Span `json:"spans,omitempty"`
}

type Buffer struct {
	base       int
	units      []uint16
	paraStyles []string
	textStyles []docmodel.TextStyle
}

// New creates a buffer holding text in NORMAL_TEXT paragraphs.
func New(base int, text string) *Buffer {
	units := utf16.Encode([]rune(text))
	b := &Buffer{
		base:       base,
		units:      units,
		paraStyles: make([]string, len(units)),
		textStyles: make([]docmodel.TextStyle, len(units)),
	}
	for i := range b.paraStyles {
		b.paraStyles[i] = docmodel.StyleNormal
	}
	return b
}

// FromParagraphs rebuilds a buffer from stored paragraphs.
func FromParagraphs(base int, paragraphs []Paragraph) *Buffer {
	b := &Buffer{base: base}
	for _, paragraph := range paragraphs {
		units := utf16.Encode([]rune(paragraph.Text))
		style := paragraph.Style
		if style == "" {
			style = docmodel.StyleNormal
		}
		offset := len(b.units)
		b.units = append(b.units, units...)
		for range units {
			b.paraStyles = append(b.paraStyles, style)
			b.textStyles = append(b.textStyles, docmodel.TextStyle{})
		}
		for _, span := range paragraph.Spans {
			for i := span.Start; i < span.End && i < len(units); i++ {
				if i < 0 {
					continue
				}
				b.textStyles[offset+i] = span.Style
			}
		}
	}
	return b
}

func (b *Buffer) Base() int { return b.base }

// Len is the buffer length in code units.
func (b *Buffer) Len() int { return len(b.units) }

// End is the offset one past the last unit.
func (b *Buffer) End() int { return b.base + len(b.units) }

func (b *Buffer) Text() string {
	return string(utf16.Decode(b.units))
}

// Slice returns the text in [start, end).
func (b *Buffer) Slice(start, end int) (string, error) {
	lo, hi, err := b.rangeIndex(start, end)
	if err != nil {
		return "", err
	}
	return string(utf16.Decode(b.units[lo:hi])), nil
}

func (b *Buffer) Clone() *Buffer {
	return &Buffer{
		base:       b.base,
		units:      append([]uint16(nil), b.units...),
		paraStyles: append([]string(nil), b.paraStyles...),
		textStyles: append([]docmodel.TextStyle(nil), b.textStyles...),
	}
}

// Insert places text before the unit currently at offset. The inserted text
// takes the paragraph style of the paragraph it lands in.
func (b *Buffer) Insert(offset int, text string) error {
	idx := offset - b.base
	if idx < 0 || idx > len(b.units) {
		return fmt.Errorf("%w: insert at %d", ErrInvalidPosition, offset)
	}
	if b.splitsSurrogate(idx) {
		return fmt.Errorf("%w: insert at %d", ErrSplitSurrogate, offset)
	}
	units := utf16.Encode([]rune(text))
	if len(units) == 0 {
		return nil
	}
	style := b.inheritedStyle(idx)

	newUnits := make([]uint16, 0, len(b.units)+len(units))
	newUnits = append(newUnits, b.units[:idx]...)
	newUnits = append(newUnits, units...)
	newUnits = append(newUnits, b.units[idx:]...)

	newParaStyles := make([]string, 0, len(newUnits))
	newParaStyles = append(newParaStyles, b.paraStyles[:idx]...)
	for range units {
		newParaStyles = append(newParaStyles, style)
	}
	newParaStyles = append(newParaStyles, b.paraStyles[idx:]...)

	newTextStyles := make([]docmodel.TextStyle, 0, len(newUnits))
	newTextStyles = append(newTextStyles, b.textStyles[:idx]...)
	newTextStyles = append(newTextStyles, make([]docmodel.TextStyle, len(units))...)
	newTextStyles = append(newTextStyles, b.textStyles[idx:]...)

	b.units = newUnits
	b.paraStyles = newParaStyles
	b.textStyles = newTextStyles
	return nil
}

// Delete removes [start, end). Paragraphs merged by the deletion take the style
// of the paragraph whose newline survives.
func (b *Buffer) Delete(start, end int) error {
	lo, hi, err := b.rangeIndex(start, end)
	if err != nil {
		return err
	}
	if lo == hi {
		return nil
	}
	b.units = append(b.units[:lo], b.units[hi:]...)
	b.paraStyles = append(b.paraStyles[:lo], b.paraStyles[hi:]...)
	b.textStyles = append(b.textStyles[:lo], b.textStyles[hi:]...)
	b.normalizeParagraphs()
	return nil
}

// SetParagraphStyle restyles every paragraph overlapping [start, end).
func (b *Buffer) SetParagraphStyle(start, end int, style string) error {
	lo, hi, err := b.rangeIndex(start, end)
	if err != nil {
		return err
	}
	if len(b.units) == 0 {
		return nil
	}
	if hi == lo {
		hi = lo + 1
	}
	first := b.paragraphStart(lo)
	last := b.paragraphEnd(hi - 1)
	for i := first; i <= last && i < len(b.units); i++ {
		b.paraStyles[i] = style
	}
	return nil
}

// SetTextStyle applies style to each unit in [start, end).
func (b *Buffer) SetTextStyle(start, end int, style docmodel.TextStyle) error {
	lo, hi, err := b.rangeIndex(start, end)
	if err != nil {
		return err
	}
	for i := lo; i < hi; i++ {
		b.textStyles[i] = style
	}
	return nil
}

// ParagraphStyleAt returns the style of the paragraph holding offset.
func (b *Buffer) ParagraphStyleAt(offset int) (string, error) {
	idx := offset - b.base
	if idx < 0 || idx >= len(b.units) {
		return "", fmt.Errorf("%w: %d", ErrInvalidPosition, offset)
	}
	return b.paraStyles[idx], nil
}

// TextStyleAt returns the character style at offset.
func (b *Buffer) TextStyleAt(offset int) (docmodel.TextStyle, error) {
	idx := offset - b.base
	if idx < 0 || idx >= len(b.units) {
		return docmodel.TextStyle{}, fmt.Errorf("%w: %d", ErrInvalidPosition, offset)
	}
	return b.textStyles[idx], nil
}

// Apply executes one primitive edit.
func (b *Buffer) Apply(edit docmodel.Edit) error {
	switch edit.Kind {
	case docmodel.EditInsertText:
		return b.Insert(edit.Offset, edit.Text)
	case docmodel.EditDeleteRange:
		return b.Delete(edit.Start, edit.End)
	case docmodel.EditSetParagraphStyle:
		return b.SetParagraphStyle(edit.Start, edit.End, edit.ParagraphStyle)
	case docmodel.EditSetTextStyle:
		if edit.TextStyle == nil {
			return fmt.Errorf("setTextStyle without style")
		}
		return b.SetTextStyle(edit.Start, edit.End, *edit.TextStyle)
	default:
		return fmt.Errorf("unknown edit kind %q", edit.Kind)
	}
}

// ApplyPlan applies every edit in order on a copy and only swaps the result in
// when all of them succeed.
func (b *Buffer) ApplyPlan(plan docmodel.Plan) error {
	work := b.Clone()
	for i, edit := range plan {
		if err := work.Apply(edit); err != nil {
			return fmt.Errorf("edit %d %s: %w", i, edit, err)
		}
	}
	*b = *work
	return nil
}

// Paragraphs splits the buffer after each newline.
func (b *Buffer) Paragraphs() []Paragraph {
	paragraphs := make([]Paragraph, 0)
	start := 0
	for start < len(b.units) {
		end := b.paragraphEnd(start)
		paragraphs = append(paragraphs, b.paragraph(start, end+1))
		start = end + 1
	}
	return paragraphs
}

// Blocks converts the buffer into document blocks with absolute offsets.
func (b *Buffer) Blocks() []docmodel.Block {
	blocks := make([]docmodel.Block, 0)
	offset := b.base
	for _, paragraph := range b.Paragraphs() {
		length := docmodel.TextLen(paragraph.Text)
		blocks = append(blocks, docmodel.Block{
			Start: offset,
			End:   offset + length,
			Text:  paragraph.Text,
			Style: paragraph.Style,
		})
		offset += length
	}
	return blocks
}

func (b *Buffer) paragraph(lo, hi int) Paragraph {
	p := Paragraph{
		Text:  string(utf16.Decode(b.units[lo:hi])),
		Style: b.paraStyles[hi-1],
	}
	var current *Span
	for i := lo; i < hi; i++ {
		style := b.textStyles[i]
		if current != nil && current.Style == style {
			current.End = i - lo + 1
			continue
		}
		if current != nil {
			p.Spans = append(p.Spans, *current)
			current = nil
		}
		if style != (docmodel.TextStyle{}) {
			current = &Span{Start: i - lo, End: i - lo + 1, Style: style}
		}
	}
	if current != nil {
		p.Spans = append(p.Spans, *current)
	}
	return p
}

func (b *Buffer) rangeIndex(start, end int) (int, int, error) {
	lo := start - b.base
	hi := end - b.base
	if lo < 0 || hi > len(b.units) || hi < lo {
		return 0, 0, fmt.Errorf("%w: range [%d,%d)", ErrInvalidPosition, start, end)
	}
	if b.splitsSurrogate(lo) || b.splitsSurrogate(hi) {
		return 0, 0, fmt.Errorf("%w: range [%d,%d)", ErrSplitSurrogate, start, end)
	}
	return lo, hi, nil
}

func (b *Buffer) splitsSurrogate(idx int) bool {
	if idx <= 0 || idx >= len(b.units) {
		return false
	}
	return utf16.IsSurrogate(rune(b.units[idx])) && b.units[idx] >= 0xDC00
}

func (b *Buffer) inheritedStyle(idx int) string {
	switch {
	case idx < len(b.paraStyles):
		return b.paraStyles[idx]
	case len(b.paraStyles) > 0:
		return b.paraStyles[len(b.paraStyles)-1]
	default:
		return docmodel.StyleNormal
	}
}

func (b *Buffer) paragraphStart(idx int) int {
	for i := idx - 1; i >= 0; i-- {
		if b.units[i] == '\n' {
			return i + 1
		}
	}
	return 0
}

func (b *Buffer) paragraphEnd(idx int) int {
	for i := idx; i < len(b.units); i++ {
		if b.units[i] == '\n' {
			return i
		}
	}
	return len(b.units) - 1
}

func (b *Buffer) normalizeParagraphs() {
	start := 0
	for start < len(b.units) {
		end := b.paragraphEnd(start)
		style := b.paraStyles[end]
		for i := start; i < end; i++ {
			b.paraStyles[i] = style
		}
		start = end + 1
	}
}
