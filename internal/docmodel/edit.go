package docmodel

import "fmt"

type EditKind string

const (
	EditInsertText        EditKind = "insertText"
	EditDeleteRange       EditKind = "deleteRange"
	EditSetParagraphStyle EditKind = "setParagraphStyle"
	EditSetTextStyle      EditKind = "setTextStyle"
)

type TextStyle struct {
	Italic bool `json:"italic,omitempty"`
	// Color is a #RRGGBB foreground colour.
	Color string `json:"color,omitempty"`
}

// Edit is one primitive mutation. Its offsets are expressed against the
// document as it stands after every earlier edit of the same plan.
type Edit struct {
	Kind           EditKind   `json:"kind"`
	Offset         int        `json:"offset,omitempty"`
	Text           string     `json:"text,omitempty"`
	Start          int        `json:"start,omitempty"`
	End            int        `json:"end,omitempty"`
	ParagraphStyle string     `json:"paragraphStyle,omitempty"`
	TextStyle      *TextStyle `json:"textStyle,omitempty"`
}

func InsertText(offset int, text string) Edit {
	return Edit{Kind: EditInsertText, Offset: offset, Text: text}
}

func DeleteRange(start, end int) Edit {
	return Edit{Kind: EditDeleteRange, Start: start, End: end}
}

func SetParagraphStyle(start, end int, style string) Edit {
	return Edit{Kind: EditSetParagraphStyle, Start: start, End: end, ParagraphStyle: style}
}

func SetTextStyle(start, end int, style TextStyle) Edit {
	return Edit{Kind: EditSetTextStyle, Start: start, End: end, TextStyle: &style}
}

// Delta is the change in document length caused by the edit.
func (e Edit) Delta() int {
	switch e.Kind {
	case EditInsertText:
		return TextLen(e.Text)
	case EditDeleteRange:
		return -(e.End - e.Start)
	default:
		return 0
	}
}

func (e Edit) String() string {
	switch e.Kind {
	case EditInsertText:
		return fmt.Sprintf("insertText(%d, %q)", e.Offset, e.Text)
	case EditDeleteRange:
		return fmt.Sprintf("deleteRange(%d, %d)", e.Start, e.End)
	case EditSetParagraphStyle:
		return fmt.Sprintf("setParagraphStyle(%d, %d, %s)", e.Start, e.End, e.ParagraphStyle)
	case EditSetTextStyle:
		return fmt.Sprintf("setTextStyle(%d, %d)", e.Start, e.End)
	default:
		return string(e.Kind)
	}
}

// Plan is an ordered batch submitted to a store as one all-or-nothing unit.
type Plan []Edit

// Delta sums the length change of every edit.
func (p Plan) Delta() int {
	total := 0
	for _, edit := range p {
		total += edit.Delta()
	}
	return total
}

// Validate checks the structural shape of each edit. It cannot check offsets
// against a document; stores do that when applying.
func (p Plan) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty plan", ErrMutationRejected)
	}
	for i, edit := range p {
		switch edit.Kind {
		case EditInsertText:
			if edit.Offset < FirstOffset {
				return fmt.Errorf("%w: edit %d: insert offset %d out of range", ErrMutationRejected, i, edit.Offset)
			}
			if edit.Text == "" {
				return fmt.Errorf("%w: edit %d: empty insert", ErrMutationRejected, i)
			}
		case EditDeleteRange, EditSetParagraphStyle, EditSetTextStyle:
			if edit.Start < FirstOffset || edit.End <= edit.Start {
				return fmt.Errorf("%w: edit %d: invalid range [%d,%d)", ErrMutationRejected, i, edit.Start, edit.End)
			}
		default:
			return fmt.Errorf("%w: edit %d: unknown kind %q", ErrMutationRejected, i, edit.Kind)
		}
	}
	return nil
}
