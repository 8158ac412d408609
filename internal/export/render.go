package export

import (
	"html"
	"sort"
	"strconv"
	"strings"

	"docmerge/internal/docmodel"
)

type markSegment struct {
	start int
	end   int
	ids   []string
}

// ParagraphsToHTML renders the text-carrying blocks of doc, wrapping every
// anchored annotation range in a <mark>.
func ParagraphsToHTML(doc docmodel.Document, ranges []docmodel.CommentedRange) string {
	var out strings.Builder
	for _, block := range doc.Paragraphs() {
		tag, class := blockTag(block.Style)
		out.WriteString("<" + tag)
		if class != "" {
			out.WriteString(` class="` + class + `"`)
		}
		out.WriteString(">")
		out.WriteString(renderMarked(block, segmentsFor(block, ranges)))
		out.WriteString("</" + tag + ">\n")
	}
	return out.String()
}

func blockTag(style string) (string, string) {
	switch style {
	case docmodel.StyleTitle:
		return "h1", "title"
	case docmodel.StyleSubtitle:
		return "p", "subtitle"
	}
	if level, ok := docmodel.HeadingLevel(style); ok {
		if level > 6 {
			level = 6
		}
		return "h" + strconv.Itoa(level), ""
	}
	return "p", ""
}

// segmentsFor clips ranges to block and merges overlapping ones.
func segmentsFor(block docmodel.Block, ranges []docmodel.CommentedRange) []markSegment {
	var segments []markSegment
	for _, r := range ranges {
		if !r.Overlaps(block.Start, block.End) {
			continue
		}
		segments = append(segments, markSegment{
			start: max(r.Start, block.Start),
			end:   min(r.End, block.End),
			ids:   []string{r.AnnotationID},
		})
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].start < segments[j].start })

	merged := make([]markSegment, 0, len(segments))
	for _, seg := range segments {
		if n := len(merged); n > 0 && seg.start < merged[n-1].end {
			merged[n-1].end = max(merged[n-1].end, seg.end)
			merged[n-1].ids = append(merged[n-1].ids, seg.ids...)
			continue
		}
		merged = append(merged, seg)
	}
	return merged
}

func renderMarked(block docmodel.Block, segments []markSegment) string {
	text := strings.TrimSuffix(block.Text, "\n")
	var out strings.Builder
	cursor := 0
	for _, seg := range segments {
		lo := byteIndex(text, seg.start-block.Start)
		hi := byteIndex(text, seg.end-block.Start)
		if lo < cursor {
			lo = cursor
		}
		if lo >= hi {
			continue
		}
		out.WriteString(html.EscapeString(text[cursor:lo]))
		out.WriteString(`<mark data-annotations="` + html.EscapeString(strings.Join(seg.ids, " ")) + `">`)
		out.WriteString(html.EscapeString(text[lo:hi]))
		out.WriteString("</mark>")
		cursor = hi
	}
	out.WriteString(html.EscapeString(text[cursor:]))
	return out.String()
}

// byteIndex maps a UTF-16 unit count to a byte index in text, clamped to its
// length.
func byteIndex(text string, units int) int {
	if units <= 0 {
		return 0
	}
	count := 0
	for i, r := range text {
		if count >= units {
			return i
		}
		if r >= 0x10000 {
			count += 2
		} else {
			count++
		}
	}
	return len(text)
}
