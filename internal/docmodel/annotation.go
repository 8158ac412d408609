package docmodel

import "time"

type Reply struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Annotation is a comment attached to the text it was created against. It
// stores no offsets; its position is re-derived from AnchorText on every read.
type Annotation struct {
	ID         string    `json:"id"`
	AnchorText string    `json:"anchorText"`
	Content    string    `json:"content"`
	Author     string    `json:"author"`
	Resolved   bool      `json:"resolved"`
	Replies    []Reply   `json:"replies,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CommentedRange is the [Start, End) span of an annotation's anchor in one
// document snapshot.
type CommentedRange struct {
	AnnotationID string `json:"annotationId"`
	Start        int    `json:"start"`
	End          int    `json:"end"`
	AnchorText   string `json:"anchorText"`
}

// Contains uses inclusive bounds: an insertion exactly at either edge still
// touches the anchor.
func (r CommentedRange) Contains(offset int) bool {
	return r.Start <= offset && offset <= r.End
}

// Overlaps reports whether r shares at least one unit with [start, end).
func (r CommentedRange) Overlaps(start, end int) bool {
	return r.Start < end && start < r.End
}

func (r CommentedRange) Len() int {
	return r.End - r.Start
}

type Strategy string

const (
	StrategyBefore     Strategy = "before"
	StrategyAfter      Strategy = "after"
	StrategyWithin     Strategy = "within"
	StrategyNewSection Strategy = "new_section"
)

// InsertionPoint is a planned target offset and why it was chosen.
type InsertionPoint struct {
	Offset                int      `json:"offset"`
	SectionName           string   `json:"sectionName,omitempty"`
	Safe                  bool     `json:"safe"`
	AffectedAnnotationIDs []string `json:"affectedAnnotationIds"`
	Strategy              Strategy `json:"strategy"`
	Reason                string   `json:"reason"`
}

type ConflictPolicy string

const (
	PolicyPreserve ConflictPolicy = "preserve"
	PolicyAsk      ConflictPolicy = "ask"
	PolicyForce    ConflictPolicy = "force"
)

// ParsePolicy normalizes a policy name, defaulting to preserve.
func ParsePolicy(value string) (ConflictPolicy, bool) {
	switch ConflictPolicy(value) {
	case "":
		return PolicyPreserve, true
	case PolicyPreserve, PolicyAsk, PolicyForce:
		return ConflictPolicy(value), true
	default:
		return PolicyPreserve, false
	}
}

type MergeOptions struct {
	PreserveComments     bool           `json:"preserveComments"`
	ConflictPolicy       ConflictPolicy `json:"conflictPolicy"`
	AddSourceComment     bool           `json:"addSourceComment"`
	AddInlineAttribution bool           `json:"addInlineAttribution"`
	SourceDescription    string         `json:"sourceDescription,omitempty"`
	TargetSection        string         `json:"targetSection,omitempty"`
	// ReplaceAnnotationID selects replace-in-place of that annotation's anchor
	// text instead of an insertion.
	ReplaceAnnotationID string `json:"replaceAnnotationId,omitempty"`
}

// DefaultMergeOptions is the conservative configuration.
func DefaultMergeOptions() MergeOptions {
	return MergeOptions{
		PreserveComments:     true,
		ConflictPolicy:       PolicyPreserve,
		AddSourceComment:     true,
		AddInlineAttribution: true,
	}
}
