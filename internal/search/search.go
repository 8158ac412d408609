package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultMerge      ResultType = "merge"
	ResultAnnotation ResultType = "annotation"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type        ResultType `json:"type"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	DocumentRef string     `json:"documentRef"`
	Outcome     string     `json:"outcome,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	FilterDocRef string
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexMerge(rec MergeRecord) error
	IndexAnnotation(rec AnnotationRecord) error
	IndexMerges(recs []MergeRecord) error
	IndexAnnotations(recs []AnnotationRecord) error
	DeleteAnnotation(id string) error
}

// MergeRecord is the data we index for a merge run.
type MergeRecord struct {
	ID          string `json:"id"`
	DocumentRef string `json:"documentRef"`
	Outcome     string `json:"outcome"`
	Strategy    string `json:"strategy"`
	SectionHint string `json:"sectionHint"`
	Content     string `json:"content"`
	Message     string `json:"message"`
}

// AnnotationRecord is the data we index for an annotation.
type AnnotationRecord struct {
	ID          string `json:"id"`
	DocumentRef string `json:"documentRef"`
	AnchorText  string `json:"anchorText"`
	Content     string `json:"content"`
	Author      string `json:"author"`
	Resolved    bool   `json:"resolved"`
}
