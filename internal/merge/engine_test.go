package merge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"docmerge/internal/docmodel"
	"docmerge/internal/textbuf"
)

type fakeStore struct {
	buf              *textbuf.Buffer
	annotations      []docmodel.Annotation
	created          []string
	batches          []docmodel.Plan
	getDocumentFn    func(ctx context.Context, ref string) (docmodel.Document, error)
	batchMutateFn    func(ctx context.Context, ref string, plan docmodel.Plan) error
	createAnnotateFn func(ctx context.Context, ref, content string) (string, error)
}

func newFakeStore(paragraphs ...textbuf.Paragraph) *fakeStore {
	return &fakeStore{buf: textbuf.FromParagraphs(docmodel.FirstOffset, paragraphs)}
}

func (f *fakeStore) GetDocument(ctx context.Context, ref string) (docmodel.Document, error) {
	if f.getDocumentFn != nil {
		return f.getDocumentFn(ctx, ref)
	}
	return docmodel.NewDocument(ref, "Doc", f.buf.Blocks()), nil
}

func (f *fakeStore) ListAnnotations(_ context.Context, _ string, includeResolved bool) ([]docmodel.Annotation, error) {
	out := make([]docmodel.Annotation, 0, len(f.annotations))
	for _, annotation := range f.annotations {
		if annotation.Resolved && !includeResolved {
			continue
		}
		out = append(out, annotation)
	}
	return out, nil
}

func (f *fakeStore) BatchMutate(ctx context.Context, ref string, plan docmodel.Plan) error {
	if f.batchMutateFn != nil {
		return f.batchMutateFn(ctx, ref, plan)
	}
	f.batches = append(f.batches, plan)
	return f.buf.ApplyPlan(plan)
}

func (f *fakeStore) CreateAnnotation(ctx context.Context, ref, content string) (string, error) {
	if f.createAnnotateFn != nil {
		return f.createAnnotateFn(ctx, ref, content)
	}
	f.created = append(f.created, content)
	return "new-comment", nil
}

func notesStore() *fakeStore {
	store := newFakeStore(
		textbuf.Paragraph{Text: "Project plan\n", Style: "TITLE"},
		textbuf.Paragraph{Text: "Notes\n", Style: "HEADING_1"},
		textbuf.Paragraph{Text: "Budget needs review.\n", Style: docmodel.StyleNormal},
		textbuf.Paragraph{Text: "Risks\n", Style: "HEADING_1"},
		textbuf.Paragraph{Text: "Vendor delay.\n", Style: docmodel.StyleNormal},
	)
	store.annotations = []docmodel.Annotation{
		{ID: "c-budget", AnchorText: "Budget needs review"},
		{ID: "c-old", AnchorText: "Vendor", Resolved: true},
	}
	return store
}

func TestMergeSafeInsertionAtSectionEnd(t *testing.T) {
	store := notesStore()
	engine := New(store, nil)
	opts := docmodel.DefaultMergeOptions()
	opts.SourceDescription = "standup"

	result, err := engine.Merge(context.Background(), "doc-1", "Decided to hire.", "notes", opts)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if !result.Success || result.InsertionPoint.Strategy != docmodel.StrategyAfter {
		t.Fatalf("Merge() = %+v", result)
	}
	text := store.buf.Text()
	if !strings.Contains(text, "Budget needs review.\n\nDecided to hire.\n\n (from: standup)\nRisks") {
		t.Fatalf("document text = %q", text)
	}
	if !strings.Contains(text, "Budget needs review") {
		t.Fatal("annotated text was disturbed")
	}
	if result.Attribution == nil || !result.Attribution.Anchored || result.NewAnnotationID != "new-comment" {
		t.Fatalf("attribution = %+v", result.Attribution)
	}
	if len(store.created) != 1 || !strings.Contains(store.created[0], "Location: Paragraph #") {
		t.Fatalf("created comments = %q", store.created)
	}
}

func TestMergeAskReturnsDecisionWithoutMutating(t *testing.T) {
	store := notesStore()
	store.annotations = append(store.annotations, docmodel.Annotation{ID: "c-tail", AnchorText: "review.\n"})
	engine := New(store, nil)
	opts := docmodel.DefaultMergeOptions()
	opts.ConflictPolicy = docmodel.PolicyAsk

	result, err := engine.Merge(context.Background(), "doc-1", "New text", "Notes", opts)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if result.Success || !result.RequiresDecision || result.Decision == nil {
		t.Fatalf("Merge() = %+v, want decision", result)
	}
	if got := result.Decision.AffectedAnnotationIDs; len(got) != 1 || got[0] != "c-tail" {
		t.Fatalf("affected = %v", got)
	}
	if len(result.Decision.Alternatives) != 2 || len(result.Decision.Options) != 3 {
		t.Fatalf("decision = %+v", result.Decision)
	}
	if len(store.batches) != 0 {
		t.Fatalf("store mutated %d times", len(store.batches))
	}
}

func TestDecideInsertBeforeOnFreshSnapshot(t *testing.T) {
	store := notesStore()
	store.annotations = append(store.annotations, docmodel.Annotation{ID: "c-tail", AnchorText: "review.\n"})
	engine := New(store, nil)
	opts := docmodel.DefaultMergeOptions()
	opts.ConflictPolicy = docmodel.PolicyAsk
	opts.AddSourceComment = false

	req := Request{Ref: "doc-1", Content: "Inserted first", SectionHint: "Notes", Options: opts}
	result, err := engine.Decide(context.Background(), req, ChoiceInsertBefore)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if !result.Success || result.InsertionPoint.Strategy != docmodel.StrategyBefore {
		t.Fatalf("Decide() = %+v", result)
	}
	if !strings.Contains(store.buf.Text(), "Notes\n\n\nInserted first\n\nBudget needs review.") {
		t.Fatalf("document text = %q", store.buf.Text())
	}
}

func TestDecideUpdateWithPreservationReplacesAnchorText(t *testing.T) {
	store := notesStore()
	engine := New(store, nil)
	opts := docmodel.DefaultMergeOptions()
	opts.ConflictPolicy = docmodel.PolicyAsk
	opts.AddSourceComment = false
	store.annotations = []docmodel.Annotation{{ID: "c-end", AnchorText: "review.\n"}}

	req := Request{Ref: "doc-1", Content: "approval.\n", SectionHint: "Notes", Options: opts}
	result, err := engine.Decide(context.Background(), req, ChoiceUpdateWithPreservation)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if !result.Success || result.InsertionPoint.Strategy != docmodel.StrategyWithin || result.AnnotationsPreserved != 1 {
		t.Fatalf("Decide() = %+v", result)
	}
	if !strings.Contains(store.buf.Text(), "Budget needs approval.\nRisks") {
		t.Fatalf("document text = %q", store.buf.Text())
	}
}

func TestMergeReplaceInPlace(t *testing.T) {
	store := notesStore()
	engine := New(store, nil)
	opts := docmodel.DefaultMergeOptions()
	opts.AddSourceComment = false
	opts.ReplaceAnnotationID = "c-budget"

	before := store.buf.Len()
	result, err := engine.Merge(context.Background(), "doc-1", "Budget approved", "", opts)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if !result.Success || len(result.Plan) != 3 {
		t.Fatalf("Merge() = %+v", result)
	}
	if !strings.Contains(store.buf.Text(), "\nBudget approved.\n") {
		t.Fatalf("document text = %q", store.buf.Text())
	}
	if store.buf.Len()-before != len("Budget approved")-len("Budget needs review") {
		t.Fatalf("length delta = %d", store.buf.Len()-before)
	}
}

func TestMergeReplaceUnknownAnnotationIsNotFound(t *testing.T) {
	store := notesStore()
	opts := docmodel.DefaultMergeOptions()
	opts.ReplaceAnnotationID = "c-missing"
	_, err := New(store, nil).Merge(context.Background(), "doc-1", "x", "", opts)
	if !errors.Is(err, docmodel.ErrNotFound) {
		t.Fatalf("Merge() error = %v", err)
	}
}

func TestMergeAttributionFallbackStillSucceeds(t *testing.T) {
	store := notesStore()
	store.batchMutateFn = func(_ context.Context, _ string, plan docmodel.Plan) error {
		if err := store.buf.ApplyPlan(plan); err != nil {
			return err
		}
		// The store collapses runs of spaces, so the inserted prefix no
		// longer matches verbatim.
		text := store.buf.Text()
		for strings.Contains(text, "  ") {
			text = strings.ReplaceAll(text, "  ", " ")
		}
		store.buf = textbuf.New(docmodel.FirstOffset, text)
		return nil
	}
	engine := New(store, nil)
	opts := docmodel.DefaultMergeOptions()
	opts.AddInlineAttribution = false
	opts.SourceDescription = "import"

	result, err := engine.Merge(context.Background(), "doc-1", "Spaced   out    text", "", opts)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("Merge() = %+v", result)
	}
	if result.Attribution == nil || result.Attribution.Anchored || result.Attribution.ParagraphIndex != nil {
		t.Fatalf("attribution = %+v, want document-level fallback", result.Attribution)
	}
	if len(store.created) != 1 || store.created[0] != "Added from import" {
		t.Fatalf("created = %q", store.created)
	}
}

func TestMergeRejectedBatchIsUnsuccessfulResult(t *testing.T) {
	store := notesStore()
	store.batchMutateFn = func(context.Context, string, docmodel.Plan) error {
		return errors.New("googleapi: Error 400: Invalid requests[0].insertText")
	}
	result, err := New(store, nil).Merge(context.Background(), "doc-1", "text", "", docmodel.DefaultMergeOptions())
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "Error 400") {
		t.Fatalf("Merge() = %+v", result)
	}
}

func TestMergePropagatesTypedStoreErrors(t *testing.T) {
	store := notesStore()
	store.getDocumentFn = func(context.Context, string) (docmodel.Document, error) {
		return docmodel.Document{}, docmodel.ErrPermissionDenied
	}
	_, err := New(store, nil).Merge(context.Background(), "doc-1", "text", "", docmodel.DefaultMergeOptions())
	if !errors.Is(err, docmodel.ErrPermissionDenied) {
		t.Fatalf("Merge() error = %v", err)
	}
}

func TestMergeValidatesRequest(t *testing.T) {
	engine := New(notesStore(), nil)
	opts := docmodel.DefaultMergeOptions()
	if _, err := engine.Merge(context.Background(), "doc-1", "   ", "", opts); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("blank content error = %v", err)
	}
	opts.ConflictPolicy = "merge"
	if _, err := engine.Merge(context.Background(), "doc-1", "x", "", opts); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("bad policy error = %v", err)
	}
}

func TestPlanInsertionPointDoesNotMutate(t *testing.T) {
	store := notesStore()
	point, err := New(store, nil).PlanInsertionPoint(context.Background(), "https://docs.google.com/document/d/doc-1/edit", "", docmodel.PolicyPreserve)
	if err != nil {
		t.Fatalf("PlanInsertionPoint() error = %v", err)
	}
	if point.Offset != store.buf.End()-1 || !point.Safe {
		t.Fatalf("PlanInsertionPoint() = %+v", point)
	}
	if len(store.batches) != 0 {
		t.Fatal("store mutated by a dry run")
	}
}
