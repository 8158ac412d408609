package app

import (
	"context"
	"fmt"
	"slices"
	"time"

	"docmerge/internal/config"
	"docmerge/internal/decision"
	"docmerge/internal/docmodel"
	"docmerge/internal/export"
	"docmerge/internal/gitrepo"
	"docmerge/internal/merge"
	"docmerge/internal/search"
	"docmerge/internal/store"
	"docmerge/internal/textbuf"
)

type fakeEngine struct {
	planFn   func(context.Context, string, string, docmodel.ConflictPolicy) (docmodel.InsertionPoint, error)
	mergeFn  func(context.Context, string, string, string, docmodel.MergeOptions) (merge.Result, error)
	decideFn func(context.Context, merge.Request, merge.Choice) (merge.Result, error)
}

func (f *fakeEngine) PlanInsertionPoint(ctx context.Context, ref, hint string, policy docmodel.ConflictPolicy) (docmodel.InsertionPoint, error) {
	if f.planFn != nil {
		return f.planFn(ctx, ref, hint, policy)
	}
	return docmodel.InsertionPoint{Offset: 1, Safe: true, Strategy: docmodel.StrategyAfter}, nil
}

func (f *fakeEngine) Merge(ctx context.Context, ref, content, hint string, opts docmodel.MergeOptions) (merge.Result, error) {
	if f.mergeFn != nil {
		return f.mergeFn(ctx, ref, content, hint, opts)
	}
	return successResult(), nil
}

func (f *fakeEngine) Decide(ctx context.Context, req merge.Request, choice merge.Choice) (merge.Result, error) {
	if f.decideFn != nil {
		return f.decideFn(ctx, req, choice)
	}
	return successResult(), nil
}

func successResult() merge.Result {
	return merge.Result{
		Success:        true,
		InsertionPoint: docmodel.InsertionPoint{Offset: 40, Safe: true, Strategy: docmodel.StrategyAfter, Reason: `End of section "Notes"`},
		Message:        `Content inserted successfully. End of section "Notes"`,
	}
}

type fakeDocuments struct {
	doc         docmodel.Document
	annotations []docmodel.Annotation
	getErr      error
}

func (f *fakeDocuments) GetDocument(ctx context.Context, ref string) (docmodel.Document, error) {
	if f.getErr != nil {
		return docmodel.Document{}, f.getErr
	}
	return f.doc, nil
}

func (f *fakeDocuments) ListAnnotations(ctx context.Context, ref string, includeResolved bool) ([]docmodel.Annotation, error) {
	return f.annotations, nil
}

func (f *fakeDocuments) BatchMutate(ctx context.Context, ref string, plan docmodel.Plan) error {
	return nil
}

func (f *fakeDocuments) CreateAnnotation(ctx context.Context, ref, content string) (string, error) {
	return "ann_source", nil
}

type fakeLocal struct {
	runs        []store.MergeRun
	annotations []docmodel.Annotation
	replies     []docmodel.Reply
	resolved    []string
	created     []string
	pingFn      func(context.Context) error
}

func (f *fakeLocal) CreateDocument(ctx context.Context, id, title string, paragraphs []textbuf.Paragraph) (store.DocumentRecord, error) {
	if slices.Contains(f.created, id) {
		return store.DocumentRecord{}, fmt.Errorf("document %s: %w", id, store.ErrDocumentExists)
	}
	f.created = append(f.created, id)
	return store.DocumentRecord{ID: id, Title: title}, nil
}

func (f *fakeLocal) AddAnnotation(ctx context.Context, ref string, annotation docmodel.Annotation) (docmodel.Annotation, error) {
	annotation.ID = "ann_new"
	f.annotations = append(f.annotations, annotation)
	return annotation, nil
}

func (f *fakeLocal) AddReply(ctx context.Context, annotationID string, reply docmodel.Reply) (docmodel.Reply, error) {
	reply.ID = "rep_new"
	f.replies = append(f.replies, reply)
	return reply, nil
}

func (f *fakeLocal) ResolveAnnotation(ctx context.Context, ref, annotationID string) error {
	f.resolved = append(f.resolved, annotationID)
	return nil
}

func (f *fakeLocal) InsertMergeRun(ctx context.Context, run store.MergeRun) error {
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeLocal) ListMergeRuns(ctx context.Context, ref string, limit int) ([]store.MergeRun, error) {
	return f.runs, nil
}

func (f *fakeLocal) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeHistory struct {
	messages []string
	commits  []gitrepo.CommitInfo
}

func (f *fakeHistory) RecordSnapshot(ref string, snapshot gitrepo.Snapshot, author, message string) (gitrepo.CommitInfo, error) {
	f.messages = append(f.messages, message)
	commit := gitrepo.CommitInfo{Hash: "abc1234", Message: message, Author: author}
	f.commits = append([]gitrepo.CommitInfo{commit}, f.commits...)
	return commit, nil
}

func (f *fakeHistory) History(ref string, limit int) ([]gitrepo.CommitInfo, error) {
	if len(f.commits) == 0 {
		return nil, gitrepo.ErrNoHistory
	}
	return f.commits, nil
}

func (f *fakeHistory) SnapshotAt(ref, hash string) (gitrepo.Snapshot, error) {
	return gitrepo.Snapshot{Ref: ref, Title: "Plan"}, nil
}

type fakeSearch struct {
	merges      []search.MergeRecord
	annotations []search.AnnotationRecord
	lastQuery   search.Query
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	f.lastQuery = q
	return search.Response{Results: []search.Result{{Type: search.ResultMerge, ID: "mrg_1"}}, Total: 1, Query: q.Text}
}

func (f *fakeSearch) IndexMerge(rec search.MergeRecord) {
	f.merges = append(f.merges, rec)
}

func (f *fakeSearch) IndexAnnotation(rec search.AnnotationRecord) {
	f.annotations = append(f.annotations, rec)
}

type fakeExporter struct {
	last export.Request
}

func (f *fakeExporter) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	f.last = req
	return &export.Result{Data: []byte("<html></html>"), Filename: "Plan.html", MimeType: "text/html; charset=utf-8", ArchiveKey: "doc-1/plan.html"}, nil
}

type testEnv struct {
	engine    *fakeEngine
	documents *fakeDocuments
	local     *fakeLocal
	history   *fakeHistory
	search    *fakeSearch
	exporter  *fakeExporter
	decisions *decision.MemoryStore
	service   *Service
	server    *HTTPServer
}

func testConfig() config.Config {
	return config.Config{
		DocumentBackend: config.BackendPostgres,
		APITokens: map[string]string{
			"admin-token":     "admin",
			"editor-token":    "editor",
			"commenter-token": "commenter",
			"viewer-token":    "viewer",
		},
		Merge: config.MergeDefaults{
			ConflictPolicy:  "preserve",
			SourceComment:   true,
			InlineAttribute: true,
			DecisionTTL:     time.Minute,
		},
	}
}

func newTestEnv(cfg config.Config) *testEnv {
	env := &testEnv{
		engine: &fakeEngine{},
		documents: &fakeDocuments{doc: docmodel.NewDocument("doc-1", "Plan", []docmodel.Block{
			{Start: 1, End: 7, Text: "Notes\n", Style: "HEADING_1"},
			{Start: 7, End: 28, Text: "Budget needs review.\n", Style: docmodel.StyleNormal},
		})},
		local:     &fakeLocal{},
		history:   &fakeHistory{},
		search:    &fakeSearch{},
		exporter:  &fakeExporter{},
		decisions: decision.NewMemoryStore(),
	}
	env.service = New(cfg, Deps{
		Engine:    env.engine,
		Documents: env.documents,
		Local:     env.local,
		History:   env.history,
		Search:    env.search,
		Exporter:  env.exporter,
		Decisions: env.decisions,
	})
	env.server = NewHTTPServer(env.service, "*")
	return env
}
