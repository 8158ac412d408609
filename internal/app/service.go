package app

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"docmerge/internal/anchor"
	"docmerge/internal/auth"
	"docmerge/internal/config"
	"docmerge/internal/decision"
	"docmerge/internal/docmodel"
	"docmerge/internal/export"
	"docmerge/internal/gitrepo"
	"docmerge/internal/merge"
	"docmerge/internal/rbac"
	"docmerge/internal/search"
	"docmerge/internal/store"
	"docmerge/internal/textbuf"
	"docmerge/internal/util"
)

// Principal is the caller behind a bearer token.
type Principal struct {
	Name string
	Role rbac.Role
}

type PlanInput struct {
	Ref            string `json:"ref"`
	SectionHint    string `json:"sectionHint"`
	ConflictPolicy string `json:"conflictPolicy"`
}

// MergeOptionsInput overrides the configured merge defaults. Nil fields keep
// the default.
type MergeOptionsInput struct {
	PreserveComments     *bool  `json:"preserveComments"`
	ConflictPolicy       string `json:"conflictPolicy"`
	AddSourceComment     *bool  `json:"addSourceComment"`
	AddInlineAttribution *bool  `json:"addInlineAttribution"`
	SourceDescription    string `json:"sourceDescription"`
	ReplaceAnnotationID  string `json:"replaceAnnotationId"`
}

type MergeInput struct {
	Ref         string            `json:"ref"`
	Content     string            `json:"content"`
	SectionHint string            `json:"sectionHint"`
	Options     MergeOptionsInput `json:"options"`
}

type MergeResponse struct {
	merge.Result
	RunID         string `json:"runId,omitempty"`
	DecisionToken string `json:"decisionToken,omitempty"`
	CommitHash    string `json:"commitHash,omitempty"`
}

type ParagraphInput struct {
	Text  string `json:"text"`
	Style string `json:"style"`
}

type CreateDocumentInput struct {
	ID         string           `json:"id"`
	Title      string           `json:"title"`
	Paragraphs []ParagraphInput `json:"paragraphs"`
}

type AnnotationInput struct {
	AnchorText string `json:"anchorText"`
	Content    string `json:"content"`
}

type ReplyInput struct {
	Content string `json:"content"`
}

type AnnotationView struct {
	docmodel.Annotation
	Anchored bool                     `json:"anchored"`
	Range    *docmodel.CommentedRange `json:"range,omitempty"`
}

type DocumentView struct {
	Document    docmodel.Document `json:"document"`
	Annotations []AnnotationView  `json:"annotations"`
}

type HistoryView struct {
	Commits []gitrepo.CommitInfo `json:"commits"`
	Runs    []store.MergeRun     `json:"runs"`
}

type ExportInput struct {
	Ref                string
	Format             string
	IncludeAnnotations bool
	IncludeResolved    bool
	Archive            bool
}

type merger interface {
	PlanInsertionPoint(ctx context.Context, ref, sectionHint string, policy docmodel.ConflictPolicy) (docmodel.InsertionPoint, error)
	Merge(ctx context.Context, ref, content, sectionHint string, opts docmodel.MergeOptions) (merge.Result, error)
	Decide(ctx context.Context, req merge.Request, choice merge.Choice) (merge.Result, error)
}

// localStore is the Postgres side: the local document backend plus the merge
// run log.
type localStore interface {
	CreateDocument(ctx context.Context, id, title string, paragraphs []textbuf.Paragraph) (store.DocumentRecord, error)
	AddAnnotation(ctx context.Context, ref string, annotation docmodel.Annotation) (docmodel.Annotation, error)
	AddReply(ctx context.Context, annotationID string, reply docmodel.Reply) (docmodel.Reply, error)
	ResolveAnnotation(ctx context.Context, ref, annotationID string) error
	InsertMergeRun(ctx context.Context, run store.MergeRun) error
	ListMergeRuns(ctx context.Context, ref string, limit int) ([]store.MergeRun, error)
	Ping(ctx context.Context) error
}

type historyService interface {
	RecordSnapshot(ref string, snapshot gitrepo.Snapshot, author, message string) (gitrepo.CommitInfo, error)
	History(ref string, limit int) ([]gitrepo.CommitInfo, error)
	SnapshotAt(ref, hash string) (gitrepo.Snapshot, error)
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexMerge(rec search.MergeRecord)
	IndexAnnotation(rec search.AnnotationRecord)
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type Deps struct {
	Engine    merger
	Documents docmodel.Store
	Local     localStore
	History   historyService
	Search    searchService
	Exporter  exporter
	Decisions decision.Store
}

type Service struct {
	cfg       config.Config
	engine    merger
	documents docmodel.Store
	local     localStore
	history   historyService
	search    searchService
	exporter  exporter
	decisions decision.Store
	now       func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:       cfg,
		engine:    deps.Engine,
		documents: deps.Documents,
		local:     deps.Local,
		history:   deps.History,
		search:    deps.Search,
		exporter:  deps.Exporter,
		decisions: deps.Decisions,
		now:       time.Now,
	}
}

var errUnauthorized = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)

// Authenticate maps a static or signed API token to its principal.
func (s *Service) Authenticate(token string) (Principal, error) {
	if auth.IsSigned(token) {
		claims, err := auth.Parse([]byte(s.cfg.TokenSecret), token, s.now())
		if err != nil {
			return Principal{}, errUnauthorized
		}
		return Principal{Name: claims.Name, Role: rbac.Normalize(claims.Role)}, nil
	}
	if token == "" {
		return Principal{}, errUnauthorized
	}
	role, ok := s.cfg.APITokens[token]
	if !ok {
		role, ok = s.matchHashedToken(token)
	}
	if !ok {
		return Principal{}, errUnauthorized
	}
	sum := sha1.Sum([]byte(token))
	return Principal{
		Name: "token-" + hex.EncodeToString(sum[:])[:8],
		Role: rbac.Normalize(role),
	}, nil
}

func (s *Service) matchHashedToken(token string) (string, bool) {
	for _, hashed := range s.cfg.HashedTokens {
		if bcrypt.CompareHashAndPassword([]byte(hashed.Hash), []byte(token)) == nil {
			return hashed.Role, true
		}
	}
	return "", false
}

func (s *Service) Can(role rbac.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

func (s *Service) authorize(p Principal, actions ...rbac.Action) error {
	for _, action := range actions {
		if !s.Can(p.Role, action) {
			return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", map[string]any{"action": action})
		}
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	if s.local != nil {
		if err := s.local.Ping(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if s.decisions != nil {
		if err := s.decisions.Ping(ctx); err != nil {
			return fmt.Errorf("decision store: %w", err)
		}
	}
	return nil
}

func (s *Service) Plan(ctx context.Context, p Principal, input PlanInput) (docmodel.InsertionPoint, error) {
	if err := s.authorize(p, rbac.ActionPlan); err != nil {
		return docmodel.InsertionPoint{}, err
	}
	ref := docmodel.ParseRef(input.Ref)
	if ref == "" {
		return docmodel.InsertionPoint{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "ref is required", nil)
	}
	raw := input.ConflictPolicy
	if raw == "" {
		raw = s.cfg.Merge.ConflictPolicy
	}
	policy, ok := docmodel.ParsePolicy(raw)
	if !ok {
		return docmodel.InsertionPoint{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown conflict policy", map[string]any{"conflictPolicy": raw})
	}
	return s.engine.PlanInsertionPoint(ctx, ref, input.SectionHint, policy)
}

func (s *Service) mergeOptions(input MergeInput) docmodel.MergeOptions {
	opts := docmodel.DefaultMergeOptions()
	opts.ConflictPolicy = docmodel.ConflictPolicy(s.cfg.Merge.ConflictPolicy)
	opts.AddSourceComment = s.cfg.Merge.SourceComment
	opts.AddInlineAttribution = s.cfg.Merge.InlineAttribute

	in := input.Options
	if in.PreserveComments != nil {
		opts.PreserveComments = *in.PreserveComments
	}
	if in.ConflictPolicy != "" {
		opts.ConflictPolicy = docmodel.ConflictPolicy(in.ConflictPolicy)
	}
	if in.AddSourceComment != nil {
		opts.AddSourceComment = *in.AddSourceComment
	}
	if in.AddInlineAttribution != nil {
		opts.AddInlineAttribution = *in.AddInlineAttribution
	}
	opts.SourceDescription = strings.TrimSpace(in.SourceDescription)
	opts.ReplaceAnnotationID = strings.TrimSpace(in.ReplaceAnnotationID)
	opts.TargetSection = input.SectionHint
	return opts
}

func (s *Service) Merge(ctx context.Context, p Principal, input MergeInput) (MergeResponse, error) {
	opts := s.mergeOptions(input)
	actions := []rbac.Action{rbac.ActionMerge}
	if opts.ConflictPolicy == docmodel.PolicyForce || opts.ReplaceAnnotationID != "" {
		actions = append(actions, rbac.ActionForce)
	}
	if err := s.authorize(p, actions...); err != nil {
		return MergeResponse{}, err
	}

	req := merge.Request{Ref: docmodel.ParseRef(input.Ref), Content: input.Content, SectionHint: input.SectionHint, Options: opts}
	result, err := s.engine.Merge(ctx, req.Ref, req.Content, req.SectionHint, opts)
	if err != nil {
		return MergeResponse{}, err
	}
	return s.afterMerge(ctx, p, req, result, "merge")
}

// Decide answers a pending decision. The decision is consumed even if the
// resumed merge fails.
func (s *Service) Decide(ctx context.Context, p Principal, token, rawChoice string) (MergeResponse, error) {
	choice, ok := merge.ParseChoice(rawChoice)
	if !ok {
		return MergeResponse{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown choice", map[string]any{"choice": rawChoice})
	}
	actions := []rbac.Action{rbac.ActionMerge}
	if choice == merge.ChoiceUpdateWithPreservation {
		actions = append(actions, rbac.ActionForce)
	}
	if err := s.authorize(p, actions...); err != nil {
		return MergeResponse{}, err
	}
	if s.decisions == nil {
		return MergeResponse{}, decision.ErrNotFound
	}

	pending, err := s.decisions.Take(ctx, token)
	if err != nil {
		return MergeResponse{}, err
	}
	result, err := s.engine.Decide(ctx, pending.Request, choice)
	if err != nil {
		return MergeResponse{}, err
	}
	return s.afterMerge(ctx, p, pending.Request, result, "decide:"+string(choice))
}

func (s *Service) afterMerge(ctx context.Context, p Principal, req merge.Request, result merge.Result, operation string) (MergeResponse, error) {
	response := MergeResponse{Result: result}
	outcome := "failed"

	switch {
	case result.RequiresDecision:
		outcome = "decision_required"
		if s.decisions == nil {
			return MergeResponse{}, domainError(http.StatusServiceUnavailable, "DECISIONS_UNAVAILABLE", "Decision store is not configured", nil)
		}
		pending := decision.Pending{
			Token:     util.NewID("dec"),
			Request:   req,
			Decision:  result.Decision,
			CreatedBy: p.Name,
			CreatedAt: s.now().UTC(),
		}
		if err := s.decisions.Save(ctx, pending, s.cfg.Merge.DecisionTTL); err != nil {
			return MergeResponse{}, fmt.Errorf("save pending decision: %w", err)
		}
		response.DecisionToken = pending.Token
	case result.Success:
		outcome = "merged"
		response.CommitHash = s.recordSnapshot(ctx, req.Ref, fmt.Sprintf("%s at %d (%s)", operation, result.InsertionPoint.Offset, result.InsertionPoint.Strategy))
	}

	response.RunID = s.recordRun(ctx, p, req, response, outcome)
	return response, nil
}

func (s *Service) recordSnapshot(ctx context.Context, ref, message string) string {
	if s.history == nil {
		return ""
	}
	doc, err := s.documents.GetDocument(ctx, ref)
	if err != nil {
		log.Printf("app: snapshot %s: %v", ref, err)
		return ""
	}
	annotations, err := s.documents.ListAnnotations(ctx, ref, true)
	if err != nil {
		log.Printf("app: snapshot annotations %s: %v", ref, err)
		return ""
	}
	commit, err := s.history.RecordSnapshot(ref, gitrepo.NewSnapshot(doc, annotations), "docmerge", message)
	if err != nil {
		log.Printf("app: record snapshot %s: %v", ref, err)
		return ""
	}
	return commit.Hash
}

func (s *Service) recordRun(ctx context.Context, p Principal, req merge.Request, response MergeResponse, outcome string) string {
	run := store.MergeRun{
		ID:                    util.NewID("mrg"),
		DocumentRef:           req.Ref,
		Backend:               s.cfg.DocumentBackend,
		Outcome:               outcome,
		Strategy:              string(response.InsertionPoint.Strategy),
		Offset:                response.InsertionPoint.Offset,
		Safe:                  response.InsertionPoint.Safe,
		AffectedAnnotationIDs: response.InsertionPoint.AffectedAnnotationIDs,
		AnnotationsPreserved:  response.AnnotationsPreserved,
		NewAnnotationID:       response.NewAnnotationID,
		SectionHint:           req.SectionHint,
		Content:               req.Content,
		Message:               response.Message,
		RequestedBy:           p.Name,
		CommitHash:            response.CommitHash,
	}
	if s.local != nil {
		if err := s.local.InsertMergeRun(ctx, run); err != nil {
			log.Printf("app: record merge run %s: %v", run.ID, err)
			return ""
		}
	}
	if s.search != nil {
		s.search.IndexMerge(search.MergeRecord{
			ID:          run.ID,
			DocumentRef: run.DocumentRef,
			Outcome:     run.Outcome,
			Strategy:    run.Strategy,
			SectionHint: run.SectionHint,
			Content:     run.Content,
			Message:     run.Message,
		})
	}
	return run.ID
}

func (s *Service) requireLocal() error {
	if s.local == nil || s.cfg.DocumentBackend != config.BackendPostgres {
		return domainError(http.StatusConflict, "UNSUPPORTED_BACKEND", "Operation requires the postgres document backend", map[string]any{"backend": s.cfg.DocumentBackend})
	}
	return nil
}

func (s *Service) CreateDocument(ctx context.Context, p Principal, input CreateDocumentInput) (DocumentView, error) {
	if err := s.authorize(p, rbac.ActionMerge); err != nil {
		return DocumentView{}, err
	}
	if err := s.requireLocal(); err != nil {
		return DocumentView{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return DocumentView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = util.NewID("doc")
	}

	paragraphs := make([]textbuf.Paragraph, 0, len(input.Paragraphs))
	for _, para := range input.Paragraphs {
		text := para.Text
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		style := para.Style
		if style == "" {
			style = docmodel.StyleNormal
		}
		paragraphs = append(paragraphs, textbuf.Paragraph{Text: text, Style: style})
	}
	if _, err := s.local.CreateDocument(ctx, id, title, paragraphs); err != nil {
		if errors.Is(err, store.ErrDocumentExists) {
			return DocumentView{}, domainError(http.StatusConflict, "DOCUMENT_EXISTS", fmt.Sprintf("document %s already exists", id), nil)
		}
		return DocumentView{}, err
	}
	s.recordSnapshot(ctx, id, "Create document")
	return s.GetDocument(ctx, p, id)
}

func (s *Service) GetDocument(ctx context.Context, p Principal, ref string) (DocumentView, error) {
	if err := s.authorize(p, rbac.ActionRead); err != nil {
		return DocumentView{}, err
	}
	ref = docmodel.ParseRef(ref)
	doc, err := s.documents.GetDocument(ctx, ref)
	if err != nil {
		return DocumentView{}, err
	}
	annotations, err := s.documents.ListAnnotations(ctx, ref, true)
	if err != nil {
		return DocumentView{}, err
	}
	ranges := anchor.Resolve(doc, annotations)

	views := make([]AnnotationView, 0, len(annotations))
	for _, annotation := range annotations {
		view := AnnotationView{Annotation: annotation}
		if r, ok := anchor.Find(ranges, annotation.ID); ok {
			view.Anchored = true
			view.Range = &r
		}
		views = append(views, view)
	}
	return DocumentView{Document: doc, Annotations: views}, nil
}

// AddAnnotation anchors a new annotation on text that must exist in the
// document.
func (s *Service) AddAnnotation(ctx context.Context, p Principal, ref string, input AnnotationInput) (docmodel.Annotation, error) {
	if err := s.authorize(p, rbac.ActionComment); err != nil {
		return docmodel.Annotation{}, err
	}
	if err := s.requireLocal(); err != nil {
		return docmodel.Annotation{}, err
	}
	if strings.TrimSpace(input.Content) == "" {
		return docmodel.Annotation{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}
	doc, err := s.documents.GetDocument(ctx, ref)
	if err != nil {
		return docmodel.Annotation{}, err
	}
	if input.AnchorText != "" {
		if _, _, ok := anchor.Locate(doc.Blocks, input.AnchorText); !ok {
			return docmodel.Annotation{}, fmt.Errorf("%w: %q", docmodel.ErrAnchorNotFound, input.AnchorText)
		}
	}

	annotation, err := s.local.AddAnnotation(ctx, ref, docmodel.Annotation{
		AnchorText: input.AnchorText,
		Content:    strings.TrimSpace(input.Content),
		Author:     p.Name,
	})
	if err != nil {
		return docmodel.Annotation{}, err
	}
	s.indexAnnotation(ref, annotation)
	return annotation, nil
}

func (s *Service) ReplyAnnotation(ctx context.Context, p Principal, ref, annotationID string, input ReplyInput) (docmodel.Reply, error) {
	if err := s.authorize(p, rbac.ActionComment); err != nil {
		return docmodel.Reply{}, err
	}
	if err := s.requireLocal(); err != nil {
		return docmodel.Reply{}, err
	}
	if strings.TrimSpace(input.Content) == "" {
		return docmodel.Reply{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}
	if err := s.ensureAnnotation(ctx, ref, annotationID); err != nil {
		return docmodel.Reply{}, err
	}
	return s.local.AddReply(ctx, annotationID, docmodel.Reply{Author: p.Name, Content: strings.TrimSpace(input.Content)})
}

func (s *Service) ResolveAnnotation(ctx context.Context, p Principal, ref, annotationID string) error {
	if err := s.authorize(p, rbac.ActionComment); err != nil {
		return err
	}
	if err := s.requireLocal(); err != nil {
		return err
	}
	if err := s.local.ResolveAnnotation(ctx, ref, annotationID); err != nil {
		return err
	}
	annotations, err := s.documents.ListAnnotations(ctx, ref, true)
	if err != nil {
		log.Printf("app: reindex resolved annotation %s: %v", annotationID, err)
		return nil
	}
	for _, annotation := range annotations {
		if annotation.ID == annotationID {
			annotation.Resolved = true
			s.indexAnnotation(ref, annotation)
		}
	}
	return nil
}

func (s *Service) ensureAnnotation(ctx context.Context, ref, annotationID string) error {
	annotations, err := s.documents.ListAnnotations(ctx, ref, true)
	if err != nil {
		return err
	}
	for _, annotation := range annotations {
		if annotation.ID == annotationID {
			return nil
		}
	}
	return fmt.Errorf("annotation %s: %w", annotationID, docmodel.ErrNotFound)
}

func (s *Service) indexAnnotation(ref string, annotation docmodel.Annotation) {
	if s.search == nil {
		return
	}
	s.search.IndexAnnotation(search.AnnotationRecord{
		ID:          annotation.ID,
		DocumentRef: ref,
		AnchorText:  annotation.AnchorText,
		Content:     annotation.Content,
		Author:      annotation.Author,
		Resolved:    annotation.Resolved,
	})
}

func (s *Service) History(ctx context.Context, p Principal, ref string, limit int) (HistoryView, error) {
	if err := s.authorize(p, rbac.ActionRead); err != nil {
		return HistoryView{}, err
	}
	ref = docmodel.ParseRef(ref)
	view := HistoryView{Commits: []gitrepo.CommitInfo{}, Runs: []store.MergeRun{}}
	if s.history != nil {
		commits, err := s.history.History(ref, limit)
		if err != nil && !errors.Is(err, gitrepo.ErrNoHistory) {
			return HistoryView{}, err
		}
		if commits != nil {
			view.Commits = commits
		}
	}
	if s.local != nil {
		runs, err := s.local.ListMergeRuns(ctx, ref, limit)
		if err != nil {
			return HistoryView{}, err
		}
		view.Runs = runs
	}
	return view, nil
}

func (s *Service) SnapshotAt(ctx context.Context, p Principal, ref, hash string) (gitrepo.Snapshot, error) {
	if err := s.authorize(p, rbac.ActionRead); err != nil {
		return gitrepo.Snapshot{}, err
	}
	if s.history == nil {
		return gitrepo.Snapshot{}, gitrepo.ErrNoHistory
	}
	return s.history.SnapshotAt(docmodel.ParseRef(ref), hash)
}

func (s *Service) Export(ctx context.Context, p Principal, input ExportInput) (*export.Result, error) {
	if err := s.authorize(p, rbac.ActionExport); err != nil {
		return nil, err
	}
	format, ok := export.ParseFormat(input.Format)
	if !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unsupported export format", map[string]any{"format": input.Format})
	}
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	return s.exporter.Export(ctx, export.Request{
		Ref:                docmodel.ParseRef(input.Ref),
		Format:             format,
		IncludeAnnotations: input.IncludeAnnotations,
		IncludeResolved:    input.IncludeResolved,
		Archive:            input.Archive,
	})
}

func (s *Service) Search(ctx context.Context, p Principal, q search.Query) (search.Response, error) {
	if err := s.authorize(p, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(q), nil
}
