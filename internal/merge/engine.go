// Package merge is the entry point that inserts content into an annotated
// document without detaching its comments.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"docmerge/internal/anchor"
	"docmerge/internal/attribution"
	"docmerge/internal/docmodel"
	"docmerge/internal/planner"
	"docmerge/internal/sequencer"
)

var ErrInvalidRequest = errors.New("invalid merge request")

// Choice answers a pending decision.
type Choice string

const (
	ChoiceInsertBefore           Choice = "insert_before"
	ChoiceInsertAfter            Choice = "insert_after"
	ChoiceUpdateWithPreservation Choice = "update_with_preservation"
)

var decisionChoices = []Choice{ChoiceInsertBefore, ChoiceInsertAfter, ChoiceUpdateWithPreservation}

func ParseChoice(value string) (Choice, bool) {
	for _, choice := range decisionChoices {
		if string(choice) == value {
			return choice, true
		}
	}
	return "", false
}

// Request is a merge call as the caller made it. A pending decision keeps the
// request so it can be replayed against a fresh snapshot.
type Request struct {
	Ref         string                `json:"ref"`
	Content     string                `json:"content"`
	SectionHint string                `json:"sectionHint,omitempty"`
	Options     docmodel.MergeOptions `json:"options"`
}

// Decision is returned instead of mutating when the target touches annotated
// text under the ask policy.
type Decision struct {
	AffectedAnnotationIDs []string                  `json:"affectedAnnotationIds"`
	Alternatives          []docmodel.InsertionPoint `json:"alternatives"`
	Options               []Choice                  `json:"options"`
}

type Result struct {
	Success              bool                    `json:"success"`
	RequiresDecision     bool                    `json:"requiresDecision,omitempty"`
	InsertionPoint       docmodel.InsertionPoint `json:"insertionPoint"`
	AnnotationsPreserved int                     `json:"annotationsPreserved"`
	NewAnnotationID      string                  `json:"newAnnotationId,omitempty"`
	Attribution          *attribution.Result     `json:"attribution,omitempty"`
	Message              string                  `json:"message"`
	Error                string                  `json:"error,omitempty"`
	Decision             *Decision               `json:"decision,omitempty"`
	Plan                 docmodel.Plan           `json:"plan,omitempty"`
}

type Engine struct {
	store     docmodel.Store
	annotator *attribution.Annotator
}

// New builds an engine. A nil annotator gets the default search settings.
func New(store docmodel.Store, annotator *attribution.Annotator) *Engine {
	if annotator == nil {
		annotator = attribution.New(store, 0, 0)
	}
	return &Engine{store: store, annotator: annotator}
}

// PlanInsertionPoint previews where Merge would insert without mutating.
func (e *Engine) PlanInsertionPoint(ctx context.Context, ref, sectionHint string, policy docmodel.ConflictPolicy) (docmodel.InsertionPoint, error) {
	ref = docmodel.ParseRef(ref)
	doc, ranges, err := e.snapshot(ctx, ref, true)
	if err != nil {
		return docmodel.InsertionPoint{}, err
	}
	return planner.Plan(doc, ranges, sectionHint, policy), nil
}

// Merge inserts content into ref. Store failures come back as an unsuccessful
// Result, except missing documents and denied access which are returned as
// errors.
func (e *Engine) Merge(ctx context.Context, ref, content, sectionHint string, opts docmodel.MergeOptions) (Result, error) {
	started := time.Now()
	defer func() { mergeLatency.WithLabelValues("merge").Observe(time.Since(started).Seconds()) }()

	req := Request{Ref: docmodel.ParseRef(ref), Content: content, SectionHint: sectionHint, Options: opts}
	if req.SectionHint == "" {
		req.SectionHint = opts.TargetSection
	}
	policy, err := validate(req)
	if err != nil {
		return Result{}, err
	}

	withAnnotations := opts.PreserveComments || opts.ReplaceAnnotationID != ""
	doc, ranges, err := e.snapshot(ctx, req.Ref, withAnnotations)
	if err != nil {
		return e.fail("merge", docmodel.InsertionPoint{}, err)
	}

	if opts.ReplaceAnnotationID != "" {
		return e.replace(ctx, "merge", req, ranges, opts.ReplaceAnnotationID)
	}

	point := planner.Plan(doc, ranges, req.SectionHint, policy)
	if !point.Safe && policy == docmodel.PolicyAsk {
		mergeOutcomes.WithLabelValues("merge", "decision").Inc()
		return Result{
			RequiresDecision: true,
			InsertionPoint:   point,
			Message:          fmt.Sprintf("Insertion would affect %d annotation(s)", len(point.AffectedAnnotationIDs)),
			Decision: &Decision{
				AffectedAnnotationIDs: point.AffectedAnnotationIDs,
				Alternatives:          planner.Alternatives(doc, ranges, point),
				Options:               decisionChoices,
			},
		}, nil
	}
	return e.insert(ctx, "merge", req, point)
}

// Decide resumes a request that stopped at a decision. The document is read
// again, so the chosen placement is computed against its current state.
func (e *Engine) Decide(ctx context.Context, req Request, choice Choice) (Result, error) {
	started := time.Now()
	defer func() { mergeLatency.WithLabelValues("decide").Observe(time.Since(started).Seconds()) }()

	req.Ref = docmodel.ParseRef(req.Ref)
	policy, err := validate(req)
	if err != nil {
		return Result{}, err
	}
	if _, ok := ParseChoice(string(choice)); !ok {
		return Result{}, fmt.Errorf("%w: unknown choice %q", ErrInvalidRequest, choice)
	}

	doc, ranges, err := e.snapshot(ctx, req.Ref, true)
	if err != nil {
		return e.fail("decide", docmodel.InsertionPoint{}, err)
	}
	point := planner.Plan(doc, ranges, req.SectionHint, policy)
	if point.Safe {
		return e.insert(ctx, "decide", req, point)
	}

	switch choice {
	case ChoiceUpdateWithPreservation:
		return e.replace(ctx, "decide", req, ranges, point.AffectedAnnotationIDs[0])
	case ChoiceInsertBefore:
		point = planner.Alternatives(doc, ranges, point)[0]
	case ChoiceInsertAfter:
		point = planner.Alternatives(doc, ranges, point)[1]
	}
	return e.insert(ctx, "decide", req, point)
}

func (e *Engine) insert(ctx context.Context, operation string, req Request, point docmodel.InsertionPoint) (Result, error) {
	var suffix string
	if req.Options.AddInlineAttribution && req.Options.SourceDescription != "" {
		suffix = req.Options.SourceDescription
	}
	plan := sequencer.Append(point.Offset, req.Content, suffix)
	return e.execute(ctx, operation, "inserted", req, point, plan, sequencer.FormatContent(req.Content))
}

func (e *Engine) replace(ctx context.Context, operation string, req Request, ranges []docmodel.CommentedRange, annotationID string) (Result, error) {
	r, ok := anchor.Find(ranges, annotationID)
	if !ok {
		mergeOutcomes.WithLabelValues(operation, "failed").Inc()
		return Result{}, fmt.Errorf("%w: anchor of annotation %s", docmodel.ErrNotFound, annotationID)
	}
	point := docmodel.InsertionPoint{
		Offset:                sequencer.SplitPoint(r),
		AffectedAnnotationIDs: []string{r.AnnotationID},
		Strategy:              docmodel.StrategyWithin,
		Reason:                fmt.Sprintf("Replacing text of annotation %s in place", r.AnnotationID),
	}
	plan, err := sequencer.ReplaceWithin(r, req.Content)
	if err != nil {
		return e.fail(operation, point, err)
	}
	return e.execute(ctx, operation, "replaced", req, point, plan, req.Content)
}

func (e *Engine) execute(ctx context.Context, operation, outcome string, req Request, point docmodel.InsertionPoint, plan docmodel.Plan, inserted string) (Result, error) {
	if err := plan.Validate(); err != nil {
		return e.fail(operation, point, err)
	}
	if err := e.store.BatchMutate(ctx, req.Ref, plan); err != nil {
		return e.fail(operation, point, err)
	}
	mergeOutcomes.WithLabelValues(operation, outcome).Inc()
	planEdits.Observe(float64(len(plan)))

	result := Result{
		Success:              true,
		InsertionPoint:       point,
		AnnotationsPreserved: len(point.AffectedAnnotationIDs),
		Message:              "Content inserted successfully. " + point.Reason,
		Plan:                 plan,
	}
	if !req.Options.AddSourceComment || req.Options.SourceDescription == "" {
		return result, nil
	}

	attr, err := e.annotator.Annotate(ctx, req.Ref, inserted, req.Options.SourceDescription)
	if err != nil {
		attributions.WithLabelValues("failed").Inc()
		log.Printf("merge: source comment for %s: %v", req.Ref, err)
		return result, nil
	}
	path := "document"
	if attr.Anchored {
		path = "anchored"
	}
	attributions.WithLabelValues(path).Inc()
	result.NewAnnotationID = attr.AnnotationID
	result.Attribution = &attr
	return result, nil
}

func (e *Engine) snapshot(ctx context.Context, ref string, withAnnotations bool) (docmodel.Document, []docmodel.CommentedRange, error) {
	doc, err := e.store.GetDocument(ctx, ref)
	if err != nil {
		return docmodel.Document{}, nil, fmt.Errorf("get document: %w", err)
	}
	if !withAnnotations {
		return doc, nil, nil
	}
	annotations, err := e.store.ListAnnotations(ctx, ref, false)
	if err != nil {
		return docmodel.Document{}, nil, fmt.Errorf("list annotations: %w", err)
	}
	return doc, anchor.Resolve(doc, annotations), nil
}

func (e *Engine) fail(operation string, point docmodel.InsertionPoint, err error) (Result, error) {
	mergeOutcomes.WithLabelValues(operation, "failed").Inc()
	if errors.Is(err, docmodel.ErrNotFound) || errors.Is(err, docmodel.ErrPermissionDenied) {
		return Result{}, err
	}
	return Result{
		InsertionPoint: point,
		Message:        err.Error(),
		Error:          err.Error(),
	}, nil
}

func validate(req Request) (docmodel.ConflictPolicy, error) {
	if req.Ref == "" {
		return "", fmt.Errorf("%w: document reference is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Content) == "" {
		return "", fmt.Errorf("%w: content is required", ErrInvalidRequest)
	}
	policy, ok := docmodel.ParsePolicy(string(req.Options.ConflictPolicy))
	if !ok {
		return "", fmt.Errorf("%w: unknown conflict policy %q", ErrInvalidRequest, req.Options.ConflictPolicy)
	}
	return policy, nil
}
