package docmodel

import "context"

// Store is the remote document store the merge engine reads from and writes to.
type Store interface {
	GetDocument(ctx context.Context, ref string) (Document, error)
	ListAnnotations(ctx context.Context, ref string, includeResolved bool) ([]Annotation, error)
	// BatchMutate applies plan atomically: either every edit lands or none do.
	BatchMutate(ctx context.Context, ref string, plan Plan) error
	CreateAnnotation(ctx context.Context, ref, content string) (string, error)
}
