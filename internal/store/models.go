package store

import "time"

// DocumentRecord is the metadata row of a locally stored document.
type DocumentRecord struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MergeRun is the audit entry written for every merge or decision outcome.
type MergeRun struct {
	ID                    string    `json:"id"`
	DocumentRef           string    `json:"documentRef"`
	Backend               string    `json:"backend"`
	Outcome               string    `json:"outcome"`
	Strategy              string    `json:"strategy"`
	Offset                int       `json:"offset"`
	Safe                  bool      `json:"safe"`
	AffectedAnnotationIDs []string  `json:"affectedAnnotationIds"`
	AnnotationsPreserved  int       `json:"annotationsPreserved"`
	NewAnnotationID       string    `json:"newAnnotationId,omitempty"`
	SectionHint           string    `json:"sectionHint,omitempty"`
	Content               string    `json:"content"`
	Message               string    `json:"message"`
	RequestedBy           string    `json:"requestedBy"`
	CommitHash            string    `json:"commitHash,omitempty"`
	CreatedAt             time.Time `json:"createdAt"`
}
