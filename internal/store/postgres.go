package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"docmerge/internal/docmodel"
	"docmerge/internal/textbuf"
	"docmerge/internal/util"
)

const localAuthor = "docmerge"

const uniqueViolation = "23505"

var ErrDocumentExists = errors.New("document already exists")

// PostgresStore keeps documents as ordered paragraph rows and implements
// docmodel.Store against them. It also holds the merge run log.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) CreateDocument(ctx context.Context, id, title string, paragraphs []textbuf.Paragraph) (DocumentRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return DocumentRecord{}, fmt.Errorf("begin create document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var record DocumentRecord
	err = tx.QueryRowContext(ctx, `
		INSERT INTO documents (id, title)
		VALUES ($1, $2)
		RETURNING id, title, revision, created_at, updated_at
	`, id, title).Scan(&record.ID, &record.Title, &record.Revision, &record.CreatedAt, &record.UpdatedAt)
	if isUniqueViolation(err) {
		return DocumentRecord{}, fmt.Errorf("document %s: %w", id, ErrDocumentExists)
	}
	if err != nil {
		return DocumentRecord{}, fmt.Errorf("insert document: %w", err)
	}
	if err := writeParagraphs(ctx, tx, id, paragraphs); err != nil {
		return DocumentRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return DocumentRecord{}, fmt.Errorf("commit create document: %w", err)
	}
	return record, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.SQLState() == uniqueViolation
}

func (s *PostgresStore) GetDocumentRecord(ctx context.Context, id string) (DocumentRecord, error) {
	var record DocumentRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, revision, created_at, updated_at
		FROM documents
		WHERE id=$1
	`, id).Scan(&record.ID, &record.Title, &record.Revision, &record.CreatedAt, &record.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DocumentRecord{}, fmt.Errorf("document %s: %w", id, docmodel.ErrNotFound)
	}
	if err != nil {
		return DocumentRecord{}, fmt.Errorf("get document record: %w", err)
	}
	return record, nil
}

// GetDocument loads a snapshot with offsets starting at docmodel.FirstOffset.
func (s *PostgresStore) GetDocument(ctx context.Context, ref string) (docmodel.Document, error) {
	record, err := s.GetDocumentRecord(ctx, ref)
	if err != nil {
		return docmodel.Document{}, err
	}
	paragraphs, err := readParagraphs(ctx, s.db, ref)
	if err != nil {
		return docmodel.Document{}, err
	}
	buf := textbuf.FromParagraphs(docmodel.FirstOffset, paragraphs)
	return docmodel.NewDocument(record.ID, record.Title, buf.Blocks()), nil
}

// Paragraphs returns the stored paragraphs with their character styles.
func (s *PostgresStore) Paragraphs(ctx context.Context, ref string) ([]textbuf.Paragraph, error) {
	if _, err := s.GetDocumentRecord(ctx, ref); err != nil {
		return nil, err
	}
	return readParagraphs(ctx, s.db, ref)
}

// BatchMutate applies plan to a locked copy of the document and writes the
// result back in the same transaction, so a failing edit changes nothing.
func (s *PostgresStore) BatchMutate(ctx context.Context, ref string, plan docmodel.Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch mutate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var revision int64
	err = tx.QueryRowContext(ctx, `SELECT revision FROM documents WHERE id=$1 FOR UPDATE`, ref).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("document %s: %w", ref, docmodel.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock document: %w", err)
	}

	paragraphs, err := readParagraphs(ctx, tx, ref)
	if err != nil {
		return err
	}
	buf := textbuf.FromParagraphs(docmodel.FirstOffset, paragraphs)
	if err := buf.ApplyPlan(plan); err != nil {
		return fmt.Errorf("%w: %v", docmodel.ErrMutationRejected, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_paragraphs WHERE document_id=$1`, ref); err != nil {
		return fmt.Errorf("clear paragraphs: %w", err)
	}
	if err := writeParagraphs(ctx, tx, ref, buf.Paragraphs()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET revision=$2, updated_at=NOW() WHERE id=$1`, ref, revision+1); err != nil {
		return fmt.Errorf("bump revision: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch mutate: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAnnotations(ctx context.Context, ref string, includeResolved bool) ([]docmodel.Annotation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, anchor_text, content, author, resolved, created_at
		FROM annotations
		WHERE document_id=$1 AND ($2 OR NOT resolved)
		ORDER BY created_at ASC, id ASC
	`, ref, includeResolved)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	items := make([]docmodel.Annotation, 0)
	index := map[string]int{}
	for rows.Next() {
		var item docmodel.Annotation
		if err := rows.Scan(&item.ID, &item.AnchorText, &item.Content, &item.Author, &item.Resolved, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		index[item.ID] = len(items)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}
	if len(items) == 0 {
		return items, nil
	}

	replyRows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.annotation_id, r.author, r.content, r.created_at
		FROM annotation_replies r
		JOIN annotations a ON a.id = r.annotation_id
		WHERE a.document_id=$1
		ORDER BY r.created_at ASC
	`, ref)
	if err != nil {
		return nil, fmt.Errorf("list annotation replies: %w", err)
	}
	defer replyRows.Close()
	for replyRows.Next() {
		var reply docmodel.Reply
		var annotationID string
		if err := replyRows.Scan(&reply.ID, &annotationID, &reply.Author, &reply.Content, &reply.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan annotation reply: %w", err)
		}
		if i, ok := index[annotationID]; ok {
			items[i].Replies = append(items[i].Replies, reply)
		}
	}
	if err := replyRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotation replies: %w", err)
	}
	return items, nil
}

// AddAnnotation stores an annotation against the document's current text.
func (s *PostgresStore) AddAnnotation(ctx context.Context, ref string, annotation docmodel.Annotation) (docmodel.Annotation, error) {
	if annotation.ID == "" {
		annotation.ID = util.NewID("ann")
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO annotations (id, document_id, anchor_text, content, author, resolved)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, annotation.ID, ref, annotation.AnchorText, annotation.Content, annotation.Author, annotation.Resolved).Scan(&annotation.CreatedAt)
	if err != nil {
		return docmodel.Annotation{}, fmt.Errorf("insert annotation: %w", err)
	}
	return annotation, nil
}

func (s *PostgresStore) AddReply(ctx context.Context, annotationID string, reply docmodel.Reply) (docmodel.Reply, error) {
	if reply.ID == "" {
		reply.ID = util.NewID("rep")
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO annotation_replies (id, annotation_id, author, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, reply.ID, annotationID, reply.Author, reply.Content).Scan(&reply.CreatedAt)
	if err != nil {
		return docmodel.Reply{}, fmt.Errorf("insert annotation reply: %w", err)
	}
	return reply, nil
}

func (s *PostgresStore) ResolveAnnotation(ctx context.Context, ref, annotationID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE annotations SET resolved=TRUE WHERE document_id=$1 AND id=$2`, ref, annotationID)
	if err != nil {
		return fmt.Errorf("resolve annotation: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("annotation %s: %w", annotationID, docmodel.ErrNotFound)
	}
	return nil
}

// CreateAnnotation adds an unanchored document-level annotation.
func (s *PostgresStore) CreateAnnotation(ctx context.Context, ref, content string) (string, error) {
	if _, err := s.GetDocumentRecord(ctx, ref); err != nil {
		return "", err
	}
	annotation, err := s.AddAnnotation(ctx, ref, docmodel.Annotation{Content: content, Author: localAuthor})
	if err != nil {
		return "", err
	}
	return annotation.ID, nil
}

func (s *PostgresStore) InsertMergeRun(ctx context.Context, run MergeRun) error {
	affected := run.AffectedAnnotationIDs
	if affected == nil {
		affected = []string{}
	}
	encodedAffected, err := json.Marshal(affected)
	if err != nil {
		return fmt.Errorf("marshal affected annotations: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO merge_runs (
			id, document_ref, backend, outcome, strategy, insertion_offset, safe,
			affected_annotation_ids, annotations_preserved, new_annotation_id,
			section_hint, content, message, requested_by, commit_hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11, $12, $13, $14, $15)
	`, run.ID, run.DocumentRef, run.Backend, run.Outcome, run.Strategy, run.Offset, run.Safe,
		string(encodedAffected), run.AnnotationsPreserved, run.NewAnnotationID,
		run.SectionHint, run.Content, run.Message, run.RequestedBy, run.CommitHash)
	if err != nil {
		return fmt.Errorf("insert merge run: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMergeRuns(ctx context.Context, ref string, limit int) ([]MergeRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_ref, backend, outcome, strategy, insertion_offset, safe,
			affected_annotation_ids, annotations_preserved, new_annotation_id,
			section_hint, content, message, requested_by, commit_hash, created_at
		FROM merge_runs
		WHERE ($1='' OR document_ref=$1)
		ORDER BY created_at DESC
		LIMIT $2
	`, ref, limit)
	if err != nil {
		return nil, fmt.Errorf("list merge runs: %w", err)
	}
	defer rows.Close()

	items := make([]MergeRun, 0)
	for rows.Next() {
		var item MergeRun
		var affectedRaw []byte
		if err := rows.Scan(
			&item.ID,
			&item.DocumentRef,
			&item.Backend,
			&item.Outcome,
			&item.Strategy,
			&item.Offset,
			&item.Safe,
			&affectedRaw,
			&item.AnnotationsPreserved,
			&item.NewAnnotationID,
			&item.SectionHint,
			&item.Content,
			&item.Message,
			&item.RequestedBy,
			&item.CommitHash,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan merge run: %w", err)
		}
		if err := json.Unmarshal(affectedRaw, &item.AffectedAnnotationIDs); err != nil {
			return nil, fmt.Errorf("decode affected annotations: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate merge runs: %w", err)
	}
	return items, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func readParagraphs(ctx context.Context, q queryer, ref string) ([]textbuf.Paragraph, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT text, style, spans
		FROM document_paragraphs
		WHERE document_id=$1
		ORDER BY ordinal ASC
	`, ref)
	if err != nil {
		return nil, fmt.Errorf("list paragraphs: %w", err)
	}
	defer rows.Close()

	paragraphs := make([]textbuf.Paragraph, 0)
	for rows.Next() {
		var paragraph textbuf.Paragraph
		var spansRaw []byte
		if err := rows.Scan(&paragraph.Text, &paragraph.Style, &spansRaw); err != nil {
			return nil, fmt.Errorf("scan paragraph: %w", err)
		}
		if err := json.Unmarshal(spansRaw, &paragraph.Spans); err != nil {
			return nil, fmt.Errorf("decode paragraph spans: %w", err)
		}
		paragraphs = append(paragraphs, paragraph)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate paragraphs: %w", err)
	}
	return paragraphs, nil
}

func writeParagraphs(ctx context.Context, tx *sql.Tx, ref string, paragraphs []textbuf.Paragraph) error {
	for i, paragraph := range paragraphs {
		spans := paragraph.Spans
		if spans == nil {
			spans = []textbuf.Span{}
		}
		encoded, err := json.Marshal(spans)
		if err != nil {
			return fmt.Errorf("marshal paragraph spans: %w", err)
		}
		style := paragraph.Style
		if style == "" {
			style = docmodel.StyleNormal
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_paragraphs (document_id, ordinal, text, style, spans)
			VALUES ($1, $2, $3, $4, $5::jsonb)
		`, ref, i, paragraph.Text, style, string(encoded)); err != nil {
			return fmt.Errorf("insert paragraph %d: %w", i, err)
		}
	}
	return nil
}
