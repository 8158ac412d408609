package search

import (
	"context"
	"log"
)

type backend interface {
	Searcher
	Indexer
}

type recordLoader interface {
	Searcher
	LoadAllRecords(ctx context.Context) ([]MergeRecord, []AnnotationRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili backend
	pgfts recordLoader
	async bool
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{async: true}
	if meili != nil {
		s.meili = meili
	}
	if pgfts != nil {
		s.pgfts = pgfts
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexMerge indexes a merge run (fire-and-forget to Meilisearch).
func (s *Service) IndexMerge(rec MergeRecord) {
	s.dispatch(func(m backend) {
		if err := m.IndexMerge(rec); err != nil {
			log.Printf("search: index merge %s: %v", rec.ID, err)
		}
	})
}

// IndexAnnotation indexes an annotation (fire-and-forget to Meilisearch).
func (s *Service) IndexAnnotation(rec AnnotationRecord) {
	s.dispatch(func(m backend) {
		if err := m.IndexAnnotation(rec); err != nil {
			log.Printf("search: index annotation %s: %v", rec.ID, err)
		}
	})
}

// DeleteAnnotation removes an annotation from the search index (fire-and-forget).
func (s *Service) DeleteAnnotation(id string) {
	s.dispatch(func(m backend) {
		if err := m.DeleteAnnotation(id); err != nil {
			log.Printf("search: delete annotation %s: %v", id, err)
		}
	})
}

// ReindexAll pushes every merge run and annotation to Meilisearch.
func (s *Service) ReindexAll(merges []MergeRecord, annotations []AnnotationRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if len(merges) > 0 {
		if err := s.meili.IndexMerges(merges); err != nil {
			log.Printf("search: reindex merges: %v", err)
		}
	}
	if len(annotations) > 0 {
		if err := s.meili.IndexAnnotations(annotations); err != nil {
			log.Printf("search: reindex annotations: %v", err)
		}
	}
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	merges, annotations, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(merges, annotations)
}

func (s *Service) dispatch(fn func(m backend)) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if !s.async {
		fn(s.meili)
		return
	}
	go fn(s.meili)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
