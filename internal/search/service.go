package search

import (
	"context"
	"log/slog"
	"sync"

	"planner/api/internal/store"
)

// Searcher is the primary search backend.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer keeps per-project records in the search backend.
type Indexer interface {
	ReplaceProject(projectID int64, records []Record) error
	RemoveProject(projectID int64) error
	IndexRecords(records []Record) error
	Healthy() bool
}

// Backend is what Meili provides; tests substitute fakes.
type Backend interface {
	Searcher
	Indexer
}

// indexQueueSize bounds pending background index writes.
const indexQueueSize = 256

// Service tries Meilisearch first and falls back to the store search.
// Index writes run one at a time on a single worker so a project's updates
// reach the backend in the order they were made.
type Service struct {
	backend  Backend
	fallback *StoreFallback

	mu     sync.Mutex
	closed bool
	jobs   chan func()
	done   chan struct{}
}

// NewService creates a search service. backend may be nil when Meilisearch
// is not configured.
func NewService(backend Backend, fallback *StoreFallback) *Service {
	s := &Service{backend: backend, fallback: fallback}
	if backend != nil {
		s.jobs = make(chan func(), indexQueueSize)
		s.done = make(chan struct{})
		go s.worker()
	}
	return s
}

func (s *Service) worker() {
	defer close(s.done)
	for job := range s.jobs {
		job()
	}
}

// Close stops the index worker after draining queued writes.
func (s *Service) Close() {
	if s.jobs == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()
	<-s.done
}

// enqueue hands a write to the worker. A full queue drops the write.
func (s *Service) enqueue(name string, projectID int64, job func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.jobs <- job:
	default:
		slog.Warn("search: index queue full, dropping write", "op", name, "project_id", projectID)
	}
}

func (s *Service) available() bool {
	return s.backend != nil && s.backend.Healthy()
}

// Search never fails: backend errors degrade to the fallback, fallback
// errors to an empty response.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.available() {
		results, total, err := s.backend.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		slog.Warn("search: meilisearch error, falling back to store", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		slog.Warn("search: store fallback error", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// ReindexProject replaces a project's records (fire-and-forget).
func (s *Service) ReindexProject(tree store.ProjectTree) {
	if !s.available() {
		return
	}
	records := RecordsFromTree(tree)
	s.enqueue("reindex", tree.ID, func() {
		if err := s.backend.ReplaceProject(tree.ID, records); err != nil {
			slog.Warn("search: reindex project", "project_id", tree.ID, "error", err)
		}
	})
}

// RemoveProject drops a deleted project's records (fire-and-forget).
func (s *Service) RemoveProject(projectID int64) {
	if !s.available() {
		return
	}
	s.enqueue("remove", projectID, func() {
		if err := s.backend.RemoveProject(projectID); err != nil {
			slog.Warn("search: remove project", "project_id", projectID, "error", err)
		}
	})
}

// ReindexAll pushes every given tree to the index and waits for it. It runs
// on the index worker behind any queued project writes.
func (s *Service) ReindexAll(trees []store.ProjectTree) {
	if !s.available() {
		return
	}
	records := make([]Record, 0)
	for _, tree := range trees {
		records = append(records, RecordsFromTree(tree)...)
	}
	finished := make(chan struct{})
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.jobs <- func() {
		defer close(finished)
		if err := s.backend.IndexRecords(records); err != nil {
			slog.Warn("search: reindex all", "error", err)
		}
	}
	s.mu.Unlock()
	<-finished
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
