package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Store is the Postgres side of the search facade.
type Store interface {
	Search(ctx context.Context, q Query) ([]MessageRecord, error)
	LoadAll(ctx context.Context, batchSize int, fn func([]MessageRecord) error) error
}

// Service answers searches from Postgres and mirrors messages into
// Meilisearch when it is configured.
type Service struct {
	indexer Indexer
	pg      Store
	log     *slog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pg *Pg) *Service {
	if meili == nil {
		return newService(nil, pg)
	}
	return newService(meili, pg)
}

func newService(indexer Indexer, pg Store) *Service {
	return &Service{
		indexer: indexer,
		pg:      pg,
		log:     slog.Default().With("component", "search"),
	}
}

// Search returns up to q.Limit messages of the workspace whose plain text
// contains q.Text ignoring case, oldest first.
func (s *Service) Search(ctx context.Context, q Query) ([]MessageRecord, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return []MessageRecord{}, nil
	}
	hits, err := s.pg.Search(ctx, Query{WorkspaceID: q.WorkspaceID, Text: q.Text, Limit: q.limit()})
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return hits, nil
}

// IndexMessage indexes a message (fire-and-forget to Meilisearch).
func (s *Service) IndexMessage(ctx context.Context, rec MessageRecord) {
	if s.indexer == nil || !s.indexer.Healthy() {
		return
	}
	go func() {
		if err := s.indexer.IndexMessage(rec); err != nil {
			s.log.Warn("index message", "message_id", rec.ID, "error", err)
		}
	}()
}

// DeleteMessage removes a message from the search index (fire-and-forget).
func (s *Service) DeleteMessage(ctx context.Context, id string) {
	if s.indexer == nil || !s.indexer.Healthy() {
		return
	}
	go func() {
		if err := s.indexer.DeleteMessage(id); err != nil {
			s.log.Warn("delete message from index", "message_id", id, "error", err)
		}
	}()
}

// IndexMessageSync indexes a message and reports the result. The task
// worker uses it so failed tasks are retried.
func (s *Service) IndexMessageSync(rec MessageRecord) error {
	if s.indexer == nil {
		return nil
	}
	return s.indexer.IndexMessage(rec)
}

// DeleteMessageSync is the synchronous form of DeleteMessage.
func (s *Service) DeleteMessageSync(id string) error {
	if s.indexer == nil {
		return nil
	}
	return s.indexer.DeleteMessage(id)
}

// ReindexAllFromPG pushes every stored message into Meilisearch. It returns
// the number of messages indexed.
func (s *Service) ReindexAllFromPG(ctx context.Context) (int, error) {
	if s.indexer == nil {
		return 0, fmt.Errorf("reindex: meilisearch is not configured")
	}
	if !s.indexer.Healthy() {
		return 0, fmt.Errorf("reindex: meilisearch is unhealthy")
	}
	total := 0
	err := s.pg.LoadAll(ctx, 500, func(batch []MessageRecord) error {
		if err := s.indexer.IndexMessages(batch); err != nil {
			return fmt.Errorf("reindex batch: %w", err)
		}
		total += len(batch)
		return nil
	})
	return total, err
}
