// Package worker moves search index updates onto a Redis-backed task queue.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"huddle/api/internal/search"
)

const (
	TypeIndexMessage  = "search:index_message"
	TypeDeleteMessage = "search:delete_message"

	queueName = "search"
	maxRetry  = 5
)

type deletePayload struct {
	ID string `json:"id"`
}

// SyncIndexer applies index changes and reports failures so tasks retry.
type SyncIndexer interface {
	IndexMessageSync(rec search.MessageRecord) error
	DeleteMessageSync(id string) error
}

// Client enqueues index tasks.
type Client struct {
	client *asynq.Client
	log    *slog.Logger
}

func NewClient(redisURL string) (*Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	return &Client{
		client: asynq.NewClient(opt),
		log:    slog.Default().With("component", "worker"),
	}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// IndexMessage enqueues an index task. Enqueue failures are logged.
func (c *Client) IndexMessage(ctx context.Context, rec search.MessageRecord) {
	if _, err := c.EnqueueIndex(ctx, rec); err != nil {
		c.log.WarnContext(ctx, "enqueue index task", "message_id", rec.ID, "error", err)
	}
}

// DeleteMessage enqueues a delete task. Enqueue failures are logged.
func (c *Client) DeleteMessage(ctx context.Context, id string) {
	if _, err := c.EnqueueDelete(ctx, id); err != nil {
		c.log.WarnContext(ctx, "enqueue delete task", "message_id", id, "error", err)
	}
}

func (c *Client) EnqueueIndex(ctx context.Context, rec search.MessageRecord) (string, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal index payload: %w", err)
	}
	return c.enqueue(ctx, asynq.NewTask(TypeIndexMessage, payload))
}

func (c *Client) EnqueueDelete(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", errors.New("asynq: message id is required")
	}
	payload, err := json.Marshal(deletePayload{ID: id})
	if err != nil {
		return "", fmt.Errorf("marshal delete payload: %w", err)
	}
	return c.enqueue(ctx, asynq.NewTask(TypeDeleteMessage, payload))
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task) (string, error) {
	info, err := c.client.EnqueueContext(ctx, task, asynq.Queue(queueName), asynq.MaxRetry(maxRetry))
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}
	return info.ID, nil
}

// NewMux routes index tasks to idx.
func NewMux(idx SyncIndexer) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeIndexMessage, func(_ context.Context, t *asynq.Task) error {
		var rec search.MessageRecord
		if err := json.Unmarshal(t.Payload(), &rec); err != nil || rec.ID == "" {
			return fmt.Errorf("decode index payload: %v: %w", err, asynq.SkipRetry)
		}
		return idx.IndexMessageSync(rec)
	})
	mux.HandleFunc(TypeDeleteMessage, func(_ context.Context, t *asynq.Task) error {
		var p deletePayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil || p.ID == "" {
			return fmt.Errorf("decode delete payload: %v: %w", err, asynq.SkipRetry)
		}
		return idx.DeleteMessageSync(p.ID)
	})
	return mux
}

// Server processes index tasks.
type Server struct {
	server *asynq.Server
}

func NewServer(redisURL string, concurrency int) (*Server, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 10
	}
	logger := slog.Default().With("component", "worker")
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queueName: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.ErrorContext(ctx, "task failed", "type", task.Type(), "error", err)
		}),
	})
	return &Server{server: srv}, nil
}

// Run starts processing and blocks until ctx is canceled, then shuts down.
func (s *Server) Run(ctx context.Context, mux *asynq.ServeMux) error {
	if err := s.server.Start(mux); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	<-ctx.Done()
	s.server.Shutdown()
	return nil
}
