package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Pg answers searches with a LIKE over lower(body_text), served by the
// trigram index on that expression.
type Pg struct {
	db *sql.DB
}

func NewPg(db *sql.DB) *Pg {
	return &Pg{db: db}
}

const recordColumns = `id, workspace_id, member_id, COALESCE(channel_id, ''), COALESCE(conversation_id, ''),
	COALESCE(parent_message_id, ''), body, body_text, created_at`

func scanRecord(rows *sql.Rows) (MessageRecord, error) {
	var rec MessageRecord
	var createdAt time.Time
	if err := rows.Scan(&rec.ID, &rec.WorkspaceID, &rec.MemberID, &rec.ChannelID, &rec.ConversationID,
		&rec.ParentMessageID, &rec.Body, &rec.Text, &createdAt); err != nil {
		return MessageRecord{}, err
	}
	rec.CreatedAt = UnixMillis(createdAt)
	return rec, nil
}

// escapeLike quotes the LIKE wildcards in a user query.
func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

func (p *Pg) Search(ctx context.Context, q Query) ([]MessageRecord, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return []MessageRecord{}, nil
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM messages
		WHERE workspace_id = $1
			AND lower(body_text) LIKE '%' || lower($2) || '%' ESCAPE '\'
		ORDER BY created_at ASC, id ASC
		LIMIT $3
	`, q.WorkspaceID, escapeLike(text), q.limit())
	if err != nil {
		return nil, fmt.Errorf("pg search: %w", err)
	}
	return collect(rows)
}

// LoadAll streams every message to fn in batches for full reindexing.
func (p *Pg) LoadAll(ctx context.Context, batchSize int, fn func([]MessageRecord) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM messages ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	batch := make([]MessageRecord, 0, batchSize)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return fmt.Errorf("scan message: %w", err)
		}
		batch = append(batch, rec)
		if len(batch) == batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]MessageRecord, 0, batchSize)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate messages: %w", err)
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

func collect(rows *sql.Rows) ([]MessageRecord, error) {
	defer rows.Close()
	recs := make([]MessageRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("pg search scan: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg search iterate: %w", err)
	}
	return recs, nil
}
