package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const messageColumns = `id, workspace_id, member_id, body, body_text, image, channel_id, conversation_id, parent_message_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var item Message
	err := row.Scan(
		&item.ID,
		&item.WorkspaceID,
		&item.MemberID,
		&item.Body,
		&item.BodyText,
		&item.Image,
		&item.ChannelID,
		&item.ConversationID,
		&item.ParentMessageID,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertMessage(ctx context.Context, item Message) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO messages (id, workspace_id, member_id, body, body_text, image, channel_id, conversation_id, parent_message_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, item.WorkspaceID, item.MemberID, item.Body, item.BodyText, item.Image, item.ChannelID, item.ConversationID, item.ParentMessageID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	item, err := scanMessage(row)
	if err != nil {
		return Message{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpdateMessageBody(ctx context.Context, messageID, body, bodyText string, updatedAt time.Time) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE messages
		SET body=$2, body_text=$3, updated_at=$4
		WHERE id=$1
	`, messageID, body, bodyText, updatedAt)
	if err != nil {
		return fmt.Errorf("update message body: %w", err)
	}
	return nil
}

// DeleteMessage removes a message and its reactions. Replies are kept.
func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID string) error {
	if _, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM reactions WHERE message_id=$1`, messageID); err != nil {
		return fmt.Errorf("delete message reactions: %w", err)
	}
	if _, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM messages WHERE id=$1`, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// ListMessages returns up to limit messages matching filter, newest first,
// strictly after the cursor position when one is given.
func (s *PostgresStore) ListMessages(ctx context.Context, filter MessageFilter, after *Cursor, limit int) ([]Message, error) {
	var where []string
	var args []any
	match := func(column string, value *string) {
		if value == nil {
			where = append(where, column+" IS NULL")
			return
		}
		args = append(args, *value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	match("channel_id", filter.ChannelID)
	match("parent_message_id", filter.ParentMessageID)
	match("conversation_id", filter.ConversationID)

	if after != nil {
		args = append(args, after.CreatedAt, after.ID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s
		FROM messages
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d
	`, messageColumns, strings.Join(where, " AND "), len(args))

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0, limit)
	for rows.Next() {
		item, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetThreadStats(ctx context.Context, messageID string) (ThreadStats, error) {
	var stats ThreadStats
	if err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*)::int FROM messages WHERE parent_message_id=$1
	`, messageID).Scan(&stats.Count); err != nil {
		return ThreadStats{}, fmt.Errorf("count replies: %w", err)
	}
	if stats.Count == 0 {
		return stats, nil
	}

	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE parent_message_id=$1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, messageID)
	last, err := scanMessage(row)
	if err != nil {
		return ThreadStats{}, fmt.Errorf("last reply: %w", err)
	}
	stats.LastReply = &last
	return stats, nil
}

func (s *PostgresStore) ListReactions(ctx context.Context, messageID string) ([]Reaction, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, workspace_id, message_id, member_id, value, created_at
		FROM reactions
		WHERE message_id=$1
		ORDER BY created_at ASC, id ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	items := make([]Reaction, 0)
	for rows.Next() {
		var item Reaction
		if err := rows.Scan(&item.ID, &item.WorkspaceID, &item.MessageID, &item.MemberID, &item.Value, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reactions: %w", err)
	}
	return items, nil
}

// ToggleReaction removes the member's reaction with the given value if it
// exists and inserts item otherwise. It reports whether a row was added.
func (s *PostgresStore) ToggleReaction(ctx context.Context, item Reaction) (bool, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `
		DELETE FROM reactions
		WHERE message_id=$1 AND member_id=$2 AND value=$3
	`, item.MessageID, item.MemberID, item.Value)
	if err != nil {
		return false, fmt.Errorf("delete reaction: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete reaction rows: %w", err)
	}
	if affected > 0 {
		return false, nil
	}
	if _, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO reactions (id, workspace_id, message_id, member_id, value)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id, member_id, value) DO NOTHING
	`, item.ID, item.WorkspaceID, item.MessageID, item.MemberID, item.Value); err != nil {
		return false, fmt.Errorf("insert reaction: %w", err)
	}
	return true, nil
}
