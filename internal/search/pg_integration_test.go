package search

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huddle/api/db"
	"huddle/api/internal/store"
)

// openSearchDB returns a freshly migrated database with two workspaces, or
// skips the test when HUDDLE_TEST_DATABASE_URL is not set.
func openSearchDB(t *testing.T) (*sql.DB, context.Context) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("HUDDLE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("HUDDLE_TEST_DATABASE_URL is not set")
	}

	conn, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	_, err = conn.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	require.NoError(t, err)
	require.NoError(t, store.ApplyMigrations(ctx, conn, db.Migrations()))

	_, err = conn.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash) VALUES ('usr_1', 'Ada', 'ada@example.com', 'x');
		INSERT INTO workspaces (id, name, join_code, owner_user_id) VALUES
			('ws_1', 'Acme', 'abc123', 'usr_1'),
			('ws_2', 'Other', 'def456', 'usr_1');
		INSERT INTO channels (id, workspace_id, name) VALUES ('chn_1', 'ws_1', 'general');
	`)
	require.NoError(t, err)
	return conn, ctx
}

func insertRecord(t *testing.T, ctx context.Context, conn *sql.DB, id, workspaceID, text string, createdAt time.Time) {
	t.Helper()
	var channelID any
	if workspaceID == "ws_1" {
		channelID = "chn_1"
	}
	_, err := conn.ExecContext(ctx, `
		INSERT INTO messages (id, workspace_id, member_id, body, body_text, channel_id, created_at)
		VALUES ($1, $2, 'mem_1', '{"ops":[]}', $3, $4, $5)
	`, id, workspaceID, text, channelID, createdAt)
	require.NoError(t, err)
}

func TestPgSearchCapsAndOrdersMatches(t *testing.T) {
	conn, ctx := openSearchDB(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cases := []string{"hello", "HELLO", "HeLLo", "say hello!", "Othello"}
	for i := 0; i < 15; i++ {
		insertRecord(t, ctx, conn, fmt.Sprintf("msg_%02d", i), "ws_1", fmt.Sprintf("%s %d", cases[i%len(cases)], i), base.Add(time.Duration(i)*time.Second))
	}
	insertRecord(t, ctx, conn, "msg_quiet", "ws_1", "nothing to see", base.Add(-time.Hour))
	insertRecord(t, ctx, conn, "msg_other", "ws_2", "hello from elsewhere", base.Add(-time.Hour))

	hits, err := NewPg(conn).Search(ctx, Query{WorkspaceID: "ws_1", Text: "hElLo"})
	require.NoError(t, err)
	require.Len(t, hits, DefaultLimit)
	for i, hit := range hits {
		assert.Equal(t, fmt.Sprintf("msg_%02d", i), hit.ID)
		assert.Equal(t, "ws_1", hit.WorkspaceID)
		assert.Equal(t, "chn_1", hit.ChannelID)
		assert.Empty(t, hit.ConversationID)
		assert.Empty(t, hit.ParentMessageID)
		assert.Equal(t, base.Add(time.Duration(i)*time.Second).UnixMilli(), hit.CreatedAt)
	}
}

func TestPgSearchTreatsWildcardsLiterally(t *testing.T) {
	conn, ctx := openSearchDB(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := map[string]string{
		"msg_pct":     "shipped 100% done",
		"msg_nopct":   "shipped 100 done",
		"msg_under":   "rename snake_case fields",
		"msg_nounder": "rename snakeXcase fields",
		"msg_slash":   `path C:\temp`,
	}
	i := 0
	for id, text := range rows {
		insertRecord(t, ctx, conn, id, "ws_2", text, base.Add(time.Duration(i)*time.Second))
		i++
	}
	pg := NewPg(conn)

	for query, want := range map[string]string{
		"100%":    "msg_pct",
		"e_c":     "msg_under",
		`C:\TEMP`: "msg_slash",
	} {
		hits, err := pg.Search(ctx, Query{WorkspaceID: "ws_2", Text: query})
		require.NoError(t, err, query)
		require.Len(t, hits, 1, query)
		assert.Equal(t, want, hits[0].ID, query)
	}

	hits, err := pg.Search(ctx, Query{WorkspaceID: "ws_2", Text: "%"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "msg_pct", hits[0].ID)
}
