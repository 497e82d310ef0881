package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrConflict is returned when an insert violates a uniqueness constraint.
var ErrConflict = errors.New("conflict")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO users (id, name, email, image, password_hash)
		VALUES ($1, $2, LOWER($3), $4, $5)
	`, user.ID, user.Name, user.Email, user.Image, user.PasswordHash)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert user: %w", ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, name, email, image, password_hash, created_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.Name, &user.Email, &user.Image, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, name, email, image, password_hash, created_at
		FROM users
		WHERE email=LOWER($1)
	`, strings.TrimSpace(email)).Scan(&user.ID, &user.Name, &user.Email, &user.Image, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// LookupRefreshSession returns the user id owning a live refresh session.
func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT user_id
		FROM refresh_sessions
		WHERE token_hash = $1
			AND revoked_at IS NULL
			AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.conn(ctx).QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func (s *PostgresStore) InsertWorkspace(ctx context.Context, item Workspace) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO workspaces (id, name, join_code, owner_user_id)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.Name, item.JoinCode, item.OwnerUserID)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error) {
	var item Workspace
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, name, join_code, owner_user_id, created_at
		FROM workspaces
		WHERE id=$1
	`, workspaceID).Scan(&item.ID, &item.Name, &item.JoinCode, &item.OwnerUserID, &item.CreatedAt)
	if err != nil {
		return Workspace{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListWorkspacesForUser(ctx context.Context, userID string) ([]Workspace, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT w.id, w.name, w.join_code, w.owner_user_id, w.created_at
		FROM workspaces w
		JOIN members m ON m.workspace_id = w.id
		WHERE m.user_id=$1
		ORDER BY w.created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	items := make([]Workspace, 0)
	for rows.Next() {
		var item Workspace
		if err := rows.Scan(&item.ID, &item.Name, &item.JoinCode, &item.OwnerUserID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateWorkspaceName(ctx context.Context, workspaceID, name string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `UPDATE workspaces SET name=$2 WHERE id=$1`, workspaceID, name)
	if err != nil {
		return fmt.Errorf("update workspace name: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateWorkspaceJoinCode(ctx context.Context, workspaceID, joinCode string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `UPDATE workspaces SET join_code=$2 WHERE id=$1`, workspaceID, joinCode)
	if err != nil {
		return fmt.Errorf("update workspace join code: %w", err)
	}
	return nil
}

// DeleteWorkspace removes a workspace and everything scoped to it. Call it
// inside RunInTx.
func (s *PostgresStore) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	for _, stmt := range []struct {
		label string
		query string
	}{
		{"reactions", `DELETE FROM reactions WHERE workspace_id=$1`},
		{"messages", `DELETE FROM messages WHERE workspace_id=$1`},
		{"conversations", `DELETE FROM conversations WHERE workspace_id=$1`},
		{"channels", `DELETE FROM channels WHERE workspace_id=$1`},
		{"members", `DELETE FROM members WHERE workspace_id=$1`},
		{"workspace", `DELETE FROM workspaces WHERE id=$1`},
	} {
		if _, err := s.conn(ctx).ExecContext(ctx, stmt.query, workspaceID); err != nil {
			return fmt.Errorf("delete workspace %s: %w", stmt.label, err)
		}
	}
	return nil
}

func (s *PostgresStore) InsertMember(ctx context.Context, item Member) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO members (id, workspace_id, user_id, role)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.WorkspaceID, item.UserID, item.Role)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert member: %w", ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMember(ctx context.Context, memberID string) (Member, error) {
	var item Member
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, workspace_id, user_id, role, created_at
		FROM members
		WHERE id=$1
	`, memberID).Scan(&item.ID, &item.WorkspaceID, &item.UserID, &item.Role, &item.CreatedAt)
	if err != nil {
		return Member{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetMemberByUser(ctx context.Context, workspaceID, userID string) (Member, error) {
	var item Member
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, workspace_id, user_id, role, created_at
		FROM members
		WHERE workspace_id=$1 AND user_id=$2
	`, workspaceID, userID).Scan(&item.ID, &item.WorkspaceID, &item.UserID, &item.Role, &item.CreatedAt)
	if err != nil {
		return Member{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, workspaceID string) ([]MemberWithUser, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT m.id, m.workspace_id, m.user_id, m.role, m.created_at,
			u.id, u.name, u.email, u.image, u.created_at
		FROM members m
		JOIN users u ON u.id = m.user_id
		WHERE m.workspace_id=$1
		ORDER BY m.created_at ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	items := make([]MemberWithUser, 0)
	for rows.Next() {
		var item MemberWithUser
		if err := rows.Scan(
			&item.ID, &item.WorkspaceID, &item.UserID, &item.Role, &item.Member.CreatedAt,
			&item.User.ID, &item.User.Name, &item.User.Email, &item.User.Image, &item.User.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateMemberRole(ctx context.Context, memberID, role string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `UPDATE members SET role=$2 WHERE id=$1`, memberID, role)
	if err != nil {
		return fmt.Errorf("update member role: %w", err)
	}
	return nil
}

// DeleteMember removes a member and its reactions. Messages are kept.
func (s *PostgresStore) DeleteMember(ctx context.Context, memberID string) error {
	if _, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM reactions WHERE member_id=$1`, memberID); err != nil {
		return fmt.Errorf("delete member reactions: %w", err)
	}
	if _, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM members WHERE id=$1`, memberID); err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertChannel(ctx context.Context, item Channel) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO channels (id, workspace_id, name)
		VALUES ($1, $2, $3)
	`, item.ID, item.WorkspaceID, item.Name)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetChannel(ctx context.Context, channelID string) (Channel, error) {
	var item Channel
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, workspace_id, name, created_at
		FROM channels
		WHERE id=$1
	`, channelID).Scan(&item.ID, &item.WorkspaceID, &item.Name, &item.CreatedAt)
	if err != nil {
		return Channel{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListChannels(ctx context.Context, workspaceID string) ([]Channel, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, workspace_id, name, created_at
		FROM channels
		WHERE workspace_id=$1
		ORDER BY created_at ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	items := make([]Channel, 0)
	for rows.Next() {
		var item Channel
		if err := rows.Scan(&item.ID, &item.WorkspaceID, &item.Name, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateChannelName(ctx context.Context, channelID, name string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `UPDATE channels SET name=$2 WHERE id=$1`, channelID, name)
	if err != nil {
		return fmt.Errorf("update channel name: %w", err)
	}
	return nil
}

// DeleteChannel removes a channel with its messages and their reactions.
func (s *PostgresStore) DeleteChannel(ctx context.Context, channelID string) error {
	if _, err := s.conn(ctx).ExecContext(ctx, `
		DELETE FROM reactions
		WHERE message_id IN (SELECT id FROM messages WHERE channel_id=$1)
	`, channelID); err != nil {
		return fmt.Errorf("delete channel reactions: %w", err)
	}
	if _, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM messages WHERE channel_id=$1`, channelID); err != nil {
		return fmt.Errorf("delete channel messages: %w", err)
	}
	if _, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM channels WHERE id=$1`, channelID); err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	return nil
}

// FindConversation returns the conversation between two members in either
// order.
func (s *PostgresStore) FindConversation(ctx context.Context, workspaceID, memberA, memberB string) (Conversation, error) {
	var item Conversation
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, workspace_id, member_one_id, member_two_id, created_at
		FROM conversations
		WHERE workspace_id=$1
			AND ((member_one_id=$2 AND member_two_id=$3) OR (member_one_id=$3 AND member_two_id=$2))
		ORDER BY created_at ASC
		LIMIT 1
	`, workspaceID, memberA, memberB).Scan(&item.ID, &item.WorkspaceID, &item.MemberOneID, &item.MemberTwoID, &item.CreatedAt)
	if err != nil {
		return Conversation{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	var item Conversation
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, workspace_id, member_one_id, member_two_id, created_at
		FROM conversations
		WHERE id=$1
	`, conversationID).Scan(&item.ID, &item.WorkspaceID, &item.MemberOneID, &item.MemberTwoID, &item.CreatedAt)
	if err != nil {
		return Conversation{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertConversation(ctx context.Context, item Conversation) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO conversations (id, workspace_id, member_one_id, member_two_id)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.WorkspaceID, item.MemberOneID, item.MemberTwoID)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert conversation: %w", ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
