package store

import "time"

type User struct {
	ID           string
	Name         string
	Email        string
	Image        *string
	PasswordHash string
	CreatedAt    time.Time
}

type Workspace struct {
	ID          string
	Name        string
	JoinCode    string
	OwnerUserID string
	CreatedAt   time.Time
}

type Member struct {
	ID          string
	WorkspaceID string
	UserID      string
	Role        string
	CreatedAt   time.Time
}

// MemberWithUser is a member joined with its user row.
type MemberWithUser struct {
	Member
	User User
}

type Channel struct {
	ID          string
	WorkspaceID string
	Name        string
	CreatedAt   time.Time
}

type Conversation struct {
	ID          string
	WorkspaceID string
	MemberOneID string
	MemberTwoID string
	CreatedAt   time.Time
}

type Message struct {
	ID              string
	WorkspaceID     string
	MemberID        string
	Body            string
	BodyText        string
	Image           *string
	ChannelID       *string
	ConversationID  *string
	ParentMessageID *string
	CreatedAt       time.Time
	UpdatedAt       *time.Time
}

type Reaction struct {
	ID          string
	WorkspaceID string
	MessageID   string
	MemberID    string
	Value       string
	CreatedAt   time.Time
}

// MessageFilter selects the rows of one message list. A nil field matches
// only rows where that column is NULL.
type MessageFilter struct {
	ChannelID       *string
	ConversationID  *string
	ParentMessageID *string
}

// ThreadStats describes the replies of one root message.
type ThreadStats struct {
	Count     int
	LastReply *Message
}
