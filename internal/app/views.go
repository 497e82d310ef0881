package app

import (
	"time"

	"huddle/api/internal/store"
)

type UserView struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Email string  `json:"email"`
	Image *string `json:"image"`
}

type WorkspaceView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	JoinCode  string `json:"joinCode"`
	UserID    string `json:"userId"`
	CreatedAt int64  `json:"createdAt"`
}

// WorkspaceInfo is what a signed-in non-member may learn about a workspace.
type WorkspaceInfo struct {
	Name     string `json:"name"`
	IsMember bool   `json:"isMember"`
}

type ChannelView struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	Name        string `json:"name"`
	CreatedAt   int64  `json:"createdAt"`
}

type MemberView struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	UserID      string    `json:"userId"`
	Role        string    `json:"role"`
	CreatedAt   int64     `json:"createdAt"`
	User        *UserView `json:"user,omitempty"`
}

// ReactionSummary groups every reaction with one value on a message.
type ReactionSummary struct {
	ID          string   `json:"id"`
	MessageID   string   `json:"messageId"`
	WorkspaceID string   `json:"workspaceId"`
	Value       string   `json:"value"`
	Count       int      `json:"count"`
	MemberIDs   []string `json:"memberIds"`
}

// ThreadSummary describes the replies under a root message.
type ThreadSummary struct {
	Count     int
	Timestamp int64
	Name      string
	Image     *string
}

type MessageView struct {
	ID              string            `json:"id"`
	Body            string            `json:"body"`
	Image           *string           `json:"image"`
	MemberID        string            `json:"memberId"`
	WorkspaceID     string            `json:"workspaceId"`
	ChannelID       *string           `json:"channelId"`
	ConversationID  *string           `json:"conversationId"`
	ParentMessageID *string           `json:"parentMessageId"`
	CreatedAt       int64             `json:"createdAt"`
	UpdatedAt       *int64            `json:"updatedAt"`
	Member          MemberView        `json:"member"`
	User            UserView          `json:"user"`
	Reactions       []ReactionSummary `json:"reactions"`
}

// ListedMessage is a message as it appears in a paginated list.
type ListedMessage struct {
	MessageView
	ThreadCount     int     `json:"threadCount"`
	ThreadImage     *string `json:"threadImage"`
	ThreadName      string  `json:"threadName"`
	ThreadTimestamp int64   `json:"threadTimestamp"`
}

type MessagePage struct {
	Page           []ListedMessage `json:"page"`
	IsDone         bool            `json:"isDone"`
	ContinueCursor string          `json:"continueCursor"`
}

type SearchHit struct {
	ID              string  `json:"id"`
	WorkspaceID     string  `json:"workspaceId"`
	MemberID        string  `json:"memberId"`
	ChannelID       *string `json:"channelId"`
	ConversationID  *string `json:"conversationId"`
	ParentMessageID *string `json:"parentMessageId"`
	Body            string  `json:"body"`
	Snippet         string  `json:"snippet"`
	CreatedAt       int64   `json:"createdAt"`
}

type UploadTarget struct {
	UploadURL string `json:"uploadUrl"`
	StorageID string `json:"storageId"`
	ExpiresAt int64  `json:"expiresAt"`
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func userView(user store.User) UserView {
	return UserView{ID: user.ID, Name: user.Name, Email: user.Email, Image: user.Image}
}

func workspaceView(ws store.Workspace) WorkspaceView {
	return WorkspaceView{
		ID:        ws.ID,
		Name:      ws.Name,
		JoinCode:  ws.JoinCode,
		UserID:    ws.OwnerUserID,
		CreatedAt: millis(ws.CreatedAt),
	}
}

func channelView(ch store.Channel) ChannelView {
	return ChannelView{ID: ch.ID, WorkspaceID: ch.WorkspaceID, Name: ch.Name, CreatedAt: millis(ch.CreatedAt)}
}

func memberView(m store.Member) MemberView {
	return MemberView{
		ID:          m.ID,
		WorkspaceID: m.WorkspaceID,
		UserID:      m.UserID,
		Role:        m.Role,
		CreatedAt:   millis(m.CreatedAt),
	}
}

func memberWithUserView(m store.Member, u store.User) MemberView {
	view := memberView(m)
	user := userView(u)
	view.User = &user
	return view
}

// aggregateReactions groups reactions by value in the order each value
// first appears. A group carries the ids of its first record.
func aggregateReactions(records []store.Reaction) []ReactionSummary {
	out := make([]ReactionSummary, 0)
	index := make(map[string]int)
	seen := make(map[string]map[string]struct{})
	for _, record := range records {
		i, ok := index[record.Value]
		if !ok {
			i = len(out)
			index[record.Value] = i
			seen[record.Value] = make(map[string]struct{})
			out = append(out, ReactionSummary{
				ID:          record.ID,
				MessageID:   record.MessageID,
				WorkspaceID: record.WorkspaceID,
				Value:       record.Value,
				MemberIDs:   make([]string, 0, 1),
			})
		}
		out[i].Count++
		if _, dup := seen[record.Value][record.MemberID]; !dup {
			seen[record.Value][record.MemberID] = struct{}{}
			out[i].MemberIDs = append(out[i].MemberIDs, record.MemberID)
		}
	}
	return out
}

// summarizeThread builds the thread summary of a root message. The summary
// is empty when there are no replies or the last reply's author is gone.
func summarizeThread(stats store.ThreadStats, author *store.User) ThreadSummary {
	if stats.Count == 0 || stats.LastReply == nil || author == nil {
		return ThreadSummary{}
	}
	return ThreadSummary{
		Count:     stats.Count,
		Timestamp: millis(stats.LastReply.CreatedAt),
		Name:      author.Name,
		Image:     author.Image,
	}
}
