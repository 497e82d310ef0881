// Package search finds messages in a workspace by case-insensitive
// substring match over their plain text.
package search

import "time"

const (
	// DefaultLimit caps the number of hits returned for one query.
	DefaultLimit = 10
)

// MessageRecord is the data indexed for one message.
type MessageRecord struct {
	ID              string `json:"id"`
	WorkspaceID     string `json:"workspaceId"`
	MemberID        string `json:"memberId"`
	ChannelID       string `json:"channelId,omitempty"`
	ConversationID  string `json:"conversationId,omitempty"`
	ParentMessageID string `json:"parentMessageId,omitempty"`
	Body            string `json:"body"`
	Text            string `json:"text"`
	CreatedAt       int64  `json:"createdAt"`
}

// Query describes a search request.
type Query struct {
	WorkspaceID string
	Text        string
	Limit       int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}

// Indexer can push messages into a search index.
type Indexer interface {
	Healthy() bool
	IndexMessage(rec MessageRecord) error
	IndexMessages(recs []MessageRecord) error
	DeleteMessage(id string) error
}

// UnixMillis converts a timestamp to the createdAt form stored in records.
func UnixMillis(t time.Time) int64 {
	return t.UnixMilli()
}
