// Package realtime pushes invalidation events to websocket clients
// subscribed to workspace, channel, conversation and thread topics.
package realtime

import (
	"context"
	"strings"
)

const (
	TypeInvalidate   = "invalidate"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeError        = "error"

	// TypeRevoke is hub-to-hub only. It drops the subscriptions a user
	// holds in a workspace and never reaches a client.
	TypeRevoke = "revoke"

	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
)

// Event tells subscribers of Topic that data they fetched is stale.
type Event struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Reason string `json:"reason,omitempty"`
	ID     string `json:"id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Frame is a client to server message.
type Frame struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

// Publisher fans an event out to every subscriber of its topic.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Kind names the entity a topic refers to.
type Kind string

const (
	KindWorkspace    Kind = "workspace"
	KindChannel      Kind = "channel"
	KindConversation Kind = "conversation"
	KindThread       Kind = "thread"
)

func WorkspaceTopic(id string) string    { return string(KindWorkspace) + ":" + id }
func ChannelTopic(id string) string      { return string(KindChannel) + ":" + id }
func ConversationTopic(id string) string { return string(KindConversation) + ":" + id }
func ThreadTopic(messageID string) string {
	return string(KindThread) + ":" + messageID
}

// ParseTopic splits a topic into its kind and id.
func ParseTopic(topic string) (Kind, string, bool) {
	kind, id, ok := strings.Cut(topic, ":")
	if !ok || id == "" {
		return "", "", false
	}
	switch Kind(kind) {
	case KindWorkspace, KindChannel, KindConversation, KindThread:
		return Kind(kind), id, true
	default:
		return "", "", false
	}
}

// Invalidate builds an invalidate event.
func Invalidate(topic, reason, id string) Event {
	return Event{Type: TypeInvalidate, Topic: topic, Reason: reason, ID: id}
}

// Revoke builds the event that cancels userID's subscriptions inside a
// workspace, for example after the member was removed.
func Revoke(workspaceID, userID, reason string) Event {
	return Event{Type: TypeRevoke, Topic: WorkspaceTopic(workspaceID), Reason: reason, ID: userID}
}
