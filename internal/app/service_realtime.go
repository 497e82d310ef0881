package app

import (
	"context"

	"huddle/api/internal/realtime"
)

var errInvalidTopic = validationError("unknown topic", nil)

// AuthorizeTopic checks that the caller may follow topic and returns the
// workspace that owns it.
func (s *Service) AuthorizeTopic(ctx context.Context, userID, topic string) (string, error) {
	if err := requireIdentity(userID); err != nil {
		return "", err
	}
	kind, id, ok := realtime.ParseTopic(topic)
	if !ok {
		return "", errInvalidTopic
	}

	var workspaceID string
	switch kind {
	case realtime.KindWorkspace:
		workspaceID = id
	case realtime.KindChannel:
		channel, err := s.store.GetChannel(ctx, id)
		if isNotFound(err) {
			return "", errNotFound
		}
		if err != nil {
			return "", err
		}
		workspaceID = channel.WorkspaceID
	case realtime.KindConversation:
		conversation, err := s.store.GetConversation(ctx, id)
		if isNotFound(err) {
			return "", errNotFound
		}
		if err != nil {
			return "", err
		}
		workspaceID = conversation.WorkspaceID
	case realtime.KindThread:
		msg, err := s.store.GetMessage(ctx, id)
		if isNotFound(err) {
			return "", errNotFound
		}
		if err != nil {
			return "", err
		}
		workspaceID = msg.WorkspaceID
	default:
		return "", errInvalidTopic
	}

	if _, err := s.requireMember(ctx, workspaceID, userID); err != nil {
		return "", err
	}
	return workspaceID, nil
}
