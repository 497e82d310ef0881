package app

import (
	"context"
	"errors"

	"huddle/api/internal/store"
	"huddle/api/internal/util"
)

// CreateOrGetConversation returns the 1:1 conversation between the caller
// and another member of the workspace, creating it on first use.
func (s *Service) CreateOrGetConversation(ctx context.Context, userID, workspaceID, memberID string) (string, error) {
	current, err := s.requireMember(ctx, workspaceID, userID)
	if err != nil {
		return "", err
	}
	other, err := s.store.GetMember(ctx, memberID)
	if isNotFound(err) || (err == nil && other.WorkspaceID != workspaceID) {
		return "", errNotFound
	}
	if err != nil {
		return "", err
	}

	var id string
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		existing, err := s.store.FindConversation(ctx, workspaceID, current.ID, other.ID)
		if err == nil {
			id = existing.ID
			return nil
		}
		if !isNotFound(err) {
			return err
		}
		conversation := store.Conversation{
			ID:          util.NewID("conv"),
			WorkspaceID: workspaceID,
			MemberOneID: current.ID,
			MemberTwoID: other.ID,
		}
		if err := s.store.InsertConversation(ctx, conversation); err != nil {
			return err
		}
		id = conversation.ID
		return nil
	})
	if errors.Is(err, store.ErrConflict) {
		// A concurrent call created the pair first; the aborted
		// transaction cannot see it, so read it outside.
		existing, findErr := s.store.FindConversation(ctx, workspaceID, current.ID, other.ID)
		if findErr != nil {
			return "", findErr
		}
		return existing.ID, nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}
