package app

import (
	"context"

	"huddle/api/internal/rbac"
	"huddle/api/internal/realtime"
	"huddle/api/internal/store"
)

// ListMembers returns members joined with their users. A non-member gets
// an empty list.
func (s *Service) ListMembers(ctx context.Context, userID, workspaceID string) ([]MemberView, error) {
	items := make([]MemberView, 0)
	_, ok, err := s.memberOf(ctx, workspaceID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return items, nil
	}
	members, err := s.store.ListMembers(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		items = append(items, memberWithUserView(m.Member, m.User))
	}
	return items, nil
}

func (s *Service) CurrentMember(ctx context.Context, userID, workspaceID string) (*MemberView, error) {
	member, ok, err := s.memberOf(ctx, workspaceID, userID)
	if err != nil || !ok {
		return nil, err
	}
	view := memberView(member)
	return &view, nil
}

func (s *Service) GetMemberByID(ctx context.Context, userID, memberID string) (*MemberView, error) {
	if userID == "" {
		return nil, nil
	}
	member, err := s.store.GetMember(ctx, memberID)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if _, ok, err := s.memberOf(ctx, member.WorkspaceID, userID); err != nil || !ok {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, member.UserID)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	view := memberWithUserView(member, user)
	return &view, nil
}

func (s *Service) UpdateMember(ctx context.Context, userID, memberID, role string) (string, error) {
	target, err := s.targetMember(ctx, userID, memberID)
	if err != nil {
		return "", err
	}
	if _, err := s.requireRole(ctx, target.WorkspaceID, userID, rbac.ActionManageMembers); err != nil {
		return "", err
	}
	parsed, err := rbac.Parse(role)
	if err != nil {
		return "", validationError("role must be admin or member", map[string]any{"field": "role"})
	}
	if err := s.store.UpdateMemberRole(ctx, memberID, string(parsed)); err != nil {
		return "", err
	}
	s.publish(ctx, "member.updated", memberID, realtime.WorkspaceTopic(target.WorkspaceID))
	return memberID, nil
}

// RemoveMember lets an admin remove anyone and a member remove themself.
// Admin members are never removed.
func (s *Service) RemoveMember(ctx context.Context, userID, memberID string) (string, error) {
	target, err := s.targetMember(ctx, userID, memberID)
	if err != nil {
		return "", err
	}
	caller, err := s.requireMember(ctx, target.WorkspaceID, userID)
	if err != nil {
		return "", err
	}
	if caller.ID != target.ID && !s.Can(caller.Role, rbac.ActionManageMembers) {
		return "", errForbidden
	}
	if rbac.Normalize(target.Role) == rbac.RoleAdmin {
		return "", errRemoveAdmin
	}
	if err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		return s.store.DeleteMember(ctx, memberID)
	}); err != nil {
		return "", err
	}
	s.publish(ctx, "member.removed", memberID, realtime.WorkspaceTopic(target.WorkspaceID))
	s.revokeTopics(ctx, target.WorkspaceID, target.UserID, "member.removed")
	return memberID, nil
}

func (s *Service) targetMember(ctx context.Context, userID, memberID string) (store.Member, error) {
	if err := requireIdentity(userID); err != nil {
		return store.Member{}, err
	}
	member, err := s.store.GetMember(ctx, memberID)
	if isNotFound(err) {
		return store.Member{}, errNotFound
	}
	if err != nil {
		return store.Member{}, err
	}
	return member, nil
}
