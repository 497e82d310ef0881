package app

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"huddle/api/internal/email"
	"huddle/api/internal/rbac"
	"huddle/api/internal/realtime"
	"huddle/api/internal/store"
	"huddle/api/internal/util"
)

const (
	defaultChannelName = "general"
	maxInviteEmails    = 20
)

func (s *Service) CreateWorkspace(ctx context.Context, userID, name string) (string, error) {
	if err := requireIdentity(userID); err != nil {
		return "", err
	}
	name, err := normalizeName(name)
	if err != nil {
		return "", err
	}

	workspace := store.Workspace{
		ID:          util.NewID("ws"),
		Name:        name,
		JoinCode:    util.NewJoinCode(),
		OwnerUserID: userID,
	}
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.InsertWorkspace(ctx, workspace); err != nil {
			return err
		}
		if err := s.store.InsertMember(ctx, store.Member{
			ID:          util.NewID("mem"),
			WorkspaceID: workspace.ID,
			UserID:      userID,
			Role:        string(rbac.RoleAdmin),
		}); err != nil {
			return err
		}
		return s.store.InsertChannel(ctx, store.Channel{
			ID:          util.NewID("ch"),
			WorkspaceID: workspace.ID,
			Name:        defaultChannelName,
		})
	})
	if err != nil {
		return "", err
	}
	return workspace.ID, nil
}

// ListWorkspaces returns the workspaces the caller belongs to.
func (s *Service) ListWorkspaces(ctx context.Context, userID string) ([]WorkspaceView, error) {
	items := make([]WorkspaceView, 0)
	if userID == "" {
		return items, nil
	}
	workspaces, err := s.store.ListWorkspacesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, ws := range workspaces {
		items = append(items, workspaceView(ws))
	}
	return items, nil
}

func (s *Service) GetWorkspace(ctx context.Context, userID, workspaceID string) (*WorkspaceView, error) {
	_, ok, err := s.memberOf(ctx, workspaceID, userID)
	if err != nil || !ok {
		return nil, err
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	view := workspaceView(ws)
	return &view, nil
}

func (s *Service) GetWorkspaceInfo(ctx context.Context, userID, workspaceID string) (*WorkspaceInfo, error) {
	if userID == "" {
		return nil, nil
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	_, isMember, err := s.memberOf(ctx, workspaceID, userID)
	if err != nil {
		return nil, err
	}
	return &WorkspaceInfo{Name: ws.Name, IsMember: isMember}, nil
}

func (s *Service) UpdateWorkspace(ctx context.Context, userID, workspaceID, name string) (string, error) {
	if _, err := s.requireRole(ctx, workspaceID, userID, rbac.ActionManageWorkspace); err != nil {
		return "", err
	}
	name, err := normalizeName(name)
	if err != nil {
		return "", err
	}
	if err := s.store.UpdateWorkspaceName(ctx, workspaceID, name); err != nil {
		return "", err
	}
	s.publish(ctx, "workspace.updated", workspaceID, realtime.WorkspaceTopic(workspaceID))
	return workspaceID, nil
}

func (s *Service) RemoveWorkspace(ctx context.Context, userID, workspaceID string) (string, error) {
	if _, err := s.requireRole(ctx, workspaceID, userID, rbac.ActionManageWorkspace); err != nil {
		return "", err
	}
	if err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		return s.store.DeleteWorkspace(ctx, workspaceID)
	}); err != nil {
		return "", err
	}
	s.publish(ctx, "workspace.removed", workspaceID, realtime.WorkspaceTopic(workspaceID))
	return workspaceID, nil
}

// NewJoinCode replaces the workspace join code and returns the new one.
func (s *Service) NewJoinCode(ctx context.Context, userID, workspaceID string) (string, error) {
	if _, err := s.requireRole(ctx, workspaceID, userID, rbac.ActionManageWorkspace); err != nil {
		return "", err
	}
	code := util.NewJoinCode()
	if err := s.store.UpdateWorkspaceJoinCode(ctx, workspaceID, code); err != nil {
		return "", err
	}
	s.publish(ctx, "workspace.updated", workspaceID, realtime.WorkspaceTopic(workspaceID))
	return code, nil
}

func (s *Service) JoinWorkspace(ctx context.Context, userID, workspaceID, joinCode string) (string, error) {
	if err := requireIdentity(userID); err != nil {
		return "", err
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if isNotFound(err) {
		return "", errNotFound
	}
	if err != nil {
		return "", err
	}
	if strings.ToLower(strings.TrimSpace(joinCode)) != ws.JoinCode {
		return "", errInvalidJoin
	}
	if _, ok, err := s.memberOf(ctx, workspaceID, userID); err != nil {
		return "", err
	} else if ok {
		return "", errAlreadyMember
	}

	err = s.store.InsertMember(ctx, store.Member{
		ID:          util.NewID("mem"),
		WorkspaceID: workspaceID,
		UserID:      userID,
		Role:        string(rbac.RoleMember),
	})
	if errors.Is(err, store.ErrConflict) {
		return "", errAlreadyMember
	}
	if err != nil {
		return "", err
	}
	s.publish(ctx, "member.joined", workspaceID, realtime.WorkspaceTopic(workspaceID))
	return workspaceID, nil
}

// InviteToWorkspace emails the join code to each address.
func (s *Service) InviteToWorkspace(ctx context.Context, userID, workspaceID string, emails []string) error {
	if _, err := s.requireRole(ctx, workspaceID, userID, rbac.ActionManageMembers); err != nil {
		return err
	}
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return email.ErrNotConfigured
	}
	if len(emails) == 0 || len(emails) > maxInviteEmails {
		return validationError(fmt.Sprintf("between 1 and %d emails are required", maxInviteEmails), map[string]any{"field": "emails"})
	}
	recipients := make([]string, 0, len(emails))
	for _, value := range emails {
		addr, err := mail.ParseAddress(strings.TrimSpace(value))
		if err != nil {
			return validationError("invalid email address", map[string]any{"field": "emails", "value": value})
		}
		recipients = append(recipients, addr.Address)
	}

	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	inviter, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	return s.mailer.SendWorkspaceInvite(recipients, email.InviteData{
		WorkspaceName: ws.Name,
		InviterName:   inviter.Name,
		JoinCode:      ws.JoinCode,
		JoinURL:       strings.TrimRight(s.cfg.AppURL, "/") + "/join/" + ws.ID,
	})
}
