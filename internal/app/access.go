package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"unicode/utf8"

	"huddle/api/internal/rbac"
	"huddle/api/internal/store"
)

const (
	minNameLength = 3
	maxNameLength = 80
)

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func requireIdentity(userID string) error {
	if userID == "" {
		return errUnauthorized
	}
	return nil
}

// memberOf returns the caller's membership in a workspace. ok is false when
// the caller has none.
func (s *Service) memberOf(ctx context.Context, workspaceID, userID string) (store.Member, bool, error) {
	if userID == "" || workspaceID == "" {
		return store.Member{}, false, nil
	}
	member, err := s.store.GetMemberByUser(ctx, workspaceID, userID)
	if isNotFound(err) {
		return store.Member{}, false, nil
	}
	if err != nil {
		return store.Member{}, false, err
	}
	return member, true, nil
}

func (s *Service) requireMember(ctx context.Context, workspaceID, userID string) (store.Member, error) {
	if err := requireIdentity(userID); err != nil {
		return store.Member{}, err
	}
	member, ok, err := s.memberOf(ctx, workspaceID, userID)
	if err != nil {
		return store.Member{}, err
	}
	if !ok {
		return store.Member{}, errForbidden
	}
	return member, nil
}

func (s *Service) requireRole(ctx context.Context, workspaceID, userID string, action rbac.Action) (store.Member, error) {
	member, err := s.requireMember(ctx, workspaceID, userID)
	if err != nil {
		return store.Member{}, err
	}
	if !rbac.Can(rbac.Normalize(member.Role), action) {
		return store.Member{}, errForbidden
	}
	return member, nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func normalizeName(value string) (string, error) {
	name := strings.TrimSpace(value)
	n := utf8.RuneCountInString(name)
	if n < minNameLength || n > maxNameLength {
		return "", validationError("name must be between 3 and 80 characters", map[string]any{"field": "name"})
	}
	return name, nil
}

// normalizeChannelName lowercases a channel name and joins words with
// hyphens, so "Product Launch" becomes "product-launch".
func normalizeChannelName(value string) (string, error) {
	name, err := normalizeName(value)
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.Join(strings.Fields(name), "-")), nil
}

// optionalID turns an empty or blank id into nil.
func optionalID(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// nullableID maps the empty id used by the search index back to nil.
func nullableID(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func idValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
