package app

import (
	"context"

	"huddle/api/internal/rbac"
	"huddle/api/internal/realtime"
	"huddle/api/internal/store"
	"huddle/api/internal/util"
)

func (s *Service) CreateChannel(ctx context.Context, userID, workspaceID, name string) (string, error) {
	if _, err := s.requireRole(ctx, workspaceID, userID, rbac.ActionManageChannels); err != nil {
		return "", err
	}
	name, err := normalizeChannelName(name)
	if err != nil {
		return "", err
	}
	channel := store.Channel{ID: util.NewID("ch"), WorkspaceID: workspaceID, Name: name}
	if err := s.store.InsertChannel(ctx, channel); err != nil {
		return "", err
	}
	s.publish(ctx, "channel.created", channel.ID, realtime.WorkspaceTopic(workspaceID))
	return channel.ID, nil
}

// ListChannels returns the workspace channels, or none for a non-member.
func (s *Service) ListChannels(ctx context.Context, userID, workspaceID string) ([]ChannelView, error) {
	items := make([]ChannelView, 0)
	_, ok, err := s.memberOf(ctx, workspaceID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return items, nil
	}
	channels, err := s.store.ListChannels(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	for _, ch := range channels {
		items = append(items, channelView(ch))
	}
	return items, nil
}

func (s *Service) GetChannel(ctx context.Context, userID, channelID string) (*ChannelView, error) {
	if userID == "" {
		return nil, nil
	}
	channel, err := s.store.GetChannel(ctx, channelID)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	_, ok, err := s.memberOf(ctx, channel.WorkspaceID, userID)
	if err != nil || !ok {
		return nil, err
	}
	view := channelView(channel)
	return &view, nil
}

func (s *Service) UpdateChannel(ctx context.Context, userID, channelID, name string) (string, error) {
	channel, err := s.channelForAdmin(ctx, userID, channelID)
	if err != nil {
		return "", err
	}
	name, err = normalizeChannelName(name)
	if err != nil {
		return "", err
	}
	if err := s.store.UpdateChannelName(ctx, channelID, name); err != nil {
		return "", err
	}
	s.publish(ctx, "channel.updated", channelID,
		realtime.WorkspaceTopic(channel.WorkspaceID), realtime.ChannelTopic(channelID))
	return channelID, nil
}

// RemoveChannel deletes a channel with its messages and their reactions.
func (s *Service) RemoveChannel(ctx context.Context, userID, channelID string) (string, error) {
	channel, err := s.channelForAdmin(ctx, userID, channelID)
	if err != nil {
		return "", err
	}
	if err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		return s.store.DeleteChannel(ctx, channelID)
	}); err != nil {
		return "", err
	}
	s.publish(ctx, "channel.removed", channelID,
		realtime.WorkspaceTopic(channel.WorkspaceID), realtime.ChannelTopic(channelID))
	return channelID, nil
}

func (s *Service) channelForAdmin(ctx context.Context, userID, channelID string) (store.Channel, error) {
	if err := requireIdentity(userID); err != nil {
		return store.Channel{}, err
	}
	channel, err := s.store.GetChannel(ctx, channelID)
	if isNotFound(err) {
		return store.Channel{}, errNotFound
	}
	if err != nil {
		return store.Channel{}, err
	}
	if _, err := s.requireRole(ctx, channel.WorkspaceID, userID, rbac.ActionManageChannels); err != nil {
		return store.Channel{}, err
	}
	return channel, nil
}
