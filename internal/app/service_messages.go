package app

import (
	"context"
	"strings"
	"time"

	"huddle/api/internal/blob"
	"huddle/api/internal/realtime"
	"huddle/api/internal/richtext"
	"huddle/api/internal/search"
	"huddle/api/internal/store"
	"huddle/api/internal/util"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// searchSnippetLength caps the plain-text preview of a search hit.
	searchSnippetLength = 160
)

type CreateMessageInput struct {
	Body            string  `json:"body"`
	Image           *string `json:"image"`
	WorkspaceID     string  `json:"workspaceId"`
	ChannelID       *string `json:"channelId"`
	ConversationID  *string `json:"conversationId"`
	ParentMessageID *string `json:"parentMessageId"`
}

type ListMessagesInput struct {
	ChannelID       *string
	ConversationID  *string
	ParentMessageID *string
	Cursor          string
	NumItems        int
}

func (s *Service) CreateMessage(ctx context.Context, userID string, in CreateMessageInput) (string, error) {
	member, err := s.requireMember(ctx, in.WorkspaceID, userID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Body) == "" {
		return "", validationError("body is required", map[string]any{"field": "body"})
	}

	channelID := optionalID(in.ChannelID)
	conversationID := optionalID(in.ConversationID)
	parentID := optionalID(in.ParentMessageID)

	if parentID != nil {
		parent, err := s.store.GetMessage(ctx, *parentID)
		if isNotFound(err) || (err == nil && parent.WorkspaceID != in.WorkspaceID) {
			return "", errParentNotFound
		}
		if err != nil {
			return "", err
		}
		// A reply in a 1:1 conversation only names its parent.
		if channelID == nil && conversationID == nil {
			conversationID = parent.ConversationID
		}
	}
	if err := s.checkContext(ctx, in.WorkspaceID, channelID, conversationID); err != nil {
		return "", err
	}

	image := optionalID(in.Image)
	if image != nil {
		if err := s.checkImage(ctx, *image); err != nil {
			return "", err
		}
	}

	msg := store.Message{
		ID:              util.NewID("msg"),
		WorkspaceID:     in.WorkspaceID,
		MemberID:        member.ID,
		Body:            in.Body,
		BodyText:        richtext.PlainText(in.Body),
		Image:           image,
		ChannelID:       channelID,
		ConversationID:  conversationID,
		ParentMessageID: parentID,
	}
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.InsertMessage(ctx, msg); err != nil {
			return err
		}
		stored, err := s.store.GetMessage(ctx, msg.ID)
		if err != nil {
			return err
		}
		msg = stored
		return nil
	})
	if err != nil {
		return "", err
	}

	s.indexMessage(ctx, msg)
	s.publish(ctx, "message.created", msg.ID, messageTopics(msg)...)
	return msg.ID, nil
}

// checkContext verifies that an explicit channel or conversation belongs to
// the target workspace.
func (s *Service) checkContext(ctx context.Context, workspaceID string, channelID, conversationID *string) error {
	if channelID != nil {
		channel, err := s.store.GetChannel(ctx, *channelID)
		if isNotFound(err) || (err == nil && channel.WorkspaceID != workspaceID) {
			return errNotFound
		}
		if err != nil {
			return err
		}
	}
	if conversationID != nil {
		conversation, err := s.store.GetConversation(ctx, *conversationID)
		if isNotFound(err) || (err == nil && conversation.WorkspaceID != workspaceID) {
			return errNotFound
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) checkImage(ctx context.Context, storageID string) error {
	if s.blobs == nil {
		return blob.ErrNotConfigured
	}
	if err := blob.ValidateKey(storageID); err != nil {
		return validationError("invalid image reference", map[string]any{"field": "image"})
	}
	exists, err := s.blobs.Exists(ctx, storageID)
	if err != nil {
		return err
	}
	if !exists {
		return validationError("image upload not found", map[string]any{"field": "image"})
	}
	return nil
}

func (s *Service) UpdateMessage(ctx context.Context, userID, messageID, body string) (string, error) {
	msg, err := s.authoredMessage(ctx, userID, messageID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(body) == "" {
		return "", validationError("body is required", map[string]any{"field": "body"})
	}

	now := time.Now().UTC()
	bodyText := richtext.PlainText(body)
	if err := s.store.UpdateMessageBody(ctx, messageID, body, bodyText, now); err != nil {
		return "", err
	}
	msg.Body = body
	msg.BodyText = bodyText
	msg.UpdatedAt = &now

	s.indexMessage(ctx, msg)
	s.publish(ctx, "message.updated", msg.ID, messageTopics(msg)...)
	return messageID, nil
}

// RemoveMessage deletes a message and its reactions. Thread replies of a
// removed root message are kept.
func (s *Service) RemoveMessage(ctx context.Context, userID, messageID string) (string, error) {
	msg, err := s.authoredMessage(ctx, userID, messageID)
	if err != nil {
		return "", err
	}
	if err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		return s.store.DeleteMessage(ctx, messageID)
	}); err != nil {
		return "", err
	}

	if s.indexer != nil {
		s.indexer.DeleteMessage(ctx, messageID)
	}
	s.publish(ctx, "message.removed", msg.ID, messageTopics(msg)...)
	return messageID, nil
}

// authoredMessage loads a message the caller wrote. A caller who is not the
// author gets the same rejection as a caller without identity.
func (s *Service) authoredMessage(ctx context.Context, userID, messageID string) (store.Message, error) {
	if err := requireIdentity(userID); err != nil {
		return store.Message{}, err
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if isNotFound(err) {
		return store.Message{}, errNotFound
	}
	if err != nil {
		return store.Message{}, err
	}
	member, ok, err := s.memberOf(ctx, msg.WorkspaceID, userID)
	if err != nil {
		return store.Message{}, err
	}
	if !ok || member.ID != msg.MemberID {
		return store.Message{}, errUnauthorized
	}
	return msg, nil
}

func (s *Service) GetMessage(ctx context.Context, userID, messageID string) (*MessageView, error) {
	if userID == "" {
		return nil, nil
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if _, ok, err := s.memberOf(ctx, msg.WorkspaceID, userID); err != nil || !ok {
		return nil, err
	}

	authors := newAuthorCache(s.store)
	view, ok, err := s.messageView(ctx, authors, msg)
	if err != nil || !ok {
		return nil, err
	}
	return &view, nil
}

// ListMessages pages through one message list newest first. Rows whose
// author no longer resolves are dropped after the cursor is computed, so a
// page may hold fewer rows than requested.
func (s *Service) ListMessages(ctx context.Context, userID string, in ListMessagesInput) (MessagePage, error) {
	if err := requireIdentity(userID); err != nil {
		return MessagePage{}, err
	}

	filter := store.MessageFilter{
		ChannelID:       optionalID(in.ChannelID),
		ConversationID:  optionalID(in.ConversationID),
		ParentMessageID: optionalID(in.ParentMessageID),
	}
	var parent *store.Message
	if filter.ParentMessageID != nil {
		msg, err := s.store.GetMessage(ctx, *filter.ParentMessageID)
		if isNotFound(err) {
			if filter.ChannelID == nil && filter.ConversationID == nil {
				return MessagePage{}, errParentNotFound
			}
		} else if err != nil {
			return MessagePage{}, err
		} else {
			parent = &msg
		}
	}
	if filter.ChannelID == nil && filter.ConversationID == nil && parent != nil {
		filter.ConversationID = parent.ConversationID
	}

	empty := MessagePage{Page: make([]ListedMessage, 0), IsDone: true, ContinueCursor: in.Cursor}
	workspaceID, err := s.listWorkspace(ctx, filter, parent)
	if err != nil {
		return MessagePage{}, err
	}
	if _, ok, err := s.memberOf(ctx, workspaceID, userID); err != nil {
		return MessagePage{}, err
	} else if !ok {
		return empty, nil
	}

	var after *store.Cursor
	if in.Cursor != "" {
		cursor, err := store.DecodeCursor(in.Cursor)
		if err != nil {
			return MessagePage{}, err
		}
		after = &cursor
	}
	limit := pageSize(in.NumItems)

	rows, err := s.store.ListMessages(ctx, filter, after, limit+1)
	if err != nil {
		return MessagePage{}, err
	}
	page := MessagePage{Page: make([]ListedMessage, 0, len(rows)), IsDone: len(rows) <= limit, ContinueCursor: in.Cursor}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	if len(rows) > 0 {
		page.ContinueCursor = store.EncodeCursor(store.CursorFor(rows[len(rows)-1]))
	}

	authors := newAuthorCache(s.store)
	for _, msg := range rows {
		view, ok, err := s.messageView(ctx, authors, msg)
		if err != nil {
			return MessagePage{}, err
		}
		if !ok {
			continue
		}
		thread, err := s.threadSummary(ctx, authors, msg.ID)
		if err != nil {
			return MessagePage{}, err
		}
		page.Page = append(page.Page, ListedMessage{
			MessageView:     view,
			ThreadCount:     thread.Count,
			ThreadImage:     thread.Image,
			ThreadName:      thread.Name,
			ThreadTimestamp: thread.Timestamp,
		})
	}
	return page, nil
}

// listWorkspace finds the workspace owning a message list. An empty id
// means the list has no owner the caller could belong to.
func (s *Service) listWorkspace(ctx context.Context, filter store.MessageFilter, parent *store.Message) (string, error) {
	switch {
	case filter.ChannelID != nil:
		channel, err := s.store.GetChannel(ctx, *filter.ChannelID)
		if isNotFound(err) {
			return "", nil
		}
		return channel.WorkspaceID, err
	case filter.ConversationID != nil:
		conversation, err := s.store.GetConversation(ctx, *filter.ConversationID)
		if isNotFound(err) {
			return "", nil
		}
		return conversation.WorkspaceID, err
	case parent != nil:
		return parent.WorkspaceID, nil
	}
	return "", nil
}

func pageSize(numItems int) int {
	if numItems <= 0 {
		return defaultPageSize
	}
	if numItems > maxPageSize {
		return maxPageSize
	}
	return numItems
}

func (s *Service) messageView(ctx context.Context, authors *authorCache, msg store.Message) (MessageView, bool, error) {
	author, ok, err := authors.resolve(ctx, msg.MemberID)
	if err != nil || !ok {
		return MessageView{}, false, err
	}
	records, err := s.store.ListReactions(ctx, msg.ID)
	if err != nil {
		return MessageView{}, false, err
	}

	view := MessageView{
		ID:              msg.ID,
		Body:            msg.Body,
		Image:           s.imageURL(ctx, msg.Image),
		MemberID:        msg.MemberID,
		WorkspaceID:     msg.WorkspaceID,
		ChannelID:       msg.ChannelID,
		ConversationID:  msg.ConversationID,
		ParentMessageID: msg.ParentMessageID,
		CreatedAt:       millis(msg.CreatedAt),
		Member:          memberView(author.member),
		User:            userView(author.user),
		Reactions:       aggregateReactions(records),
	}
	if msg.UpdatedAt != nil {
		updated := millis(*msg.UpdatedAt)
		view.UpdatedAt = &updated
	}
	return view, true, nil
}

func (s *Service) threadSummary(ctx context.Context, authors *authorCache, messageID string) (ThreadSummary, error) {
	stats, err := s.store.GetThreadStats(ctx, messageID)
	if err != nil {
		return ThreadSummary{}, err
	}
	if stats.LastReply == nil {
		return summarizeThread(stats, nil), nil
	}
	author, ok, err := authors.resolve(ctx, stats.LastReply.MemberID)
	if err != nil {
		return ThreadSummary{}, err
	}
	if !ok {
		return summarizeThread(stats, nil), nil
	}
	return summarizeThread(stats, &author.user), nil
}

// SearchMessages finds messages in a workspace whose text contains query.
func (s *Service) SearchMessages(ctx context.Context, userID, workspaceID, query string) ([]SearchHit, error) {
	if _, err := s.requireMember(ctx, workspaceID, userID); err != nil {
		return nil, err
	}
	hits := make([]SearchHit, 0)
	if strings.TrimSpace(query) == "" || s.search == nil {
		return hits, nil
	}
	records, err := s.search.Search(ctx, search.Query{WorkspaceID: workspaceID, Text: query, Limit: search.DefaultLimit})
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		hits = append(hits, SearchHit{
			ID:              rec.ID,
			WorkspaceID:     rec.WorkspaceID,
			MemberID:        rec.MemberID,
			ChannelID:       nullableID(rec.ChannelID),
			ConversationID:  nullableID(rec.ConversationID),
			ParentMessageID: nullableID(rec.ParentMessageID),
			Body:            rec.Body,
			Snippet:         richtext.Snippet(rec.Text, searchSnippetLength),
			CreatedAt:       rec.CreatedAt,
		})
	}
	return hits, nil
}

// ToggleReaction adds the caller's reaction with value, or removes it when
// it already exists. It returns the message id.
func (s *Service) ToggleReaction(ctx context.Context, userID, messageID, value string) (string, error) {
	if err := requireIdentity(userID); err != nil {
		return "", err
	}
	value = strings.TrimSpace(value)
	if n := len([]rune(value)); n == 0 || n > 16 {
		return "", validationError("value must be between 1 and 16 characters", map[string]any{"field": "value"})
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if isNotFound(err) {
		return "", errNotFound
	}
	if err != nil {
		return "", err
	}
	member, err := s.requireMember(ctx, msg.WorkspaceID, userID)
	if err != nil {
		return "", err
	}

	var added bool
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		var txErr error
		added, txErr = s.store.ToggleReaction(ctx, store.Reaction{
			ID:          util.NewID("rct"),
			WorkspaceID: msg.WorkspaceID,
			MessageID:   msg.ID,
			MemberID:    member.ID,
			Value:       value,
		})
		return txErr
	})
	if err != nil {
		return "", err
	}

	reason := "reaction.removed"
	if added {
		reason = "reaction.added"
	}
	s.publish(ctx, reason, msg.ID, messageTopics(msg)...)
	return msg.ID, nil
}

func (s *Service) indexMessage(ctx context.Context, msg store.Message) {
	if s.indexer == nil {
		return
	}
	s.indexer.IndexMessage(ctx, messageRecord(msg))
}

func messageRecord(msg store.Message) search.MessageRecord {
	return search.MessageRecord{
		ID:              msg.ID,
		WorkspaceID:     msg.WorkspaceID,
		MemberID:        msg.MemberID,
		ChannelID:       idValue(msg.ChannelID),
		ConversationID:  idValue(msg.ConversationID),
		ParentMessageID: idValue(msg.ParentMessageID),
		Body:            msg.Body,
		Text:            msg.BodyText,
		CreatedAt:       search.UnixMillis(msg.CreatedAt),
	}
}

// messageTopics lists the topics whose lists contain msg.
func messageTopics(msg store.Message) []string {
	var topics []string
	if msg.ParentMessageID != nil {
		topics = append(topics, realtime.ThreadTopic(*msg.ParentMessageID))
	}
	if msg.ChannelID != nil {
		topics = append(topics, realtime.ChannelTopic(*msg.ChannelID))
	}
	if msg.ConversationID != nil {
		topics = append(topics, realtime.ConversationTopic(*msg.ConversationID))
	}
	return topics
}

type author struct {
	member store.Member
	user   store.User
}

// authorCache resolves message authors once per request.
type authorCache struct {
	store   dataStore
	authors map[string]*author
}

func newAuthorCache(data dataStore) *authorCache {
	return &authorCache{store: data, authors: make(map[string]*author)}
}

func (c *authorCache) resolve(ctx context.Context, memberID string) (author, bool, error) {
	if cached, ok := c.authors[memberID]; ok {
		if cached == nil {
			return author{}, false, nil
		}
		return *cached, true, nil
	}
	member, err := c.store.GetMember(ctx, memberID)
	if isNotFound(err) {
		c.authors[memberID] = nil
		return author{}, false, nil
	}
	if err != nil {
		return author{}, false, err
	}
	user, err := c.store.GetUserByID(ctx, member.UserID)
	if isNotFound(err) {
		c.authors[memberID] = nil
		return author{}, false, nil
	}
	if err != nil {
		return author{}, false, err
	}
	resolved := &author{member: member, user: user}
	c.authors[memberID] = resolved
	return *resolved, true, nil
}
