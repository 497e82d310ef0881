package app

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"huddle/api/internal/config"
	"huddle/api/internal/realtime"
	"huddle/api/internal/store"
)

// fakeStore is an in-memory dataStore and sessionStore. The xxxFn hooks
// override single methods to inject failures.
type fakeStore struct {
	mu sync.Mutex

	users         map[string]store.User
	workspaces    map[string]store.Workspace
	members       map[string]store.Member
	channels      map[string]store.Channel
	conversations map[string]store.Conversation
	messages      map[string]store.Message
	reactions     []store.Reaction
	refresh       map[string]string
	revoked       map[string]time.Time

	clock time.Time

	pingFn               func(context.Context) error
	insertMessageFn      func(context.Context, store.Message) error
	insertConversationFn func(context.Context, store.Conversation) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         make(map[string]store.User),
		workspaces:    make(map[string]store.Workspace),
		members:       make(map[string]store.Member),
		channels:      make(map[string]store.Channel),
		conversations: make(map[string]store.Conversation),
		messages:      make(map[string]store.Message),
		refresh:       make(map[string]string),
		revoked:       make(map[string]time.Time),
		clock:         time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStore) now() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return store.ErrConflict
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = f.now()
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, hash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[hash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, hash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[hash]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, hash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, exp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = exp
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.revoked[jti]
	return ok, nil
}

func (f *fakeStore) InsertWorkspace(_ context.Context, ws store.Workspace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = f.now()
	}
	f.workspaces[ws.ID] = ws
	return nil
}

func (f *fakeStore) GetWorkspace(_ context.Context, id string) (store.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws, ok := f.workspaces[id]
	if !ok {
		return store.Workspace{}, sql.ErrNoRows
	}
	return ws, nil
}

func (f *fakeStore) ListWorkspacesForUser(_ context.Context, userID string) ([]store.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Workspace, 0)
	for _, m := range f.members {
		if m.UserID == userID {
			if ws, ok := f.workspaces[m.WorkspaceID]; ok {
				items = append(items, ws)
			}
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (f *fakeStore) UpdateWorkspaceName(_ context.Context, id, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws := f.workspaces[id]
	ws.Name = name
	f.workspaces[id] = ws
	return nil
}

func (f *fakeStore) UpdateWorkspaceJoinCode(_ context.Context, id, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws := f.workspaces[id]
	ws.JoinCode = code
	f.workspaces[id] = ws
	return nil
}

func (f *fakeStore) DeleteWorkspace(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.workspaces, id)
	for key, m := range f.members {
		if m.WorkspaceID == id {
			delete(f.members, key)
		}
	}
	for key, ch := range f.channels {
		if ch.WorkspaceID == id {
			delete(f.channels, key)
		}
	}
	for key, c := range f.conversations {
		if c.WorkspaceID == id {
			delete(f.conversations, key)
		}
	}
	for key, msg := range f.messages {
		if msg.WorkspaceID == id {
			delete(f.messages, key)
		}
	}
	f.reactions = filterReactions(f.reactions, func(r store.Reaction) bool { return r.WorkspaceID != id })
	return nil
}

func (f *fakeStore) InsertMember(_ context.Context, m store.Member) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.members {
		if existing.WorkspaceID == m.WorkspaceID && existing.UserID == m.UserID {
			return store.ErrConflict
		}
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = f.now()
	}
	f.members[m.ID] = m
	return nil
}

func (f *fakeStore) GetMember(_ context.Context, id string) (store.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[id]
	if !ok {
		return store.Member{}, sql.ErrNoRows
	}
	return m, nil
}

func (f *fakeStore) GetMemberByUser(_ context.Context, workspaceID, userID string) (store.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members {
		if m.WorkspaceID == workspaceID && m.UserID == userID {
			return m, nil
		}
	}
	return store.Member{}, sql.ErrNoRows
}

func (f *fakeStore) ListMembers(_ context.Context, workspaceID string) ([]store.MemberWithUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.MemberWithUser, 0)
	for _, m := range f.members {
		if m.WorkspaceID != workspaceID {
			continue
		}
		if user, ok := f.users[m.UserID]; ok {
			items = append(items, store.MemberWithUser{Member: m, User: user})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (f *fakeStore) UpdateMemberRole(_ context.Context, id, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.members[id]
	m.Role = role
	f.members[id] = m
	return nil
}

func (f *fakeStore) DeleteMember(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members, id)
	f.reactions = filterReactions(f.reactions, func(r store.Reaction) bool { return r.MemberID != id })
	return nil
}

func (f *fakeStore) InsertChannel(_ context.Context, ch store.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = f.now()
	}
	f.channels[ch.ID] = ch
	return nil
}

func (f *fakeStore) GetChannel(_ context.Context, id string) (store.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[id]
	if !ok {
		return store.Channel{}, sql.ErrNoRows
	}
	return ch, nil
}

func (f *fakeStore) ListChannels(_ context.Context, workspaceID string) ([]store.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Channel, 0)
	for _, ch := range f.channels {
		if ch.WorkspaceID == workspaceID {
			items = append(items, ch)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (f *fakeStore) UpdateChannelName(_ context.Context, id, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := f.channels[id]
	ch.Name = name
	f.channels[id] = ch
	return nil
}

func (f *fakeStore) DeleteChannel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.channels, id)
	for key, msg := range f.messages {
		if msg.ChannelID != nil && *msg.ChannelID == id {
			delete(f.messages, key)
			f.reactions = filterReactions(f.reactions, func(r store.Reaction) bool { return r.MessageID != key })
		}
	}
	return nil
}

func (f *fakeStore) FindConversation(_ context.Context, workspaceID, a, b string) (store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conversations {
		if c.WorkspaceID != workspaceID {
			continue
		}
		if (c.MemberOneID == a && c.MemberTwoID == b) || (c.MemberOneID == b && c.MemberTwoID == a) {
			return c, nil
		}
	}
	return store.Conversation{}, sql.ErrNoRows
}

func (f *fakeStore) GetConversation(_ context.Context, id string) (store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conversations[id]
	if !ok {
		return store.Conversation{}, sql.ErrNoRows
	}
	return c, nil
}

func (f *fakeStore) InsertConversation(ctx context.Context, c store.Conversation) error {
	if f.insertConversationFn != nil {
		if err := f.insertConversationFn(ctx, c); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = f.now()
	}
	f.conversations[c.ID] = c
	return nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, msg store.Message) error {
	if f.insertMessageFn != nil {
		return f.insertMessageFn(ctx, msg)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = f.now()
	}
	f.messages[msg.ID] = msg
	return nil
}

func (f *fakeStore) GetMessage(_ context.Context, id string) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok {
		return store.Message{}, sql.ErrNoRows
	}
	return msg, nil
}

func (f *fakeStore) UpdateMessageBody(_ context.Context, id, body, bodyText string, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := f.messages[id]
	msg.Body = body
	msg.BodyText = bodyText
	msg.UpdatedAt = &updatedAt
	f.messages[id] = msg
	return nil
}

func (f *fakeStore) DeleteMessage(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages, id)
	f.reactions = filterReactions(f.reactions, func(r store.Reaction) bool { return r.MessageID != id })
	return nil
}

func sameID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func newerFirst(a, b store.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func (f *fakeStore) ListMessages(_ context.Context, filter store.MessageFilter, after *store.Cursor, limit int) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Message, 0)
	for _, msg := range f.messages {
		if !sameID(msg.ChannelID, filter.ChannelID) ||
			!sameID(msg.ConversationID, filter.ConversationID) ||
			!sameID(msg.ParentMessageID, filter.ParentMessageID) {
			continue
		}
		if after != nil && !newerFirst(store.Message{CreatedAt: after.CreatedAt, ID: after.ID}, msg) {
			continue
		}
		items = append(items, msg)
	}
	sort.Slice(items, func(i, j int) bool { return newerFirst(items[i], items[j]) })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (f *fakeStore) GetThreadStats(_ context.Context, messageID string) (store.ThreadStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stats store.ThreadStats
	for _, msg := range f.messages {
		if msg.ParentMessageID == nil || *msg.ParentMessageID != messageID {
			continue
		}
		stats.Count++
		if stats.LastReply == nil || newerFirst(msg, *stats.LastReply) {
			reply := msg
			stats.LastReply = &reply
		}
	}
	return stats, nil
}

func (f *fakeStore) ListReactions(_ context.Context, messageID string) ([]store.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Reaction, 0)
	for _, r := range f.reactions {
		if r.MessageID == messageID {
			items = append(items, r)
		}
	}
	return items, nil
}

func (f *fakeStore) ToggleReaction(_ context.Context, item store.Reaction) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.reactions {
		if r.MessageID == item.MessageID && r.MemberID == item.MemberID && r.Value == item.Value {
			f.reactions = append(f.reactions[:i], f.reactions[i+1:]...)
			return false, nil
		}
	}
	item.CreatedAt = f.now()
	f.reactions = append(f.reactions, item)
	return true, nil
}

func filterReactions(items []store.Reaction, keep func(store.Reaction) bool) []store.Reaction {
	out := items[:0]
	for _, r := range items {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// seed helpers

func (f *fakeStore) addUser(id, name string) store.User {
	user := store.User{ID: id, Name: name, Email: id + "@example.com", CreatedAt: f.now()}
	f.users[id] = user
	return user
}

func (f *fakeStore) addWorkspace(id, ownerUserID string) store.Workspace {
	ws := store.Workspace{ID: id, Name: "Workspace " + id, JoinCode: "abc123", OwnerUserID: ownerUserID, CreatedAt: f.now()}
	f.workspaces[id] = ws
	return ws
}

func (f *fakeStore) addMember(id, workspaceID, userID, role string) store.Member {
	m := store.Member{ID: id, WorkspaceID: workspaceID, UserID: userID, Role: role, CreatedAt: f.now()}
	f.members[id] = m
	return m
}

func (f *fakeStore) addChannel(id, workspaceID, name string) store.Channel {
	ch := store.Channel{ID: id, WorkspaceID: workspaceID, Name: name, CreatedAt: f.now()}
	f.channels[id] = ch
	return ch
}

func (f *fakeStore) addConversation(id, workspaceID, one, two string) store.Conversation {
	c := store.Conversation{ID: id, WorkspaceID: workspaceID, MemberOneID: one, MemberTwoID: two, CreatedAt: f.now()}
	f.conversations[id] = c
	return c
}

func (f *fakeStore) addMessage(msg store.Message) store.Message {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = f.now()
	}
	if msg.Body == "" {
		msg.Body = "hello"
		msg.BodyText = "hello"
	}
	f.messages[msg.ID] = msg
	return msg
}

func strPtr(v string) *string { return &v }

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, event realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event.Topic+" "+event.Reason)
	return nil
}

func (p *recordingPublisher) has(entry string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e == entry {
			return true
		}
	}
	return false
}

// testFixture is a workspace "ws1" with an admin (usr-admin/mem-admin), a
// member (usr-bob/mem-bob), a channel "ch1" and an outsider usr-eve.
type testFixture struct {
	store     *fakeStore
	service   *Service
	publisher *recordingPublisher
}

func newTestService(fs *fakeStore, opts ...Option) *Service {
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		AppURL:     "http://localhost:3000",
	}
	return newService(cfg, fs, opts...)
}

func newFixture() *testFixture {
	fs := newFakeStore()
	fs.addUser("usr-admin", "Ada")
	fs.addUser("usr-bob", "Bob")
	fs.addUser("usr-eve", "Eve")
	fs.addWorkspace("ws1", "usr-admin")
	fs.addMember("mem-admin", "ws1", "usr-admin", "admin")
	fs.addMember("mem-bob", "ws1", "usr-bob", "member")
	fs.addChannel("ch1", "ws1", "general")
	pub := &recordingPublisher{}
	return &testFixture{store: fs, service: newTestService(fs, WithPublisher(pub)), publisher: pub}
}
