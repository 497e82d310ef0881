package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"huddle/api/internal/email"
	"huddle/api/internal/store"
	"huddle/api/internal/util"
)

type fakeMailer struct {
	configured bool
	to         []string
	data       email.InviteData
}

func (f *fakeMailer) IsConfigured() bool { return f.configured }

func (f *fakeMailer) SendWorkspaceInvite(to []string, data email.InviteData) error {
	f.to = to
	f.data = data
	return nil
}

func TestCreateWorkspaceSeedsAdminAndGeneralChannel(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	id, err := fx.service.CreateWorkspace(ctx, "usr-eve", "  Eve's Team ")
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	ws := fx.store.workspaces[id]
	if ws.Name != "Eve's Team" || ws.OwnerUserID != "usr-eve" {
		t.Fatalf("unexpected workspace %+v", ws)
	}
	if len(ws.JoinCode) != util.JoinCodeLength {
		t.Fatalf("expected %d char join code, got %q", util.JoinCodeLength, ws.JoinCode)
	}

	member, err := fx.store.GetMemberByUser(ctx, id, "usr-eve")
	if err != nil || member.Role != "admin" {
		t.Fatalf("expected admin member, got %+v %v", member, err)
	}
	channels, _ := fx.store.ListChannels(ctx, id)
	if len(channels) != 1 || channels[0].Name != "general" {
		t.Fatalf("expected general channel, got %+v", channels)
	}
}

func TestCreateWorkspaceValidation(t *testing.T) {
	fx := newFixture()
	if _, err := fx.service.CreateWorkspace(context.Background(), "", "Team"); !errors.Is(err, errUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	_, err := fx.service.CreateWorkspace(context.Background(), "usr-eve", "ab")
	status, _, _, _ := mapError(err)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for short name, got %d", status)
	}
}

func TestWorkspaceQueriesDegrade(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	if ws, err := fx.service.GetWorkspace(ctx, "usr-eve", "ws1"); err != nil || ws != nil {
		t.Fatalf("expected nil workspace for outsider, got %+v %v", ws, err)
	}
	if ws, err := fx.service.GetWorkspace(ctx, "usr-bob", "ws1"); err != nil || ws == nil || ws.ID != "ws1" {
		t.Fatalf("expected workspace for member, got %+v %v", ws, err)
	}
	info, err := fx.service.GetWorkspaceInfo(ctx, "usr-eve", "ws1")
	if err != nil || info == nil || info.IsMember || info.Name != "Workspace ws1" {
		t.Fatalf("unexpected info %+v %v", info, err)
	}
	if info, _ := fx.service.GetWorkspaceInfo(ctx, "", "ws1"); info != nil {
		t.Fatalf("expected nil info without identity")
	}
	list, err := fx.service.ListWorkspaces(ctx, "")
	if err != nil || list == nil || len(list) != 0 {
		t.Fatalf("expected empty list without identity, got %v %v", list, err)
	}
}

func TestWorkspaceAdminOperations(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	if _, err := fx.service.UpdateWorkspace(ctx, "usr-bob", "ws1", "Renamed"); !errors.Is(err, errForbidden) {
		t.Fatalf("expected forbidden for member, got %v", err)
	}
	if _, err := fx.service.UpdateWorkspace(ctx, "usr-admin", "ws1", "Renamed"); err != nil {
		t.Fatalf("update workspace: %v", err)
	}
	if fx.store.workspaces["ws1"].Name != "Renamed" {
		t.Fatalf("expected renamed workspace")
	}

	code, err := fx.service.NewJoinCode(ctx, "usr-admin", "ws1")
	if err != nil || code == "abc123" || fx.store.workspaces["ws1"].JoinCode != code {
		t.Fatalf("expected fresh join code, got %q %v", code, err)
	}
	if !fx.publisher.has("workspace:ws1 workspace.updated") {
		t.Fatalf("expected workspace invalidation, got %v", fx.publisher.events)
	}
}

func TestRemoveWorkspaceCascades(t *testing.T) {
	fx := newFixture()
	fx.store.addMessage(store.Message{ID: "m1", WorkspaceID: "ws1", MemberID: "mem-bob", ChannelID: strPtr("ch1")})
	ctx := context.Background()

	if _, err := fx.service.RemoveWorkspace(ctx, "usr-bob", "ws1"); !errors.Is(err, errForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := fx.service.RemoveWorkspace(ctx, "usr-admin", "ws1"); err != nil {
		t.Fatalf("remove workspace: %v", err)
	}
	if len(fx.store.workspaces) != 0 || len(fx.store.members) != 0 || len(fx.store.channels) != 0 || len(fx.store.messages) != 0 {
		t.Fatalf("expected cascade delete")
	}
}

func TestJoinWorkspace(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	if _, err := fx.service.JoinWorkspace(ctx, "usr-eve", "ws1", "wrong1"); !errors.Is(err, errInvalidJoin) {
		t.Fatalf("expected invalid join code, got %v", err)
	}
	if _, err := fx.service.JoinWorkspace(ctx, "usr-eve", "missing", "abc123"); !errors.Is(err, errNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := fx.service.JoinWorkspace(ctx, "usr-eve", "ws1", " ABC123 "); err != nil {
		t.Fatalf("join with mixed case code: %v", err)
	}
	member, err := fx.store.GetMemberByUser(ctx, "ws1", "usr-eve")
	if err != nil || member.Role != "member" {
		t.Fatalf("expected member role, got %+v %v", member, err)
	}
	if _, err := fx.service.JoinWorkspace(ctx, "usr-eve", "ws1", "abc123"); !errors.Is(err, errAlreadyMember) {
		t.Fatalf("expected already member, got %v", err)
	}
}

func TestInviteToWorkspace(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	err := fx.service.InviteToWorkspace(ctx, "usr-admin", "ws1", []string{"x@example.com"})
	if !errors.Is(err, email.ErrNotConfigured) {
		t.Fatalf("expected email not configured, got %v", err)
	}

	mailer := &fakeMailer{configured: true}
	fx.service.mailer = mailer
	if err := fx.service.InviteToWorkspace(ctx, "usr-bob", "ws1", []string{"x@example.com"}); !errors.Is(err, errForbidden) {
		t.Fatalf("expected forbidden for member, got %v", err)
	}
	if err := fx.service.InviteToWorkspace(ctx, "usr-admin", "ws1", []string{"not-an-email"}); err == nil {
		t.Fatalf("expected validation error")
	}
	if err := fx.service.InviteToWorkspace(ctx, "usr-admin", "ws1", []string{"Carol <carol@example.com>"}); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if len(mailer.to) != 1 || mailer.to[0] != "carol@example.com" {
		t.Fatalf("unexpected recipients %v", mailer.to)
	}
	if mailer.data.JoinCode != "abc123" || mailer.data.InviterName != "Ada" || mailer.data.JoinURL != "http://localhost:3000/join/ws1" {
		t.Fatalf("unexpected invite data %+v", mailer.data)
	}
}

func TestChannelOperations(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	if _, err := fx.service.CreateChannel(ctx, "usr-bob", "ws1", "random"); !errors.Is(err, errForbidden) {
		t.Fatalf("expected non-admin to be forbidden, got %v", err)
	}
	id, err := fx.service.CreateChannel(ctx, "usr-admin", "ws1", "  Product   Launch ")
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	if fx.store.channels[id].Name != "product-launch" {
		t.Fatalf("expected normalized name, got %q", fx.store.channels[id].Name)
	}

	channels, err := fx.service.ListChannels(ctx, "usr-eve", "ws1")
	if err != nil || len(channels) != 0 {
		t.Fatalf("expected no channels for outsider, got %v %v", channels, err)
	}
	if ch, _ := fx.service.GetChannel(ctx, "usr-eve", id); ch != nil {
		t.Fatalf("expected nil channel for outsider")
	}

	if _, err := fx.service.UpdateChannel(ctx, "usr-admin", "missing", "name"); !errors.Is(err, errNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	fx.store.addMessage(store.Message{ID: "m1", WorkspaceID: "ws1", MemberID: "mem-bob", ChannelID: &id})
	if _, err := fx.service.RemoveChannel(ctx, "usr-admin", id); err != nil {
		t.Fatalf("remove channel: %v", err)
	}
	if _, ok := fx.store.messages["m1"]; ok {
		t.Fatalf("expected channel messages to be removed")
	}
	if !fx.publisher.has("channel:" + id + " channel.removed") {
		t.Fatalf("expected channel invalidation, got %v", fx.publisher.events)
	}
}

func TestMemberQueries(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	members, err := fx.service.ListMembers(ctx, "usr-bob", "ws1")
	if err != nil || len(members) != 2 || members[0].User == nil {
		t.Fatalf("expected members with users, got %+v %v", members, err)
	}
	if members, _ := fx.service.ListMembers(ctx, "usr-eve", "ws1"); len(members) != 0 {
		t.Fatalf("expected no members for outsider")
	}
	current, err := fx.service.CurrentMember(ctx, "usr-bob", "ws1")
	if err != nil || current == nil || current.ID != "mem-bob" {
		t.Fatalf("unexpected current member %+v %v", current, err)
	}
	if m, _ := fx.service.GetMemberByID(ctx, "usr-eve", "mem-bob"); m != nil {
		t.Fatalf("expected outsider to get nil member")
	}
}

func TestUpdateMemberRole(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	if _, err := fx.service.UpdateMember(ctx, "usr-bob", "mem-admin", "member"); !errors.Is(err, errForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := fx.service.UpdateMember(ctx, "usr-admin", "mem-bob", "owner"); err == nil {
		t.Fatalf("expected invalid role to be rejected")
	}
	if _, err := fx.service.UpdateMember(ctx, "usr-admin", "mem-bob", "admin"); err != nil {
		t.Fatalf("update member: %v", err)
	}
	if fx.store.members["mem-bob"].Role != "admin" {
		t.Fatalf("expected promoted member")
	}
}

func TestRemoveMemberRules(t *testing.T) {
	fx := newFixture()
	fx.store.addUser("usr-cy", "Cy")
	fx.store.addMember("mem-cy", "ws1", "usr-cy", "member")
	fx.store.addMessage(store.Message{ID: "m1", WorkspaceID: "ws1", MemberID: "mem-cy", ChannelID: strPtr("ch1")})
	ctx := context.Background()

	if _, err := fx.service.RemoveMember(ctx, "usr-bob", "mem-cy"); !errors.Is(err, errForbidden) {
		t.Fatalf("expected member removing another to be forbidden, got %v", err)
	}
	if _, err := fx.service.RemoveMember(ctx, "usr-admin", "mem-admin"); !errors.Is(err, errRemoveAdmin) {
		t.Fatalf("expected admin removal to fail, got %v", err)
	}
	if _, err := fx.service.RemoveMember(ctx, "usr-admin", "mem-cy"); err != nil {
		t.Fatalf("admin removes member: %v", err)
	}
	if _, err := fx.service.RemoveMember(ctx, "usr-bob", "mem-bob"); err != nil {
		t.Fatalf("member leaves: %v", err)
	}

	if _, ok := fx.store.messages["m1"]; !ok {
		t.Fatalf("expected removed member's message to stay stored")
	}
	page, err := fx.service.ListMessages(ctx, "usr-admin", ListMessagesInput{ChannelID: strPtr("ch1")})
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(page.Page) != 0 {
		t.Fatalf("expected removed member's message to vanish from listings, got %+v", page.Page)
	}
}

func TestCreateOrGetConversation(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	id, err := fx.service.CreateOrGetConversation(ctx, "usr-admin", "ws1", "mem-bob")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	again, err := fx.service.CreateOrGetConversation(ctx, "usr-bob", "ws1", "mem-admin")
	if err != nil || again != id {
		t.Fatalf("expected the same conversation from the other side, got %q %v", again, err)
	}
	if len(fx.store.conversations) != 1 {
		t.Fatalf("expected one conversation, got %d", len(fx.store.conversations))
	}
	if _, err := fx.service.CreateOrGetConversation(ctx, "usr-admin", "ws1", "mem-missing"); !errors.Is(err, errNotFound) {
		t.Fatalf("expected not found for unknown member, got %v", err)
	}
	if _, err := fx.service.CreateOrGetConversation(ctx, "usr-eve", "ws1", "mem-bob"); !errors.Is(err, errForbidden) {
		t.Fatalf("expected forbidden for outsider, got %v", err)
	}
}

func TestCreateOrGetConversationReturnsConcurrentWinner(t *testing.T) {
	fx := newFixture()
	fx.store.insertConversationFn = func(context.Context, store.Conversation) error {
		fx.store.addConversation("conv-first", "ws1", "mem-bob", "mem-admin")
		return fmt.Errorf("insert conversation: %w", store.ErrConflict)
	}

	id, err := fx.service.CreateOrGetConversation(context.Background(), "usr-admin", "ws1", "mem-bob")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if id != "conv-first" {
		t.Fatalf("expected the existing conversation, got %q", id)
	}
	if len(fx.store.conversations) != 1 {
		t.Fatalf("expected one conversation, got %d", len(fx.store.conversations))
	}
}

func TestAuthorizeTopic(t *testing.T) {
	fx := newFixture()
	fx.store.addMessage(store.Message{ID: "m1", WorkspaceID: "ws1", MemberID: "mem-bob", ChannelID: strPtr("ch1")})
	ctx := context.Background()

	for _, topic := range []string{"workspace:ws1", "channel:ch1", "thread:m1"} {
		workspaceID, err := fx.service.AuthorizeTopic(ctx, "usr-bob", topic)
		if err != nil {
			t.Fatalf("%s: expected member to subscribe, got %v", topic, err)
		}
		if workspaceID != "ws1" {
			t.Fatalf("%s: expected owning workspace ws1, got %q", topic, workspaceID)
		}
		if _, err := fx.service.AuthorizeTopic(ctx, "usr-eve", topic); !errors.Is(err, errForbidden) {
			t.Fatalf("%s: expected outsider to be forbidden, got %v", topic, err)
		}
	}
	if _, err := fx.service.AuthorizeTopic(ctx, "usr-bob", "bogus"); !errors.Is(err, errInvalidTopic) {
		t.Fatalf("expected invalid topic, got %v", err)
	}
	if _, err := fx.service.AuthorizeTopic(ctx, "usr-bob", "channel:missing"); !errors.Is(err, errNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
