package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"huddle/api/internal/auth"
	"huddle/api/internal/authpw"
	"huddle/api/internal/blob"
	"huddle/api/internal/config"
	"huddle/api/internal/email"
	"huddle/api/internal/metrics"
	"huddle/api/internal/realtime"
	"huddle/api/internal/search"
	"huddle/api/internal/session"
	"huddle/api/internal/store"
	"huddle/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	Ping(ctx context.Context) error

	CreateUser(context.Context, store.User) error
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)

	InsertWorkspace(context.Context, store.Workspace) error
	GetWorkspace(context.Context, string) (store.Workspace, error)
	ListWorkspacesForUser(context.Context, string) ([]store.Workspace, error)
	UpdateWorkspaceName(context.Context, string, string) error
	UpdateWorkspaceJoinCode(context.Context, string, string) error
	DeleteWorkspace(context.Context, string) error

	InsertMember(context.Context, store.Member) error
	GetMember(context.Context, string) (store.Member, error)
	GetMemberByUser(context.Context, string, string) (store.Member, error)
	ListMembers(context.Context, string) ([]store.MemberWithUser, error)
	UpdateMemberRole(context.Context, string, string) error
	DeleteMember(context.Context, string) error

	InsertChannel(context.Context, store.Channel) error
	GetChannel(context.Context, string) (store.Channel, error)
	ListChannels(context.Context, string) ([]store.Channel, error)
	UpdateChannelName(context.Context, string, string) error
	DeleteChannel(context.Context, string) error

	FindConversation(context.Context, string, string, string) (store.Conversation, error)
	GetConversation(context.Context, string) (store.Conversation, error)
	InsertConversation(context.Context, store.Conversation) error

	InsertMessage(context.Context, store.Message) error
	GetMessage(context.Context, string) (store.Message, error)
	UpdateMessageBody(context.Context, string, string, string, time.Time) error
	DeleteMessage(context.Context, string) error
	ListMessages(context.Context, store.MessageFilter, *store.Cursor, int) ([]store.Message, error)
	GetThreadStats(context.Context, string) (store.ThreadStats, error)

	ListReactions(context.Context, string) ([]store.Reaction, error)
	ToggleReaction(context.Context, store.Reaction) (bool, error)
}

// sessionStore holds refresh sessions and revoked access tokens. Both
// PostgresStore and session.RedisStore satisfy it.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (string, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type blobStore interface {
	PresignUpload(context.Context) (blob.Upload, error)
	URL(context.Context, string) (string, error)
	Exists(context.Context, string) (bool, error)
}

type messageSearcher interface {
	Search(context.Context, search.Query) ([]search.MessageRecord, error)
}

type messageIndexer interface {
	IndexMessage(context.Context, search.MessageRecord)
	DeleteMessage(context.Context, string)
}

type inviteMailer interface {
	IsConfigured() bool
	SendWorkspaceInvite([]string, email.InviteData) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	passwords *authpw.Service
	blobs     blobStore
	search    messageSearcher
	indexer   messageIndexer
	publisher realtime.Publisher
	mailer    inviteMailer
	metrics   *metrics.Metrics
	log       *slog.Logger
}

// Option configures optional collaborators of a Service.
type Option func(*Service)

// WithSessions stores refresh sessions and revocations outside the database.
func WithSessions(sessions sessionStore) Option {
	return func(s *Service) { s.sessions = sessions }
}

func WithBlobs(blobs blobStore) Option {
	return func(s *Service) { s.blobs = blobs }
}

func WithSearch(searcher messageSearcher) Option {
	return func(s *Service) { s.search = searcher }
}

func WithIndexer(indexer messageIndexer) Option {
	return func(s *Service) { s.indexer = indexer }
}

func WithPublisher(publisher realtime.Publisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

func WithMailer(mailer inviteMailer) Option {
	return func(s *Service) { s.mailer = mailer }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(cfg config.Config, dataStore *store.PostgresStore, opts ...Option) *Service {
	return newService(cfg, dataStore, opts...)
}

func newService(cfg config.Config, data dataStore, opts ...Option) *Service {
	s := &Service{
		cfg:       cfg,
		store:     data,
		passwords: authpw.NewService(data),
		log:       slog.Default().With("component", "app"),
	}
	if sessions, ok := data.(sessionStore); ok {
		s.sessions = sessions
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SignUp(ctx context.Context, name, emailAddress, password string) (Session, error) {
	user, err := s.passwords.SignUp(ctx, authpw.SignUpRequest{Name: name, Email: emailAddress, Password: password})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, emailAddress, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, authpw.SignInRequest{Email: emailAddress, Password: password})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, session.ErrNotFound) {
		return Session{}, errUnauthorized
	}
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, errUnauthorized
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// CurrentUser returns the caller's user, or nil without identity.
func (s *Service) CurrentUser(ctx context.Context, userID string) (*UserView, error) {
	if userID == "" {
		return nil, nil
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	view := userView(user)
	return &view, nil
}

func (s *Service) publish(ctx context.Context, reason, id string, topics ...string) {
	if s.publisher == nil {
		return
	}
	for _, topic := range topics {
		if err := s.publisher.Publish(ctx, realtime.Invalidate(topic, reason, id)); err != nil {
			s.log.WarnContext(ctx, "publish event", "topic", topic, "reason", reason, "error", err)
			continue
		}
		if s.metrics != nil {
			s.metrics.EventPublished(reason)
		}
	}
}

// revokeTopics ends the live subscriptions userID holds in a workspace.
func (s *Service) revokeTopics(ctx context.Context, workspaceID, userID, reason string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, realtime.Revoke(workspaceID, userID, reason)); err != nil {
		s.log.WarnContext(ctx, "revoke subscriptions", "workspace_id", workspaceID, "user_id", userID, "error", err)
	}
}
