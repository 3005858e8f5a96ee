package app

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"sircharge/admin/internal/analytics"
	"sircharge/admin/internal/authpw"
	"sircharge/admin/internal/cache"
	"sircharge/admin/internal/config"
	"sircharge/admin/internal/promptrepo"
	"sircharge/admin/internal/search"
	"sircharge/admin/internal/store"
)

type dataStore interface {
	Ping(ctx context.Context) error

	CreateUser(context.Context, store.User) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	ListUsers(context.Context, store.UserFilter) ([]store.User, int, error)
	ListUsersByTier(context.Context, string) ([]store.User, error)
	ListUsersCreatedSince(context.Context, time.Time) ([]store.User, error)
	UpdateUserRole(context.Context, string, string) error
	UpdateUserStatus(context.Context, string, string) error
	UpdateUserTier(context.Context, string, string) error
	UpdateUserPassword(context.Context, string, string) error
	TouchUser(context.Context, string) error
	DashboardCounts(context.Context, time.Time) (store.DashboardCounts, error)

	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	SavePasswordReset(context.Context, string, string, time.Time) error
	ConsumePasswordReset(context.Context, string) (string, error)

	ListUsageEvents(context.Context, store.UsageFilter) ([]store.UsageEvent, error)
	UsageByFeature(context.Context, string, time.Time, time.Time) (map[string]int, error)
	ListPromptExecutions(context.Context, store.ExecutionFilter) ([]store.PromptExecution, error)

	CreatePromptConfig(context.Context, store.PromptConfig, store.PromptVersion) error
	GetPromptConfig(context.Context, string) (store.PromptConfig, error)
	ListPromptConfigs(context.Context, bool) ([]store.PromptConfig, error)
	AddPromptVersion(context.Context, store.PromptVersion, string, string) (int, error)
	ListPromptVersions(context.Context, string) ([]store.PromptVersion, error)
	GetPromptVersion(context.Context, string, int) (store.PromptVersion, error)
	SetActivePromptVersion(context.Context, string, int) error
	ArchivePromptConfig(context.Context, string) error

	ListTiers(context.Context) ([]store.SubscriptionTier, error)
	GetTier(context.Context, string) (store.SubscriptionTier, error)
	GetDefaultTier(context.Context) (store.SubscriptionTier, error)
	CreateTier(context.Context, store.SubscriptionTier) error
	UpdateTier(context.Context, store.SubscriptionTier) error
	DeleteTier(context.Context, string) error
	ListOverrides(context.Context, string) ([]store.QuotaOverride, error)
	CreateOverride(context.Context, store.QuotaOverride) error
	DeleteOverride(context.Context, string, string) error

	InsertNotification(context.Context, store.Notification) error
	UpdateNotificationStatus(context.Context, string, string, string, time.Time) error
	ListNotifications(context.Context, store.NotificationFilter) ([]store.Notification, int, error)
	NotificationCounts(context.Context, time.Time, time.Time) ([]store.NotificationCount, error)

	ListVocabulary(context.Context, store.VocabularyFilter) ([]store.VocabularyTerm, int, error)
	GetVocabularyTerm(context.Context, string) (store.VocabularyTerm, error)
	FindVocabularyTerm(context.Context, string, string) (store.VocabularyTerm, error)
	CreateVocabularyTerm(context.Context, store.VocabularyTerm) error
	UpdateVocabularyTerm(context.Context, store.VocabularyTerm) error
	DeleteVocabularyTerm(context.Context, string) error

	ListContent(context.Context, store.ContentFilter) ([]store.ContentBlock, error)
	GetContent(context.Context, string) (store.ContentBlock, error)
	CreateContent(context.Context, store.ContentBlock) error
	UpdateContent(context.Context, store.ContentBlock) error
	SetContentPublished(context.Context, string, bool, string) error
	SetContentImage(context.Context, string, string, string) error
	DeleteContent(context.Context, string) error
}

// refreshStore keeps refresh sessions. Redis when configured, else Postgres.
// Lookups may return only the user id.
type refreshStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type promptRepo interface {
	Ensure(string, promptrepo.Content, string) (store.CommitInfo, error)
	Commit(string, promptrepo.Content, string, string) (store.CommitInfo, error)
	Head(string) (promptrepo.Content, store.CommitInfo, error)
	ContentAt(string, string) (promptrepo.Content, error)
	History(string, int) ([]store.CommitInfo, error)
	Remove(string) error
}

type searchService interface {
	Search(search.Query) search.Response
	Backend() string
	IndexVocabulary(search.VocabularyRecord)
	DeleteVocabulary(string)
	IndexUser(search.UserRecord)
	DeleteUser(string)
}

type assetStore interface {
	Enabled() bool
	Upload(ctx context.Context, key, contentType string, r io.Reader, size int64) error
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

type mailer interface {
	IsConfigured() bool
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendNotificationEmail(to, userName, title, body string) error
}

// pinger is satisfied by the Redis session store.
type pinger interface {
	Ping(ctx context.Context) error
}

// Deps carries the collaborators of a Service. Only Store and Prompts are
// required; the rest degrade when nil.
type Deps struct {
	Store    *store.PostgresStore
	Sessions refreshStore
	Redis    pinger
	Cache    *cache.Cache
	Search   *search.Service
	Prompts  *promptrepo.Service
	Assets   assetStore
	Mailer   mailer
	Logger   *zap.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  refreshStore
	redis     pinger
	cache     *cache.Cache
	search    searchService
	prompts   promptRepo
	assets    assetStore
	mailer    mailer
	pricing   analytics.Pricing
	passwords *authpw.Service
	logger    *zap.Logger
	now       func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:     cfg,
		store:   deps.Store,
		cache:   deps.Cache,
		prompts: deps.Prompts,
		assets:  deps.Assets,
		mailer:  deps.Mailer,
		pricing: analytics.DefaultPricing(),
		logger:  deps.Logger,
		now:     time.Now,
	}
	s.passwords = authpw.NewService(deps.Store)
	s.sessions = deps.Sessions
	if s.sessions == nil {
		s.sessions = deps.Store
	}
	if deps.Redis != nil {
		s.redis = deps.Redis
	}
	if deps.Search != nil {
		s.search = deps.Search
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Readiness runs the dependency checks behind /api/ready.
func (s *Service) Readiness(ctx context.Context) (bool, map[string]any) {
	ready := true
	checks := map[string]any{"database": map[string]any{"status": "ok"}}
	if err := s.store.Ping(ctx); err != nil {
		ready = false
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	if s.redis != nil {
		checks["redis"] = map[string]any{"status": "ok"}
		if err := s.redis.Ping(ctx); err != nil {
			ready = false
			checks["redis"] = map[string]any{"status": "error", "error": err.Error()}
		}
	}
	if s.search != nil {
		checks["search"] = map[string]any{"status": "ok", "backend": s.search.Backend()}
	}
	assetsStatus := "disabled"
	if s.assets != nil && s.assets.Enabled() {
		assetsStatus = "ok"
	}
	checks["assets"] = map[string]any{"status": assetsStatus}
	emailStatus := "disabled"
	if s.mailer != nil && s.mailer.IsConfigured() {
		emailStatus = "ok"
	}
	checks["email"] = map[string]any{"status": emailStatus}
	return ready, checks
}

func (s *Service) invalidateDashboard(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, dashboardPrefix); err != nil {
		s.logger.Warn("invalidate dashboard cache", zap.Error(err))
	}
}

func (s *Service) normalizeRange(from, to time.Time) (time.Time, time.Time, error) {
	from, to, err := analytics.NormalizeRange(from, to, s.now())
	if err != nil {
		return time.Time{}, time.Time{}, validationError(err.Error(), nil)
	}
	return from, to, nil
}

