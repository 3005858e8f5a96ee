package app

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"sircharge/admin/internal/analytics"
	"sircharge/admin/internal/authpw"
	"sircharge/admin/internal/config"
	"sircharge/admin/internal/promptrepo"
	"sircharge/admin/internal/search"
	"sircharge/admin/internal/store"
)

// fakeStore implements dataStore. Unset functions return zero values, and
// single-row reads return store.ErrNotFound.
type fakeStore struct {
	pingFn                     func(context.Context) error
	createUserFn               func(context.Context, store.User) (store.User, error)
	getUserByIDFn              func(context.Context, string) (store.User, error)
	getUserByEmailFn           func(context.Context, string) (store.User, error)
	listUsersFn                func(context.Context, store.UserFilter) ([]store.User, int, error)
	listUsersByTierFn          func(context.Context, string) ([]store.User, error)
	listUsersCreatedSinceFn    func(context.Context, time.Time) ([]store.User, error)
	updateUserRoleFn           func(context.Context, string, string) error
	updateUserStatusFn         func(context.Context, string, string) error
	updateUserTierFn           func(context.Context, string, string) error
	updateUserPasswordFn       func(context.Context, string, string) error
	touchUserFn                func(context.Context, string) error
	dashboardCountsFn          func(context.Context, time.Time) (store.DashboardCounts, error)
	saveRefreshSessionFn       func(context.Context, string, string, time.Time) error
	lookupRefreshSessionFn     func(context.Context, string) (store.User, error)
	revokeRefreshSessionFn     func(context.Context, string) error
	revokeAccessTokenFn        func(context.Context, string, time.Time) error
	isAccessTokenRevokedFn     func(context.Context, string) (bool, error)
	savePasswordResetFn        func(context.Context, string, string, time.Time) error
	consumePasswordResetFn     func(context.Context, string) (string, error)
	listUsageEventsFn          func(context.Context, store.UsageFilter) ([]store.UsageEvent, error)
	usageByFeatureFn           func(context.Context, string, time.Time, time.Time) (map[string]int, error)
	listPromptExecutionsFn     func(context.Context, store.ExecutionFilter) ([]store.PromptExecution, error)
	createPromptConfigFn       func(context.Context, store.PromptConfig, store.PromptVersion) error
	getPromptConfigFn          func(context.Context, string) (store.PromptConfig, error)
	listPromptConfigsFn        func(context.Context, bool) ([]store.PromptConfig, error)
	addPromptVersionFn         func(context.Context, store.PromptVersion, string, string) (int, error)
	listPromptVersionsFn       func(context.Context, string) ([]store.PromptVersion, error)
	getPromptVersionFn         func(context.Context, string, int) (store.PromptVersion, error)
	setActivePromptVersionFn   func(context.Context, string, int) error
	archivePromptConfigFn      func(context.Context, string) error
	listTiersFn                func(context.Context) ([]store.SubscriptionTier, error)
	getTierFn                  func(context.Context, string) (store.SubscriptionTier, error)
	getDefaultTierFn           func(context.Context) (store.SubscriptionTier, error)
	createTierFn               func(context.Context, store.SubscriptionTier) error
	updateTierFn               func(context.Context, store.SubscriptionTier) error
	deleteTierFn               func(context.Context, string) error
	listOverridesFn            func(context.Context, string) ([]store.QuotaOverride, error)
	createOverrideFn           func(context.Context, store.QuotaOverride) error
	deleteOverrideFn           func(context.Context, string, string) error
	insertNotificationFn       func(context.Context, store.Notification) error
	updateNotificationStatusFn func(context.Context, string, string, string, time.Time) error
	listNotificationsFn        func(context.Context, store.NotificationFilter) ([]store.Notification, int, error)
	notificationCountsFn       func(context.Context, time.Time, time.Time) ([]store.NotificationCount, error)
	listVocabularyFn           func(context.Context, store.VocabularyFilter) ([]store.VocabularyTerm, int, error)
	getVocabularyTermFn        func(context.Context, string) (store.VocabularyTerm, error)
	findVocabularyTermFn       func(context.Context, string, string) (store.VocabularyTerm, error)
	createVocabularyTermFn     func(context.Context, store.VocabularyTerm) error
	updateVocabularyTermFn     func(context.Context, store.VocabularyTerm) error
	deleteVocabularyTermFn     func(context.Context, string) error
	listContentFn              func(context.Context, store.ContentFilter) ([]store.ContentBlock, error)
	getContentFn               func(context.Context, string) (store.ContentBlock, error)
	createContentFn            func(context.Context, store.ContentBlock) error
	updateContentFn            func(context.Context, store.ContentBlock) error
	setContentPublishedFn      func(context.Context, string, bool, string) error
	setContentImageFn          func(context.Context, string, string, string) error
	deleteContentFn            func(context.Context, string) error
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) CreateUser(ctx context.Context, a1 store.User) (store.User, error) {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, a1)
	}
	return store.User{}, nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, a1 string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, a1)
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, a1 string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, a1)
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) ListUsers(ctx context.Context, a1 store.UserFilter) ([]store.User, int, error) {
	if f.listUsersFn != nil {
		return f.listUsersFn(ctx, a1)
	}
	return nil, 0, nil
}

func (f *fakeStore) ListUsersByTier(ctx context.Context, a1 string) ([]store.User, error) {
	if f.listUsersByTierFn != nil {
		return f.listUsersByTierFn(ctx, a1)
	}
	return nil, nil
}

func (f *fakeStore) ListUsersCreatedSince(ctx context.Context, a1 time.Time) ([]store.User, error) {
	if f.listUsersCreatedSinceFn != nil {
		return f.listUsersCreatedSinceFn(ctx, a1)
	}
	return nil, nil
}

func (f *fakeStore) UpdateUserRole(ctx context.Context, a1 string, a2 string) error {
	if f.updateUserRoleFn != nil {
		return f.updateUserRoleFn(ctx, a1, a2)
	}
	return nil
}

func (f *fakeStore) UpdateUserStatus(ctx context.Context, a1 string, a2 string) error {
	if f.updateUserStatusFn != nil {
		return f.updateUserStatusFn(ctx, a1, a2)
	}
	return nil
}

func (f *fakeStore) UpdateUserTier(ctx context.Context, a1 string, a2 string) error {
	if f.updateUserTierFn != nil {
		return f.updateUserTierFn(ctx, a1, a2)
	}
	return nil
}

func (f *fakeStore) UpdateUserPassword(ctx context.Context, a1 string, a2 string) error {
	if f.updateUserPasswordFn != nil {
		return f.updateUserPasswordFn(ctx, a1, a2)
	}
	return nil
}

func (f *fakeStore) TouchUser(ctx context.Context, a1 string) error {
	if f.touchUserFn != nil {
		return f.touchUserFn(ctx, a1)
	}
	return nil
}

func (f *fakeStore) DashboardCounts(ctx context.Context, a1 time.Time) (store.DashboardCounts, error) {
	if f.dashboardCountsFn != nil {
		return f.dashboardCountsFn(ctx, a1)
	}
	return store.DashboardCounts{}, nil
}

func (f *fakeStore) SaveRefreshSession(ctx context.Context, a1 string, a2 string, a3 time.Time) error {
	if f.saveRefreshSessionFn != nil {
		return f.saveRefreshSessionFn(ctx, a1, a2, a3)
	}
	return nil
}

func (f *fakeStore) LookupRefreshSession(ctx context.Context, a1 string) (store.User, error) {
	if f.lookupRefreshSessionFn != nil {
		return f.lookupRefreshSessionFn(ctx, a1)
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) RevokeRefreshSession(ctx context.Context, a1 string) error {
	if f.revokeRefreshSessionFn != nil {
		return f.revokeRefreshSessionFn(ctx, a1)
	}
	return nil
}

func (f *fakeStore) RevokeAccessToken(ctx context.Context, a1 string, a2 time.Time) error {
	if f.revokeAccessTokenFn != nil {
		return f.revokeAccessTokenFn(ctx, a1, a2)
	}
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, a1 string) (bool, error) {
	if f.isAccessTokenRevokedFn != nil {
		return f.isAccessTokenRevokedFn(ctx, a1)
	}
	return false, nil
}

func (f *fakeStore) SavePasswordReset(ctx context.Context, a1 string, a2 string, a3 time.Time) error {
	if f.savePasswordResetFn != nil {
		return f.savePasswordResetFn(ctx, a1, a2, a3)
	}
	return nil
}

func (f *fakeStore) ConsumePasswordReset(ctx context.Context, a1 string) (string, error) {
	if f.consumePasswordResetFn != nil {
		return f.consumePasswordResetFn(ctx, a1)
	}
	return "", store.ErrNotFound
}

func (f *fakeStore) ListUsageEvents(ctx context.Context, a1 store.UsageFilter) ([]store.UsageEvent, error) {
	if f.listUsageEventsFn != nil {
		return f.listUsageEventsFn(ctx, a1)
	}
	return nil, nil
}

func (f *fakeStore) UsageByFeature(ctx context.Context, a1 string, a2 time.Time, a3 time.Time) (map[string]int, error) {
	if f.usageByFeatureFn != nil {
		return f.usageByFeatureFn(ctx, a1, a2, a3)
	}
	return nil, nil
}

func (f *fakeStore) ListPromptExecutions(ctx context.Context, a1 store.ExecutionFilter) ([]store.PromptExecution, error) {
	if f.listPromptExecutionsFn != nil {
		return f.listPromptExecutionsFn(ctx, a1)
	}
	return nil, nil
}

func (f *fakeStore) CreatePromptConfig(ctx context.Context, a1 store.PromptConfig, a2 store.PromptVersion) error {
	if f.createPromptConfigFn != nil {
		return f.createPromptConfigFn(ctx, a1, a2)
	}
	return nil
}

func (f *fakeStore) GetPromptConfig(ctx context.Context, a1 string) (store.PromptConfig, error) {
	if f.getPromptConfigFn != nil {
		return f.getPromptConfigFn(ctx, a1)
	}
	return store.PromptConfig{}, store.ErrNotFound
}

func (f *fakeStore) ListPromptConfigs(ctx context.Context, a1 bool) ([]store.PromptConfig, error) {
	if f.listPromptConfigsFn != nil {
		return f.listPromptConfigsFn(ctx, a1)
	}
	return nil, nil
}

func (f *fakeStore) AddPromptVersion(ctx context.Context, a1 store.PromptVersion, a2, a3 string) (int, error) {
	if f.addPromptVersionFn != nil {
		return f.addPromptVersionFn(ctx, a1, a2, a3)
	}
	return 0, nil
}

func (f *fakeStore) ListPromptVersions(ctx context.Context, a1 string) ([]store.PromptVersion, error) {
	if f.listPromptVersionsFn != nil {
		return f.listPromptVersionsFn(ctx, a1)
	}
	return nil, nil
}

func (f *fakeStore) GetPromptVersion(ctx context.Context, a1 string, a2 int) (store.PromptVersion, error) {
	if f.getPromptVersionFn != nil {
		return f.getPromptVersionFn(ctx, a1, a2)
	}
	return store.PromptVersion{}, store.ErrNotFound
}

func (f *fakeStore) SetActivePromptVersion(ctx context.Context, a1 string, a2 int) error {
	if f.setActivePromptVersionFn != nil {
		return f.setActivePromptVersionFn(ctx, a1, a2)
	}
	return nil
}

func (f *fakeStore) ArchivePromptConfig(ctx context.Context, a1 string) error {
	if f.archivePromptConfigFn != nil {
		return f.archivePromptConfigFn(ctx, a1)
	}
	return nil
}

func (f *fakeStore) ListTiers(ctx context.Context) ([]store.SubscriptionTier, error) {
	if f.listTiersFn != nil {
		return f.listTiersFn(ctx)
	}
	return nil, nil
}

func (f *fakeStore) GetTier(ctx context.Context, a1 string) (store.SubscriptionTier, error) {
	if f.getTierFn != nil {
		return f.getTierFn(ctx, a1)
	}
	return store.SubscriptionTier{}, store.ErrNotFound
}

func (f *fakeStore) GetDefaultTier(ctx context.Context) (store.SubscriptionTier, error) {
	if f.getDefaultTierFn != nil {
		return f.getDefaultTierFn(ctx)
	}
	return store.SubscriptionTier{}, store.ErrNotFound
}

func (f *fakeStore) CreateTier(ctx context.Context, a1 store.SubscriptionTier) error {
	if f.createTierFn != nil {
		return f.createTierFn(ctx, a1)
	}
	return nil
}

func (f *fakeStore) UpdateTier(ctx context.Context, a1 store.SubscriptionTier) error {
	if f.updateTierFn != nil {
		return f.updateTierFn(ctx, a1)
	}
	return nil
}

func (f *fakeStore) DeleteTier(ctx context.Context, a1 string) error {
	if f.deleteTierFn != nil {
		return f.deleteTierFn(ctx, a1)
	}
	return nil
}

func (f *fakeStore) ListOverrides(ctx context.Context, a1 string) ([]store.QuotaOverride, error) {
	if f.listOverridesFn != nil {
		return f.listOverridesFn(ctx, a1)
	}
	return nil, nil
}

func (f *fakeStore) CreateOverride(ctx context.Context, a1 store.QuotaOverride) error {
	if f.createOverrideFn != nil {
		return f.createOverrideFn(ctx, a1)
	}
	return nil
}

func (f *fakeStore) DeleteOverride(ctx context.Context, a1 string, a2 string) error {
	if f.deleteOverrideFn != nil {
		return f.deleteOverrideFn(ctx, a1, a2)
	}
	return nil
}

func (f *fakeStore) InsertNotification(ctx context.Context, a1 store.Notification) error {
	if f.insertNotificationFn != nil {
		return f.insertNotificationFn(ctx, a1)
	}
	return nil
}

func (f *fakeStore) UpdateNotificationStatus(ctx context.Context, a1 string, a2 string, a3 string, a4 time.Time) error {
	if f.updateNotificationStatusFn != nil {
		return f.updateNotificationStatusFn(ctx, a1, a2, a3, a4)
	}
	return nil
}

func (f *fakeStore) ListNotifications(ctx context.Context, a1 store.NotificationFilter) ([]store.Notification, int, error) {
	if f.listNotificationsFn != nil {
		return f.listNotificationsFn(ctx, a1)
	}
	return nil, 0, nil
}

func (f *fakeStore) NotificationCounts(ctx context.Context, a1 time.Time, a2 time.Time) ([]store.NotificationCount, error) {
	if f.notificationCountsFn != nil {
		return f.notificationCountsFn(ctx, a1, a2)
	}
	return nil, nil
}

func (f *fakeStore) ListVocabulary(ctx context.Context, a1 store.VocabularyFilter) ([]store.VocabularyTerm, int, error) {
	if f.listVocabularyFn != nil {
		return f.listVocabularyFn(ctx, a1)
	}
	return nil, 0, nil
}

func (f *fakeStore) GetVocabularyTerm(ctx context.Context, a1 string) (store.VocabularyTerm, error) {
	if f.getVocabularyTermFn != nil {
		return f.getVocabularyTermFn(ctx, a1)
	}
	return store.VocabularyTerm{}, store.ErrNotFound
}

func (f *fakeStore) FindVocabularyTerm(ctx context.Context, a1 string, a2 string) (store.VocabularyTerm, error) {
	if f.findVocabularyTermFn != nil {
		return f.findVocabularyTermFn(ctx, a1, a2)
	}
	return store.VocabularyTerm{}, store.ErrNotFound
}

func (f *fakeStore) CreateVocabularyTerm(ctx context.Context, a1 store.VocabularyTerm) error {
	if f.createVocabularyTermFn != nil {
		return f.createVocabularyTermFn(ctx, a1)
	}
	return nil
}

func (f *fakeStore) UpdateVocabularyTerm(ctx context.Context, a1 store.VocabularyTerm) error {
	if f.updateVocabularyTermFn != nil {
		return f.updateVocabularyTermFn(ctx, a1)
	}
	return nil
}

func (f *fakeStore) DeleteVocabularyTerm(ctx context.Context, a1 string) error {
	if f.deleteVocabularyTermFn != nil {
		return f.deleteVocabularyTermFn(ctx, a1)
	}
	return nil
}

func (f *fakeStore) ListContent(ctx context.Context, a1 store.ContentFilter) ([]store.ContentBlock, error) {
	if f.listContentFn != nil {
		return f.listContentFn(ctx, a1)
	}
	return nil, nil
}

func (f *fakeStore) GetContent(ctx context.Context, a1 string) (store.ContentBlock, error) {
	if f.getContentFn != nil {
		return f.getContentFn(ctx, a1)
	}
	return store.ContentBlock{}, store.ErrNotFound
}

func (f *fakeStore) CreateContent(ctx context.Context, a1 store.ContentBlock) error {
	if f.createContentFn != nil {
		return f.createContentFn(ctx, a1)
	}
	return nil
}

func (f *fakeStore) UpdateContent(ctx context.Context, a1 store.ContentBlock) error {
	if f.updateContentFn != nil {
		return f.updateContentFn(ctx, a1)
	}
	return nil
}

func (f *fakeStore) SetContentPublished(ctx context.Context, a1 string, a2 bool, a3 string) error {
	if f.setContentPublishedFn != nil {
		return f.setContentPublishedFn(ctx, a1, a2, a3)
	}
	return nil
}

func (f *fakeStore) SetContentImage(ctx context.Context, a1 string, a2 string, a3 string) error {
	if f.setContentImageFn != nil {
		return f.setContentImageFn(ctx, a1, a2, a3)
	}
	return nil
}

func (f *fakeStore) DeleteContent(ctx context.Context, a1 string) error {
	if f.deleteContentFn != nil {
		return f.deleteContentFn(ctx, a1)
	}
	return nil
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, fs *fakeStore) *Service {
	t.Helper()
	return &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret-with-enough-bytes-0123456789",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 24 * time.Hour,
			PublicURL:  "https://admin.example.test",
		},
		store:     fs,
		sessions:  fs,
		prompts:   promptrepo.New(t.TempDir()),
		pricing:   analytics.DefaultPricing(),
		passwords: authpw.NewService(fs).WithCost(bcrypt.MinCost),
		logger:    zap.NewNop(),
		now:       func() time.Time { return testNow },
	}
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

// withUsers serves GetUserByID from users. Missing statuses default to active.
func withUsers(fs *fakeStore, users ...store.User) *fakeStore {
	byID := make(map[string]store.User, len(users))
	for _, u := range users {
		if u.Status == "" {
			u.Status = store.UserStatusActive
		}
		byID[u.ID] = u
	}
	fs.getUserByIDFn = func(_ context.Context, id string) (store.User, error) {
		u, ok := byID[id]
		if !ok {
			return store.User{}, store.ErrNotFound
		}
		return u, nil
	}
	return fs
}

func sessionFor(t *testing.T, svc *Service, user store.User) Session {
	t.Helper()
	session, err := svc.issueSession(context.Background(), user)
	require.NoError(t, err)
	return session
}

type sentMail struct {
	to, name, title, body string
}

type fakeMailer struct {
	configured bool
	fail       map[string]error

	mu    sync.Mutex
	sent  []sentMail
	reset []string
}

func (m *fakeMailer) IsConfigured() bool { return m.configured }

func (m *fakeMailer) SendPasswordResetEmail(to, _, resetURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset = append(m.reset, to+" "+resetURL)
	return nil
}

func (m *fakeMailer) SendNotificationEmail(to, userName, title, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[to]; err != nil {
		return err
	}
	m.sent = append(m.sent, sentMail{to: to, name: userName, title: title, body: body})
	return nil
}

type fakeSearch struct {
	results []search.Result

	mu         sync.Mutex
	queries    []search.Query
	vocabulary []search.VocabularyRecord
	users      []search.UserRecord
	deleted    []string
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return search.Response{Results: f.results, Total: len(f.results), Query: q.Text}
}

func (f *fakeSearch) Backend() string { return "postgres" }

func (f *fakeSearch) IndexVocabulary(v search.VocabularyRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vocabulary = append(f.vocabulary, v)
}

func (f *fakeSearch) DeleteVocabulary(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

func (f *fakeSearch) IndexUser(u search.UserRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, u)
}

func (f *fakeSearch) DeleteUser(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

type fakeAssets struct {
	enabled bool
	objects map[string][]byte
	deleted []string
}

func (f *fakeAssets) Enabled() bool { return f.enabled }

func (f *fakeAssets) Upload(_ context.Context, key, _ string, r io.Reader, _ int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = data
	return nil
}

func (f *fakeAssets) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://assets.example.test/" + key + "?sig=1", nil
}

func (f *fakeAssets) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	delete(f.objects, key)
	return nil
}
