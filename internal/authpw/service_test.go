package authpw

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"sircharge/admin/internal/auth"
	"sircharge/admin/internal/store"
)

type resetRecord struct {
	userID    string
	expiresAt time.Time
	used      bool
}

// mockUserStore is a mock implementation of UserStore for testing
type mockUserStore struct {
	users  map[string]store.User // by email
	resets map[string]resetRecord
	now    time.Time
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:  make(map[string]store.User),
		resets: make(map[string]resetRecord),
		now:    time.Now(),
	}
}

func (m *mockUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	if user, ok := m.users[strings.ToLower(email)]; ok {
		return user, nil
	}
	return store.User{}, store.ErrNotFound
}

func (m *mockUserStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	for email, user := range m.users {
		if user.ID == userID {
			user.PasswordHash = passwordHash
			m.users[email] = user
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *mockUserStore) SavePasswordReset(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	m.resets[tokenHash] = resetRecord{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *mockUserStore) ConsumePasswordReset(_ context.Context, tokenHash string) (string, error) {
	rec, ok := m.resets[tokenHash]
	if !ok || rec.used || !rec.expiresAt.After(m.now) {
		return "", store.ErrNotFound
	}
	rec.used = true
	m.resets[tokenHash] = rec
	return rec.userID, nil
}

func newTestService(t *testing.T) (*Service, *mockUserStore) {
	t.Helper()
	ms := newMockUserStore()
	svc := NewService(ms).WithCost(bcrypt.MinCost)

	hash, err := svc.HashPassword("correct-horse")
	require.NoError(t, err)
	ms.users["ops@example.com"] = store.User{ID: "usr_ops", Email: "ops@example.com", Role: "editor", Status: store.UserStatusActive, PasswordHash: hash}
	ms.users["off@example.com"] = store.User{ID: "usr_off", Email: "off@example.com", Role: "admin", Status: store.UserStatusDisabled, PasswordHash: hash}
	ms.users["app@example.com"] = store.User{ID: "usr_app", Email: "app@example.com", Role: "user", Status: store.UserStatusActive, PasswordHash: hash}
	ms.users["nopw@example.com"] = store.User{ID: "usr_nopw", Email: "nopw@example.com", Role: "admin", Status: store.UserStatusActive}
	return svc, ms
}

func TestSignIn(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.SignIn(ctx, " OPS@example.com ", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "usr_ops", user.ID)

	cases := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{name: "missing", email: "", password: "x", want: ErrMissingCredentials},
		{name: "unknown email", email: "who@example.com", password: "correct-horse", want: ErrInvalidCredentials},
		{name: "wrong password", email: "ops@example.com", password: "wrong-horse", want: ErrInvalidCredentials},
		{name: "disabled", email: "off@example.com", password: "correct-horse", want: ErrAccountDisabled},
		{name: "consumer", email: "app@example.com", password: "correct-horse", want: ErrNotOperator},
		{name: "no password", email: "nopw@example.com", password: "correct-horse", want: ErrInvalidCredentials},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SignIn(ctx, tc.email, tc.password)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestPasswordResetFlow(t *testing.T) {
	svc, ms := newTestService(t)
	ctx := context.Background()

	token, user, err := svc.RequestPasswordReset(ctx, "ops@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, "usr_ops", user.ID)
	rec, ok := ms.resets[auth.HashToken(token)]
	require.True(t, ok, "only the hash of the token is stored")
	assert.WithinDuration(t, time.Now().Add(ResetTokenTTL), rec.expiresAt, time.Minute)

	assert.ErrorIs(t, svc.ResetPassword(ctx, token, "short"), ErrWeakPassword)

	require.NoError(t, svc.ResetPassword(ctx, token, "battery-staple"))
	_, err = svc.SignIn(ctx, "ops@example.com", "battery-staple")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.ResetPassword(ctx, token, "another-pass"), ErrInvalidResetToken, "tokens are single use")
}

func TestRequestPasswordResetUnknownEmail(t *testing.T) {
	svc, ms := newTestService(t)
	token, _, err := svc.RequestPasswordReset(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Empty(t, ms.resets)
}

func TestResetPasswordExpiredToken(t *testing.T) {
	svc, ms := newTestService(t)
	ms.resets[auth.HashToken("stale")] = resetRecord{userID: "usr_ops", expiresAt: time.Now().Add(-time.Minute)}
	assert.ErrorIs(t, svc.ResetPassword(context.Background(), "stale", "battery-staple"), ErrInvalidResetToken)
}

func TestGenerateTemporaryPassword(t *testing.T) {
	pw, err := GenerateTemporaryPassword()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(pw), MinPasswordLength)
}
