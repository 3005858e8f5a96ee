package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"sircharge/admin/internal/authpw"
	"sircharge/admin/internal/store"
)

func TestEnsureAdminPromotesExistingAccount(t *testing.T) {
	user := store.User{ID: "usr_1", Email: "sam@example.com", DisplayName: "Sam", Role: "support", Status: store.UserStatusDisabled}
	var roles, statuses []string
	fs := &fakeStore{
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			assert.Equal(t, "sam@example.com", email)
			return user, nil
		},
		updateUserRoleFn: func(_ context.Context, id, role string) error {
			roles = append(roles, role)
			user.Role = role
			return nil
		},
		updateUserStatusFn: func(_ context.Context, id, status string) error {
			statuses = append(statuses, status)
			user.Status = status
			return nil
		},
	}
	fs.getUserByIDFn = func(context.Context, string) (store.User, error) { return user, nil }
	svc := newTestService(t, fs)

	got, password, err := svc.EnsureAdmin(context.Background(), " Sam@Example.com ", "")
	require.NoError(t, err)
	assert.Empty(t, password)
	assert.Equal(t, "admin", got.Role)
	assert.Equal(t, []string{"admin"}, roles)
	assert.Equal(t, []string{store.UserStatusActive}, statuses)
}

func TestEnsureAdminCreatesMissingAccount(t *testing.T) {
	var created store.User
	svc := newTestService(t, &fakeStore{
		createUserFn: func(_ context.Context, u store.User) (store.User, error) {
			created = u
			return u, nil
		},
	})

	got, password, err := svc.EnsureAdmin(context.Background(), "new@example.com", "New Admin")
	require.NoError(t, err)
	assert.Equal(t, "admin", got.Role)
	assert.NotEmpty(t, password)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte(password)))

	_, _, err = svc.EnsureAdmin(context.Background(), "new@example.com", "")
	assert.True(t, isValidationFailure(err), "display name is required")
}

func TestSetPassword(t *testing.T) {
	var hash string
	svc := newTestService(t, &fakeStore{
		getUserByEmailFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: "usr_1"}, nil
		},
		updateUserPasswordFn: func(_ context.Context, id, h string) error {
			assert.Equal(t, "usr_1", id)
			hash = h
			return nil
		},
	})

	require.NoError(t, svc.SetPassword(context.Background(), "sam@example.com", "long-enough-pw"))
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("long-enough-pw")))

	err := svc.SetPassword(context.Background(), "sam@example.com", "short")
	assert.ErrorIs(t, err, authpw.ErrWeakPassword)

	missing := newTestService(t, &fakeStore{})
	assert.ErrorIs(t, missing.SetPassword(context.Background(), "nobody@example.com", "long-enough-pw"), store.ErrNotFound)
}
