package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"sircharge/admin/internal/store"
)

const testPassword = "correct-horse"

// authStore is a fakeStore with working refresh sessions and revocations.
type authStore struct {
	*fakeStore
	mu       sync.Mutex
	refresh  map[string]string
	revoked  map[string]bool
	resets   map[string]string
	password map[string]string
}

func newAuthStore(t *testing.T, users ...store.User) *authStore {
	t.Helper()
	hash := hashPassword(t, testPassword)
	byEmail := map[string]store.User{}
	for i := range users {
		if users[i].PasswordHash == "" {
			users[i].PasswordHash = hash
		}
		if users[i].Status == "" {
			users[i].Status = store.UserStatusActive
		}
		byEmail[users[i].Email] = users[i]
	}
	as := &authStore{
		fakeStore: withUsers(&fakeStore{}, users...),
		refresh:   map[string]string{},
		revoked:   map[string]bool{},
		resets:    map[string]string{},
		password:  map[string]string{},
	}
	as.getUserByEmailFn = func(_ context.Context, email string) (store.User, error) {
		u, ok := byEmail[email]
		if !ok {
			return store.User{}, store.ErrNotFound
		}
		return u, nil
	}
	as.saveRefreshSessionFn = func(_ context.Context, hash, userID string, _ time.Time) error {
		as.mu.Lock()
		defer as.mu.Unlock()
		as.refresh[hash] = userID
		return nil
	}
	as.lookupRefreshSessionFn = func(_ context.Context, hash string) (store.User, error) {
		as.mu.Lock()
		defer as.mu.Unlock()
		id, ok := as.refresh[hash]
		if !ok {
			return store.User{}, store.ErrNotFound
		}
		return store.User{ID: id}, nil
	}
	as.revokeRefreshSessionFn = func(_ context.Context, hash string) error {
		as.mu.Lock()
		defer as.mu.Unlock()
		delete(as.refresh, hash)
		return nil
	}
	as.revokeAccessTokenFn = func(_ context.Context, jti string, _ time.Time) error {
		as.mu.Lock()
		defer as.mu.Unlock()
		as.revoked[jti] = true
		return nil
	}
	as.isAccessTokenRevokedFn = func(_ context.Context, jti string) (bool, error) {
		as.mu.Lock()
		defer as.mu.Unlock()
		return as.revoked[jti], nil
	}
	as.savePasswordResetFn = func(_ context.Context, hash, userID string, _ time.Time) error {
		as.resets[hash] = userID
		return nil
	}
	as.consumePasswordResetFn = func(_ context.Context, hash string) (string, error) {
		id, ok := as.resets[hash]
		if !ok {
			return "", store.ErrNotFound
		}
		delete(as.resets, hash)
		return id, nil
	}
	as.updateUserPasswordFn = func(_ context.Context, userID, hash string) error {
		as.password[userID] = hash
		return nil
	}
	return as
}

func newAuthServer(t *testing.T, users ...store.User) (*Service, *HTTPServer, *authStore) {
	t.Helper()
	as := newAuthStore(t, users...)
	svc, server := newTestServer(t, as.fakeStore)
	return svc, server, as
}

func postJSON(path, body, token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func getWithToken(path, token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

var (
	adminUser    = store.User{ID: "usr_admin", Email: "ops@example.com", DisplayName: "Avery Ops", Role: "admin"}
	viewerUser   = store.User{ID: "usr_viewer", Email: "viewer@example.com", DisplayName: "Vic", Role: "viewer"}
	consumerUser = store.User{ID: "usr_app", Email: "app@example.com", DisplayName: "App User", Role: "user"}
	disabledUser = store.User{ID: "usr_gone", Email: "gone@example.com", DisplayName: "Gone", Role: "editor", Status: store.UserStatusDisabled}
)

func signIn(t *testing.T, server *HTTPServer, email string) map[string]any {
	t.Helper()
	rr := serve(server, postJSON("/api/auth/signin", `{"email":"`+email+`","password":"`+testPassword+`"}`, ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected sign in to succeed, got %d body=%s", rr.Code, rr.Body.String())
	}
	return decodeResponse(t, rr)
}

func TestSignInAndSession(t *testing.T) {
	_, server, _ := newAuthServer(t, adminUser)

	payload := signIn(t, server, adminUser.Email)
	token, _ := payload["accessToken"].(string)
	if token == "" || payload["refreshToken"] == "" {
		t.Fatalf("expected token pair, got %v", payload)
	}
	user := payload["user"].(map[string]any)
	if user["role"] != "admin" || user["id"] != adminUser.ID {
		t.Errorf("unexpected user payload %v", user)
	}

	rr := serve(server, getWithToken("/api/session", token))
	session := decodeResponse(t, rr)
	if session["authenticated"] != true || session["userName"] != "Avery Ops" {
		t.Fatalf("expected authenticated session, got %v", session)
	}

	rr = serve(server, getWithToken("/api/session", ""))
	if decodeResponse(t, rr)["authenticated"] != false {
		t.Fatal("expected anonymous session without a token")
	}
}

func TestSignInFailures(t *testing.T) {
	_, server, _ := newAuthServer(t, adminUser, consumerUser, disabledUser)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{name: "wrong password", body: `{"email":"ops@example.com","password":"nope-nope"}`, status: http.StatusUnauthorized, code: "INVALID_CREDENTIALS"},
		{name: "unknown email", body: `{"email":"who@example.com","password":"correct-horse"}`, status: http.StatusUnauthorized, code: "INVALID_CREDENTIALS"},
		{name: "app user", body: `{"email":"app@example.com","password":"correct-horse"}`, status: http.StatusUnauthorized, code: "INVALID_CREDENTIALS"},
		{name: "disabled", body: `{"email":"gone@example.com","password":"correct-horse"}`, status: http.StatusForbidden, code: "ACCOUNT_DISABLED"},
		{name: "missing fields", body: `{"email":""}`, status: http.StatusBadRequest, code: "MISSING_CREDENTIALS"},
		{name: "bad json", body: `{`, status: http.StatusBadRequest, code: "INVALID_BODY"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(server, postJSON("/api/auth/signin", tc.body, ""))
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d body=%s", tc.status, rr.Code, rr.Body.String())
			}
			if code := decodeResponse(t, rr)["code"]; code != tc.code {
				t.Errorf("expected code %s, got %v", tc.code, code)
			}
		})
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	_, server, _ := newAuthServer(t, adminUser)
	first := signIn(t, server, adminUser.Email)
	oldRefresh := first["refreshToken"].(string)

	rr := serve(server, postJSON("/api/session/refresh", `{"refreshToken":"`+oldRefresh+`"}`, ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected refresh to succeed, got %d body=%s", rr.Code, rr.Body.String())
	}
	second := decodeResponse(t, rr)
	if second["refreshToken"] == oldRefresh {
		t.Fatal("expected a new refresh token")
	}

	rr = serve(server, postJSON("/api/session/refresh", `{"refreshToken":"`+oldRefresh+`"}`, ""))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected reused refresh token to be rejected, got %d", rr.Code)
	}
}

func TestRefreshRejectsDemotedUser(t *testing.T) {
	_, server, as := newAuthServer(t, adminUser)
	first := signIn(t, server, adminUser.Email)

	demoted := adminUser
	demoted.Role = "user"
	demoted.Status = store.UserStatusActive
	withUsers(as.fakeStore, demoted)

	rr := serve(server, postJSON("/api/session/refresh", `{"refreshToken":"`+first["refreshToken"].(string)+`"}`, ""))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a user without admin access, got %d", rr.Code)
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	_, server, as := newAuthServer(t, adminUser)
	payload := signIn(t, server, adminUser.Email)
	token := payload["accessToken"].(string)

	rr := serve(server, postJSON("/api/session/logout", `{"refreshToken":"`+payload["refreshToken"].(string)+`"}`, token))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected logout to succeed, got %d", rr.Code)
	}
	if len(as.refresh) != 0 {
		t.Errorf("expected refresh session to be revoked, %d left", len(as.refresh))
	}

	rr = serve(server, getWithToken("/api/admin/dashboard", token))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to be rejected, got %d", rr.Code)
	}
}

func TestGuardRejectsMissingAndForeignTokens(t *testing.T) {
	_, server, _ := newAuthServer(t, adminUser)

	rr := serve(server, getWithToken("/api/admin/tiers", ""))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	rr = serve(server, getWithToken("/api/admin/tiers", "not-a-jwt"))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rr.Code)
	}
}

func TestDisabledOperatorLosesAccessImmediately(t *testing.T) {
	svc, server, as := newAuthServer(t, adminUser)
	session := sessionFor(t, svc, adminUser)

	disabled := adminUser
	disabled.Status = store.UserStatusDisabled
	withUsers(as.fakeStore, disabled)

	rr := serve(server, getWithToken("/api/admin/tiers", session.Token))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after the account is disabled, got %d", rr.Code)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	_, server, as := newAuthServer(t, adminUser)

	rr := serve(server, postJSON("/api/auth/reset-password/request", `{"email":"ops@example.com"}`, ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	devToken, _ := decodeResponse(t, rr)["devResetToken"].(string)
	if devToken == "" {
		t.Fatal("expected a dev reset token when email is not configured")
	}

	rr = serve(server, postJSON("/api/auth/reset-password", `{"token":"`+devToken+`","password":"short"}`, ""))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected weak password to be rejected, got %d", rr.Code)
	}

	rr = serve(server, postJSON("/api/auth/reset-password", `{"token":"`+devToken+`","password":"a-much-better-one"}`, ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected reset to succeed, got %d body=%s", rr.Code, rr.Body.String())
	}
	if as.password[adminUser.ID] == "" {
		t.Error("expected the password hash to be updated")
	}

	rr = serve(server, postJSON("/api/auth/reset-password", `{"token":"`+devToken+`","password":"a-much-better-one"}`, ""))
	if code := decodeResponse(t, rr)["code"]; code != "INVALID_RESET_TOKEN" {
		t.Fatalf("expected reset tokens to be single use, got %v", code)
	}
}

func TestPasswordResetMailsLink(t *testing.T) {
	svc, server, _ := newAuthServer(t, adminUser)
	mail := &fakeMailer{configured: true}
	svc.mailer = mail

	rr := serve(server, postJSON("/api/auth/reset-password/request", `{"email":"ops@example.com"}`, ""))
	response := decodeResponse(t, rr)
	if _, exists := response["devResetToken"]; exists {
		t.Fatal("dev token must not be returned when email is configured")
	}
	if len(mail.reset) != 1 || !strings.Contains(mail.reset[0], "https://admin.example.test/reset-password?token=") {
		t.Fatalf("expected a reset link to be mailed, got %v", mail.reset)
	}

	rr = serve(server, postJSON("/api/auth/reset-password/request", `{"email":"nobody@example.com"}`, ""))
	if rr.Code != http.StatusOK || len(mail.reset) != 1 {
		t.Fatalf("unknown emails must look the same and send nothing, got %d", rr.Code)
	}
}
