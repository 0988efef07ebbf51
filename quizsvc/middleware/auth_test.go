package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dailyquiz/quizsvc/auth"
)

const testSecret = "01234567890123456789012345678901"

func newTestIssuer(t *testing.T) *auth.Issuer {
	t.Helper()
	iss, err := auth.NewIssuer(testSecret)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return iss
}

func TestAuthRejectsMissingHeader(t *testing.T) {
	iss := newTestIssuer(t)
	handler := Auth(iss)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached without a token")
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/quiz/today", nil)
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAuthRejectsMalformedHeader(t *testing.T) {
	iss := newTestIssuer(t)
	handler := Auth(iss)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/quiz/today", nil)
	req.Header.Set("Authorization", "NotBearer sometoken")
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	iss := newTestIssuer(t)
	handler := Auth(iss)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/quiz/today", nil)
	req.Header.Set("Authorization", "Bearer garbage.token.here")
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAuthAcceptsValidTokenAndPopulatesContext(t *testing.T) {
	iss := newTestIssuer(t)
	token, _, err := iss.Generate("user-1", "PLAYER")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var gotUserID, gotRole string
	handler := Auth(iss)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = UserIDFromContext(r.Context())
		gotRole, _ = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/quiz/today", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotUserID != "user-1" || gotRole != "PLAYER" {
		t.Errorf("expected user-1/PLAYER in context, got %s/%s", gotUserID, gotRole)
	}
}

func TestRequireAdminRejectsNonAdminRole(t *testing.T) {
	iss := newTestIssuer(t)
	token, _, _ := iss.Generate("user-1", "PLAYER")

	reached := false
	handler := Auth(iss)(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	})))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/quiz", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
	if reached {
		t.Error("expected the admin-only handler to never run")
	}
}

func TestRequireAdminAllowsAdminRole(t *testing.T) {
	iss := newTestIssuer(t)
	token, _, _ := iss.Generate("admin-1", "ADMIN")

	reached := false
	handler := Auth(iss)(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/quiz", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(rec, req)

	if !reached || rec.Code != http.StatusOK {
		t.Errorf("expected the admin handler to run and return 200, got reached=%v code=%d", reached, rec.Code)
	}
}
