package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestRequireStaff_AllowsValidToken(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{
			UID: "stf-123",
			Claims: map[string]any{
				"role":    []any{"Cashier", "staff", "cashier"},
				"email":   "cashier@example.com",
				"name":    "Lan",
				"storeId": "store-hn-01",
			},
		},
	}

	handlerCalled := false
	handler := NewAuthenticator(verifier).RequireStaff(RoleCashier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "stf-123" || StaffID(r.Context()) != "stf-123" {
			t.Fatalf("unexpected uid: %s", identity.UID)
		}
		if len(identity.Roles) != 2 || !identity.HasRole(RoleCashier) {
			t.Fatalf("expected deduplicated roles, got %v", identity.Roles)
		}
		if identity.StoreID != "store-hn-01" || identity.Email != "cashier@example.com" || identity.Name != "Lan" {
			t.Fatalf("unexpected claims %+v", identity)
		}
		if identity.Token() == nil {
			t.Fatalf("expected token on identity")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token-value")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent || !handlerCalled {
		t.Fatalf("expected handler to run with 204, got %d", rr.Code)
	}
	if verifier.received != "token-value" {
		t.Fatalf("expected verifier to receive token-value, got %s", verifier.received)
	}
}

func TestRequireStaff_MissingHeader(t *testing.T) {
	handler := NewAuthenticator(&stubTokenVerifier{}).RequireStaff()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute without a token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized || decodeError(t, rr) != "unauthenticated" {
		t.Fatalf("expected 401 unauthenticated, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestRequireStaff_ExpiredToken(t *testing.T) {
	handler := NewAuthenticator(&stubTokenVerifier{err: ErrTokenExpired}).RequireStaff()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute on expired token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer expired-token")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if code := decodeError(t, rr); code != "token_expired" {
		t.Fatalf("expected token_expired error, got %v", code)
	}
}

func TestRequireStaff_MissingRoleUsesFallback(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "stf-456", Claims: map[string]any{}}}

	handler := NewAuthenticator(verifier).RequireStaff()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		if len(identity.Roles) != 1 || identity.Roles[0] != RoleStaff {
			t.Fatalf("expected fallback role %q, got %v", RoleStaff, identity.Roles)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer missing-role-token")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestRequireStaff_InsufficientRole(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "stf-789", Claims: map[string]any{"role": "staff"}}}

	handler := NewAuthenticator(verifier).RequireStaff(RoleManager)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute without manager role")
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer staff-token")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden || decodeError(t, rr) != "insufficient_role" {
		t.Fatalf("expected 403 insufficient_role, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestTrustedHeaderAndRequireRole(t *testing.T) {
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if StaffID(r.Context()) != "stf-local" {
			t.Fatalf("expected header staff id, got %q", StaffID(r.Context()))
		}
		w.WriteHeader(http.StatusNoContent)
	})
	handler := TrustedHeader()(RequireRole(RoleManager)(final))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(StaffHeader, " stf-local ")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without staff header, got %d", rr.Code)
	}

	restricted := TrustedHeader(RoleCashier)(RequireRole(RoleManager)(final))
	rr = httptest.NewRecorder()
	restricted.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier-only identity, got %d", rr.Code)
	}
}
