package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/jurismatch/backend/internal/auth"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubValidator struct {
	id  auth.Identity
	err error
	got string
}

func (s *stubValidator) ValidateToken(token string) (auth.Identity, error) {
	s.got = token
	return s.id, s.err
}

// okHandler writes 200 and the caller's role (for assertions).
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if id, ok := IdentityFromCtx(r.Context()); ok {
		w.Write([]byte(id.Role))
	}
})

func serve(h http.Handler, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// Authenticate
// ---------------------------------------------------------------------------

func TestAuthenticate_ValidToken(t *testing.T) {
	v := &stubValidator{id: auth.Identity{UserID: uuid.New(), Role: auth.RoleLawyer}}

	rec := serve(Authenticate(v)(okHandler), "Bearer tok-123")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != auth.RoleLawyer {
		t.Errorf("expected role in body, got %q", rec.Body.String())
	}
	if v.got != "tok-123" {
		t.Errorf("expected token tok-123, got %q", v.got)
	}
}

func TestAuthenticate_MissingHeader(t *testing.T) {
	rec := serve(Authenticate(&stubValidator{})(okHandler), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"code":"UNAUTHORIZED"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestAuthenticate_MalformedHeader(t *testing.T) {
	rec := serve(Authenticate(&stubValidator{})(okHandler), "Basic abc")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthenticate_InvalidToken(t *testing.T) {
	v := &stubValidator{err: errors.New("expired")}
	rec := serve(Authenticate(v)(okHandler), "bearer tok")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// RequireRole
// ---------------------------------------------------------------------------

func TestRequireRole(t *testing.T) {
	cases := []struct {
		name string
		role string
		want int
	}{
		{"admin allowed", auth.RoleAdmin, http.StatusOK},
		{"lawyer forbidden", auth.RoleLawyer, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := &stubValidator{id: auth.Identity{UserID: uuid.New(), Role: tc.role}}
			h := Authenticate(v)(RequireRole(auth.RoleAdmin)(okHandler))
			rec := serve(h, "Bearer tok")
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestRequireRole_NoIdentity(t *testing.T) {
	rec := serve(RequireRole(auth.RoleAdmin)(okHandler), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
