package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// mintToken signs claims the same way the external identity service is
// expected to, for tests to exercise decode()/requireAuth() without a real
// token issuer.
func mintToken(t *testing.T, secret string, c Claims) string {
	t.Helper()
	payload, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	sig := mac.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func TestTokenAuthenticatorDecode(t *testing.T) {
	auth := newTokenAuthenticator("shared-secret")

	t.Run("valid token", func(t *testing.T) {
		token := mintToken(t, "shared-secret", Claims{UserID: "farmer-1", Role: "farmer"})
		c, err := auth.decode(token)
		if err != nil {
			t.Fatalf("decode() error = %v", err)
		}
		if c.UserID != "farmer-1" || c.Role != "farmer" {
			t.Errorf("decode() = %+v, want UserID=farmer-1 Role=farmer", c)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := mintToken(t, "some-other-secret", Claims{UserID: "farmer-1", Role: "farmer"})
		if _, err := auth.decode(token); err == nil {
			t.Error("decode() error = nil, want signature mismatch error")
		}
	})

	t.Run("malformed token", func(t *testing.T) {
		if _, err := auth.decode("not-a-valid-token"); err == nil {
			t.Error("decode() error = nil, want malformed-token error")
		}
	})

	t.Run("missing required claims", func(t *testing.T) {
		token := mintToken(t, "shared-secret", Claims{})
		if _, err := auth.decode(token); err == nil {
			t.Error("decode() error = nil, want missing-claims error")
		}
	})
}

func TestRequireAuthRejectsMissingOrInvalidToken(t *testing.T) {
	s := &Server{authenticator: newTokenAuthenticator("shared-secret")}
	handler := s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("no token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whatever", nil)
		rr := httptest.NewRecorder()
		handler(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		token := mintToken(t, "shared-secret", Claims{UserID: "farmer-1", Role: "farmer"})
		req := httptest.NewRequest(http.MethodGet, "/whatever", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		handler(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
		}
	})

	t.Run("token via query parameter", func(t *testing.T) {
		token := mintToken(t, "shared-secret", Claims{UserID: "middleman-1", Role: "middleman"})
		req := httptest.NewRequest(http.MethodGet, "/whatever?token="+token, nil)
		rr := httptest.NewRecorder()
		handler(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
		}
	})
}

func TestRequireRoleRejectsWrongRole(t *testing.T) {
	s := &Server{authenticator: newTokenAuthenticator("shared-secret")}
	handler := s.requireRole([]string{"farmer"}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("wrong role", func(t *testing.T) {
		token := mintToken(t, "shared-secret", Claims{UserID: "buyer-1", Role: "buyer"})
		req := httptest.NewRequest(http.MethodPost, "/whatever", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		handler(rr, req)
		if rr.Code != http.StatusForbidden {
			t.Errorf("status = %d, want %d", rr.Code, http.StatusForbidden)
		}
	})

	t.Run("matching role", func(t *testing.T) {
		token := mintToken(t, "shared-secret", Claims{UserID: "farmer-1", Role: "farmer"})
		req := httptest.NewRequest(http.MethodPost, "/whatever", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		handler(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
		}
	})
}
