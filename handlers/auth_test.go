package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIssueTokenRoundTrip(t *testing.T) {
	token := IssueToken("top-secret", "owner-42")

	ownerID, err := parseBearerToken("top-secret", token)
	if err != nil {
		t.Fatalf("parseBearerToken: %v", err)
	}
	if ownerID != "owner-42" {
		t.Fatalf("ownerID = %q, want %q", ownerID, "owner-42")
	}
}

func TestParseBearerTokenRejectsTamperedSignature(t *testing.T) {
	token := IssueToken("top-secret", "owner-42")
	tampered := token[:len(token)-1] + "0"

	if _, err := parseBearerToken("top-secret", tampered); err == nil {
		t.Fatal("expected tampered token to be rejected")
	}
}

func TestParseBearerTokenRejectsWrongSecret(t *testing.T) {
	token := IssueToken("top-secret", "owner-42")

	if _, err := parseBearerToken("a-different-secret", token); err == nil {
		t.Fatal("expected token signed with a different secret to be rejected")
	}
}

func TestParseBearerTokenRejectsMalformedToken(t *testing.T) {
	cases := []string{"", "no-dot-here", ".missing-owner", "owner-42."}
	for _, raw := range cases {
		if _, err := parseBearerToken("top-secret", raw); err == nil {
			t.Fatalf("expected %q to be rejected as malformed", raw)
		}
	}
}

func TestRequireBearerAuthRejectsMissingHeader(t *testing.T) {
	middleware := RequireBearerAuth("top-secret", testLogger())
	called := false
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	request := httptest.NewRequest(http.MethodGet, "/api/previews", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if called {
		t.Fatal("handler should not be called without a bearer token")
	}
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
}

func TestRequireBearerAuthAcceptsValidTokenAndSetsContext(t *testing.T) {
	secret := "top-secret"
	token := IssueToken(secret, "owner-42")

	middleware := RequireBearerAuth(secret, testLogger())
	var capturedOwnerID string
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedOwnerID = ownerIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	request := httptest.NewRequest(http.MethodGet, "/api/previews", nil)
	request.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusOK)
	}
	if capturedOwnerID != "owner-42" {
		t.Fatalf("capturedOwnerID = %q, want %q", capturedOwnerID, "owner-42")
	}
}

func TestRequireBearerAuthRejectsInvalidSignature(t *testing.T) {
	middleware := RequireBearerAuth("top-secret", testLogger())
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called with an invalid signature")
	}))

	request := httptest.NewRequest(http.MethodGet, "/api/previews", nil)
	request.Header.Set("Authorization", "Bearer owner-42.deadbeef")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
}
