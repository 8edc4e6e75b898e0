package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/previewd/previewd/models"
)

const webhookTestSecret = "webhook-secret"

func signedWebhookRequest(t *testing.T, payload []byte) *http.Request {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(webhookTestSecret))
	mac.Write(payload)
	signature := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	request := httptest.NewRequest(http.MethodPost, "/api/webhooks/source", bytes.NewReader(payload))
	request.Header.Set("X-Hub-Signature-256", signature)
	return request
}

func TestHandleSourceWebhookRejectsBadSignature(t *testing.T) {
	s := newTestStore(t)
	orch := newTestOrchestrator(t, s)
	handler := NewWebhookHandler(orch, s, webhookTestSecret, testLogger())

	request := httptest.NewRequest(http.MethodPost, "/api/webhooks/source", bytes.NewReader([]byte(`{}`)))
	request.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	recorder := httptest.NewRecorder()

	handler.HandleSourceWebhook(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
}

func TestHandleSourceWebhookAcknowledgesOpenedWithoutActing(t *testing.T) {
	s := newTestStore(t)
	orch := newTestOrchestrator(t, s)
	handler := NewWebhookHandler(orch, s, webhookTestSecret, testLogger())

	payload, _ := json.Marshal(map[string]any{"action": "opened", "number": 7})
	request := signedWebhookRequest(t, payload)
	recorder := httptest.NewRecorder()

	handler.HandleSourceWebhook(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", recorder.Code, http.StatusOK, recorder.Body.String())
	}
}

func TestHandleSourceWebhookDestroysOnClosed(t *testing.T) {
	s := newTestStore(t)
	orch := newTestOrchestrator(t, s)
	handler := NewWebhookHandler(orch, s, webhookTestSecret, testLogger())

	prNumber := 99
	cfg := models.PreviewConfig{
		Kind:              models.KindPullRequest,
		PullRequestNumber: &prNumber,
		RepoOwner:         "acme",
		RepoName:          "app",
		Branch:            "feature-y",
		CommitSha:         "def456",
		Services: map[string]models.ServiceConfig{
			"web": {ImageTag: "acme/app-web:def456", Port: 8080},
		},
	}
	created, err := orch.Create(context.Background(), "owner-1", cfg)
	if err != nil {
		t.Fatalf("orch.Create: %v", err)
	}

	payload, _ := json.Marshal(map[string]any{"action": "closed", "number": prNumber})
	request := signedWebhookRequest(t, payload)
	recorder := httptest.NewRecorder()

	handler.HandleSourceWebhook(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", recorder.Code, http.StatusOK, recorder.Body.String())
	}

	destroyed, err := s.GetPreview(created.PreviewId)
	if err != nil {
		t.Fatalf("GetPreview after destroy: %v", err)
	}
	if destroyed.Status != models.StatusDestroyed {
		t.Fatalf("status = %q, want %q", destroyed.Status, models.StatusDestroyed)
	}
}

func TestHandleSourceWebhookClosedWithNoMatchingPreviewIsStillOK(t *testing.T) {
	s := newTestStore(t)
	orch := newTestOrchestrator(t, s)
	handler := NewWebhookHandler(orch, s, webhookTestSecret, testLogger())

	payload, _ := json.Marshal(map[string]any{"action": "closed", "number": 404})
	request := signedWebhookRequest(t, payload)
	recorder := httptest.NewRecorder()

	handler.HandleSourceWebhook(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", recorder.Code, http.StatusOK, recorder.Body.String())
	}
}
