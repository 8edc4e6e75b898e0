package handlers

// webhooks.go handles POST /api/webhooks/source: inbound CI/VCS notifications that a pull
// request or branch changed. per SPEC_FULL.md §6, the webhook alone never carries image
// tags or service config -- it only tells us a PR was opened/synchronized/reopened (so the
// caller's own CI is expected to follow up with the authenticated REST call that actually
// supplies PreviewConfig) or closed (which this handler destroys directly, since "closed"
// carries no further information to wait for).
//
// signature verification is HMAC-SHA256 over the raw body, in X-Hub-Signature-256, the
// same source-hosting convention the teacher's codebase never implemented but every
// CI-integrated webhook receiver in the wider ecosystem uses. crypto/hmac + crypto/sha256
// is stdlib, not a third-party dependency -- justified in DESIGN.md because no example
// repo in the corpus imports a dedicated webhook-signing library, and hand-rolling
// constant-time HMAC comparison from two stdlib primitives is the idiomatic Go way to do
// this regardless.

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/previewd/previewd/orchestrator"
	"github.com/previewd/previewd/store"
)

// WebhookHandler holds the dependencies needed by the inbound webhook endpoint.
type WebhookHandler struct {
	orchestrator *orchestrator.Orchestrator
	store        *store.Store
	secret       string
	logger       *slog.Logger
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(orch *orchestrator.Orchestrator, metadataStore *store.Store, secret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{orchestrator: orch, store: metadataStore, secret: secret, logger: logger}
}

// sourceWebhookPayload captures the subset of a source-hosting pull-request webhook this
// system acts on. real payloads carry many more fields; only the ones the reconciliation
// decision depends on are decoded.
type sourceWebhookPayload struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Head struct {
			Ref string `json:"ref"`
			Sha string `json:"sha"`
		} `json:"head"`
		Base struct {
			Repo struct {
				Name  string `json:"name"`
				Owner struct {
					Login string `json:"login"`
				} `json:"owner"`
			} `json:"repo"`
		} `json:"base"`
	} `json:"pull_request"`
}

var actionsThatTriggerDestroy = map[string]bool{"closed": true}

// HandleSourceWebhook handles POST /api/webhooks/source.
func (handler *WebhookHandler) HandleSourceWebhook(responseWriter http.ResponseWriter, request *http.Request) {
	body, err := io.ReadAll(request.Body)
	if err != nil {
		writeErrorJsonAndLogIt(responseWriter, http.StatusBadRequest, "failed to read request body", handler.logger)
		return
	}

	signatureHeader := request.Header.Get("X-Hub-Signature-256")
	if !verifySignature(handler.secret, body, signatureHeader) {
		writeErrorJsonAndLogIt(responseWriter, http.StatusUnauthorized, "invalid webhook signature", handler.logger)
		return
	}

	var payload sourceWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeErrorJsonAndLogIt(responseWriter, http.StatusBadRequest, "malformed webhook payload", handler.logger)
		return
	}

	if actionsThatTriggerDestroy[payload.Action] {
		preview, err := handler.store.GetPreviewByPullRequest(payload.Number)
		if errors.Is(err, store.ErrRecordNotFound) {
			// nothing to destroy: either it never had a preview, or one was already torn
			// down. either way this is a success from the caller's point of view.
			writeJsonAndRespond(responseWriter, http.StatusOK, map[string]bool{"ok": true})
			return
		}
		if err != nil {
			handler.logger.Error("webhook: failed to look up preview for pull request", "number", payload.Number, "error", err)
			writeErrorJsonAndLogIt(responseWriter, http.StatusInternalServerError, "failed to look up preview", handler.logger)
			return
		}
		if err := handler.orchestrator.Destroy(request.Context(), preview.PreviewId); err != nil {
			writeAPIError(responseWriter, err, handler.logger)
			return
		}
		writeJsonAndRespond(responseWriter, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	// opened/synchronize/reopened (and anything else) acknowledge without acting: create/
	// update requires image tags and service config this payload does not carry, per
	// SPEC_FULL.md §6. the caller's own CI is expected to call POST /api/previews directly.
	handler.logger.Info("webhook received, awaiting authenticated create/update call", "action", payload.Action, "number", payload.Number)
	writeJsonAndRespond(responseWriter, http.StatusOK, map[string]bool{"ok": true})
}

func verifySignature(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	return hmac.Equal(provided, expected)
}
