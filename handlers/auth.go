package handlers

// auth.go implements the bearer-token scheme described in SPEC_FULL.md §6: every
// preview-management request is authenticated by a bearer token, and the token itself
// carries the caller's ownerId (used downstream by the quota gate and recorded on every
// preview record it creates). no corpus example carries a JWT library in its go.mod, so
// this is built the same way the teacher signs nothing at all but the webhook handler
// verifies one HMAC -- here that same crypto/hmac + crypto/sha256 primitive is reused to
// both issue and verify a token, rather than reaching for an unrelated JWT dependency no
// example in the pack ever imports.

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey string

const ownerIDContextKey contextKey = "ownerId"

// IssueToken produces a bearer token of the form "<ownerId>.<hex hmac>" signed with secret.
// operators mint tokens for their CI pipelines out-of-band; this function is exported so a
// small admin CLI or script can call it without duplicating the signing logic.
func IssueToken(secret, ownerID string) string {
	return ownerID + "." + signOwnerID(secret, ownerID)
}

func signOwnerID(secret, ownerID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ownerID))
	return hex.EncodeToString(mac.Sum(nil))
}

// parseBearerToken validates token against secret and returns the ownerId it carries.
func parseBearerToken(secret, token string) (string, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("malformed bearer token")
	}
	ownerID, signature := parts[0], parts[1]

	expected := signOwnerID(secret, ownerID)
	// constant-time comparison: a naive == here would leak timing information about how
	// many leading bytes of the signature matched, the same concern the webhook handler's
	// own signature check addresses with hmac.Equal.
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return "", fmt.Errorf("invalid bearer token signature")
	}
	return ownerID, nil
}

// RequireBearerAuth rejects any request without a valid "Authorization: Bearer <token>"
// header and stashes the token's ownerId in the request context for handlers to read via
// ownerIDFromContext. /api/health and /metrics are mounted outside this middleware's scope
// in router.go, matching the route table's implicit "everything under /api/previews and
// /api/webhooks requires a token" scoping.
func RequireBearerAuth(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
			header := request.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeErrorJsonAndLogIt(responseWriter, http.StatusUnauthorized, "missing bearer token", logger)
				return
			}

			token := strings.TrimPrefix(header, "Bearer ")
			ownerID, err := parseBearerToken(secret, token)
			if err != nil {
				writeErrorJsonAndLogIt(responseWriter, http.StatusUnauthorized, "invalid bearer token", logger)
				return
			}

			ctx := context.WithValue(request.Context(), ownerIDContextKey, ownerID)
			next.ServeHTTP(responseWriter, request.WithContext(ctx))
		})
	}
}

// ownerIDFromContext retrieves the ownerId stashed by RequireBearerAuth. handlers mounted
// behind that middleware can assume this always succeeds; it is only ever "" if called
// from a route that bypassed the middleware, which is a wiring bug, not a client error.
func ownerIDFromContext(ctx context.Context) string {
	ownerID, _ := ctx.Value(ownerIDContextKey).(string)
	return ownerID
}
