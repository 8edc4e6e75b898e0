// Package naming holds the pure, no-I/O identifier derivation functions the rest of the
// system builds on: preview id, database name, container name, external hostname.
// none of these functions touch the metadata store, the runtime, or the network --
// they are deterministic given their inputs, which is what makes previewId(kind, pr, branch)
// injective over its domain and the external-host invariant in SPEC_FULL.md §8 checkable
// with plain unit tests.
package naming

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// maxLabelBytes is the DNS-label length limit every sanitized component is truncated to.
// previewId itself is also capped at this length per spec; hostnames compose multiple
// sanitized components, each independently capped.
const maxLabelBytes = 63

// PreviewID derives the canonical identifier for a preview.
// kind="pull_request" -> "pr-<N>"; kind="branch" -> "branch-<sanitized-branch>".
// the pull-request form is not sanitized further (N is already a plain integer); the
// branch form goes through Sanitize so that slashes, uppercase letters, and other
// characters common in git branch names ("feature/ABC-123") become safe DNS-label text.
func PreviewID(kind string, pullRequestNumber int, branch string) string {
	if kind == "pull_request" {
		return "pr-" + strconv.Itoa(pullRequestNumber)
	}
	return "branch-" + Sanitize(branch)
}

// DatabaseName derives the metadata-store-adjacent database name for a preview: dashes
// become underscores (most database engines reject dashes in identifiers) and a "_db"
// suffix disambiguates it from the preview id itself in engine-level namespaces.
func DatabaseName(previewId string) string {
	return strings.ReplaceAll(previewId, "-", "_") + "_db"
}

// ContainerName derives a fresh container name for one service of one preview. the random
// 8-hex-character suffix ensures a brand new name on every deploy (including redeploys of
// the same service), so the orchestrator's Update path can create the new container before
// the old one is fully removed without a Docker name clash, and can remove the old
// container asynchronously afterward without racing the new one's name.
func ContainerName(previewId, service string) string {
	return fmt.Sprintf("%s-%s-%s", previewId, Sanitize(service), randHex8())
}

// ExternalHost derives the deterministic hostname a service is reachable on.
// format: "<previewId>-<sanitized-owner>.<sanitized-service>.<baseDomain>".
func ExternalHost(previewId, repoOwner, service, baseDomain string) string {
	return fmt.Sprintf("%s-%s.%s.%s", previewId, Sanitize(repoOwner), Sanitize(service), baseDomain)
}

// Sanitize lowercases the input, maps every byte outside [a-z0-9-_] to '-', trims leading
// and trailing '-', and truncates to maxLabelBytes. truncation happens last so that a
// pathologically long input (eg a branch name copy-pasted with embedded whitespace) cannot
// produce a label longer than DNS/Docker naming limits regardless of how much of it was
// replaced with '-'.
func Sanitize(input string) string {
	lowered := strings.ToLower(input)

	var builder strings.Builder
	builder.Grow(len(lowered))
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteByte('-')
		}
	}

	trimmed := strings.Trim(builder.String(), "-")

	if len(trimmed) > maxLabelBytes {
		trimmed = trimmed[:maxLabelBytes]
		// truncation may have landed mid-run of trailing dashes that were only hidden by
		// the characters cut off; trim once more so the truncated form never ends in '-'.
		trimmed = strings.TrimRight(trimmed, "-")
	}

	return trimmed
}

// randHex8 returns an 8-character lowercase hex string sourced from crypto/rand, following
// the teacher's util/slug.go precedent of a short random suffix for name uniqueness --
// generalized here from math/rand/v2 (fine for a human-facing slug) to crypto/rand, since
// container names are a (very soft) collision-avoidance mechanism across concurrent
// redeploys rather than a user-facing label.
func randHex8() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read failing means the OS entropy source is broken, which is a
		// condition no caller of ContainerName can meaningfully recover from; fall back to
		// a fixed suffix rather than panic so a single bad read never crashes a deploy.
		return "00000000"
	}
	return hex.EncodeToString(buf)
}
