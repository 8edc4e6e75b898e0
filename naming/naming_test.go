package naming

import (
	"strings"
	"testing"
)

func TestPreviewID(t *testing.T) {
	cases := []struct {
		kind   string
		pr     int
		branch string
		want   string
	}{
		{"pull_request", 42, "", "pr-42"},
		{"branch", 0, "main", "branch-main"},
		{"branch", 0, "feature/ABC-123", "branch-feature-abc-123"},
	}
	for _, c := range cases {
		if got := PreviewID(c.kind, c.pr, c.branch); got != c.want {
			t.Errorf("PreviewID(%q,%d,%q) = %q, want %q", c.kind, c.pr, c.branch, got, c.want)
		}
	}
}

func TestPreviewIDInjective(t *testing.T) {
	seen := map[string]bool{}
	inputs := [][3]any{
		{"pull_request", 1, ""},
		{"pull_request", 2, ""},
		{"branch", 0, "main"},
		{"branch", 0, "develop"},
	}
	for _, in := range inputs {
		id := PreviewID(in[0].(string), in[1].(int), in[2].(string))
		if seen[id] {
			t.Fatalf("collision: two distinct inputs produced previewId %q", id)
		}
		seen[id] = true
	}
}

func TestDatabaseName(t *testing.T) {
	if got := DatabaseName("pr-42"); got != "pr_42_db" {
		t.Errorf("DatabaseName(pr-42) = %q", got)
	}
	if got := DatabaseName("branch-main"); got != "branch_main_db" {
		t.Errorf("DatabaseName(branch-main) = %q", got)
	}
}

func TestSanitizeTruncatesTo63Bytes(t *testing.T) {
	pathological := strings.Repeat("A!B@C#", 40) // 240 bytes, mixed invalid chars
	got := Sanitize(pathological)
	if len(got) > 63 {
		t.Fatalf("Sanitize result exceeds 63 bytes: %d", len(got))
	}
	if strings.HasPrefix(got, "-") || strings.HasSuffix(got, "-") {
		t.Fatalf("Sanitize result has leading/trailing dash: %q", got)
	}
}

func TestSanitizeLowercasesAndReplaces(t *testing.T) {
	if got := Sanitize("Feature/ABC_123"); got != "feature-abc_123" {
		t.Errorf("Sanitize(Feature/ABC_123) = %q", got)
	}
}

func TestSanitizeTrimsLeadingTrailingDash(t *testing.T) {
	if got := Sanitize("--hello--"); got != "hello" {
		t.Errorf("Sanitize(--hello--) = %q", got)
	}
}

func TestContainerNameHasRandomSuffix(t *testing.T) {
	a := ContainerName("pr-42", "api")
	b := ContainerName("pr-42", "api")
	if a == b {
		t.Fatalf("expected distinct container names across calls, got %q twice", a)
	}
	if !strings.HasPrefix(a, "pr-42-api-") {
		t.Fatalf("ContainerName prefix mismatch: %q", a)
	}
}

func TestExternalHost(t *testing.T) {
	got := ExternalHost("pr-42", "acme", "api", "preview.test")
	want := "pr-42-acme.api.preview.test"
	if got != want {
		t.Errorf("ExternalHost = %q, want %q", got, want)
	}
}
