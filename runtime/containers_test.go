package runtime

import (
	"errors"
	"testing"
)

func TestIsNotFoundErrNilIsFalse(t *testing.T) {
	if isNotFoundErr(nil) {
		t.Fatalf("nil error must not be treated as not-found")
	}
}

func TestIsNotFoundErrOrdinaryErrorIsFalse(t *testing.T) {
	if isNotFoundErr(errors.New("connection refused")) {
		t.Fatalf("an unrelated error must not be treated as not-found")
	}
}

func TestShortIDTruncatesTo12(t *testing.T) {
	full := "a1b2c3d4e5f6789012345"
	got := shortID(full)
	if len(got) != 12 {
		t.Fatalf("expected 12-char short id, got %q (len %d)", got, len(got))
	}
	if got != full[:12] {
		t.Fatalf("short id must be a prefix of the full id")
	}
}

func TestShortIDShorterThan12IsUnchanged(t *testing.T) {
	short := "abc123"
	if got := shortID(short); got != short {
		t.Fatalf("expected unchanged short id, got %q", got)
	}
}

func TestBuildMountsReadOnly(t *testing.T) {
	mounts := buildMounts("/host/dir", "/container/dir", true)
	if len(mounts) != 1 {
		t.Fatalf("expected exactly one mount, got %d", len(mounts))
	}
	m := mounts[0]
	if m.Source != "/host/dir" || m.Target != "/container/dir" || !m.ReadOnly {
		t.Fatalf("unexpected mount: %+v", m)
	}
}

func TestContainerSpecFieldsRoundTrip(t *testing.T) {
	spec := ContainerSpec{
		Name:    "preview-acme-app-main-abcd1234-api",
		Image:   "registry.example.com/acme/app:abc123",
		Env:     []string{"DATABASE_URL=postgres://x"},
		Labels:  map[string]string{"managed": "true", "preview": "branch-main"},
		Port:    8080,
		Network: "previewd-edge",
	}
	if spec.Labels["managed"] != "true" {
		t.Fatalf("expected managed label to be preserved")
	}
	if spec.Network != "previewd-edge" {
		t.Fatalf("expected network to be preserved")
	}
}
