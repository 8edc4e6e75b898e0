package quota

import (
	"errors"
	"testing"

	"github.com/previewd/previewd/apierror"
)

type fakeCounter struct {
	count int
	err   error
}

func (f *fakeCounter) CountActiveForOwner(owner string) (int, error) {
	return f.count, f.err
}

func TestCheckUnlimitedAlwaysPasses(t *testing.T) {
	gate := NewGate(&fakeCounter{count: 999}, -1)
	if err := gate.Check("acme"); err != nil {
		t.Fatalf("expected no error for unlimited quota, got %v", err)
	}
}

func TestCheckUnderLimitPasses(t *testing.T) {
	gate := NewGate(&fakeCounter{count: 3}, 10)
	if err := gate.Check("acme"); err != nil {
		t.Fatalf("expected no error under limit, got %v", err)
	}
}

func TestCheckAtLimitFails(t *testing.T) {
	gate := NewGate(&fakeCounter{count: 10}, 10)
	err := gate.Check("acme")
	if !errors.Is(err, apierror.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestCheckStoreErrorPropagates(t *testing.T) {
	gate := NewGate(&fakeCounter{err: errors.New("db down")}, 10)
	err := gate.Check("acme")
	if !errors.Is(err, apierror.ErrInternal) {
		t.Fatalf("expected ErrInternal wrapping the store error, got %v", err)
	}
}
