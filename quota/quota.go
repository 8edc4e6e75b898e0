// Package quota implements the per-owner active-preview ceiling described in
// SPEC_FULL.md: a caller creating a preview is refused with ErrQuotaExceeded once their
// owner id already has MaxPreviewsPerOwner active (CREATING, RUNNING or UPDATING) previews recorded in the
// metadata store. this is deliberately a thin package -- the only state it needs is
// already held by the store, so Gate does no caching of its own and always asks the
// store for a fresh count, trading a query per Create call for never serving a stale
// quota decision under concurrent Create/Destroy traffic.
package quota

import (
	"fmt"

	"github.com/previewd/previewd/apierror"
)

// ActiveCounter is the subset of the metadata store's capability this package depends on.
// accepting an interface here (rather than a concrete *store.Store) keeps quota tests
// free of a real database.
type ActiveCounter interface {
	CountActiveForOwner(owner string) (int, error)
}

// Gate enforces a single max-previews-per-owner ceiling. a negative MaxPreviews means
// unlimited, per SPEC_FULL.md's "-1 = unlimited" convention.
type Gate struct {
	store       ActiveCounter
	maxPreviews int
}

// NewGate constructs a Gate. maxPreviews of -1 disables the check entirely.
func NewGate(store ActiveCounter, maxPreviews int) *Gate {
	return &Gate{store: store, maxPreviews: maxPreviews}
}

// Check returns nil if owner may create one more preview, or an error wrapping
// apierror.ErrQuotaExceeded if they are already at or over the ceiling.
func (g *Gate) Check(owner string) error {
	if g.maxPreviews < 0 {
		return nil
	}

	active, err := g.store.CountActiveForOwner(owner)
	if err != nil {
		return fmt.Errorf("%w: count active previews for owner %q: %v", apierror.ErrInternal, owner, err)
	}

	if active >= g.maxPreviews {
		return fmt.Errorf("%w: owner %q has %d active previews, limit is %d", apierror.ErrQuotaExceeded, owner, active, g.maxPreviews)
	}
	return nil
}
