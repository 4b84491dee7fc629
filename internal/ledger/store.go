package ledger

import (
	"context"
	"errors"

	k8stypes "k8s.io/apimachinery/pkg/types"
)

var (
	// ErrNotFound is returned when no entry exists for a UID.
	ErrNotFound = errors.New("ledger entry not found")

	// ErrCorrupt is returned when stored state cannot be decoded or breaks an
	// entry invariant.
	ErrCorrupt = errors.New("ledger state corrupt")
)

// UpdateFunc receives the current entry (nil when none exists) and returns the
// entry to store. It may be called more than once if the store retries after a
// write conflict, so it must not have side effects.
type UpdateFunc func(current *Entry) (*Entry, error)

// Store persists ledger entries keyed by UID. Every Update is atomic: a crash
// leaves either the previous or the new entry, never a partial one.
type Store interface {
	Update(ctx context.Context, uid k8stypes.UID, fn UpdateFunc) error
	Get(ctx context.Context, uid k8stypes.UID) (*Entry, error)
	List(ctx context.Context, fn func(*Entry) error) error
	Close() error
}
