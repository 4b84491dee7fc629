// Package ledger is the durable per-resource violation history. Each UID maps to
// one entry holding timestamped occurrences within the rolling window plus
// cumulative lifetime counters. The ledger is the only state that survives
// between passes.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	k8stypes "k8s.io/apimachinery/pkg/types"

	"github.com/nautilusbot/nautilus/internal/types"
)

const (
	// RollingWindow is the trailing period that rolling counts cover.
	RollingWindow = 7 * 24 * time.Hour

	// RepeatOffenderThreshold is the rolling count of one reason at which a
	// resource is a repeat offender. Shared by escalation and reporting.
	RepeatOffenderThreshold = 3
)

// Ledger records and queries violation history.
type Ledger struct {
	store  Store
	logger *zap.Logger
	locks  *keyLock
	clock  func() time.Time
}

// Open wraps store and verifies every stored entry. A store holding entries
// that cannot be decoded returns ErrCorrupt; the ledger never starts empty in
// place of state it could not read.
func Open(ctx context.Context, store Store, logger *zap.Logger) (*Ledger, error) {
	l := &Ledger{
		store:  store,
		logger: logger.Named("ledger"),
		locks:  newKeyLock(),
		clock:  time.Now,
	}
	n, err := l.Verify(ctx)
	if err != nil {
		return nil, err
	}
	l.logger.Info("Ledger opened", zap.Int("entries", n))
	return l, nil
}

// SetClock overrides the time source. Must be called before use (not concurrent).
func (l *Ledger) SetClock(clock func() time.Time) {
	l.clock = clock
}

// Now returns the ledger's current time.
func (l *Ledger) Now() time.Time {
	return l.clock()
}

// Close closes the underlying store.
func (l *Ledger) Close() error {
	return l.store.Close()
}

func (l *Ledger) cutoff() time.Time {
	return l.clock().Add(-RollingWindow)
}

// Verify decodes every stored entry and returns how many there are.
func (l *Ledger) Verify(ctx context.Context) (int, error) {
	n := 0
	err := l.store.List(ctx, func(*Entry) error {
		n++
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrCorrupt) {
			return n, err
		}
		return n, fmt.Errorf("verify ledger: %w", err)
	}
	return n, nil
}

// Record appends occurrences for id. Occurrences older than the rolling
// window are pruned from the stored entry and lifetime counters are
// incremented. An empty occurrence list is a no-op and returns nil.
//
// Writers for the same UID are serialised; different UIDs proceed in parallel.
func (l *Ledger) Record(ctx context.Context, id types.Identity, occs []Occurrence) (*Entry, error) {
	if len(occs) == 0 {
		return nil, nil
	}
	if id.UID == "" {
		return nil, fmt.Errorf("record %s/%s: identity has no uid", id.Namespace, id.Name)
	}
	for _, o := range occs {
		if o.Timestamp.IsZero() {
			return nil, fmt.Errorf("record %s: occurrence %s has no timestamp", id.UID, o.Reason)
		}
	}

	unlock := l.locks.Lock(id.UID)
	defer unlock()

	now := l.clock()
	cutoff := now.Add(-RollingWindow)

	var saved *Entry
	err := l.store.Update(ctx, id.UID, func(current *Entry) (*Entry, error) {
		e := current
		if e == nil {
			e = newEntry(id, now)
		}
		e.Identity = id
		e.prune(cutoff)
		e.merge(occs)
		e.UpdatedAt = now
		saved = e
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", id.UID, err)
	}

	l.logger.Debug("Recorded violations",
		zap.String("uid", string(id.UID)),
		zap.String("namespace", id.Namespace),
		zap.String("name", id.Name),
		zap.Int("count", len(occs)),
	)
	return saved.withRolling(cutoff), nil
}

// RecordViolations stamps each violation with the current time and records it.
func (l *Ledger) RecordViolations(ctx context.Context, id types.Identity, vs []types.Violation) (*Entry, error) {
	if len(vs) == 0 {
		return nil, nil
	}
	now := l.clock()
	occs := make([]Occurrence, 0, len(vs))
	for _, v := range vs {
		occs = append(occs, Occurrence{Timestamp: now, Reason: v.Reason})
	}
	return l.Record(ctx, id, occs)
}

// RollingCount returns how many times reason was recorded for uid within the
// rolling window ending now. Unknown UIDs have a count of zero.
func (l *Ledger) RollingCount(ctx context.Context, uid k8stypes.UID, reason types.ReasonCode) (int, error) {
	e, err := l.store.Get(ctx, uid)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return e.rollingCount(reason, l.cutoff()), nil
}

// LifetimeCount returns how many times reason was ever recorded for uid.
func (l *Ledger) LifetimeCount(ctx context.Context, uid k8stypes.UID, reason types.ReasonCode) (int, error) {
	e, err := l.store.Get(ctx, uid)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return e.Lifetime[reason], nil
}

// IsRepeatOffender reports whether uid has reached RepeatOffenderThreshold
// occurrences of reason within the rolling window.
func (l *Ledger) IsRepeatOffender(ctx context.Context, uid k8stypes.UID, reason types.ReasonCode) (bool, error) {
	n, err := l.RollingCount(ctx, uid, reason)
	if err != nil {
		return false, err
	}
	return n >= RepeatOffenderThreshold, nil
}

// Entry returns the entry for uid with rolling counts computed against now.
func (l *Ledger) Entry(ctx context.Context, uid k8stypes.UID) (*Entry, error) {
	e, err := l.store.Get(ctx, uid)
	if err != nil {
		return nil, err
	}
	return e.withRolling(l.cutoff()), nil
}

// Entries returns every entry, sorted by namespace then name.
func (l *Ledger) Entries(ctx context.Context) ([]*Entry, error) {
	cutoff := l.cutoff()
	var out []*Entry
	err := l.store.List(ctx, func(e *Entry) error {
		out = append(out, e.withRolling(cutoff))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Identity, out[j].Identity
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.UID < b.UID
	})
	return out, nil
}
