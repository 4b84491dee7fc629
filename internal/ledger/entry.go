package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	k8stypes "k8s.io/apimachinery/pkg/types"

	"github.com/nautilusbot/nautilus/internal/types"
)

// Occurrence is one timestamped violation of one reason.
type Occurrence struct {
	Timestamp time.Time        `json:"timestamp"`
	Reason    types.ReasonCode `json:"reason"`
}

// Entry is the ledger record for one resource identity.
//
// Occurrences are kept sorted by timestamp and pruned to the rolling window on
// every write. Lifetime counters are cumulative and survive pruning. Rolling
// is computed on read and is never persisted.
type Entry struct {
	Identity    types.Identity           `json:"identity"`
	Occurrences []Occurrence             `json:"occurrences"`
	Lifetime    map[types.ReasonCode]int `json:"lifetime"`
	Rolling     map[types.ReasonCode]int `json:"rolling,omitempty"`
	FirstSeen   time.Time                `json:"firstSeen"`
	UpdatedAt   time.Time                `json:"updatedAt"`
}

func newEntry(id types.Identity, now time.Time) *Entry {
	return &Entry{
		Identity:  id,
		Lifetime:  make(map[types.ReasonCode]int),
		FirstSeen: now,
	}
}

// UID returns the ledger key.
func (e *Entry) UID() k8stypes.UID {
	return e.Identity.UID
}

// prune drops occurrences older than cutoff.
func (e *Entry) prune(cutoff time.Time) {
	i := sort.Search(len(e.Occurrences), func(i int) bool {
		return !e.Occurrences[i].Timestamp.Before(cutoff)
	})
	if i > 0 {
		e.Occurrences = append([]Occurrence(nil), e.Occurrences[i:]...)
	}
}

// merge inserts occurrences keeping timestamp order. Equal timestamps keep
// arrival order. No deduplication.
func (e *Entry) merge(occs []Occurrence) {
	for _, o := range occs {
		i := sort.Search(len(e.Occurrences), func(i int) bool {
			return e.Occurrences[i].Timestamp.After(o.Timestamp)
		})
		e.Occurrences = append(e.Occurrences, Occurrence{})
		copy(e.Occurrences[i+1:], e.Occurrences[i:])
		e.Occurrences[i] = o
		e.Lifetime[o.Reason]++
	}
}

// rollingCount counts occurrences of reason at or after cutoff.
func (e *Entry) rollingCount(reason types.ReasonCode, cutoff time.Time) int {
	n := 0
	for i := len(e.Occurrences) - 1; i >= 0; i-- {
		o := e.Occurrences[i]
		if o.Timestamp.Before(cutoff) {
			break
		}
		if o.Reason == reason {
			n++
		}
	}
	return n
}

// withRolling returns a copy of e with Rolling populated for cutoff.
func (e *Entry) withRolling(cutoff time.Time) *Entry {
	out := *e
	out.Occurrences = append([]Occurrence(nil), e.Occurrences...)
	out.Lifetime = make(map[types.ReasonCode]int, len(e.Lifetime))
	for r, n := range e.Lifetime {
		out.Lifetime[r] = n
	}
	out.Rolling = make(map[types.ReasonCode]int)
	for _, o := range e.Occurrences {
		if !o.Timestamp.Before(cutoff) {
			out.Rolling[o.Reason]++
		}
	}
	return &out
}

// validate checks the invariants a stored entry must satisfy.
func (e *Entry) validate() error {
	if e.Identity.UID == "" {
		return fmt.Errorf("entry has no uid")
	}
	if len(e.Occurrences) == 0 && len(e.Lifetime) == 0 {
		return fmt.Errorf("entry %s is empty", e.Identity.UID)
	}
	perReason := make(map[types.ReasonCode]int)
	for i, o := range e.Occurrences {
		if o.Timestamp.IsZero() {
			return fmt.Errorf("entry %s occurrence %d has no timestamp", e.Identity.UID, i)
		}
		if i > 0 && o.Timestamp.Before(e.Occurrences[i-1].Timestamp) {
			return fmt.Errorf("entry %s occurrences out of order at %d", e.Identity.UID, i)
		}
		perReason[o.Reason]++
	}
	for r, n := range perReason {
		if e.Lifetime[r] < n {
			return fmt.Errorf("entry %s lifetime count for %s is %d, below %d retained occurrences",
				e.Identity.UID, r, e.Lifetime[r], n)
		}
	}
	return nil
}

func encodeEntry(e *Entry) ([]byte, error) {
	stored := *e
	stored.Rolling = nil
	return json.Marshal(&stored)
}

func decodeEntry(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if e.Lifetime == nil {
		e.Lifetime = make(map[types.ReasonCode]int)
	}
	if err := e.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &e, nil
}
