package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	k8stypes "k8s.io/apimachinery/pkg/types"

	badgerstore "github.com/nautilusbot/nautilus/internal/storage/badger"
)

const (
	keyPrefix = "ledger/"

	// maxConflictRetries bounds re-read/re-merge attempts after a commit conflict.
	maxConflictRetries = 5
)

// BadgerStore keeps one JSON record per UID in BadgerDB.
type BadgerStore struct {
	db *badgerstore.DB
}

// NewBadgerStore wraps an open database. The store takes ownership and closes
// it on Close.
func NewBadgerStore(db *badgerstore.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func entryKey(uid k8stypes.UID) []byte {
	return []byte(keyPrefix + string(uid))
}

// Update implements Store. Conflicting commits are retried against a fresh
// read so concurrent writers merge rather than overwrite.
func (s *BadgerStore) Update(ctx context.Context, uid k8stypes.UID, fn UpdateFunc) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
			current, err := getEntry(txn, uid)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}

			next, err := fn(current)
			if err != nil {
				return err
			}
			if next == nil {
				return nil
			}

			data, err := encodeEntry(next)
			if err != nil {
				return fmt.Errorf("encode entry %s: %w", uid, err)
			}
			return txn.Set(entryKey(uid), data)
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("update entry %s: %w", uid, err)
}

// Get implements Store.
func (s *BadgerStore) Get(ctx context.Context, uid k8stypes.UID) (*Entry, error) {
	var out *Entry
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		e, err := getEntry(txn, uid)
		out = e
		return err
	})
	return out, err
}

// List implements Store.
func (s *BadgerStore) List(ctx context.Context, fn func(*Entry) error) error {
	return s.db.ScanPrefix(ctx, []byte(keyPrefix), func(key, value []byte) error {
		e, err := decodeEntry(value)
		if err != nil {
			return fmt.Errorf("key %s: %w", key, err)
		}
		return fn(e)
	})
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func getEntry(txn *badger.Txn, uid k8stypes.UID) (*Entry, error) {
	item, err := txn.Get(entryKey(uid))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read entry %s: %w", uid, err)
	}

	var e *Entry
	err = item.Value(func(val []byte) error {
		decoded, err := decodeEntry(val)
		if err != nil {
			return fmt.Errorf("entry %s: %w", uid, err)
		}
		e = decoded
		return nil
	})
	return e, err
}
