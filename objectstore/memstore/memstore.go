// Package memstore is a non-persistent, in-memory objectstore.Store,
// used by housekeeping's tests and as bboxstored's default backend
// in place of a real one — grounded on the teacher's store/teststore package, which
// plays the same role for upspin.Store.
package memstore

import (
	"context"
	"sync"

	"boxbackup.io/box"
	"boxbackup.io/objectstore"
)

type key struct {
	account box.AccountID
	id      box.ObjectID
}

// Store is a sync.Mutex-protected map of account/object-ID pairs to
// their raw bytes.
type Store struct {
	mu   sync.Mutex
	blob map[key][]byte
}

var _ objectstore.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{blob: make(map[key][]byte)}
}

func (s *Store) Put(_ context.Context, account box.AccountID, id box.ObjectID, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob[key{account, id}] = cp
	return nil
}

func (s *Store) Get(_ context.Context, account box.AccountID, id box.ObjectID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blob[key{account, id}]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *Store) Exists(_ context.Context, account box.AccountID, id box.ObjectID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blob[key{account, id}]
	return ok, nil
}

func (s *Store) Delete(_ context.Context, account box.AccountID, id box.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blob, key{account, id})
	return nil
}

// Count returns the number of stored objects, for tests that assert on
// housekeeping's reclamation.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blob)
}
