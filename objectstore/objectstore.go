// Package objectstore defines the black-box object store every store
// context reads and writes through: content keyed by an account and an
// object ID, with no knowledge of directories, patch chains, or quota —
// those live in storesrv and housekeeping. Implementations are
// pluggable, the way the teacher's store backends are, so the same
// storesrv code runs against an in-memory store (memstore) or against
// GCS.
package objectstore

import (
	"context"

	"boxbackup.io/box"
)

// Store holds the raw bytes of every object (encoded file, directory
// blob) for every account. Keys are never reused: once Delete removes
// an object, writing the same key again would be a bug in the caller,
// not a supported overwrite.
type Store interface {
	// Put writes data under (account, id), replacing any existing
	// value. Used both for first writes and for housekeeping's
	// merge-rewrite of a patch chain.
	Put(ctx context.Context, account box.AccountID, id box.ObjectID, data []byte) error

	// Get returns the raw bytes stored under (account, id).
	Get(ctx context.Context, account box.AccountID, id box.ObjectID) ([]byte, error)

	// Exists reports whether (account, id) has a value, without
	// reading it.
	Exists(ctx context.Context, account box.AccountID, id box.ObjectID) (bool, error)

	// Delete removes (account, id). Deleting a missing key is not an
	// error: housekeeping's sweep may race a client's own delete.
	Delete(ctx context.Context, account box.AccountID, id box.ObjectID) error
}

// ErrNotFound is returned by Get and wrapped by boxerrors.Storage when
// (account, id) has no value.
type notFoundError struct{}

func (notFoundError) Error() string { return "objectstore: object not found" }

// ErrNotFound identifies a missing object; callers compare with errors.Is.
var ErrNotFound error = notFoundError{}
