// Package gcsstore implements objectstore.Store on a Google Cloud
// Storage bucket, one object per (account, object ID) pair. It plays
// the production-backend role the teacher's store/gcp package plays
// for upspin.Store, updated to the modern cloud.google.com/go/storage
// client rather than the teacher's hand-rolled REST wrapper.
package gcsstore

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"boxbackup.io/box"
	"boxbackup.io/boxerrors"
	"boxbackup.io/objectstore"
)

// Store writes each object as a single blob named "<account>/<id>"
// within a bucket.
type Store struct {
	client *storage.Client
	bucket string
}

var _ objectstore.Store = (*Store)(nil)

// New returns a Store backed by bucket, using client for all GCS
// operations. The caller owns client's lifetime (Close it on
// shutdown); New does not open or validate the bucket itself so it can
// be constructed without network access in tests that replace the
// client's transport.
func New(client *storage.Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

func objectName(account box.AccountID, id box.ObjectID) string {
	return fmt.Sprintf("%d/%d", account, id)
}

func (s *Store) object(account box.AccountID, id box.ObjectID) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(objectName(account, id))
}

func (s *Store) Put(ctx context.Context, account box.AccountID, id box.ObjectID, data []byte) error {
	const op = "gcsstore.Put"
	w := s.object(account, id).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return boxerrors.E(op, boxerrors.Storage, err)
	}
	if err := w.Close(); err != nil {
		return boxerrors.E(op, boxerrors.Storage, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, account box.AccountID, id box.ObjectID) ([]byte, error) {
	const op = "gcsstore.Get"
	r, err := s.object(account, id).NewReader(ctx)
	if err == storage.ErrObjectNotExist {
		return nil, objectstore.ErrNotFound
	}
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Storage, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Storage, err)
	}
	return data, nil
}

func (s *Store) Exists(ctx context.Context, account box.AccountID, id box.ObjectID) (bool, error) {
	const op = "gcsstore.Exists"
	_, err := s.object(account, id).Attrs(ctx)
	if err == storage.ErrObjectNotExist {
		return false, nil
	}
	if err != nil {
		return false, boxerrors.E(op, boxerrors.Storage, err)
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, account box.AccountID, id box.ObjectID) error {
	const op = "gcsstore.Delete"
	err := s.object(account, id).Delete(ctx)
	if err != nil && err != storage.ErrObjectNotExist {
		return boxerrors.E(op, boxerrors.Storage, err)
	}
	return nil
}
