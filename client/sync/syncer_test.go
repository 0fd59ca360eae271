package sync_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"boxbackup.io/box"
	"boxbackup.io/boxcrypto"
	"boxbackup.io/boxerrors"
	"boxbackup.io/boxfile"
	"boxbackup.io/boxname"
	csync "boxbackup.io/client/sync"
)

type fakeStore struct {
	stored      map[string][]byte
	lastPlans   map[string][]boxfile.BlockPlan
	nextID      box.ObjectID
	deleted     []string
	indexes     map[box.ObjectID][]boxfile.IndexEntry
	refuseQuota bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		stored:    make(map[string][]byte),
		lastPlans: make(map[string][]boxfile.BlockPlan),
		nextID:    100,
		indexes:   make(map[box.ObjectID][]boxfile.IndexEntry),
	}
}

func (f *fakeStore) CreateDirectory(containerDirID box.ObjectID, name box.EncodedName, attrModTime box.Time, attrs []byte) (box.ObjectID, error) {
	f.nextID++
	return f.nextID, nil
}

func (f *fakeStore) GetBlockIndex(objectID box.ObjectID) ([]boxfile.IndexEntry, error) {
	return f.indexes[objectID], nil
}

func (f *fakeStore) StoreFile(containerDirID box.ObjectID, modTime box.Time, attrHash box.AttrHash, diffFromID box.ObjectID, name box.EncodedName, attrs []byte, plans []boxfile.BlockPlan) (box.ObjectID, error) {
	if f.refuseQuota {
		return box.NoObject, boxerrors.E("StoreFile", boxerrors.Storage, boxerrors.Errorf("hard limit exceeded"))
	}
	f.nextID++
	f.stored[name.String()] = []byte{1}
	f.lastPlans[name.String()] = plans
	return f.nextID, nil
}

func (f *fakeStore) DeleteFile(containerDirID box.ObjectID, name box.EncodedName) error {
	f.deleted = append(f.deleted, name.String())
	return nil
}

func (f *fakeStore) KeepAlive() error { return nil }

func genKeys(t *testing.T) *boxcrypto.Keys {
	t.Helper()
	k, err := boxcrypto.Generate()
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func TestSyncLocationUploadsNewFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	os.Chtimes(filepath.Join(dir, "a.txt"), time.Now().Add(-2*time.Hour), time.Now().Add(-2*time.Hour))

	store := newFakeStore()
	syncer := &csync.Syncer{Store: store, Keys: genKeys(t)}
	record := csync.NewRecord(1)

	report, err := syncer.SyncLocation(dir, nil, record, csync.Options{
		MinFileAge: time.Hour,
		Now:        time.Now,
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.Uploaded != 1 {
		t.Errorf("Uploaded = %d, want 1", report.Uploaded)
	}
	if len(record.Children) != 1 {
		t.Errorf("record.Children = %v, want one entry", record.Children)
	}
}

func TestSyncLocationDefersRecentFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "fresh.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := newFakeStore()
	syncer := &csync.Syncer{Store: store, Keys: genKeys(t)}
	record := csync.NewRecord(1)

	report, err := syncer.SyncLocation(dir, nil, record, csync.Options{
		MinFileAge:    time.Hour,
		MaxUploadWait: 24 * time.Hour,
		Now:           time.Now,
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.Deferred != 1 {
		t.Errorf("Deferred = %d, want 1", report.Deferred)
	}
	if report.Uploaded != 0 {
		t.Errorf("Uploaded = %d, want 0", report.Uploaded)
	}
}

func TestSyncLocationSkipsUnchangedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Hour)
	os.Chtimes(path, old, old)

	store := newFakeStore()
	syncer := &csync.Syncer{Store: store, Keys: genKeys(t)}
	record := csync.NewRecord(1)

	opts := csync.Options{MinFileAge: time.Hour, Now: time.Now}
	if _, err := syncer.SyncLocation(dir, nil, record, opts); err != nil {
		t.Fatal(err)
	}
	if len(store.stored) != 1 {
		t.Fatalf("first cycle should have uploaded once, stored = %v", store.stored)
	}

	report, err := syncer.SyncLocation(dir, nil, record, opts)
	if err != nil {
		t.Fatal(err)
	}
	if report.Uploaded != 0 {
		t.Errorf("second cycle Uploaded = %d, want 0 (unchanged file)", report.Uploaded)
	}
}

func TestSyncLocationExcludesMatchingPattern(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-2 * time.Hour)
	path := filepath.Join(dir, "cache.tmp")
	os.WriteFile(path, []byte("x"), 0o644)
	os.Chtimes(path, old, old)

	store := newFakeStore()
	syncer := &csync.Syncer{Store: store, Keys: genKeys(t)}
	record := csync.NewRecord(1)

	report, err := syncer.SyncLocation(dir, []string{"*.tmp"}, record, csync.Options{MinFileAge: time.Hour, Now: time.Now})
	if err != nil {
		t.Fatal(err)
	}
	if report.Uploaded != 0 {
		t.Errorf("Uploaded = %d, want 0 for an excluded file", report.Uploaded)
	}
	if !record.Children["cache.tmp"].Excluded {
		t.Error("excluded file should still get a record entry marked Excluded")
	}
}

func TestSyncLocationQueuesDeleteForVanishedFile(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore()
	syncer := &csync.Syncer{Store: store, Keys: genKeys(t)}
	record := csync.NewRecord(1)
	record.Children["gone.txt"] = &csync.ChildRecord{ServerObjectID: 42}

	report, err := syncer.SyncLocation(dir, nil, record, csync.Options{Now: time.Now})
	if err != nil {
		t.Fatal(err)
	}
	if report.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", report.Deleted)
	}
	if len(store.deleted) != 1 {
		t.Errorf("store.deleted = %v, want one entry", store.deleted)
	}
	if _, ok := record.Children["gone.txt"]; ok {
		t.Error("record should no longer carry the deleted entry")
	}
}

func TestSyncLocationStoresSymlinkAsAttributeOnly(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.txt")
	if err := os.WriteFile(target, []byte("this is the target's content, not the link's"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Hour)
	os.Chtimes(link, old, old)

	store := newFakeStore()
	syncer := &csync.Syncer{Store: store, Keys: genKeys(t)}
	record := csync.NewRecord(1)

	report, err := syncer.SyncLocation(dir, nil, record, csync.Options{MinFileAge: time.Hour, Now: time.Now})
	if err != nil {
		t.Fatal(err)
	}
	// real.txt and link both upload; only link's plans matter here.
	if report.Uploaded != 2 {
		t.Fatalf("Uploaded = %d, want 2 (target file + symlink)", report.Uploaded)
	}
	encName, err := boxname.Encode(syncer.Keys.FilenameKey, "link")
	if err != nil {
		t.Fatal(err)
	}
	plans, ok := store.lastPlans[encName.String()]
	if !ok {
		t.Fatal("link was never stored")
	}
	if len(plans) != 0 {
		t.Errorf("StoreFile plans for symlink = %v, want none (attribute-only object, zero data blocks)", plans)
	}
}
