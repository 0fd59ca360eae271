package housekeeping_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"boxbackup.io/box"
	"boxbackup.io/boxcrypto"
	"boxbackup.io/boxfile"
	"boxbackup.io/housekeeping"
	"boxbackup.io/objectstore/memstore"
	"boxbackup.io/storedir"
)

const testAccount box.AccountID = 1

func genKeys(t *testing.T) *boxcrypto.Keys {
	t.Helper()
	keys, err := boxcrypto.Generate()
	if err != nil {
		t.Fatal(err)
	}
	return keys
}

func writeFull(t *testing.T, keys *boxcrypto.Keys, containerDirID box.ObjectID, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	plans := boxfile.ChunkFile(data)
	if _, err := boxfile.WriteObject(&buf, keys, containerDirID, 1, box.EncodedName("n"), nil, plans); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writePatch(t *testing.T, keys *boxcrypto.Keys, containerDirID box.ObjectID, priorID box.ObjectID, priorIndex []boxfile.IndexEntry, referenceAll bool) []byte {
	t.Helper()
	var plans []boxfile.BlockPlan
	for i, e := range priorIndex {
		plans = append(plans, boxfile.ReferenceBlock(priorID, uint32(i), e.Size, e.Weak, e.Strong))
	}
	var buf bytes.Buffer
	if _, err := boxfile.WriteObject(&buf, keys, containerDirID, 2, box.EncodedName("n"), nil, plans); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func setup(t *testing.T) (*memstore.Store, *boxcrypto.Keys) {
	t.Helper()
	return memstore.New(), genKeys(t)
}

func putDir(t *testing.T, store *memstore.Store, d *storedir.Directory) {
	t.Helper()
	if err := store.Put(context.Background(), testAccount, d.ObjectID, d.Marshal()); err != nil {
		t.Fatal(err)
	}
}

func TestSweepRemovesRemoveASAPEntry(t *testing.T) {
	store, keys := setup(t)
	ctx := context.Background()

	root := storedir.New(box.RootDirectory, box.NoObject)
	data := writeFull(t, keys, box.RootDirectory, []byte("hello world"))
	store.Put(ctx, testAccount, 2, data)
	e := &box.DirEntry{Name: box.EncodedName("f"), ObjectID: 2, Flags: box.FlagFile | box.FlagRemoveASAP, SizeBlocks: box.BlocksForBytes(int64(len(data)))}
	if err := root.AddEntry(e); err != nil {
		t.Fatal(err)
	}
	putDir(t, store, root)

	account := &box.Account{ID: testAccount, SoftLimitBlocks: 1000, HardLimitBlocks: 2000}
	sweeper := &housekeeping.Sweeper{Store: store, Keys: keys}
	report, err := sweeper.Sweep(ctx, account, box.RootDirectory, housekeeping.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", report.Deleted)
	}
	if ok, _ := store.Exists(ctx, testAccount, 2); ok {
		t.Error("object 2 should have been deleted")
	}
}

func TestSweepLeavesDeletedEntryWithinGracePeriod(t *testing.T) {
	store, keys := setup(t)
	ctx := context.Background()

	root := storedir.New(box.RootDirectory, box.NoObject)
	data := writeFull(t, keys, box.RootDirectory, []byte("hello"))
	store.Put(ctx, testAccount, 2, data)
	now := time.Now()
	e := &box.DirEntry{
		Name: box.EncodedName("f"), ObjectID: 2,
		Flags:   box.FlagFile | box.FlagDeleted,
		ModTime: box.Time(now.UnixMicro()),
	}
	root.AddEntry(e)
	putDir(t, store, root)

	account := &box.Account{ID: testAccount, SoftLimitBlocks: 1000, HardLimitBlocks: 2000}
	sweeper := &housekeeping.Sweeper{Store: store, Keys: keys}
	report, err := sweeper.Sweep(ctx, account, box.RootDirectory, housekeeping.Options{
		GracePeriod: time.Hour,
		Now:         func() time.Time { return now.Add(time.Minute) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.Deleted != 0 {
		t.Errorf("Deleted = %d, want 0 (still within grace period)", report.Deleted)
	}
	if ok, _ := store.Exists(ctx, testAccount, 2); !ok {
		t.Error("object should still exist")
	}
}

func TestSweepDeletesAfterGracePeriodElapses(t *testing.T) {
	store, keys := setup(t)
	ctx := context.Background()

	root := storedir.New(box.RootDirectory, box.NoObject)
	data := writeFull(t, keys, box.RootDirectory, []byte("hello"))
	store.Put(ctx, testAccount, 2, data)
	now := time.Now()
	e := &box.DirEntry{
		Name: box.EncodedName("f"), ObjectID: 2,
		Flags:   box.FlagFile | box.FlagDeleted,
		ModTime: box.Time(now.UnixMicro()),
	}
	root.AddEntry(e)
	putDir(t, store, root)

	account := &box.Account{ID: testAccount, SoftLimitBlocks: 1000, HardLimitBlocks: 2000}
	sweeper := &housekeeping.Sweeper{Store: store, Keys: keys}
	report, err := sweeper.Sweep(ctx, account, box.RootDirectory, housekeeping.Options{
		GracePeriod: time.Hour,
		Now:         func() time.Time { return now.Add(2 * time.Hour) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", report.Deleted)
	}
}

func TestSweepMergesPatchChainBeforeDeletingPrior(t *testing.T) {
	store, keys := setup(t)
	ctx := context.Background()

	original := bytes.Repeat([]byte("ABCDEFGH"), 1000)
	priorData := writeFull(t, keys, box.RootDirectory, original)
	store.Put(ctx, testAccount, 2, priorData)

	priorIndex, err := boxfile.ReadBlockIndex(bytes.NewReader(priorData), keys)
	if err != nil {
		t.Fatal(err)
	}
	patchData := writePatch(t, keys, box.RootDirectory, 2, priorIndex, true)
	store.Put(ctx, testAccount, 3, patchData)

	root := storedir.New(box.RootDirectory, box.NoObject)
	prior := &box.DirEntry{
		Name: box.EncodedName("f"), ObjectID: 2,
		Flags:      box.FlagFile | box.FlagOldVersion | box.FlagDeleted,
		RequiredBy: 3,
		ModTime:    box.Time(time.Now().Add(-48 * time.Hour).UnixMicro()),
		SizeBlocks: box.BlocksForBytes(int64(len(priorData))),
	}
	current := &box.DirEntry{
		Name: box.EncodedName("f"), ObjectID: 3,
		Flags:      box.FlagFile,
		DependsOn:  2,
		SizeBlocks: box.BlocksForBytes(int64(len(patchData))),
	}
	root.AddEntry(prior)
	root.AddEntry(current)
	putDir(t, store, root)

	account := &box.Account{ID: testAccount, SoftLimitBlocks: 1000, HardLimitBlocks: 2000}
	sweeper := &housekeeping.Sweeper{Store: store, Keys: keys}
	report, err := sweeper.Sweep(ctx, account, box.RootDirectory, housekeeping.Options{
		GracePeriod: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.Merged != 1 || report.Deleted != 1 {
		t.Errorf("report = %+v, want Merged=1 Deleted=1", report)
	}
	if ok, _ := store.Exists(ctx, testAccount, 2); ok {
		t.Error("prior object 2 should have been deleted after merge")
	}

	mergedData, err := store.Get(ctx, testAccount, 3)
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	obj, err := boxfile.Decode(bytes.NewReader(mergedData), keys, nil, &out, boxfile.FileOrder)
	if err != nil {
		t.Fatalf("decoding merged object failed: %v", err)
	}
	if !obj.IsCompletelyDifferent {
		t.Error("merged object should be self-contained (no dependsOn)")
	}
	if !bytes.Equal(out.Bytes(), original) {
		t.Error("merged object's bytes changed from the original logical content")
	}

	freshRoot, err := storedir.Unmarshal(mustGet(t, store, ctx, box.RootDirectory))
	if err != nil {
		t.Fatal(err)
	}
	got, ok := freshRoot.EntryByID(3)
	if !ok {
		t.Fatal("entry 3 missing from persisted root directory")
	}
	if got.DependsOn != box.NoObject {
		t.Errorf("DependsOn = %d, want 0 after merge", got.DependsOn)
	}
}

// TestSweepClearsStalePredecessorLinkAcrossTwoRemovalsInOnePass builds
// a three-link chain A<-B<-C (DependsOn pointers) where B carries
// RemoveASAP and so is reclaimed in step 2 (merging C out from under
// it), while A only becomes eligible afterwards via quota pressure in
// step 3 of the same Sweep call. Unless removing B also clears A's
// stale RequiredBy pointer at B, the later removal of A dereferences
// B's already-deleted object ID and Sweep fails outright.
func TestSweepClearsStalePredecessorLinkAcrossTwoRemovalsInOnePass(t *testing.T) {
	store, keys := setup(t)
	ctx := context.Background()

	original := bytes.Repeat([]byte("ABCDEFGH"), 1000)
	aData := writeFull(t, keys, box.RootDirectory, original)
	store.Put(ctx, testAccount, 2, aData)

	aIndex, err := boxfile.ReadBlockIndex(bytes.NewReader(aData), keys)
	if err != nil {
		t.Fatal(err)
	}
	bData := writePatch(t, keys, box.RootDirectory, 2, aIndex, true)
	store.Put(ctx, testAccount, 3, bData)

	bIndex, err := boxfile.ReadBlockIndex(bytes.NewReader(bData), keys)
	if err != nil {
		t.Fatal(err)
	}
	cData := writePatch(t, keys, box.RootDirectory, 3, bIndex, true)
	store.Put(ctx, testAccount, 4, cData)

	root := storedir.New(box.RootDirectory, box.NoObject)
	old := time.Now().Add(-72 * time.Hour)
	a := &box.DirEntry{
		Name: box.EncodedName("f"), ObjectID: 2,
		Flags:      box.FlagFile | box.FlagOldVersion,
		RequiredBy: 3,
		ModTime:    box.Time(old.UnixMicro()),
		SizeBlocks: box.BlocksForBytes(int64(len(aData))),
	}
	b := &box.DirEntry{
		Name: box.EncodedName("f"), ObjectID: 3,
		Flags:      box.FlagFile | box.FlagOldVersion | box.FlagRemoveASAP,
		DependsOn:  2,
		RequiredBy: 4,
		ModTime:    box.Time(old.Add(time.Minute).UnixMicro()),
		SizeBlocks: box.BlocksForBytes(int64(len(bData))),
	}
	c := &box.DirEntry{
		Name: box.EncodedName("f"), ObjectID: 4,
		Flags:      box.FlagFile,
		DependsOn:  3,
		SizeBlocks: box.BlocksForBytes(int64(len(cData))),
	}
	root.AddEntry(a)
	root.AddEntry(b)
	root.AddEntry(c)
	putDir(t, store, root)

	account := &box.Account{ID: testAccount, SoftLimitBlocks: c.SizeBlocks, HardLimitBlocks: c.SizeBlocks * 10}
	account.Blocks.Old = a.SizeBlocks + b.SizeBlocks
	account.Blocks.Current = c.SizeBlocks

	sweeper := &housekeeping.Sweeper{Store: store, Keys: keys}
	report, err := sweeper.Sweep(ctx, account, box.RootDirectory, housekeeping.Options{GracePeriod: time.Hour})
	if err != nil {
		t.Fatalf("Sweep failed: %v (stale RequiredBy pointer not cleared?)", err)
	}
	if report.Deleted != 2 {
		t.Errorf("Deleted = %d, want 2 (both B and A reclaimed)", report.Deleted)
	}
	if report.Merged != 1 {
		t.Errorf("Merged = %d, want 1 (only C's merge, when B was removed)", report.Merged)
	}
	if ok, _ := store.Exists(ctx, testAccount, 2); ok {
		t.Error("object 2 (A) should have been deleted")
	}
	if ok, _ := store.Exists(ctx, testAccount, 3); ok {
		t.Error("object 3 (B) should have been deleted")
	}

	mergedData, err := store.Get(ctx, testAccount, 4)
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	obj, err := boxfile.Decode(bytes.NewReader(mergedData), keys, nil, &out, boxfile.FileOrder)
	if err != nil {
		t.Fatalf("decoding merged object failed: %v", err)
	}
	if !obj.IsCompletelyDifferent {
		t.Error("merged object C should be self-contained (no dependsOn)")
	}
	if !bytes.Equal(out.Bytes(), original) {
		t.Error("merged object's bytes changed from the original logical content")
	}
}

func mustGet(t *testing.T, store *memstore.Store, ctx context.Context, id box.ObjectID) []byte {
	t.Helper()
	data, err := store.Get(ctx, testAccount, id)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestSweepQuotaDrivenDeletionStopsAtSoftLimit(t *testing.T) {
	store, keys := setup(t)
	ctx := context.Background()

	root := storedir.New(box.RootDirectory, box.NoObject)
	old := time.Now().Add(-72 * time.Hour)
	var size uint64
	for i := box.ObjectID(2); i < 6; i++ {
		data := writeFull(t, keys, box.RootDirectory, bytes.Repeat([]byte{byte(i)}, 4096))
		store.Put(ctx, testAccount, i, data)
		sz := box.BlocksForBytes(int64(len(data)))
		size = sz
		root.AddEntry(&box.DirEntry{
			Name: box.EncodedName(string(rune('a' + i))), ObjectID: i,
			Flags:      box.FlagFile | box.FlagOldVersion,
			ModTime:    box.Time(old.Add(time.Duration(i) * time.Minute).UnixMicro()),
			SizeBlocks: sz,
		})
	}
	putDir(t, store, root)

	account := &box.Account{ID: testAccount, SoftLimitBlocks: size, HardLimitBlocks: size * 10}
	account.Blocks.Old = size * 4
	sweeper := &housekeeping.Sweeper{Store: store, Keys: keys}
	report, err := sweeper.Sweep(ctx, account, box.RootDirectory, housekeeping.Options{GracePeriod: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if report.Deleted == 0 {
		t.Error("expected quota-driven deletion to remove at least one old version")
	}
	if account.Blocks.Total() > account.SoftLimitBlocks {
		// The recomputed total also counts the root directory's own
		// blocks, so the sweep may need to remove all four old versions
		// to get at or under the soft limit.
		t.Errorf("Blocks.Total() = %d still over SoftLimitBlocks = %d after %d deletions", account.Blocks.Total(), account.SoftLimitBlocks, report.Deleted)
	}
}
