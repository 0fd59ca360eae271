// Package housekeeping implements the store-side reclamation sweep of
// spec §4.8: walking every directory of an account, removing entries
// past their grace period, merging patch chains out from under an
// object before it can be deleted, and rebuilding the account's block
// usage partition from scratch.
//
// Grounded on the teacher's dir/server/tree log-structured compaction
// (the closest analogue to a crash-safe merge-and-reclaim pass) and on
// the original C++ design notes for BackupStoreContext's housekeeping
// pass.
package housekeeping

import (
	"bytes"
	"context"
	"sort"
	"time"

	"boxbackup.io/box"
	"boxbackup.io/boxcrypto"
	"boxbackup.io/boxerrors"
	"boxbackup.io/boxfile"
	"boxbackup.io/objectstore"
	"boxbackup.io/storedir"
)

// DefaultGracePeriod is how long a Deleted entry survives before
// becoming eligible for removal, absent an explicit configuration.
const DefaultGracePeriod = 24 * time.Hour

// Options configures one sweep.
type Options struct {
	GracePeriod time.Duration
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.GracePeriod == 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Report summarises one sweep's effect.
type Report struct {
	Merged  int
	Deleted int
	// Notify is true when the account remains over the quota gate
	// threshold after the sweep, the signal that drives the
	// StoreFull notification.
	Notify bool
}

// Sweeper runs housekeeping against one objectstore backend.
//
// Keys are required to decode and re-encode a patch chain during a
// merge. The spec's store is otherwise content-blind, but a literal
// byte-for-byte splice of one object's ciphertext into another isn't
// possible here: each block's keystream is derived from its own
// object's salt and ordinal (see boxcrypto), so absorbing P's blocks
// into D means re-encoding D under D's own stream. This is a
// deliberate, documented departure from a strictly key-blind store for
// this one maintenance path (see DESIGN.md); everything else storesrv
// and objectstore do remains ciphertext-only.
type Sweeper struct {
	Store objectstore.Store
	Keys  *boxcrypto.Keys
}

type storeObjectSource struct {
	ctx     context.Context
	store   objectstore.Store
	account box.AccountID
}

func (s storeObjectSource) ReadObject(id box.ObjectID) ([]byte, error) {
	return s.store.Get(s.ctx, s.account, id)
}

// Sweep walks every directory reachable from root, reclaims eligible
// old/deleted entries (merging patch chains as required), continues
// reclaiming while the account is over its soft limit, verifies no
// dangling dependsOn survives, and rebuilds account's block usage
// partition. account is mutated in place; directories are persisted
// back to the store before Sweep returns.
func (hk *Sweeper) Sweep(ctx context.Context, account *box.Account, root box.ObjectID, opts Options) (*Report, error) {
	const op = "housekeeping.Sweep"
	opts = opts.withDefaults()
	report := &Report{}

	dirs, err := hk.loadAllDirectories(ctx, account.ID, root)
	if err != nil {
		return nil, boxerrors.E(op, err)
	}
	location := make(map[box.ObjectID]*storedir.Directory)
	for _, d := range dirs {
		for _, e := range d.Entries() {
			if e.Flags.Has(box.FlagFile) {
				location[e.ObjectID] = d
			}
		}
	}

	now := opts.Now()
	eligibleNow := func(e *box.DirEntry) bool {
		if e.Flags.Has(box.FlagRemoveASAP) {
			return true
		}
		if e.Flags.Has(box.FlagDeleted) {
			return now.Sub(microsToTime(e.ModTime)) >= opts.GracePeriod
		}
		return false
	}

	// Step 2: remove everything immediately eligible.
	for _, d := range dirs {
		for _, e := range append([]*box.DirEntry(nil), d.Entries()...) {
			if !e.Flags.Has(box.FlagFile) || !eligibleNow(e) {
				continue
			}
			if err := hk.remove(ctx, account.ID, location, d, e, report); err != nil {
				return nil, boxerrors.E(op, err)
			}
		}
	}

	// Step 3: if still over the soft limit, keep deleting the oldest
	// eligible entries (old versions before deleted files).
	if account.Blocks.Total() > account.SoftLimitBlocks {
		for _, c := range hk.quotaCandidates(dirs) {
			if account.Blocks.Total() <= account.SoftLimitBlocks {
				break
			}
			if _, ok := c.dir.EntryByID(c.entry.ObjectID); !ok {
				continue // already removed earlier in this sweep
			}
			if err := hk.remove(ctx, account.ID, location, c.dir, c.entry, report); err != nil {
				return nil, boxerrors.E(op, err)
			}
			hk.rebuildUsage(account, dirs)
		}
	}

	// Step 4: verify no dangling dependsOn, then rebuild blocksUsed.
	for _, d := range dirs {
		for _, e := range d.Entries() {
			if e.DependsOn == box.NoObject {
				continue
			}
			ok, err := hk.Store.Exists(ctx, account.ID, e.DependsOn)
			if err != nil {
				return nil, boxerrors.E(op, err)
			}
			if !ok {
				return nil, boxerrors.E(op, boxerrors.Integrity, boxerrors.Errorf("entry %d depends on missing object %d", e.ObjectID, e.DependsOn))
			}
		}
	}
	hk.rebuildUsage(account, dirs)
	report.Notify = account.StorageLimitExceeded()

	for _, d := range dirs {
		if err := hk.Store.Put(ctx, account.ID, d.ObjectID, d.Marshal()); err != nil {
			return nil, boxerrors.E(op, err)
		}
	}
	return report, nil
}

// remove deletes e's object from d, merging its dependent first if one
// exists, and clears the RequiredBy pointer on e's own base (if any)
// so that a later removal in the same sweep never dereferences e's
// now-deleted object ID.
func (hk *Sweeper) remove(ctx context.Context, account box.AccountID, location map[box.ObjectID]*storedir.Directory, d *storedir.Directory, e *box.DirEntry, report *Report) error {
	const op = "housekeeping.remove"
	if e.RequiredBy != box.NoObject {
		if err := hk.merge(ctx, account, location, e.RequiredBy); err != nil {
			return boxerrors.E(op, err)
		}
		report.Merged++
	}
	if e.DependsOn != box.NoObject {
		if baseDir, ok := location[e.DependsOn]; ok {
			if base, ok := baseDir.EntryByID(e.DependsOn); ok {
				base.RequiredBy = box.NoObject
			}
		}
	}
	if err := hk.Store.Delete(ctx, account, e.ObjectID); err != nil {
		return boxerrors.E(op, err)
	}
	d.DeleteEntry(e.ObjectID)
	delete(location, e.ObjectID)
	report.Deleted++
	return nil
}

// merge materialises dependentID's full cleartext by resolving its
// patch chain, then re-encodes and persists it as a new, self-
// contained object at the same ID, nulling its dependsOn pointer.
func (hk *Sweeper) merge(ctx context.Context, account box.AccountID, location map[box.ObjectID]*storedir.Directory, dependentID box.ObjectID) error {
	const op = "housekeeping.merge"
	dir, ok := location[dependentID]
	if !ok {
		return boxerrors.E(op, boxerrors.Integrity, boxerrors.Errorf("no directory located for dependent object %d", dependentID))
	}
	entry, ok := dir.EntryByID(dependentID)
	if !ok {
		return boxerrors.E(op, boxerrors.Integrity, boxerrors.Errorf("dependent entry %d vanished before merge", dependentID))
	}

	src := storeObjectSource{ctx: ctx, store: hk.Store, account: account}
	data, err := src.ReadObject(dependentID)
	if err != nil {
		return boxerrors.E(op, err)
	}

	var cleartext bytes.Buffer
	resolver := boxfile.NewChainResolver(src, hk.Keys)
	obj, err := boxfile.Decode(bytes.NewReader(data), hk.Keys, resolver, &cleartext, boxfile.FileOrder)
	if err != nil {
		return boxerrors.E(op, err)
	}

	plans := boxfile.ChunkFile(cleartext.Bytes())
	var encoded bytes.Buffer
	if _, err := boxfile.WriteObject(&encoded, hk.Keys, obj.ContainerDirID, obj.ModTime, obj.Name, obj.AttrBlock, plans); err != nil {
		return boxerrors.E(op, err)
	}

	// The new bytes are written under the same key before the old
	// chain's prior object is deleted by the caller: a crash here
	// leaves either the untouched old chain (Put never completed) or
	// the new full object (Put completed) — objectstore.Store.Put is
	// a single atomic write per key, never a half-written value.
	if err := hk.Store.Put(ctx, account, dependentID, encoded.Bytes()); err != nil {
		return boxerrors.E(op, err)
	}

	entry.DependsOn = box.NoObject
	entry.SizeBlocks = box.BlocksForBytes(int64(encoded.Len()))
	return nil
}

type quotaCandidate struct {
	dir   *storedir.Directory
	entry *box.DirEntry
}

// quotaCandidates returns every OldVersion or Deleted file entry
// across dirs: every old version first, then the deleted-only entries,
// each group ordered oldest-first, per spec §4.8 step 3.
func (hk *Sweeper) quotaCandidates(dirs []*storedir.Directory) []quotaCandidate {
	var out []quotaCandidate
	for _, d := range dirs {
		for _, e := range d.Entries() {
			if !e.Flags.Has(box.FlagFile) {
				continue
			}
			if e.Flags.Has(box.FlagOldVersion) || e.Flags.Has(box.FlagDeleted) {
				out = append(out, quotaCandidate{dir: d, entry: e})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].entry, out[j].entry
		aOld, bOld := a.Flags.Has(box.FlagOldVersion), b.Flags.Has(box.FlagOldVersion)
		if aOld != bOld {
			return aOld // old versions sort before deleted-only entries
		}
		return a.ModTime < b.ModTime
	})
	return out
}

// rebuildUsage recomputes account.Blocks from the current state of
// dirs: the authoritative recomputation spec §4.8 step 4 requires
// rather than trusting incremental bookkeeping.
func (hk *Sweeper) rebuildUsage(account *box.Account, dirs []*storedir.Directory) {
	var usage box.BlockUsage
	for _, d := range dirs {
		usage.Directories += box.BlocksForBytes(int64(len(d.Marshal())))
		for _, e := range d.Entries() {
			if !e.Flags.Has(box.FlagFile) {
				continue
			}
			switch {
			case e.Flags.Has(box.FlagDeleted):
				usage.Deleted += e.SizeBlocks
			case e.Flags.Has(box.FlagOldVersion):
				usage.Old += e.SizeBlocks
			default:
				usage.Current += e.SizeBlocks
			}
		}
	}
	account.Blocks = usage
}

func (hk *Sweeper) loadAllDirectories(ctx context.Context, account box.AccountID, root box.ObjectID) ([]*storedir.Directory, error) {
	const op = "housekeeping.loadAllDirectories"
	var out []*storedir.Directory
	var walk func(id box.ObjectID) error
	walk = func(id box.ObjectID) error {
		data, err := hk.Store.Get(ctx, account, id)
		if err != nil {
			return boxerrors.E(op, err)
		}
		d, err := storedir.Unmarshal(data)
		if err != nil {
			return boxerrors.E(op, err)
		}
		out = append(out, d)
		for _, e := range d.Entries() {
			if e.Flags.Has(box.FlagDir) {
				if err := walk(e.ObjectID); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return out, nil
}

func microsToTime(t box.Time) time.Time {
	return time.UnixMicro(int64(t))
}
