package sync

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"boxbackup.io/box"
	"boxbackup.io/boxattr"
	"boxbackup.io/boxcrypto"
	"boxbackup.io/boxerrors"
	"boxbackup.io/boxfile"
	"boxbackup.io/boxname"
	"boxbackup.io/diff"
)

// Store is the subset of the wire protocol a sync cycle needs,
// abstracted the way Upspin's client package depends on
// upspin.DirServer/StoreServer rather than a concrete transport —
// here so SyncLocation can be exercised against a fake in tests
// without a live boxproto connection.
type Store interface {
	CreateDirectory(containerDirID box.ObjectID, name box.EncodedName, attrModTime box.Time, attrs []byte) (box.ObjectID, error)
	GetBlockIndex(objectID box.ObjectID) ([]boxfile.IndexEntry, error)
	StoreFile(containerDirID box.ObjectID, modTime box.Time, attrHash box.AttrHash, diffFromID box.ObjectID, name box.EncodedName, attrs []byte, plans []boxfile.BlockPlan) (box.ObjectID, error)
	DeleteFile(containerDirID box.ObjectID, name box.EncodedName) error
	KeepAlive() error
}

// ErrStoreFull names the store-full condition. SyncLocation does not
// return it: an upload refused for quota sets Report.QuotaRefused, and
// the walk, including deletes, carries on.
var ErrStoreFull = boxerrors.Str("store full")

// Options tunes one sync cycle. Durations of zero select the
// described "disabled"/unbounded behaviour.
type Options struct {
	MinFileAge                 time.Duration
	MaxUploadWait               time.Duration
	MaxFileTimeInFuture         time.Duration
	DiffingUploadSizeThreshold  int64
	MaximumDiffingTime          time.Duration
	KeepAliveTime               time.Duration
	Now                         func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Report summarises one location's sync cycle.
type Report struct {
	Uploaded int
	Deferred int
	Deleted  int
	Skipped  int
	// QuotaRefused is true if any upload was refused for quota; the
	// caller must not advance lastSyncEnd when this is set.
	QuotaRefused bool
}

// Syncer drives one configured backup location against Store, using
// keys to encode names, attributes, and file content, and record to
// remember what was last seen.
type Syncer struct {
	Store Store
	Keys  *boxcrypto.Keys
}

// SyncLocation walks root, uploading changed files and queuing
// deletes for entries the local tree no longer has, exactly the four
// steps of spec §4.9 (window, walk, delete flush, record update) bar
// the allow-script consultation, which is a Daemon-level concern
// above one location.
func (s *Syncer) SyncLocation(root string, excludes []string, record *Record, opts Options) (*Report, error) {
	const op = "sync.SyncLocation"
	opts = opts.withDefaults()
	report := &Report{}

	now := opts.Now()
	windowEnd := now.Add(-opts.MinFileAge)
	if opts.MinFileAge == 0 {
		windowEnd = now.Add(365 * 24 * time.Hour) // "effectively future"
	}

	seen := make(map[string]bool)
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Filesystem, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		seen[name] = true
		full := filepath.Join(root, name)

		if matchExclude(name, full, excludes) {
			child := record.Children[name]
			if child == nil {
				child = &ChildRecord{}
				record.Children[name] = child
			}
			child.Excluded = true
			continue
		}

		info, err := entry.Info()
		if err != nil {
			report.Skipped++
			continue
		}
		if entry.IsDir() {
			continue // subdirectory recursion is driven by the caller per spec's tree mirror
		}

		child := record.Children[name]
		modTime := box.Time(info.ModTime().UnixMicro())
		attrs, err := boxattr.DefaultCodec.Encode(full)
		if err != nil {
			report.Skipped++
			continue
		}
		attrHash, err := boxattr.Hash(s.Keys.AttrHashSecret, attrs)
		if err != nil {
			report.Skipped++
			continue
		}

		if child != nil && !child.IsDir && child.LastSeenModTime == int64(modTime) && child.LastSeenAttrs == attrHash {
			continue // unchanged
		}

		if opts.MaxFileTimeInFuture > 0 && info.ModTime().After(now.Add(opts.MaxFileTimeInFuture)) {
			report.Skipped++ // implausible clock skew; flagged, not uploaded
			continue
		}
		if info.ModTime().After(windowEnd) && now.Sub(info.ModTime()) < opts.MaxUploadWait {
			// mtime falls inside the unsafe window (still possibly
			// being written) and hasn't been waiting long enough to
			// force an upload regardless.
			report.Deferred++
			continue
		}

		newID, err := s.upload(record.ServerDirID, name, full, info, attrs, attrHash, opts, child)
		if err != nil {
			if boxerrors.Is(boxerrors.Storage, err) {
				report.QuotaRefused = true
				report.Deferred++
				continue
			}
			report.Skipped++
			continue
		}
		record.Children[name] = &ChildRecord{
			LastSeenModTime: int64(modTime),
			LastSeenAttrs:   attrHash,
			ServerObjectID:  newID,
		}
		report.Uploaded++
	}

	for name, child := range record.Children {
		if seen[name] || child.IsDir {
			continue
		}
		encName, err := boxname.Encode(s.Keys.FilenameKey, name)
		if err != nil {
			report.Skipped++
			continue
		}
		if err := s.Store.DeleteFile(record.ServerDirID, encName); err != nil {
			report.Skipped++
			continue
		}
		delete(record.Children, name)
		report.Deleted++
	}

	return report, nil
}

func (s *Syncer) upload(containerDirID box.ObjectID, name, full string, info fs.FileInfo, attrs *boxattr.Attributes, attrHash box.AttrHash, opts Options, prior *ChildRecord) (box.ObjectID, error) {
	const op = "sync.upload"
	encName, err := boxname.Encode(s.Keys.FilenameKey, name)
	if err != nil {
		return box.NoObject, boxerrors.E(op, err)
	}
	encAttrs, err := boxattr.Encode(s.Keys.AttributeKey, attrs)
	if err != nil {
		return box.NoObject, boxerrors.E(op, err)
	}

	modTime := box.Time(info.ModTime().UnixMicro())
	if attrs.SymlinkTo != "" {
		// Spec edge case: a symlink is stored as an attribute-only
		// object with zero data blocks — its target lives in the
		// attribute block, never read or diffed as file content.
		return s.Store.StoreFile(containerDirID, modTime, attrHash, box.NoObject, encName, encAttrs, nil)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return box.NoObject, boxerrors.E(op, boxerrors.Filesystem, err)
	}

	var plans []boxfile.BlockPlan
	diffFromID := box.NoObject
	if prior != nil && prior.ServerObjectID != box.NoObject && int64(len(data)) >= opts.DiffingUploadSizeThreshold {
		priorID := prior.ServerObjectID
		index, err := s.Store.GetBlockIndex(priorID)
		if err == nil {
			cancel := diff.NewCancelToken()
			var capTimer *time.Timer
			if opts.MaximumDiffingTime > 0 {
				capTimer = time.AfterFunc(opts.MaximumDiffingTime, cancel.Cancel)
			}
			stopKeepAlive := s.startKeepAlive(opts.KeepAliveTime)

			priorBlocks := diff.NewPriorBlocks(index, 0, 0)
			result, derr := diff.Diff(data, priorID, priorBlocks, diff.Options{Cancel: cancel})

			stopKeepAlive()
			if capTimer != nil {
				capTimer.Stop()
			}
			if derr == nil && !result.IsCompletelyDifferent {
				plans = result.Plans
				diffFromID = priorID
			}
		}
	}
	if plans == nil {
		plans = boxfile.ChunkFile(data)
	}

	return s.Store.StoreFile(containerDirID, modTime, attrHash, diffFromID, encName, encAttrs, plans)
}

// startKeepAlive emits a GetIsAlive ping on s.Store every interval,
// resetting the server's read-timeout clock while the diff engine runs
// locally and nothing else is being written to the connection. A
// zero interval disables it, matching KeepAliveTime's "0 = disabled"
// default. The returned func stops the ticker and must be called
// exactly once.
func (s *Syncer) startKeepAlive(interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.Store.KeepAlive()
			}
		}
	}()
	return func() { close(done) }
}

func matchExclude(name, full string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
		if ok, _ := filepath.Match(p, full); ok {
			return true
		}
	}
	return false
}
