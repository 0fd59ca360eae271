// Package box defines the core domain types shared by every layer of
// Box Backup: object identity, account bookkeeping, and the directory
// entry that ties a name to a store object. It plays the role the
// teacher's upspin package plays for Upspin: a small, dependency-free
// vocabulary that every other package imports.
package box

import "fmt"

// ObjectID identifies an object within an account's namespace. IDs are
// assigned monotonically per account and are never reused while any
// reference to them persists. ID 0 means "none"; ID 1 is the account's
// root directory.
type ObjectID uint64

// NoObject is the sentinel "no object" ID.
const NoObject ObjectID = 0

// RootDirectory is the well-known ID of an account's root directory.
const RootDirectory ObjectID = 1

// AccountID identifies a namespace of ObjectIDs.
type AccountID uint32

// Time is a modification timestamp in microseconds since the Unix epoch.
type Time int64

// AttrHash is a non-reversible fingerprint of a cleartext attribute
// block, stable across re-encodings of the same attributes.
type AttrHash uint64

// EncodedName is the ciphertext form of a filesystem name: the same
// cleartext always encodes to the same bytes within an account.
type EncodedName []byte

func (n EncodedName) String() string { return fmt.Sprintf("%x", []byte(n)) }

// Flags are independent bits describing a directory entry.
type Flags uint16

const (
	// FlagFile marks the entry as a regular file (as opposed to Dir).
	FlagFile Flags = 1 << iota
	// FlagDir marks the entry as a directory. Directories never carry
	// versions: at most one Dir entry may share a name.
	FlagDir
	// FlagDeleted marks the entry as deleted (soft-delete, reversible
	// by Undelete within housekeeping's grace period).
	FlagDeleted
	// FlagOldVersion marks the entry as a superseded version of a
	// file that has since been replaced by a newer upload.
	FlagOldVersion
	// FlagRemoveASAP marks the entry for removal at the next
	// housekeeping sweep regardless of grace period (used when a
	// client explicitly discards a version it no longer needs).
	FlagRemoveASAP
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

func (f Flags) String() string {
	s := ""
	add := func(bit Flags, name string) {
		if f.Has(bit) {
			if s != "" {
				s += "|"
			}
			s += name
		}
	}
	add(FlagFile, "File")
	add(FlagDir, "Dir")
	add(FlagDeleted, "Deleted")
	add(FlagOldVersion, "OldVersion")
	add(FlagRemoveASAP, "RemoveASAP")
	if s == "" {
		return "(none)"
	}
	return s
}

// DirEntry is one entry within a directory: a name bound to an object,
// with the bookkeeping needed to reconstruct patch chains and detect
// changes without downloading data.
//
// dependsOn/requiredBy form a doubly-linked chain within a directory: if
// A.DependsOn == B.ID then B.RequiredBy == A.ID. Only the forward
// pointer (DependsOn) is ever persisted on disk; RequiredBy is rebuilt
// in memory when a directory is loaded (see storedir), rather than
// stored redundantly the way the original C++ stored both directions
// explicitly — the design notes call this out as a pattern to
// re-architect.
type DirEntry struct {
	Name       EncodedName
	ObjectID   ObjectID
	ModTime    Time
	AttrHash   AttrHash
	SizeBlocks uint64
	Flags      Flags
	Attributes []byte // opaque encrypted attribute block, or nil

	// DependsOn is the object this entry's object is a patch against,
	// or NoObject if this entry's object is self-contained. Persisted.
	DependsOn ObjectID
	// RequiredBy is the object that depends on this entry's object,
	// or NoObject. Derived at load time; never written to disk.
	RequiredBy ObjectID
}

// IsCurrentFile reports whether e is the single "live" version of a
// file: a File entry with neither OldVersion nor Deleted set.
func (e *DirEntry) IsCurrentFile() bool {
	return e.Flags.Has(FlagFile) && !e.Flags.Has(FlagOldVersion) && !e.Flags.Has(FlagDeleted)
}

// Account is a namespace of ObjectIDs with quota bookkeeping and the
// client's last-writer-wins store marker.
type Account struct {
	ID AccountID

	SoftLimitBlocks uint64
	HardLimitBlocks uint64

	// ClientStoreMarker is an opaque token the client sets so it can
	// detect that another client has written to the account since its
	// last session.
	ClientStoreMarker uint64

	// Blocks is the partitioned usage accumulator of spec §3.
	Blocks BlockUsage

	// NextObjectID is the next ObjectID to assign.
	NextObjectID ObjectID
}

// BlockUsage partitions an account's block usage the way housekeeping
// rebuilds it from scratch on every sweep.
type BlockUsage struct {
	Current     uint64
	Old         uint64
	Deleted     uint64
	Directories uint64
}

// Total returns the sum of all partitions, i.e. blocksUsed.
func (b BlockUsage) Total() uint64 {
	return b.Current + b.Old + b.Deleted + b.Directories
}

// BlockSizeBytes is the accounting unit behind every block-based quota
// figure (DirEntry.SizeBlocks, BlockUsage, the soft/hard limits).
const BlockSizeBytes = 2048

// BlocksForBytes rounds n up to the next whole accounting block.
func BlocksForBytes(n int64) uint64 {
	if n <= 0 {
		return 0
	}
	return uint64((n + BlockSizeBytes - 1) / BlockSizeBytes)
}

// StorageLimitExceeded reports whether the account is over the quota
// gate threshold: uploads are refused once blocksUsed exceeds
// softLimit + (hardLimit-softLimit)/3.
func (a *Account) StorageLimitExceeded() bool {
	gap := a.HardLimitBlocks - a.SoftLimitBlocks
	return a.Blocks.Total() > a.SoftLimitBlocks+gap/3
}
