// Package sync implements the client daemon's backup cycle of spec
// §4.9: a directory-record-driven tree walk that detects changed
// files, diffs them against the server's last-known block index, and
// uploads or deletes as needed. Grounded on the original
// bbackupd/BackupClientDirectoryRecord.cpp for the record shape and
// BackupDaemon.cpp for the cycle's phases.
package sync

import (
	"encoding/json"
	"os"

	"boxbackup.io/box"
)

// ChildRecord is the cached state for one local child (file or
// subdirectory) the last time it was scanned, keyed by name within
// its parent in Record.Children.
type ChildRecord struct {
	IsDir           bool
	LastSeenModTime int64
	LastSeenAttrs   box.AttrHash
	ServerObjectID  box.ObjectID
	Excluded        bool

	// Children recurses the record tree for a subdirectory; nil for
	// a file entry.
	Children map[string]*ChildRecord `json:",omitempty"`
}

// Record is the root of the persisted directory record tree for one
// configured backup location: a local path mapped onto the server
// directory layout, one ChildRecord per local child, rooted at the
// server object ID of the location's container directory.
type Record struct {
	ServerDirID box.ObjectID
	Children    map[string]*ChildRecord
}

// NewRecord returns an empty record rooted at serverDirID.
func NewRecord(serverDirID box.ObjectID) *Record {
	return &Record{ServerDirID: serverDirID, Children: make(map[string]*ChildRecord)}
}

// LoadRecord reads a persisted record from path. A missing file is not
// an error: it means this location has never been synced, and an
// empty record rooted at the given directory ID is returned.
func LoadRecord(path string, rootDirID box.ObjectID) (*Record, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewRecord(rootDirID), nil
	}
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	if r.Children == nil {
		r.Children = make(map[string]*ChildRecord)
	}
	return &r, nil
}

// Save persists r to path atomically via a temp file + rename, the
// resource spec §5 names explicitly: "the client-side ID map ...
// rewritten atomically via a temp file + rename at the end of each
// cycle."
func (r *Record) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
