// Package account persists a box.Account's quota and marker fields to
// disk as the store's account record. Spec §1 scopes account/quota
// administration out beyond a minimal record format and CLI (see
// cmd/bboxaccounts); this package is that record format.
package account

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"boxbackup.io/box"
	"boxbackup.io/boxerrors"
)

// record is the on-disk shape of a box.Account. Box Backup's on-disk
// formats are otherwise hand-coded exact byte layouts (storedir,
// boxfile, boxproto) because the spec fixes their bytes precisely;
// the account record has no such requirement, so it's a plain JSON
// document rather than inventing a binary layout nothing names.
type record struct {
	ID                box.AccountID
	SoftLimitBlocks   uint64
	HardLimitBlocks   uint64
	ClientStoreMarker uint64
	Blocks            box.BlockUsage
	NextObjectID      box.ObjectID
}

func path(dir string, id box.AccountID) string {
	return filepath.Join(dir, recordName(id))
}

func recordName(id box.AccountID) string {
	return fmt.Sprintf("account-%d.json", uint32(id))
}

// Load reads the account record for id from dir.
func Load(dir string, id box.AccountID) (*box.Account, error) {
	const op = "account.Load"
	data, err := os.ReadFile(path(dir, id))
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Storage, err)
	}
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	return &box.Account{
		ID:                r.ID,
		SoftLimitBlocks:   r.SoftLimitBlocks,
		HardLimitBlocks:   r.HardLimitBlocks,
		ClientStoreMarker: r.ClientStoreMarker,
		Blocks:            r.Blocks,
		NextObjectID:      r.NextObjectID,
	}, nil
}

// Save writes a's record to dir, replacing any existing record
// atomically via a temp file + rename, the same pattern the client's
// directory record uses (spec §5's "rewritten atomically" resource).
func Save(dir string, a *box.Account) error {
	const op = "account.Save"
	r := record{
		ID:                a.ID,
		SoftLimitBlocks:   a.SoftLimitBlocks,
		HardLimitBlocks:   a.HardLimitBlocks,
		ClientStoreMarker: a.ClientStoreMarker,
		Blocks:            a.Blocks,
		NextObjectID:      a.NextObjectID,
	}
	data, err := json.MarshalIndent(&r, "", "  ")
	if err != nil {
		return boxerrors.E(op, err)
	}
	final := path(dir, a.ID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return boxerrors.E(op, boxerrors.Storage, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return boxerrors.E(op, boxerrors.Storage, err)
	}
	return nil
}

// Create writes a fresh record for a newly-provisioned account with
// the given quota limits, failing if one already exists.
func Create(dir string, id box.AccountID, softLimit, hardLimit uint64) (*box.Account, error) {
	const op = "account.Create"
	if _, err := os.Stat(path(dir, id)); err == nil {
		return nil, boxerrors.E(op, boxerrors.Config, boxerrors.Errorf("account %d already has a record", id))
	}
	a := &box.Account{
		ID:              id,
		SoftLimitBlocks: softLimit,
		HardLimitBlocks: hardLimit,
		NextObjectID:    box.RootDirectory + 1,
	}
	if err := Save(dir, a); err != nil {
		return nil, boxerrors.E(op, err)
	}
	return a, nil
}
