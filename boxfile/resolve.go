package boxfile

import (
	"bytes"
	"io"

	"boxbackup.io/box"
	"boxbackup.io/boxcrypto"
	"boxbackup.io/boxerrors"
)

// ObjectSource supplies a stored object's raw file-order bytes by ID,
// the way a GetObject call would. ResolveBlock uses it to walk back
// through a chain of prior objects.
type ObjectSource interface {
	ReadObject(id box.ObjectID) ([]byte, error)
}

// ResolveBlock returns the cleartext of block ordinal within the
// object identified by id, recursing through reference hops as
// needed. It reads only the one chunk it needs via the index's
// recorded offset, rather than decoding the whole object, so
// materialising a single block of a long patch chain costs O(chain
// depth) reads instead of O(object size).
func ResolveBlock(src ObjectSource, keys *boxcrypto.Keys, id box.ObjectID, ordinal uint32) ([]byte, error) {
	const op = "boxfile.ResolveBlock"
	data, err := src.ReadObject(id)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Storage, err)
	}
	r := bytes.NewReader(data)

	index, err := ReadBlockIndex(r, keys)
	if err != nil {
		return nil, boxerrors.E(op, err)
	}
	if int(ordinal) >= len(index) {
		return nil, boxerrors.E(op, boxerrors.Integrity, boxerrors.Errorf("block ordinal %d out of range for object %d", ordinal, id))
	}
	entry := index[ordinal]
	if entry.IsReference {
		return ResolveBlock(src, keys, entry.PriorObjectID, entry.PriorOrdinal)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	magic, err := readU32(r)
	if err != nil || magic != Magic {
		return nil, boxerrors.E(op, boxerrors.Integrity, boxerrors.Errorf("bad magic for object %d", id))
	}
	if _, err := readU64(r); err != nil { // containerDirID
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	if _, err := readU64(r); err != nil { // modTime
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	salt := make([]byte, 8)
	if _, err := io.ReadFull(r, salt); err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	fc, err := boxcrypto.NewFileBlockCipher(keys.FileDataKey, salt)
	if err != nil {
		return nil, boxerrors.E(op, err)
	}

	if _, err := r.Seek(entry.Offset, io.SeekStart); err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	flags, clearSize, encSize, err := readChunkHeader(r)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	body := make([]byte, encSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	plain := make([]byte, len(body))
	fc.Crypt(uint64(ordinal), plain, body)
	cleartext, err := decompressIfNeeded(plain, flags)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	if uint32(len(cleartext)) != clearSize {
		return nil, boxerrors.E(op, boxerrors.Integrity, boxerrors.Errorf("resolved block size mismatch for object %d block %d", id, ordinal))
	}
	return cleartext, nil
}

// resolverFunc adapts ResolveBlock to the Resolver interface Decode
// expects, anchoring every lookup at a fixed ObjectSource and key set.
type resolverFunc struct {
	src  ObjectSource
	keys *boxcrypto.Keys
}

// NewChainResolver returns a Resolver that answers ReadBlock by
// calling ResolveBlock against src, for Decode callers that already
// have a source of raw object bytes (the store, or a test fixture).
func NewChainResolver(src ObjectSource, keys *boxcrypto.Keys) Resolver {
	return resolverFunc{src: src, keys: keys}
}

func (r resolverFunc) ReadBlock(priorObjectID box.ObjectID, ordinal uint32) ([]byte, error) {
	return ResolveBlock(r.src, r.keys, priorObjectID, ordinal)
}
