// Package boxattr implements the attribute block: an opaque encrypted
// blob of filesystem metadata (mode, ownership, times, symlink target,
// extended attributes) plus the separate keyed hash used to detect
// changes without decrypting the blob.
package boxattr

import (
	"bytes"
	"encoding/binary"

	"boxbackup.io/box"
	"boxbackup.io/boxcrypto"
	"boxbackup.io/boxerrors"
)

// Attributes is the cleartext filesystem metadata carried inside an
// attribute block. Platform-specific extended attribute and ACL byte
// encoding is deliberately left to FsAttrCodec implementations (see
// codec.go) rather than specified here.
type Attributes struct {
	Mode         uint32
	UID, GID     uint32
	ModTime      box.Time
	AttrModTime  box.Time
	SymlinkTo    string // non-empty only for symlinks
	ExtendedAttr []byte // platform-encoded xattr/ACL blob, opaque here
}

// Marshal encodes a to its fixed cleartext wire form. This is a plain
// binary layout, not protobuf: the blob is small, fixed-shape, and
// always immediately encrypted, so a generic schema buys nothing here.
func (a *Attributes) Marshal() []byte {
	var buf bytes.Buffer
	var scratch [8]byte

	putU32 := func(v uint32) {
		binary.BigEndian.PutUint32(scratch[:4], v)
		buf.Write(scratch[:4])
	}
	putU64 := func(v uint64) {
		binary.BigEndian.PutUint64(scratch[:8], v)
		buf.Write(scratch[:8])
	}
	putBytes := func(b []byte) {
		putU32(uint32(len(b)))
		buf.Write(b)
	}

	putU32(a.Mode)
	putU32(a.UID)
	putU32(a.GID)
	putU64(uint64(a.ModTime))
	putU64(uint64(a.AttrModTime))
	putBytes([]byte(a.SymlinkTo))
	putBytes(a.ExtendedAttr)
	return buf.Bytes()
}

// Unmarshal decodes the output of Marshal.
func Unmarshal(data []byte) (*Attributes, error) {
	const op = "boxattr.Unmarshal"
	r := bytes.NewReader(data)
	var scratch [8]byte

	readU32 := func() (uint32, error) {
		if _, err := readFull(r, scratch[:4]); err != nil {
			return 0, err
		}
		return binary.BigEndian.Uint32(scratch[:4]), nil
	}
	readU64 := func() (uint64, error) {
		if _, err := readFull(r, scratch[:8]); err != nil {
			return 0, err
		}
		return binary.BigEndian.Uint64(scratch[:8]), nil
	}
	readBytes := func() ([]byte, error) {
		n, err := readU32()
		if err != nil {
			return nil, err
		}
		b := make([]byte, n)
		if _, err := readFull(r, b); err != nil {
			return nil, err
		}
		return b, nil
	}

	a := &Attributes{}
	var err error
	if a.Mode, err = readU32(); err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	if a.UID, err = readU32(); err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	if a.GID, err = readU32(); err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	mt, err := readU64()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	a.ModTime = box.Time(mt)
	amt, err := readU64()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	a.AttrModTime = box.Time(amt)
	sym, err := readBytes()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	a.SymlinkTo = string(sym)
	if a.ExtendedAttr, err = readBytes(); err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	return a, nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n := 0
	for n < len(b) {
		k, err := r.Read(b[n:])
		n += k
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Encode encrypts a's cleartext form under key (random IV, so repeated
// encodings of the same attributes differ) and returns the opaque blob
// that gets stored in a DirEntry.
func Encode(key []byte, a *Attributes) ([]byte, error) {
	return boxcrypto.EncodeAttributes(key, a.Marshal())
}

// Decode decrypts an attribute block produced by Encode.
func Decode(key []byte, blob []byte) (*Attributes, error) {
	cleartext, err := boxcrypto.DecodeAttributes(key, blob)
	if err != nil {
		return nil, err
	}
	return Unmarshal(cleartext)
}

// Compare decrypts two attribute blocks and reports structural
// equality, without needing to pre-decode either into Attributes.
func Compare(key []byte, a, b []byte) (bool, error) {
	return boxcrypto.CompareAttributes(key, a, b)
}

// Hash computes the stable, non-reversible attrHash for a, independent
// of which random IV a future Encode call happens to choose.
func Hash(secret []byte, a *Attributes) (box.AttrHash, error) {
	h, err := boxcrypto.AttributeHash(secret, a.Marshal())
	if err != nil {
		return 0, err
	}
	return box.AttrHash(h), nil
}
