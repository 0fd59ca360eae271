// Package boxcrypto implements the cryptographic primitives shared by
// every encoding layer: the account key material, the filename and
// attribute ciphers, the file-data and block-index ciphers, the
// strong per-block hash, the keyed attribute fingerprint, and the
// rolling checksum used by the diff engine.
//
// Key layout is grounded directly on Box Backup's original key
// material file (BackupClientCryptoKeys.h): four independent 448-bit
// (56-byte) Blowfish-class keys plus a 128-byte attribute-hash secret
// and a 256-bit AES file key, packed into a single 1024-byte file.
package boxcrypto

import (
	"bytes"
	"crypto/rand"
	"io"

	"boxbackup.io/boxerrors"
)

const (
	filenameKeyLen   = 56
	attributeKeyLen  = 56
	blockIndexKeyLen = 56
	blowfishFileLen  = 56
	attrHashSecretLen = 128
	aesFileKeyLen    = 32

	// KeyMaterialSize is the size of the key material file, matching
	// the original BACKUPCRYPTOKEYS_FILE_SIZE. Gaps are deliberately
	// left between fields, as in the original layout.
	KeyMaterialSize = 1024
)

// offsets within the key material file, mirroring the original's
// 64-byte-aligned field spacing. The four Blowfish keys each reserve
// 64 bytes but use fewer; the attribute-hash secret fills its 128
// bytes (256..383), and the AES file key follows at 384.
const (
	offFilenameKey   = 0
	offAttributeKey  = 64
	offBlockIndexKey = 128
	offFileKeyBF     = 192 // legacy Blowfish file-data key, unused by default
	offAttrHashSecret = 256
	offAESFileKey    = 384
)

// Keys holds every key derived from an account's key material file.
type Keys struct {
	FilenameKey    []byte // Blowfish, 56 bytes
	AttributeKey   []byte // Blowfish, 56 bytes
	BlockIndexKey  []byte // Blowfish, 56 bytes
	AttrHashSecret []byte // keyed-hash secret, 128 bytes
	FileDataKey    []byte // AES-256, 32 bytes
}

// Generate creates a fresh, random set of keys, suitable for new
// accounts and for tests.
func Generate() (*Keys, error) {
	buf := make([]byte, KeyMaterialSize)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, boxerrors.E("boxcrypto.Generate", boxerrors.Other, err)
	}
	return parse(buf), nil
}

// Load parses a key material file of exactly KeyMaterialSize bytes.
func Load(data []byte) (*Keys, error) {
	const op = "boxcrypto.Load"
	if len(data) != KeyMaterialSize {
		return nil, boxerrors.E(op, boxerrors.Config, boxerrors.Errorf("key material must be %d bytes, got %d", KeyMaterialSize, len(data)))
	}
	return parse(data), nil
}

func parse(data []byte) *Keys {
	return &Keys{
		FilenameKey:    clone(data[offFilenameKey : offFilenameKey+filenameKeyLen]),
		AttributeKey:   clone(data[offAttributeKey : offAttributeKey+attributeKeyLen]),
		BlockIndexKey:  clone(data[offBlockIndexKey : offBlockIndexKey+blockIndexKeyLen]),
		AttrHashSecret: clone(data[offAttrHashSecret : offAttrHashSecret+attrHashSecretLen]),
		FileDataKey:    clone(data[offAESFileKey : offAESFileKey+aesFileKeyLen]),
	}
}

// Marshal writes k back out to a KeyMaterialSize-byte buffer in the
// canonical layout, with unused regions zero-filled.
func (k *Keys) Marshal() []byte {
	buf := make([]byte, KeyMaterialSize)
	copy(buf[offFilenameKey:], k.FilenameKey)
	copy(buf[offAttributeKey:], k.AttributeKey)
	copy(buf[offBlockIndexKey:], k.BlockIndexKey)
	copy(buf[offAttrHashSecret:], k.AttrHashSecret)
	copy(buf[offAESFileKey:], k.FileDataKey)
	return buf
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Equal reports whether two key sets are identical. Used only by tests.
func (k *Keys) Equal(other *Keys) bool {
	return bytes.Equal(k.FilenameKey, other.FilenameKey) &&
		bytes.Equal(k.AttributeKey, other.AttributeKey) &&
		bytes.Equal(k.BlockIndexKey, other.BlockIndexKey) &&
		bytes.Equal(k.AttrHashSecret, other.AttrHashSecret) &&
		bytes.Equal(k.FileDataKey, other.FileDataKey)
}
