package boxcrypto

import (
	"crypto/sha1"
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	"boxbackup.io/boxerrors"
)

// StrongHashSize is the size, in bytes, of a block's strong hash as
// carried in the block index. Box Backup's original design calls for a
// "SHA-1-class" hash; we use SHA-1 truncated to 16 bytes, which is
// ample for identifying fixed-size content-defined blocks and keeps
// index entries compact.
const StrongHashSize = 16

// StrongHash computes the strong per-block hash of data.
func StrongHash(data []byte) [StrongHashSize]byte {
	full := sha1.Sum(data)
	var out [StrongHashSize]byte
	copy(out[:], full[:StrongHashSize])
	return out
}

// keyedHash returns a BLAKE2b keyed hash of data truncated/resized to n
// bytes (n must be <= 64). BLAKE2b takes a key natively, unlike SHA,
// which needs the HMAC construction; this is the genuine "keyed hash"
// primitive the design calls for. A key longer than 64 bytes (such as
// the 128-byte attribute-hash secret) is first hashed down to 64 bytes,
// so every byte of it still keys the result.
func keyedHash(key, data []byte, n int) []byte {
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	h, err := blake2b.New(64, key)
	if err != nil {
		// blake2b.New only fails for a key over 64 bytes, which the
		// step above rules out. Fall back to an unkeyed hash rather
		// than panic.
		h, _ = blake2b.New256(nil)
	}
	h.Write(data)
	sum := h.Sum(nil)
	if n > len(sum) {
		n = len(sum)
	}
	return sum[:n]
}

// AttributeHash computes the stable, non-reversible fingerprint of a
// cleartext attribute blob, keyed by the account's attribute-hash
// secret. Two encodings of the same attributes always hash equal.
func AttributeHash(secret, cleartext []byte) (uint64, error) {
	if len(secret) == 0 {
		return 0, boxerrors.E("boxcrypto.AttributeHash", boxerrors.Other, boxerrors.Errorf("empty secret"))
	}
	sum := keyedHash(secret, cleartext, 8)
	return binary.BigEndian.Uint64(sum), nil
}
