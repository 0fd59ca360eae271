// Package boxname implements deterministic filename encryption: the
// same cleartext name always encodes to the same ciphertext bytes
// within an account, so the server can match and sort names without
// holding the decryption key.
package boxname

import (
	"boxbackup.io/box"
	"boxbackup.io/boxcrypto"
)

// Encode encrypts a cleartext filesystem name under the account's
// filename key.
func Encode(key []byte, cleartext string) (box.EncodedName, error) {
	ct, err := boxcrypto.EncodeName(key, []byte(cleartext))
	if err != nil {
		return nil, err
	}
	return box.EncodedName(ct), nil
}

// Decode recovers the cleartext name, or fails with boxerrors.Integrity
// wrapping boxcrypto.ErrBadEncoding if the scheme byte is unknown or the
// ciphertext does not round-trip.
func Decode(key []byte, name box.EncodedName) (string, error) {
	pt, err := boxcrypto.DecodeName(key, []byte(name))
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// Equal reports whether two encoded names refer to the same cleartext.
// Because encoding is deterministic this is a plain byte comparison and
// never needs the key.
func Equal(a, b box.EncodedName) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
