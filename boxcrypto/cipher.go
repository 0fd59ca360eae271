package boxcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"golang.org/x/crypto/blowfish"

	"boxbackup.io/boxerrors"
)

// scheme bytes, the fixed short prefix that tells a decoder which
// algorithm produced a ciphertext. Only one of each is defined today;
// unknown scheme bytes are rejected, per the deterministic-name
// encoding contract in the design.
const (
	schemeNameBlowfishCFB byte = 1
	schemeAttrBlowfishCBC byte = 1
)

// EncodeName deterministically encrypts a cleartext filename under key
// so that equal cleartexts produce equal ciphertexts: the IV is derived
// from a keyed hash of the cleartext rather than chosen at random.
func EncodeName(key, cleartext []byte) ([]byte, error) {
	const op = "boxcrypto.EncodeName"
	block, err := blowfish.NewCipher(key)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Other, err)
	}
	iv := nameIV(key, cleartext, block.BlockSize())
	out := make([]byte, 1+len(iv)+len(cleartext))
	out[0] = schemeNameBlowfishCFB
	copy(out[1:], iv)
	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(out[1+len(iv):], cleartext)
	return out, nil
}

// DecodeName reverses EncodeName. It returns BadEncoding if the scheme
// byte is unrecognised or if the decoded cleartext does not re-encode
// to the same ciphertext bytes (guarding against key/IV corruption).
func DecodeName(key, ciphertext []byte) ([]byte, error) {
	const op = "boxcrypto.DecodeName"
	block, err := blowfish.NewCipher(key)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Other, err)
	}
	ivLen := block.BlockSize()
	if len(ciphertext) < 1+ivLen {
		return nil, boxerrors.E(op, boxerrors.Integrity, ErrBadEncoding)
	}
	if ciphertext[0] != schemeNameBlowfishCFB {
		return nil, boxerrors.E(op, boxerrors.Integrity, ErrBadEncoding)
	}
	iv := ciphertext[1 : 1+ivLen]
	body := ciphertext[1+ivLen:]
	cleartext := make([]byte, len(body))
	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(cleartext, body)

	reencoded, err := EncodeName(key, cleartext)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Other, err)
	}
	if !bytesEqual(reencoded, ciphertext) {
		return nil, boxerrors.E(op, boxerrors.Integrity, ErrBadEncoding)
	}
	return cleartext, nil
}

// ErrBadEncoding is returned when a name's ciphertext has an unknown
// scheme byte or does not round-trip to the bytes it was decoded from.
var ErrBadEncoding = boxerrors.Str("bad name encoding")

func nameIV(key, cleartext []byte, size int) []byte {
	h := keyedHash(key, cleartext, size)
	return h[:size]
}

// EncodeAttributes encrypts an opaque attribute blob with a random IV:
// two encodings of the same attributes produce different ciphertexts,
// but DecodeAttributes on either yields the same cleartext.
func EncodeAttributes(key, cleartext []byte) ([]byte, error) {
	const op = "boxcrypto.EncodeAttributes"
	block, err := blowfish.NewCipher(key)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Other, err)
	}
	bs := block.BlockSize()
	padded := pkcs7Pad(cleartext, bs)
	iv := make([]byte, bs)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, boxerrors.E(op, boxerrors.Other, err)
	}
	out := make([]byte, 1+bs+len(padded))
	out[0] = schemeAttrBlowfishCBC
	copy(out[1:], iv)
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(out[1+bs:], padded)
	return out, nil
}

// DecodeAttributes reverses EncodeAttributes.
func DecodeAttributes(key, ciphertext []byte) ([]byte, error) {
	const op = "boxcrypto.DecodeAttributes"
	block, err := blowfish.NewCipher(key)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Other, err)
	}
	bs := block.BlockSize()
	if len(ciphertext) < 1+bs || (len(ciphertext)-1-bs)%bs != 0 {
		return nil, boxerrors.E(op, boxerrors.Integrity, ErrBadEncoding)
	}
	if ciphertext[0] != schemeAttrBlowfishCBC {
		return nil, boxerrors.E(op, boxerrors.Integrity, ErrBadEncoding)
	}
	iv := ciphertext[1 : 1+bs]
	body := ciphertext[1+bs:]
	padded := make([]byte, len(body))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(padded, body)
	return pkcs7Unpad(padded)
}

// CompareAttributes decrypts both blobs and reports structural
// (byte-for-byte) equality of their cleartext.
func CompareAttributes(key, a, b []byte) (bool, error) {
	ca, err := DecodeAttributes(key, a)
	if err != nil {
		return false, err
	}
	cb, err := DecodeAttributes(key, b)
	if err != nil {
		return false, err
	}
	return bytesEqual(ca, cb), nil
}

// FileBlockCipher encrypts/decrypts the per-block payload of an encoded
// file object under AES-256-CTR. A single random 8-byte salt is chosen
// per object and combined with the block ordinal to form each block's
// counter, so no IV is ever reused under a given key without also
// reusing the object's salt+ordinal pair.
type FileBlockCipher struct {
	block cipher.Block
	salt  [8]byte
}

// NewFileBlockCipher creates a cipher for one encoded file object. salt
// must be 8 bytes, fresh per object (stored in the object header).
func NewFileBlockCipher(key []byte, salt []byte) (*FileBlockCipher, error) {
	const op = "boxcrypto.NewFileBlockCipher"
	if len(salt) != 8 {
		return nil, boxerrors.E(op, boxerrors.Other, boxerrors.Errorf("salt must be 8 bytes"))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Other, err)
	}
	fc := &FileBlockCipher{block: block}
	copy(fc.salt[:], salt)
	return fc, nil
}

// NewSalt returns a fresh random 8-byte salt for a new object.
func NewSalt() ([]byte, error) {
	salt := make([]byte, 8)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, boxerrors.E("boxcrypto.NewSalt", boxerrors.Other, err)
	}
	return salt, nil
}

func (c *FileBlockCipher) iv(blockOrdinal uint64) []byte {
	iv := make([]byte, aes.BlockSize)
	copy(iv, c.salt[:])
	for i := 0; i < 8; i++ {
		iv[8+i] = byte(blockOrdinal >> (56 - 8*i))
	}
	return iv
}

// Crypt XORs plaintext/ciphertext for the given block ordinal. Because
// CTR mode is its own inverse this is used for both directions.
func (c *FileBlockCipher) Crypt(blockOrdinal uint64, dst, src []byte) {
	stream := cipher.NewCTR(c.block, c.iv(blockOrdinal))
	stream.XORKeyStream(dst, src)
}

// EncodeBlockIndex encrypts the trailing block index the same way
// attribute blocks are encrypted: random IV, Blowfish-CBC.
func EncodeBlockIndex(key, cleartext []byte) ([]byte, error) {
	return EncodeAttributes(key, cleartext)
}

// DecodeBlockIndex reverses EncodeBlockIndex.
func DecodeBlockIndex(key, ciphertext []byte) ([]byte, error) {
	return DecodeAttributes(key, ciphertext)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, boxerrors.E("boxcrypto.pkcs7Unpad", boxerrors.Integrity, ErrBadEncoding)
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, boxerrors.E("boxcrypto.pkcs7Unpad", boxerrors.Integrity, ErrBadEncoding)
	}
	return data[:len(data)-padLen], nil
}

func bytesEqual(a, b []byte) bool {
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
