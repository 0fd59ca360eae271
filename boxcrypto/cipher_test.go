package boxcrypto_test

import (
	"bytes"
	"testing"

	"boxbackup.io/boxcrypto"
)

func TestEncodeNameIsDeterministic(t *testing.T) {
	keys, err := boxcrypto.Generate()
	if err != nil {
		t.Fatal(err)
	}
	a, err := boxcrypto.EncodeName(keys.FilenameKey, []byte("report.txt"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := boxcrypto.EncodeName(keys.FilenameKey, []byte("report.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("encoding the same cleartext name twice produced different ciphertexts")
	}

	c, err := boxcrypto.EncodeName(keys.FilenameKey, []byte("other.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, c) {
		t.Error("encoding different cleartext names produced the same ciphertext")
	}

	clear, err := boxcrypto.DecodeName(keys.FilenameKey, a)
	if err != nil {
		t.Fatal("DecodeName:", err)
	}
	if string(clear) != "report.txt" {
		t.Errorf("DecodeName = %q, want %q", clear, "report.txt")
	}
}

func TestDecodeNameRejectsCorruption(t *testing.T) {
	keys, err := boxcrypto.Generate()
	if err != nil {
		t.Fatal(err)
	}
	enc, err := boxcrypto.EncodeName(keys.FilenameKey, []byte("name"))
	if err != nil {
		t.Fatal(err)
	}
	enc[0] ^= 0xff // corrupt the scheme byte
	if _, err := boxcrypto.DecodeName(keys.FilenameKey, enc); err == nil {
		t.Fatal("expected DecodeName to reject a corrupted scheme byte")
	}
}

func TestEncodeAttributesRandomisesCiphertextButNotCleartext(t *testing.T) {
	keys, err := boxcrypto.Generate()
	if err != nil {
		t.Fatal(err)
	}
	cleartext := []byte("mode=0644 uid=1000 gid=1000")

	a, err := boxcrypto.EncodeAttributes(keys.AttributeKey, cleartext)
	if err != nil {
		t.Fatal(err)
	}
	b, err := boxcrypto.EncodeAttributes(keys.AttributeKey, cleartext)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Error("two encodings of the same attributes produced identical ciphertext")
	}

	equal, err := boxcrypto.CompareAttributes(keys.AttributeKey, a, b)
	if err != nil {
		t.Fatal("CompareAttributes:", err)
	}
	if !equal {
		t.Error("CompareAttributes reported different cleartext for equal attribute blobs")
	}

	da, err := boxcrypto.DecodeAttributes(keys.AttributeKey, a)
	if err != nil {
		t.Fatal("DecodeAttributes:", err)
	}
	if !bytes.Equal(da, cleartext) {
		t.Errorf("DecodeAttributes = %q, want %q", da, cleartext)
	}
}

func TestFileBlockCipherRoundTrip(t *testing.T) {
	keys, err := boxcrypto.Generate()
	if err != nil {
		t.Fatal(err)
	}
	salt, err := boxcrypto.NewSalt()
	if err != nil {
		t.Fatal(err)
	}
	fc, err := boxcrypto.NewFileBlockCipher(keys.FileDataKey, salt)
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("a block of file content to encrypt")
	enc := make([]byte, len(plaintext))
	fc.Crypt(7, enc, plaintext)
	if bytes.Equal(enc, plaintext) {
		t.Fatal("ciphertext equals plaintext")
	}

	dec := make([]byte, len(enc))
	fc.Crypt(7, dec, enc)
	if !bytes.Equal(dec, plaintext) {
		t.Errorf("decrypted = %q, want %q", dec, plaintext)
	}

	wrongOrdinal := make([]byte, len(enc))
	fc.Crypt(8, wrongOrdinal, enc)
	if bytes.Equal(wrongOrdinal, plaintext) {
		t.Error("decrypting with the wrong block ordinal recovered the plaintext")
	}
}
