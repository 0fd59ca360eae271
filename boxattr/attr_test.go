package boxattr_test

import (
	"bytes"
	"testing"

	"boxbackup.io/box"
	"boxbackup.io/boxattr"
	"boxbackup.io/boxcrypto"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	a := &boxattr.Attributes{
		Mode:         0644,
		UID:          1000,
		GID:          1000,
		ModTime:      box.Time(123456789),
		AttrModTime:  box.Time(987654321),
		SymlinkTo:    "",
		ExtendedAttr: []byte("user.comment=hello"),
	}
	got, err := boxattr.Unmarshal(a.Marshal())
	if err != nil {
		t.Fatal("Unmarshal:", err)
	}
	if *got != *a {
		t.Errorf("Unmarshal(Marshal(a)) = %+v, want %+v", *got, *a)
	}
}

func TestMarshalUnmarshalSymlink(t *testing.T) {
	a := &boxattr.Attributes{Mode: 0777, SymlinkTo: "../other/target"}
	got, err := boxattr.Unmarshal(a.Marshal())
	if err != nil {
		t.Fatal("Unmarshal:", err)
	}
	if got.SymlinkTo != a.SymlinkTo {
		t.Errorf("SymlinkTo = %q, want %q", got.SymlinkTo, a.SymlinkTo)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	keys, err := boxcrypto.Generate()
	if err != nil {
		t.Fatal(err)
	}
	a := &boxattr.Attributes{Mode: 0600, UID: 42, GID: 42}
	blob, err := boxattr.Encode(keys.AttributeKey, a)
	if err != nil {
		t.Fatal("Encode:", err)
	}
	got, err := boxattr.Decode(keys.AttributeKey, blob)
	if err != nil {
		t.Fatal("Decode:", err)
	}
	if *got != *a {
		t.Errorf("Decode(Encode(a)) = %+v, want %+v", *got, *a)
	}
}

func TestCompareIgnoresIVRandomisation(t *testing.T) {
	keys, err := boxcrypto.Generate()
	if err != nil {
		t.Fatal(err)
	}
	a := &boxattr.Attributes{Mode: 0755}
	blobA, err := boxattr.Encode(keys.AttributeKey, a)
	if err != nil {
		t.Fatal(err)
	}
	blobB, err := boxattr.Encode(keys.AttributeKey, a)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(blobA, blobB) {
		t.Fatal("two encodings of identical attributes produced identical ciphertext")
	}
	equal, err := boxattr.Compare(keys.AttributeKey, blobA, blobB)
	if err != nil {
		t.Fatal("Compare:", err)
	}
	if !equal {
		t.Error("Compare reported different cleartext for equal attribute blocks")
	}
}

func TestHashStableAcrossReEncodes(t *testing.T) {
	keys, err := boxcrypto.Generate()
	if err != nil {
		t.Fatal(err)
	}
	a := &boxattr.Attributes{Mode: 0644, UID: 7, GID: 7}
	h1, err := boxattr.Hash(keys.AttrHashSecret, a)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := boxattr.Hash(keys.AttrHashSecret, a)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Error("Hash is not stable across repeated calls with identical attributes")
	}

	b := &boxattr.Attributes{Mode: 0600, UID: 7, GID: 7}
	h3, err := boxattr.Hash(keys.AttrHashSecret, b)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h3 {
		t.Error("Hash collided for attributes differing in Mode")
	}
}
