package boxname_test

import (
	"testing"

	"boxbackup.io/boxcrypto"
	"boxbackup.io/boxname"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	keys, err := boxcrypto.Generate()
	if err != nil {
		t.Fatal(err)
	}
	enc, err := boxname.Encode(keys.FilenameKey, "photos/summer/beach.jpg")
	if err != nil {
		t.Fatal("Encode:", err)
	}
	got, err := boxname.Decode(keys.FilenameKey, enc)
	if err != nil {
		t.Fatal("Decode:", err)
	}
	if got != "photos/summer/beach.jpg" {
		t.Errorf("Decode = %q, want %q", got, "photos/summer/beach.jpg")
	}
}

func TestEqualAndDeterminism(t *testing.T) {
	keys, err := boxcrypto.Generate()
	if err != nil {
		t.Fatal(err)
	}
	a, err := boxname.Encode(keys.FilenameKey, "same-name.txt")
	if err != nil {
		t.Fatal(err)
	}
	b, err := boxname.Encode(keys.FilenameKey, "same-name.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !boxname.Equal(a, b) {
		t.Error("two encodings of the same cleartext are not Equal")
	}

	c, err := boxname.Encode(keys.FilenameKey, "different-name.txt")
	if err != nil {
		t.Fatal(err)
	}
	if boxname.Equal(a, c) {
		t.Error("encodings of different cleartext reported Equal")
	}
}
