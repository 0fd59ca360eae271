package boxerrors_test

import (
	"strings"
	"testing"

	"boxbackup.io/boxerrors"
)

func TestEBuildsErrorFromArgs(t *testing.T) {
	err := boxerrors.E("StoreFile", boxerrors.Storage, uint32(5), uint64(9), boxerrors.Errorf("disk full"))
	if boxerrors.KindOf(err) != boxerrors.Storage {
		t.Fatalf("KindOf = %v, want %v", boxerrors.KindOf(err), boxerrors.Storage)
	}
	msg := err.Error()
	for _, want := range []string{"StoreFile", "account 5", "object 9", "storage error", "disk full"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestEWrapsNestedError(t *testing.T) {
	inner := boxerrors.E("diff.Apply", boxerrors.Integrity, boxerrors.Errorf("hash mismatch"))
	outer := boxerrors.E("client.sync", boxerrors.Other, inner)

	if !boxerrors.Is(boxerrors.Integrity, outer) {
		t.Error("Is(Integrity, outer) = false, want true (should unwrap to the inner kind)")
	}
	if boxerrors.KindOf(outer) != boxerrors.Integrity {
		t.Errorf("KindOf(outer) = %v, want %v", boxerrors.KindOf(outer), boxerrors.Integrity)
	}
}

func TestIsReturnsFalseForPlainError(t *testing.T) {
	if boxerrors.Is(boxerrors.Storage, boxerrors.Errorf("plain")) {
		t.Error("Is reported true for a non-boxerrors error")
	}
}

func TestKindOfDefaultsToOther(t *testing.T) {
	if got := boxerrors.KindOf(boxerrors.Errorf("plain")); got != boxerrors.Other {
		t.Errorf("KindOf(plain error) = %v, want %v", got, boxerrors.Other)
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := boxerrors.Errorf("root cause")
	err := boxerrors.E("op", inner)
	be, ok := err.(*boxerrors.Error)
	if !ok {
		t.Fatal("E did not return *boxerrors.Error")
	}
	if be.Unwrap() != inner {
		t.Error("Unwrap() did not return the wrapped error")
	}
}
