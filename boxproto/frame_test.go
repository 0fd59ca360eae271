package boxproto_test

import (
	"bytes"
	"testing"

	"boxbackup.io/boxproto"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("hello frame")
	if err := boxproto.WriteFrame(&buf, boxproto.TStoreFileRequest, body); err != nil {
		t.Fatal(err)
	}
	typ, got, err := boxproto.ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if typ != boxproto.TStoreFileRequest {
		t.Errorf("type = %v, want TStoreFileRequest", typ)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("body = %q, want %q", got, body)
	}
}

func TestWriteReadFrameEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	if err := boxproto.WriteFrame(&buf, boxproto.TGetIsAlive, nil); err != nil {
		t.Fatal(err)
	}
	typ, got, err := boxproto.ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if typ != boxproto.TGetIsAlive || len(got) != 0 {
		t.Errorf("got type=%v body=%q", typ, got)
	}
}

func TestReadFrameRejectsOversizeLength(t *testing.T) {
	var buf bytes.Buffer
	// Claim a body far larger than MaxFrameSize without supplying one.
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff, byte(boxproto.TError)})
	if _, _, err := boxproto.ReadFrame(&buf); err == nil {
		t.Fatal("expected an error for an oversize claimed frame length")
	}
}

func TestExpectTypeRejectsMismatch(t *testing.T) {
	var buf bytes.Buffer
	if err := boxproto.WriteFrame(&buf, boxproto.TSuccess, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := boxproto.ExpectType(&buf, boxproto.TError); err == nil {
		t.Fatal("expected ExpectType to reject a frame of the wrong type")
	}
}

func TestExpectTypeAcceptsMatch(t *testing.T) {
	var buf bytes.Buffer
	body := (&boxproto.Success{ObjectID: 7}).Marshal()
	if err := boxproto.WriteFrame(&buf, boxproto.TSuccess, body); err != nil {
		t.Fatal(err)
	}
	got, err := boxproto.ExpectType(&buf, boxproto.TSuccess)
	if err != nil {
		t.Fatal(err)
	}
	s, err := boxproto.DecodeSuccess(got)
	if err != nil {
		t.Fatal(err)
	}
	if s.ObjectID != 7 {
		t.Errorf("ObjectID = %d, want 7", s.ObjectID)
	}
}
