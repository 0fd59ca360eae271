package boxproto

import (
	"bytes"
	"encoding/binary"
	"io"

	"boxbackup.io/box"
)

// fieldWriter accumulates a message body's typed fields in the fixed
// order the message's type dictates.
type fieldWriter struct {
	buf bytes.Buffer
}

func (w *fieldWriter) u8(v uint8)   { w.buf.WriteByte(v) }
func (w *fieldWriter) bool(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *fieldWriter) u16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *fieldWriter) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *fieldWriter) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *fieldWriter) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf.Write(b)
}

func (w *fieldWriter) name(n box.EncodedName) { w.bytes([]byte(n)) }

func (w *fieldWriter) bytesOut() []byte { return w.buf.Bytes() }

// fieldReader parses a message body written by fieldWriter.
type fieldReader struct {
	r *bytes.Reader
}

func newFieldReader(body []byte) *fieldReader { return &fieldReader{r: bytes.NewReader(body)} }

func (r *fieldReader) u8() (uint8, error) { return r.r.ReadByte() }

func (r *fieldReader) bool() (bool, error) {
	b, err := r.r.ReadByte()
	return b != 0, err
}

func (r *fieldReader) u16() (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func (r *fieldReader) u32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func (r *fieldReader) u64() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func (r *fieldReader) bytes() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *fieldReader) name() (box.EncodedName, error) {
	b, err := r.bytes()
	if err != nil {
		return nil, err
	}
	return box.EncodedName(b), nil
}
