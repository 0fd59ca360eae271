package boxproto

import (
	"bytes"
	"io"

	"boxbackup.io/boxerrors"
)

// MaxChunkSize bounds a single sub-stream chunk.
const MaxChunkSize = 16 * 1024 * 1024

// WriteSubstream copies r's entire contents to w as a sequence of
// {u32 chunkLen, bytes} records, terminated by a zero-length chunk. It
// does not buffer the whole payload: each chunk is read and written in
// turn, so an object can be streamed straight from disk or a network
// source without materialising it.
func WriteSubstream(w io.Writer, r io.Reader) error {
	const op = "boxproto.WriteSubstream"
	buf := make([]byte, 64*1024)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if err := writeChunk(w, buf[:n]); err != nil {
				return boxerrors.E(op, boxerrors.Connection, err)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return boxerrors.E(op, boxerrors.Connection, rerr)
		}
	}
	return writeChunk(w, nil)
}

func writeChunk(w io.Writer, b []byte) error {
	var fw fieldWriter
	fw.bytes(b)
	_, err := w.Write(fw.bytesOut())
	return err
}

// SubstreamReader presents an inline sub-stream as an io.Reader,
// stopping cleanly at the terminating zero-length chunk without
// consuming anything beyond it, so the caller can keep reading the
// same connection for the next message.
type SubstreamReader struct {
	r       io.Reader
	current *bytes.Reader
	done    bool
}

// NewSubstreamReader wraps r, which must be positioned at the start of
// a sub-stream's first chunk header.
func NewSubstreamReader(r io.Reader) *SubstreamReader {
	return &SubstreamReader{r: r}
}

func (s *SubstreamReader) Read(p []byte) (int, error) {
	const op = "boxproto.SubstreamReader.Read"
	for {
		if s.current != nil {
			n, err := s.current.Read(p)
			if n > 0 {
				return n, nil
			}
			if err == io.EOF {
				s.current = nil
				continue
			}
			return n, err
		}
		if s.done {
			return 0, io.EOF
		}
		var lenBuf [4]byte
		if _, err := io.ReadFull(s.r, lenBuf[:]); err != nil {
			return 0, boxerrors.E(op, boxerrors.Connection, err)
		}
		n := be32(lenBuf[:])
		if n == 0 {
			s.done = true
			continue
		}
		if n > MaxChunkSize {
			return 0, boxerrors.E(op, boxerrors.Protocol, boxerrors.Errorf("sub-stream chunk %d exceeds maximum %d", n, MaxChunkSize))
		}
		chunk := make([]byte, n)
		if _, err := io.ReadFull(s.r, chunk); err != nil {
			return 0, boxerrors.E(op, boxerrors.Connection, err)
		}
		s.current = bytes.NewReader(chunk)
	}
}

// Discard reads and drops the remainder of the sub-stream, so the
// underlying connection is positioned at the next message even if the
// caller didn't want this sub-stream's payload.
func (s *SubstreamReader) Discard() error {
	_, err := io.Copy(io.Discard, s)
	return err
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
