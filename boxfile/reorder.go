package boxfile

import (
	"io"

	"boxbackup.io/boxerrors"
)

// ReorderToStreamOrder rewrites a file-order object (index trailing,
// requiring random access to decode ahead of time) into stream order
// (index leading, so a forward-only reader can decode without ever
// seeking). It is a pure transformation over a seekable source, and is
// implemented as a lazy adapter — three io.SectionReaders concatenated
// in the new order — rather than buffering the object in memory, per
// the design notes.
func ReorderToStreamOrder(src io.ReaderAt, size int64) (io.Reader, error) {
	const op = "boxfile.ReorderToStreamOrder"

	sr := io.NewSectionReader(src, 0, size)

	if _, err := readU32(sr); err != nil { // magic
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	if _, err := readU64(sr); err != nil { // containerDirID
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	if _, err := readU64(sr); err != nil { // modTime
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	var salt [8]byte
	if _, err := io.ReadFull(sr, salt[:]); err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	if _, err := readBlock(sr); err != nil { // name
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	if _, err := readBlock(sr); err != nil { // attrs
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	blockCount, err := readU32(sr)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	headEnd, err := sr.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}

	chunkStart := headEnd
	for i := uint32(0); i < blockCount; i++ {
		_, _, encSize, err := readChunkHeader(sr)
		if err != nil {
			return nil, boxerrors.E(op, boxerrors.Integrity, err)
		}
		if _, err := sr.Seek(int64(encSize), io.SeekCurrent); err != nil {
			return nil, boxerrors.E(op, boxerrors.Integrity, err)
		}
	}
	chunkEnd, err := sr.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	indexStart := chunkEnd
	indexLen := size - indexStart

	head := io.NewSectionReader(src, 0, headEnd)
	index := io.NewSectionReader(src, indexStart, indexLen)
	chunks := io.NewSectionReader(src, chunkStart, chunkEnd-chunkStart)

	return io.MultiReader(head, index, chunks), nil
}
