package boxfile

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"io"

	"boxbackup.io/box"
	"boxbackup.io/boxcrypto"
	"boxbackup.io/boxerrors"
)

// IndexEntry is one entry of a block index: the weak and strong hashes
// used by the diff engine to find reusable content, the block's
// logical size, and either an offset within this object (self-block)
// or a reference into a prior object (patch-block).
type IndexEntry struct {
	Weak   uint32
	Strong [boxcrypto.StrongHashSize]byte
	Size   uint32

	IsReference bool

	// Offset is the byte offset, within this object, of the chunk
	// record describing a self-block. Meaningless when IsReference.
	Offset int64

	// PriorObjectID/PriorOrdinal locate the block within a previously
	// stored object. Meaningless unless IsReference.
	PriorObjectID box.ObjectID
	PriorOrdinal  uint32
}

// BlockPlan describes one block to be written into a new object: either
// fresh cleartext (a self-block) or a reference to a block already
// present in a prior object (a patch-block), as produced by the diff
// engine.
type BlockPlan struct {
	IsReference bool

	// Self-block fields.
	Data []byte

	// Reference fields; Weak/Strong must equal the referenced block's
	// own index entry (the diff engine copies them from there).
	PriorObjectID box.ObjectID
	PriorOrdinal  uint32
	Size          uint32
	Weak          uint32
	Strong        [boxcrypto.StrongHashSize]byte
}

// SelfBlock builds a plan for a block whose cleartext content is data.
func SelfBlock(data []byte) BlockPlan {
	return BlockPlan{Data: data, Size: uint32(len(data))}
}

// ReferenceBlock builds a plan for a block reused verbatim from a prior
// object's block ordinal.
func ReferenceBlock(priorID box.ObjectID, ordinal uint32, size uint32, weak uint32, strong [boxcrypto.StrongHashSize]byte) BlockPlan {
	return BlockPlan{
		IsReference:   true,
		PriorObjectID: priorID,
		PriorOrdinal:  ordinal,
		Size:          size,
		Weak:          weak,
		Strong:        strong,
	}
}

// Object is the in-memory description of an encoded file object after
// it has been written or read: everything except the raw chunk bytes.
type Object struct {
	ContainerDirID box.ObjectID
	ModTime        box.Time
	Name           box.EncodedName
	AttrBlock      []byte
	Salt           []byte
	Index          []IndexEntry

	// IsCompletelyDifferent is true when Index contains no reference
	// entries (a "full" object); false for a patch.
	IsCompletelyDifferent bool
}

// referencePayloadSize is the size of the locator written in place of
// ciphertext for a reference block: an 8-byte prior object ID and a
// 4-byte block ordinal, per spec §6.
const referencePayloadSize = 8 + 4

// WriteObject encodes plans into the file-order wire format of spec §6
// and writes it to w, returning the Object describing what was
// written (including the block index, for callers that want to cache
// it without a round trip through decryption).
func WriteObject(w io.Writer, keys *boxcrypto.Keys, containerDirID box.ObjectID, modTime box.Time, name box.EncodedName, attrBlock []byte, plans []BlockPlan) (*Object, error) {
	const op = "boxfile.WriteObject"

	salt, err := boxcrypto.NewSalt()
	if err != nil {
		return nil, boxerrors.E(op, err)
	}
	fc, err := boxcrypto.NewFileBlockCipher(keys.FileDataKey, salt)
	if err != nil {
		return nil, boxerrors.E(op, err)
	}

	cw := &countingWriter{w: w}
	if err := writeU32(cw, Magic); err != nil {
		return nil, boxerrors.E(op, boxerrors.Connection, err)
	}
	if err := writeU64(cw, uint64(containerDirID)); err != nil {
		return nil, boxerrors.E(op, boxerrors.Connection, err)
	}
	if err := writeU64(cw, uint64(modTime)); err != nil {
		return nil, boxerrors.E(op, boxerrors.Connection, err)
	}
	if _, err := cw.Write(salt); err != nil {
		return nil, boxerrors.E(op, boxerrors.Connection, err)
	}
	if err := writeBlock(cw, []byte(name)); err != nil {
		return nil, boxerrors.E(op, boxerrors.Connection, err)
	}
	if err := writeBlock(cw, attrBlock); err != nil {
		return nil, boxerrors.E(op, boxerrors.Connection, err)
	}
	if err := writeU32(cw, uint32(len(plans))); err != nil {
		return nil, boxerrors.E(op, boxerrors.Connection, err)
	}

	index := make([]IndexEntry, len(plans))
	isCompletelyDifferent := true
	for i, p := range plans {
		if p.IsReference {
			isCompletelyDifferent = false
			entry := IndexEntry{
				Weak: p.Weak, Strong: p.Strong, Size: p.Size,
				IsReference: true, PriorObjectID: p.PriorObjectID, PriorOrdinal: p.PriorOrdinal,
			}
			index[i] = entry
			if err := writeChunkHeader(cw, flagReference, p.Size, referencePayloadSize); err != nil {
				return nil, boxerrors.E(op, boxerrors.Connection, err)
			}
			if err := writeU64(cw, uint64(p.PriorObjectID)); err != nil {
				return nil, boxerrors.E(op, boxerrors.Connection, err)
			}
			if err := writeU32(cw, p.PriorOrdinal); err != nil {
				return nil, boxerrors.E(op, boxerrors.Connection, err)
			}
			continue
		}

		offset := cw.n
		weak := boxcrypto.NewRollingChecksum(p.Data).Value()
		strong := boxcrypto.StrongHash(p.Data)
		index[i] = IndexEntry{Weak: weak, Strong: strong, Size: p.Size, Offset: offset}

		body, flags := compressIfSmaller(p.Data)
		enc := make([]byte, len(body))
		fc.Crypt(uint64(i), enc, body)

		if err := writeChunkHeader(cw, flags, uint32(len(p.Data)), uint32(len(enc))); err != nil {
			return nil, boxerrors.E(op, boxerrors.Connection, err)
		}
		if _, err := cw.Write(enc); err != nil {
			return nil, boxerrors.E(op, boxerrors.Connection, err)
		}
	}

	cleartext := marshalIndex(index)
	encIndex, err := boxcrypto.EncodeBlockIndex(keys.BlockIndexKey, cleartext)
	if err != nil {
		return nil, boxerrors.E(op, err)
	}
	if err := writeBlock(cw, encIndex); err != nil {
		return nil, boxerrors.E(op, boxerrors.Connection, err)
	}

	return &Object{
		ContainerDirID:        containerDirID,
		ModTime:               modTime,
		Name:                  name,
		AttrBlock:             attrBlock,
		Salt:                  salt,
		Index:                 index,
		IsCompletelyDifferent: isCompletelyDifferent,
	}, nil
}

func compressIfSmaller(data []byte) (body []byte, flags byte) {
	var buf bytes.Buffer
	fw, _ := flate.NewWriter(&buf, flate.DefaultCompression)
	if _, err := fw.Write(data); err == nil && fw.Close() == nil && buf.Len() < len(data) {
		return buf.Bytes(), flagCompressed
	}
	return data, 0
}

func decompressIfNeeded(body []byte, flags byte) ([]byte, error) {
	if flags&flagCompressed == 0 {
		return body, nil
	}
	fr := flate.NewReader(bytes.NewReader(body))
	defer fr.Close()
	return io.ReadAll(fr)
}

// Resolver supplies the cleartext of a block from a prior object, used
// to resolve reference blocks while decoding a patch.
type Resolver interface {
	ReadBlock(priorObjectID box.ObjectID, ordinal uint32) ([]byte, error)
}

// Decode reads a file-order or stream-order object from r, writing the
// reconstructed cleartext file to out. Reference blocks are resolved
// through resolver, which may itself recurse through a chain of prior
// objects (see the store's GetFile).
func Decode(r io.Reader, keys *boxcrypto.Keys, resolver Resolver, out io.Writer, layout Layout) (*Object, error) {
	const op = "boxfile.Decode"

	magic, err := readU32(r)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	if magic != Magic {
		return nil, boxerrors.E(op, boxerrors.Integrity, boxerrors.Errorf("bad magic %#x", magic))
	}
	containerDirID, err := readU64(r)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	modTime, err := readU64(r)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	salt := make([]byte, 8)
	if _, err := io.ReadFull(r, salt); err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	name, err := readBlock(r)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	attrBlock, err := readBlock(r)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	blockCount, err := readU32(r)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}

	fc, err := boxcrypto.NewFileBlockCipher(keys.FileDataKey, salt)
	if err != nil {
		return nil, boxerrors.E(op, err)
	}

	// In stream-order layout the index immediately follows blockCount,
	// before any chunk data, so that a forward-only reader already has
	// it by the time chunk decoding needs it.
	var streamIndex []IndexEntry
	if layout == StreamOrder {
		encIndex, err := readBlock(r)
		if err != nil {
			return nil, boxerrors.E(op, boxerrors.Integrity, err)
		}
		indexCleartext, err := boxcrypto.DecodeBlockIndex(keys.BlockIndexKey, encIndex)
		if err != nil {
			return nil, boxerrors.E(op, boxerrors.Integrity, err)
		}
		if streamIndex, err = unmarshalIndex(indexCleartext); err != nil {
			return nil, boxerrors.E(op, boxerrors.Integrity, err)
		}
	}

	isCompletelyDifferent := true
	for i := uint32(0); i < blockCount; i++ {
		flags, clearSize, encSize, err := readChunkHeader(r)
		if err != nil {
			return nil, boxerrors.E(op, boxerrors.Integrity, err)
		}
		body := make([]byte, encSize)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, boxerrors.E(op, boxerrors.Integrity, err)
		}
		if flags&flagReference != 0 {
			isCompletelyDifferent = false
			br := bytes.NewReader(body)
			priorID, err := readU64(br)
			if err != nil {
				return nil, boxerrors.E(op, boxerrors.Integrity, err)
			}
			ordinal, err := readU32(br)
			if err != nil {
				return nil, boxerrors.E(op, boxerrors.Integrity, err)
			}
			if resolver == nil {
				return nil, boxerrors.E(op, boxerrors.Integrity, boxerrors.Errorf("patch object requires a resolver"))
			}
			block, err := resolver.ReadBlock(box.ObjectID(priorID), ordinal)
			if err != nil {
				return nil, boxerrors.E(op, boxerrors.Storage, err)
			}
			if uint32(len(block)) != clearSize {
				return nil, boxerrors.E(op, boxerrors.Integrity, boxerrors.Errorf("resolved block size mismatch"))
			}
			if _, err := out.Write(block); err != nil {
				return nil, boxerrors.E(op, boxerrors.Connection, err)
			}
			continue
		}

		plain := make([]byte, len(body))
		fc.Crypt(uint64(i), plain, body)
		cleartext, err := decompressIfNeeded(plain, flags)
		if err != nil {
			return nil, boxerrors.E(op, boxerrors.Integrity, err)
		}
		if uint32(len(cleartext)) != clearSize {
			return nil, boxerrors.E(op, boxerrors.Integrity, boxerrors.Errorf("chunk size mismatch"))
		}
		if _, err := out.Write(cleartext); err != nil {
			return nil, boxerrors.E(op, boxerrors.Connection, err)
		}
	}

	index := streamIndex
	if layout == FileOrder {
		encIndex, err := readBlock(r)
		if err != nil {
			return nil, boxerrors.E(op, boxerrors.Integrity, err)
		}
		indexCleartext, err := boxcrypto.DecodeBlockIndex(keys.BlockIndexKey, encIndex)
		if err != nil {
			return nil, boxerrors.E(op, boxerrors.Integrity, err)
		}
		if index, err = unmarshalIndex(indexCleartext); err != nil {
			return nil, boxerrors.E(op, boxerrors.Integrity, err)
		}
	}

	return &Object{
		ContainerDirID:        box.ObjectID(containerDirID),
		ModTime:               box.Time(modTime),
		Name:                  box.EncodedName(name),
		AttrBlock:             attrBlock,
		Salt:                  salt,
		Index:                 index,
		IsCompletelyDifferent: isCompletelyDifferent,
	}, nil
}

// ReadBlockIndex reads only the trailing index of a file-order object
// from a ReadSeeker, without decoding any chunk data — the "block index
// is separable" requirement.
func ReadBlockIndex(r io.ReadSeeker, keys *boxcrypto.Keys) ([]IndexEntry, error) {
	const op = "boxfile.ReadBlockIndex"
	enc, err := TrailingIndexBytes(r)
	if err != nil {
		return nil, boxerrors.E(op, err)
	}
	return DecodeIndexBytes(keys, enc)
}

// TrailingIndexBytes returns the raw, still-encrypted trailing index
// block of a file-order object, without decrypting it — what a store
// server serves a GetBlockIndexByID/ByName reply's sub-stream with,
// since it never needs to read the index itself.
func TrailingIndexBytes(r io.ReadSeeker) ([]byte, error) {
	const op = "boxfile.TrailingIndexBytes"
	if _, err := r.Seek(-4, io.SeekEnd); err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if _, err := r.Seek(-4-int64(n), io.SeekEnd); err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	enc := make([]byte, n)
	if _, err := io.ReadFull(r, enc); err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	return enc, nil
}

// PeekHeader reads an object's leading fields up through its attribute
// block without requiring any keys: none of these fields are encrypted
// by WriteObject (name and attrBlock already arrive as ciphertext from
// the caller, see boxattr), only the per-block chunk bodies and the
// trailing index are. A content-blind store uses this to recover a
// StoreFile upload's name/attributes for its directory entry without
// ever touching the chunk data.
func PeekHeader(r io.Reader) (containerDirID box.ObjectID, modTime box.Time, name box.EncodedName, attrBlock []byte, err error) {
	const op = "boxfile.PeekHeader"
	magic, err := readU32(r)
	if err != nil {
		return 0, 0, nil, nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	if magic != Magic {
		return 0, 0, nil, nil, boxerrors.E(op, boxerrors.Integrity, boxerrors.Errorf("bad magic %#x", magic))
	}
	cid, err := readU64(r)
	if err != nil {
		return 0, 0, nil, nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	mt, err := readU64(r)
	if err != nil {
		return 0, 0, nil, nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	salt := make([]byte, 8)
	if _, err := io.ReadFull(r, salt); err != nil {
		return 0, 0, nil, nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	n, err := readBlock(r)
	if err != nil {
		return 0, 0, nil, nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	attrs, err := readBlock(r)
	if err != nil {
		return 0, 0, nil, nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	return box.ObjectID(cid), box.Time(mt), box.EncodedName(n), attrs, nil
}

// DecodeIndexBytes decrypts and parses a block index previously
// produced by WriteObject (or sent over the wire by a
// GetBlockIndexByID/ByName reply), without requiring the rest of the
// object's bytes.
func DecodeIndexBytes(keys *boxcrypto.Keys, encIndex []byte) ([]IndexEntry, error) {
	const op = "boxfile.DecodeIndexBytes"
	cleartext, err := boxcrypto.DecodeBlockIndex(keys.BlockIndexKey, encIndex)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	return unmarshalIndex(cleartext)
}

// Verify performs a structural check of a file-order object without
// fully decrypting chunk data: magic, declared block count, and that
// the trailing index decrypts and has one entry per declared block.
func Verify(r io.ReadSeeker, keys *boxcrypto.Keys) bool {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return false
	}
	magic, err := readU32(r)
	if err != nil || magic != Magic {
		return false
	}
	if _, err := readU64(r); err != nil { // containerDirID
		return false
	}
	if _, err := readU64(r); err != nil { // modTime
		return false
	}
	var salt [8]byte
	if _, err := io.ReadFull(r, salt[:]); err != nil {
		return false
	}
	if _, err := readBlock(r); err != nil { // name
		return false
	}
	if _, err := readBlock(r); err != nil { // attrs
		return false
	}
	blockCount, err := readU32(r)
	if err != nil {
		return false
	}
	index, err := ReadBlockIndex(r, keys)
	if err != nil {
		return false
	}
	return uint32(len(index)) == blockCount
}

func marshalIndex(entries []IndexEntry) []byte {
	var buf bytes.Buffer
	for _, e := range entries {
		writeU32(&buf, e.Weak)
		buf.Write(e.Strong[:])
		writeU32(&buf, e.Size)
		if e.IsReference {
			buf.WriteByte(1)
			writeU64(&buf, uint64(e.PriorObjectID))
			writeU32(&buf, e.PriorOrdinal)
		} else {
			buf.WriteByte(0)
			writeU64(&buf, uint64(e.Offset))
		}
	}
	return buf.Bytes()
}

func unmarshalIndex(data []byte) ([]IndexEntry, error) {
	r := bytes.NewReader(data)
	var entries []IndexEntry
	for r.Len() > 0 {
		var e IndexEntry
		w, err := readU32(r)
		if err != nil {
			return nil, err
		}
		e.Weak = w
		if _, err := io.ReadFull(r, e.Strong[:]); err != nil {
			return nil, err
		}
		if e.Size, err = readU32(r); err != nil {
			return nil, err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if kind == 1 {
			e.IsReference = true
			pid, err := readU64(r)
			if err != nil {
				return nil, err
			}
			e.PriorObjectID = box.ObjectID(pid)
			if e.PriorOrdinal, err = readU32(r); err != nil {
				return nil, err
			}
		} else {
			off, err := readU64(r)
			if err != nil {
				return nil, err
			}
			e.Offset = int64(off)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func writeChunkHeader(w io.Writer, flags byte, clearSize, encSize uint32) error {
	var buf [9]byte
	buf[0] = flags
	binary.BigEndian.PutUint32(buf[1:5], clearSize)
	binary.BigEndian.PutUint32(buf[5:9], encSize)
	_, err := w.Write(buf[:])
	return err
}

func readChunkHeader(r io.Reader) (flags byte, clearSize, encSize uint32, err error) {
	var buf [9]byte
	if _, err = io.ReadFull(r, buf[:]); err != nil {
		return
	}
	flags = buf[0]
	clearSize = binary.BigEndian.Uint32(buf[1:5])
	encSize = binary.BigEndian.Uint32(buf[5:9])
	return
}

func writeBlock(w io.Writer, data []byte) error {
	if err := writeU32(w, uint32(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readBlock(r io.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func writeU64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}
