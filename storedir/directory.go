// Package storedir implements the in-memory model of a store directory:
// a named set of entries, serialisable as a single deterministic binary
// blob, with the operations the store and the client both need to
// inspect and mutate it.
//
// dependsOn/requiredBy are kept as a single persisted pointer
// (DependsOn) with the reverse pointer rebuilt in memory on load,
// rather than storing both directions on disk — the cyclic-reference
// pattern the design calls out for re-architecture.
package storedir

import (
	"bytes"
	"encoding/binary"
	"sort"

	"boxbackup.io/box"
	"boxbackup.io/boxerrors"
)

// Magic identifies a serialised directory.
const Magic uint32 = 0x424b4453 // "BKDS"

// Optional-fields bits in an entry descriptor. Only two are defined;
// readers must skip bits they don't recognise rather than fail, so
// that older code can still parse newer descriptors' fixed portion.
const (
	maskDependsOn  uint8 = 1 << 0
	maskRequiredBy uint8 = 1 << 1
)

// Directory is a loaded, mutable store directory.
type Directory struct {
	ObjectID    box.ObjectID
	ContainerID box.ObjectID
	AttrModTime box.Time
	Attributes  []byte // opaque encrypted attribute block, or nil

	entries []*box.DirEntry
	byID    map[box.ObjectID]*box.DirEntry
}

// New returns an empty directory with the given identity.
func New(objectID, containerID box.ObjectID) *Directory {
	return &Directory{
		ObjectID:    objectID,
		ContainerID: containerID,
		byID:        make(map[box.ObjectID]*box.DirEntry),
	}
}

// Entries returns the directory's entries in insertion order. Callers
// must not retain the slice across a mutating call.
func (d *Directory) Entries() []*box.DirEntry { return d.entries }

// AddEntry appends e to the directory, enforcing the at-most-one-Dir-
// per-name and at-most-one-current-File-per-name invariants.
func (d *Directory) AddEntry(e *box.DirEntry) error {
	const op = "storedir.AddEntry"
	for _, existing := range d.entries {
		if !bytesEqual(existing.Name, e.Name) {
			continue
		}
		if e.Flags.Has(box.FlagDir) && existing.Flags.Has(box.FlagDir) {
			return boxerrors.E(op, boxerrors.Integrity, boxerrors.Errorf("directory already has a Dir entry named %s", e.Name))
		}
		if e.IsCurrentFile() && existing.IsCurrentFile() {
			return boxerrors.E(op, boxerrors.Integrity, boxerrors.Errorf("directory already has a current file named %s", e.Name))
		}
	}
	d.entries = append(d.entries, e)
	if d.byID == nil {
		d.byID = make(map[box.ObjectID]*box.DirEntry)
	}
	d.byID[e.ObjectID] = e
	return nil
}

// DeleteEntry removes the entry with the given object ID, reporting
// whether it was present.
func (d *Directory) DeleteEntry(objectID box.ObjectID) bool {
	if _, ok := d.byID[objectID]; !ok {
		return false
	}
	delete(d.byID, objectID)
	for i, e := range d.entries {
		if e.ObjectID == objectID {
			d.entries = append(d.entries[:i], d.entries[i+1:]...)
			break
		}
	}
	return true
}

// SetFlags adds and removes flag bits on the entry with the given
// object ID, reporting whether it was present.
func (d *Directory) SetFlags(objectID box.ObjectID, add, remove box.Flags) bool {
	e, ok := d.byID[objectID]
	if !ok {
		return false
	}
	e.Flags = (e.Flags | add) &^ remove
	return true
}

// EntryByID returns the entry with the given object ID, if present.
func (d *Directory) EntryByID(objectID box.ObjectID) (*box.DirEntry, bool) {
	e, ok := d.byID[objectID]
	return e, ok
}

// FindByEncodedName returns the first entry named name whose flags
// include every bit set in mustHave, and whether one was found.
func (d *Directory) FindByEncodedName(name box.EncodedName, mustHave box.Flags) (*box.DirEntry, bool) {
	for _, e := range d.entries {
		if bytesEqual(e.Name, name) && e.Flags&mustHave == mustHave {
			return e, true
		}
	}
	return nil, false
}

// ListFiltered returns the entries whose flags include every bit in
// mustHave and none of the bits in mustNotHave. When withAttrs is
// false, the returned entries have their Attributes blob cleared, for
// callers that want to save bandwidth on a listing that doesn't need
// metadata.
func (d *Directory) ListFiltered(mustHave, mustNotHave box.Flags, withAttrs bool) []*box.DirEntry {
	var out []*box.DirEntry
	for _, e := range d.entries {
		if e.Flags&mustHave != mustHave {
			continue
		}
		if e.Flags&mustNotHave != 0 {
			continue
		}
		if withAttrs {
			out = append(out, e)
			continue
		}
		clone := *e
		clone.Attributes = nil
		out = append(out, &clone)
	}
	return out
}

// Marshal serialises the directory to the on-disk format of spec §6.
// Writing the same (unchanged) directory twice yields byte-identical
// output: entries are emitted in their stored insertion order and no
// field depends on map iteration.
func (d *Directory) Marshal() []byte {
	var buf bytes.Buffer
	writeU32(&buf, Magic)
	writeU64(&buf, uint64(d.ObjectID))
	writeU64(&buf, uint64(d.ContainerID))
	writeU32(&buf, uint32(len(d.entries)))
	writeU64(&buf, uint64(d.AttrModTime))
	writeBlock(&buf, d.Attributes)

	for _, e := range d.entries {
		writeBlock(&buf, []byte(e.Name))
		writeU64(&buf, uint64(e.ObjectID))
		writeU64(&buf, uint64(e.ModTime))
		writeU64(&buf, uint64(e.AttrHash))
		writeU64(&buf, e.SizeBlocks)
		writeU16(&buf, uint16(e.Flags))

		// RequiredBy is derived, never persisted (see Unmarshal):
		// maskRequiredBy is defined for forward compatibility but a
		// conforming writer never sets it.
		var mask uint8
		if e.DependsOn != box.NoObject {
			mask |= maskDependsOn
		}
		buf.WriteByte(mask)
		if mask&maskDependsOn != 0 {
			writeU64(&buf, uint64(e.DependsOn))
		}
		writeBlock(&buf, e.Attributes)
	}
	return buf.Bytes()
}

// Unmarshal parses the output of Marshal. RequiredBy pointers are not
// read from the wire (only DependsOn is ever persisted); they are
// rebuilt here by scanning every entry's DependsOn.
func Unmarshal(data []byte) (*Directory, error) {
	const op = "storedir.Unmarshal"
	r := bytes.NewReader(data)

	magic, err := readU32(r)
	if err != nil || magic != Magic {
		return nil, boxerrors.E(op, boxerrors.Integrity, boxerrors.Errorf("bad directory magic"))
	}
	objectID, err := readU64(r)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	containerID, err := readU64(r)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	entryCount, err := readU32(r)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	attrModTime, err := readU64(r)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}
	attrs, err := readBlock(r)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}

	d := &Directory{
		ObjectID:    box.ObjectID(objectID),
		ContainerID: box.ObjectID(containerID),
		AttrModTime: box.Time(attrModTime),
		Attributes:  attrs,
		byID:        make(map[box.ObjectID]*box.DirEntry),
	}

	for i := uint32(0); i < entryCount; i++ {
		name, err := readBlock(r)
		if err != nil {
			return nil, boxerrors.E(op, boxerrors.Integrity, err)
		}
		oid, err := readU64(r)
		if err != nil {
			return nil, boxerrors.E(op, boxerrors.Integrity, err)
		}
		modTime, err := readU64(r)
		if err != nil {
			return nil, boxerrors.E(op, boxerrors.Integrity, err)
		}
		attrHash, err := readU64(r)
		if err != nil {
			return nil, boxerrors.E(op, boxerrors.Integrity, err)
		}
		sizeBlocks, err := readU64(r)
		if err != nil {
			return nil, boxerrors.E(op, boxerrors.Integrity, err)
		}
		flags, err := readU16(r)
		if err != nil {
			return nil, boxerrors.E(op, boxerrors.Integrity, err)
		}
		mask, err := r.ReadByte()
		if err != nil {
			return nil, boxerrors.E(op, boxerrors.Integrity, err)
		}

		e := &box.DirEntry{
			Name:       box.EncodedName(name),
			ObjectID:   box.ObjectID(oid),
			ModTime:    box.Time(modTime),
			AttrHash:   box.AttrHash(attrHash),
			SizeBlocks: sizeBlocks,
			Flags:      box.Flags(flags),
		}
		if mask&maskDependsOn != 0 {
			v, err := readU64(r)
			if err != nil {
				return nil, boxerrors.E(op, boxerrors.Integrity, err)
			}
			e.DependsOn = box.ObjectID(v)
		}
		if mask&maskRequiredBy != 0 {
			// Present on the wire only for forward/backward
			// compatibility with a writer that set the bit; a
			// conforming writer never sets it (see Marshal), so
			// this is read and discarded.
			if _, err := readU64(r); err != nil {
				return nil, boxerrors.E(op, boxerrors.Integrity, err)
			}
		}
		attrBlock, err := readBlock(r)
		if err != nil {
			return nil, boxerrors.E(op, boxerrors.Integrity, err)
		}
		e.Attributes = attrBlock

		d.entries = append(d.entries, e)
		d.byID[e.ObjectID] = e
	}

	for _, e := range d.entries {
		if e.DependsOn == box.NoObject {
			continue
		}
		if target, ok := d.byID[e.DependsOn]; ok {
			target.RequiredBy = e.ObjectID
		}
	}

	return d, nil
}

// SortByName orders entries lexicographically by encoded name, for
// callers that want a stable listing independent of insertion order
// (Marshal itself never reorders entries).
func (d *Directory) SortByName() {
	sort.SliceStable(d.entries, func(i, j int) bool {
		return bytes.Compare(d.entries[i].Name, d.entries[j].Name) < 0
	})
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

func writeU16(w *bytes.Buffer, v uint16) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	w.Write(buf[:])
}

func readU16(r *bytes.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := readFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func writeU32(w *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	w.Write(buf[:])
}

func readU32(r *bytes.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := readFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func writeU64(w *bytes.Buffer, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	w.Write(buf[:])
}

func readU64(r *bytes.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := readFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func writeBlock(w *bytes.Buffer, data []byte) {
	writeU32(w, uint32(len(data)))
	w.Write(data)
}

func readBlock(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	data := make([]byte, n)
	if _, err := readFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n := 0
	for n < len(b) {
		k, err := r.Read(b[n:])
		n += k
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
