package boxproto

import (
	"boxbackup.io/box"
	"boxbackup.io/boxerrors"
)

// LoginFlags are the bits carried in a LoginRequest.
type LoginFlags uint8

// WriteAccess requests a write lock on the account; without it the
// session is read-only and storesrv refuses mutating operations.
const WriteAccess LoginFlags = 1 << 0

// Version is both the client's opening handshake and the server's
// reply: the session proceeds only if both sides send the same value.
type Version struct {
	Version uint32
}

func (m *Version) Marshal() []byte {
	var w fieldWriter
	w.u32(m.Version)
	return w.bytesOut()
}

func DecodeVersion(body []byte) (*Version, error) {
	const op = "boxproto.DecodeVersion"
	r := newFieldReader(body)
	v, err := r.u32()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	return &Version{Version: v}, nil
}

// LoginRequest authenticates the connection to an account.
type LoginRequest struct {
	Account box.AccountID
	Flags   LoginFlags
}

func (m *LoginRequest) Marshal() []byte {
	var w fieldWriter
	w.u32(uint32(m.Account))
	w.u8(uint8(m.Flags))
	return w.bytesOut()
}

func DecodeLoginRequest(body []byte) (*LoginRequest, error) {
	const op = "boxproto.DecodeLoginRequest"
	r := newFieldReader(body)
	acct, err := r.u32()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	flags, err := r.u8()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	return &LoginRequest{Account: box.AccountID(acct), Flags: LoginFlags(flags)}, nil
}

// LoginConfirmed replies to a successful LoginRequest with the
// account's store marker and current quota state.
type LoginConfirmed struct {
	Marker          uint64
	BlocksUsed      uint64
	BlocksSoftLimit uint64
	BlocksHardLimit uint64
}

func (m *LoginConfirmed) Marshal() []byte {
	var w fieldWriter
	w.u64(m.Marker)
	w.u64(m.BlocksUsed)
	w.u64(m.BlocksSoftLimit)
	w.u64(m.BlocksHardLimit)
	return w.bytesOut()
}

func DecodeLoginConfirmed(body []byte) (*LoginConfirmed, error) {
	const op = "boxproto.DecodeLoginConfirmed"
	r := newFieldReader(body)
	m := &LoginConfirmed{}
	var err error
	if m.Marker, err = r.u64(); err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	if m.BlocksUsed, err = r.u64(); err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	if m.BlocksSoftLimit, err = r.u64(); err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	if m.BlocksHardLimit, err = r.u64(); err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	return m, nil
}

// ListDirectoryRequest asks for a directory's entries, optionally
// filtered by flags and optionally including attribute blocks. A
// Success reply is followed by a sub-stream carrying the serialised
// storedir.Directory.
type ListDirectoryRequest struct {
	ObjectID    box.ObjectID
	MustHave    box.Flags
	MustNotHave box.Flags
	WantAttrs   bool
}

func (m *ListDirectoryRequest) Marshal() []byte {
	var w fieldWriter
	w.u64(uint64(m.ObjectID))
	w.u16(uint16(m.MustHave))
	w.u16(uint16(m.MustNotHave))
	w.bool(m.WantAttrs)
	return w.bytesOut()
}

func DecodeListDirectoryRequest(body []byte) (*ListDirectoryRequest, error) {
	const op = "boxproto.DecodeListDirectoryRequest"
	r := newFieldReader(body)
	m := &ListDirectoryRequest{}
	oid, err := r.u64()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	m.ObjectID = box.ObjectID(oid)
	mh, err := r.u16()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	m.MustHave = box.Flags(mh)
	mnh, err := r.u16()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	m.MustNotHave = box.Flags(mnh)
	if m.WantAttrs, err = r.bool(); err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	return m, nil
}

// StoreFileRequest uploads a new file object into containerDirID. When
// DiffFromID is non-zero the sub-stream carries a patch object
// referencing it; otherwise it carries a self-contained object. A
// Success reply carries the newly assigned object ID.
type StoreFileRequest struct {
	ContainerDirID box.ObjectID
	ModTime        box.Time
	AttrHash       box.AttrHash
	DiffFromID     box.ObjectID
	Name           box.EncodedName
}

func (m *StoreFileRequest) Marshal() []byte {
	var w fieldWriter
	w.u64(uint64(m.ContainerDirID))
	w.u64(uint64(m.ModTime))
	w.u64(uint64(m.AttrHash))
	w.u64(uint64(m.DiffFromID))
	w.name(m.Name)
	return w.bytesOut()
}

func DecodeStoreFileRequest(body []byte) (*StoreFileRequest, error) {
	const op = "boxproto.DecodeStoreFileRequest"
	r := newFieldReader(body)
	m := &StoreFileRequest{}
	v, err := r.u64()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	m.ContainerDirID = box.ObjectID(v)
	if v, err = r.u64(); err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	m.ModTime = box.Time(v)
	if v, err = r.u64(); err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	m.AttrHash = box.AttrHash(v)
	if v, err = r.u64(); err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	m.DiffFromID = box.ObjectID(v)
	if m.Name, err = r.name(); err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	return m, nil
}

// GetObjectRequest fetches one object verbatim, in its stored layout
// (which may be a patch requiring the caller to resolve dependsOn
// itself). A Success reply is followed by the object's sub-stream.
type GetObjectRequest struct {
	ObjectID box.ObjectID
}

func (m *GetObjectRequest) Marshal() []byte {
	var w fieldWriter
	w.u64(uint64(m.ObjectID))
	return w.bytesOut()
}

func DecodeGetObjectRequest(body []byte) (*GetObjectRequest, error) {
	const op = "boxproto.DecodeGetObjectRequest"
	r := newFieldReader(body)
	v, err := r.u64()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	return &GetObjectRequest{ObjectID: box.ObjectID(v)}, nil
}

// GetFileRequest fetches a file's full current content, with the
// server resolving any patch chain server-side so the sub-stream is
// always a stand-alone, self-contained object.
type GetFileRequest struct {
	ContainerDirID box.ObjectID
	ObjectID       box.ObjectID
}

func (m *GetFileRequest) Marshal() []byte {
	var w fieldWriter
	w.u64(uint64(m.ContainerDirID))
	w.u64(uint64(m.ObjectID))
	return w.bytesOut()
}

func DecodeGetFileRequest(body []byte) (*GetFileRequest, error) {
	const op = "boxproto.DecodeGetFileRequest"
	r := newFieldReader(body)
	c, err := r.u64()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	o, err := r.u64()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	return &GetFileRequest{ContainerDirID: box.ObjectID(c), ObjectID: box.ObjectID(o)}, nil
}

// GetBlockIndexByIDRequest fetches only the block index portion of an
// object, for the client's diff engine to run against without
// downloading the object's data.
type GetBlockIndexByIDRequest struct {
	ObjectID box.ObjectID
}

func (m *GetBlockIndexByIDRequest) Marshal() []byte {
	var w fieldWriter
	w.u64(uint64(m.ObjectID))
	return w.bytesOut()
}

func DecodeGetBlockIndexByIDRequest(body []byte) (*GetBlockIndexByIDRequest, error) {
	const op = "boxproto.DecodeGetBlockIndexByIDRequest"
	r := newFieldReader(body)
	v, err := r.u64()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	return &GetBlockIndexByIDRequest{ObjectID: box.ObjectID(v)}, nil
}

// GetBlockIndexByNameRequest is the by-name form: the client doesn't
// yet know the server's current object ID for the file.
type GetBlockIndexByNameRequest struct {
	ContainerDirID box.ObjectID
	Name           box.EncodedName
}

func (m *GetBlockIndexByNameRequest) Marshal() []byte {
	var w fieldWriter
	w.u64(uint64(m.ContainerDirID))
	w.name(m.Name)
	return w.bytesOut()
}

func DecodeGetBlockIndexByNameRequest(body []byte) (*GetBlockIndexByNameRequest, error) {
	const op = "boxproto.DecodeGetBlockIndexByNameRequest"
	r := newFieldReader(body)
	c, err := r.u64()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	name, err := r.name()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	return &GetBlockIndexByNameRequest{ContainerDirID: box.ObjectID(c), Name: name}, nil
}

// CreateDirectoryRequest creates a new, empty directory.
type CreateDirectoryRequest struct {
	ContainerDirID box.ObjectID
	AttrModTime    box.Time
	Attributes     []byte
	Name           box.EncodedName
}

func (m *CreateDirectoryRequest) Marshal() []byte {
	var w fieldWriter
	w.u64(uint64(m.ContainerDirID))
	w.u64(uint64(m.AttrModTime))
	w.bytes(m.Attributes)
	w.name(m.Name)
	return w.bytesOut()
}

func DecodeCreateDirectoryRequest(body []byte) (*CreateDirectoryRequest, error) {
	const op = "boxproto.DecodeCreateDirectoryRequest"
	r := newFieldReader(body)
	m := &CreateDirectoryRequest{}
	v, err := r.u64()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	m.ContainerDirID = box.ObjectID(v)
	if v, err = r.u64(); err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	m.AttrModTime = box.Time(v)
	if m.Attributes, err = r.bytes(); err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	if m.Name, err = r.name(); err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	return m, nil
}

// DeleteFileRequest soft-deletes every current-version entry named
// Name within ContainerDirID.
type DeleteFileRequest struct {
	ContainerDirID box.ObjectID
	Name           box.EncodedName
}

func (m *DeleteFileRequest) Marshal() []byte {
	var w fieldWriter
	w.u64(uint64(m.ContainerDirID))
	w.name(m.Name)
	return w.bytesOut()
}

func DecodeDeleteFileRequest(body []byte) (*DeleteFileRequest, error) {
	const op = "boxproto.DecodeDeleteFileRequest"
	r := newFieldReader(body)
	c, err := r.u64()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	name, err := r.name()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	return &DeleteFileRequest{ContainerDirID: box.ObjectID(c), Name: name}, nil
}

// DeleteDirectoryRequest soft-deletes a directory and, recursively,
// everything it contains.
type DeleteDirectoryRequest struct {
	ObjectID box.ObjectID
}

func (m *DeleteDirectoryRequest) Marshal() []byte {
	var w fieldWriter
	w.u64(uint64(m.ObjectID))
	return w.bytesOut()
}

func DecodeDeleteDirectoryRequest(body []byte) (*DeleteDirectoryRequest, error) {
	const op = "boxproto.DecodeDeleteDirectoryRequest"
	r := newFieldReader(body)
	v, err := r.u64()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	return &DeleteDirectoryRequest{ObjectID: box.ObjectID(v)}, nil
}

// MoveObjectRequest renames and/or relocates an object between
// directories.
type MoveObjectRequest struct {
	ObjectID       box.ObjectID
	OldContainerID box.ObjectID
	NewContainerID box.ObjectID
	NewName        box.EncodedName
}

func (m *MoveObjectRequest) Marshal() []byte {
	var w fieldWriter
	w.u64(uint64(m.ObjectID))
	w.u64(uint64(m.OldContainerID))
	w.u64(uint64(m.NewContainerID))
	w.name(m.NewName)
	return w.bytesOut()
}

func DecodeMoveObjectRequest(body []byte) (*MoveObjectRequest, error) {
	const op = "boxproto.DecodeMoveObjectRequest"
	r := newFieldReader(body)
	m := &MoveObjectRequest{}
	v, err := r.u64()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	m.ObjectID = box.ObjectID(v)
	if v, err = r.u64(); err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	m.OldContainerID = box.ObjectID(v)
	if v, err = r.u64(); err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	m.NewContainerID = box.ObjectID(v)
	if m.NewName, err = r.name(); err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	return m, nil
}

// ChangeDirAttributesRequest replaces a directory's own attribute
// block.
type ChangeDirAttributesRequest struct {
	ObjectID    box.ObjectID
	AttrModTime box.Time
	Attributes  []byte
}

func (m *ChangeDirAttributesRequest) Marshal() []byte {
	var w fieldWriter
	w.u64(uint64(m.ObjectID))
	w.u64(uint64(m.AttrModTime))
	w.bytes(m.Attributes)
	return w.bytesOut()
}

func DecodeChangeDirAttributesRequest(body []byte) (*ChangeDirAttributesRequest, error) {
	const op = "boxproto.DecodeChangeDirAttributesRequest"
	r := newFieldReader(body)
	m := &ChangeDirAttributesRequest{}
	v, err := r.u64()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	m.ObjectID = box.ObjectID(v)
	if v, err = r.u64(); err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	m.AttrModTime = box.Time(v)
	if m.Attributes, err = r.bytes(); err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	return m, nil
}

// SetReplacementFileAttributesRequest updates the attribute block of
// the current version of Name within ContainerDirID, without
// uploading new data (a metadata-only touch).
type SetReplacementFileAttributesRequest struct {
	ContainerDirID box.ObjectID
	AttrHash       box.AttrHash
	Name           box.EncodedName
	Attributes     []byte
}

func (m *SetReplacementFileAttributesRequest) Marshal() []byte {
	var w fieldWriter
	w.u64(uint64(m.ContainerDirID))
	w.u64(uint64(m.AttrHash))
	w.name(m.Name)
	w.bytes(m.Attributes)
	return w.bytesOut()
}

func DecodeSetReplacementFileAttributesRequest(body []byte) (*SetReplacementFileAttributesRequest, error) {
	const op = "boxproto.DecodeSetReplacementFileAttributesRequest"
	r := newFieldReader(body)
	m := &SetReplacementFileAttributesRequest{}
	v, err := r.u64()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	m.ContainerDirID = box.ObjectID(v)
	if v, err = r.u64(); err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	m.AttrHash = box.AttrHash(v)
	if m.Name, err = r.name(); err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	if m.Attributes, err = r.bytes(); err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	return m, nil
}

// SetClientStoreMarkerRequest persists the client's opaque
// last-writer-wins token.
type SetClientStoreMarkerRequest struct {
	Marker uint64
}

func (m *SetClientStoreMarkerRequest) Marshal() []byte {
	var w fieldWriter
	w.u64(m.Marker)
	return w.bytesOut()
}

func DecodeSetClientStoreMarkerRequest(body []byte) (*SetClientStoreMarkerRequest, error) {
	const op = "boxproto.DecodeSetClientStoreMarkerRequest"
	r := newFieldReader(body)
	v, err := r.u64()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	return &SetClientStoreMarkerRequest{Marker: v}, nil
}

// Success carries the object ID a mutating or fetch operation
// produced or confirmed.
type Success struct {
	ObjectID box.ObjectID
}

func (m *Success) Marshal() []byte {
	var w fieldWriter
	w.u64(uint64(m.ObjectID))
	return w.bytesOut()
}

func DecodeSuccess(body []byte) (*Success, error) {
	const op = "boxproto.DecodeSuccess"
	r := newFieldReader(body)
	v, err := r.u64()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	return &Success{ObjectID: box.ObjectID(v)}, nil
}

// ErrorMessage carries a protocol-level failure back to the peer.
// SubCode is a kind-specific detail (e.g. the account ID that already
// holds the write lock for an Auth failure).
type ErrorMessage struct {
	Kind    boxerrors.Kind
	SubCode uint32
}

func (m *ErrorMessage) Marshal() []byte {
	var w fieldWriter
	w.u8(uint8(m.Kind))
	w.u32(m.SubCode)
	return w.bytesOut()
}

func DecodeErrorMessage(body []byte) (*ErrorMessage, error) {
	const op = "boxproto.DecodeErrorMessage"
	r := newFieldReader(body)
	kind, err := r.u8()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	sub, err := r.u32()
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Protocol, err)
	}
	return &ErrorMessage{Kind: boxerrors.Kind(kind), SubCode: sub}, nil
}

// GetIsAlive and Finished carry no fields: they are pure keep-alive and
// session-end markers, identified by their frame Type alone.
