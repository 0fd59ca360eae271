// Package rpcstore implements client/sync.Store over a live boxproto
// connection: the concrete transport behind the abstract interface
// Syncer is tested against, grounded on Upspin's separation between
// its client package (talks interfaces) and its rpc package (talks
// wire bytes) — see DESIGN.md.
package rpcstore

import (
	"bytes"
	"io"
	"net"
	"sync"

	"boxbackup.io/box"
	"boxbackup.io/boxcrypto"
	"boxbackup.io/boxerrors"
	"boxbackup.io/boxfile"
	"boxbackup.io/boxproto"
)

// ProtocolVersion is the handshake value this client speaks.
const ProtocolVersion = 1

// Store is a single logged-in connection to a store server. All
// methods are safe to call from one goroutine at a time; callers that
// need concurrent operations should serialise them, matching the
// store's own one-session-per-connection model.
type Store struct {
	conn net.Conn
	keys *boxcrypto.Keys
	mu   sync.Mutex
}

// Dial performs the Version handshake and LoginRequest over conn, and
// returns a ready Store plus the server's quota confirmation.
func Dial(conn net.Conn, keys *boxcrypto.Keys, account box.AccountID, writeAccess bool) (*Store, *boxproto.LoginConfirmed, error) {
	const op = "rpcstore.Dial"
	s := &Store{conn: conn, keys: keys}

	if err := boxproto.WriteFrame(conn, boxproto.TVersion, (&boxproto.Version{Version: ProtocolVersion}).Marshal()); err != nil {
		return nil, nil, boxerrors.E(op, err)
	}
	body, err := boxproto.ExpectType(conn, boxproto.TVersion)
	if err != nil {
		return nil, nil, boxerrors.E(op, err)
	}
	reply, err := boxproto.DecodeVersion(body)
	if err != nil {
		return nil, nil, boxerrors.E(op, err)
	}
	if reply.Version != ProtocolVersion {
		return nil, nil, boxerrors.E(op, boxerrors.Protocol, boxerrors.Errorf("server speaks version %d, want %d", reply.Version, ProtocolVersion))
	}

	var flags boxproto.LoginFlags
	if writeAccess {
		flags = boxproto.WriteAccess
	}
	loginBody, err := s.call(boxproto.TLoginRequest, (&boxproto.LoginRequest{Account: account, Flags: flags}).Marshal())
	if err != nil {
		return nil, nil, boxerrors.E(op, err)
	}
	confirmed, err := boxproto.DecodeLoginConfirmed(loginBody)
	if err != nil {
		return nil, nil, boxerrors.E(op, err)
	}
	return s, confirmed, nil
}

// Close ends the session by sending Finished and closing the
// underlying connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	boxproto.WriteFrame(s.conn, boxproto.TFinished, nil)
	return s.conn.Close()
}

// call writes one request frame and reads its paired reply, turning an
// Error reply into a *boxerrors.Error with the server's reported kind.
func (s *Store) call(typ boxproto.Type, body []byte) ([]byte, error) {
	const op = "rpcstore.call"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := boxproto.WriteFrame(s.conn, typ, body); err != nil {
		return nil, boxerrors.E(op, err)
	}
	return s.readReply()
}

func (s *Store) readReply() ([]byte, error) {
	const op = "rpcstore.readReply"
	replyType, body, err := boxproto.ReadFrame(s.conn)
	if err != nil {
		return nil, boxerrors.E(op, err)
	}
	if replyType == boxproto.TError {
		em, derr := boxproto.DecodeErrorMessage(body)
		if derr != nil {
			return nil, boxerrors.E(op, derr)
		}
		return nil, boxerrors.E(op, em.Kind, boxerrors.Errorf("store error (subcode %d)", em.SubCode))
	}
	return body, nil
}

// CreateDirectory implements client/sync.Store.
func (s *Store) CreateDirectory(containerDirID box.ObjectID, name box.EncodedName, attrModTime box.Time, attrs []byte) (box.ObjectID, error) {
	const op = "rpcstore.CreateDirectory"
	req := &boxproto.CreateDirectoryRequest{ContainerDirID: containerDirID, AttrModTime: attrModTime, Attributes: attrs, Name: name}
	body, err := s.call(boxproto.TCreateDirectoryRequest, req.Marshal())
	if err != nil {
		return box.NoObject, boxerrors.E(op, err)
	}
	success, err := boxproto.DecodeSuccess(body)
	if err != nil {
		return box.NoObject, boxerrors.E(op, err)
	}
	return success.ObjectID, nil
}

// GetBlockIndex implements client/sync.Store. The Success reply
// (echoing the queried object ID) is followed by a sub-stream carrying
// the object's encrypted trailing index block verbatim, the same bytes
// WriteObject appends — this lets the server serve it without
// decrypting anything.
func (s *Store) GetBlockIndex(objectID box.ObjectID) ([]boxfile.IndexEntry, error) {
	const op = "rpcstore.GetBlockIndex"
	s.mu.Lock()
	req := &boxproto.GetBlockIndexByIDRequest{ObjectID: objectID}
	if err := boxproto.WriteFrame(s.conn, boxproto.TGetBlockIndexByIDRequest, req.Marshal()); err != nil {
		s.mu.Unlock()
		return nil, boxerrors.E(op, err)
	}
	_, err := s.readReply()
	if err != nil {
		s.mu.Unlock()
		return nil, boxerrors.E(op, err)
	}
	sub := boxproto.NewSubstreamReader(s.conn)
	encIndex, err := io.ReadAll(sub)
	s.mu.Unlock()
	if err != nil {
		return nil, boxerrors.E(op, err)
	}
	return boxfile.DecodeIndexBytes(s.keys, encIndex)
}

// StoreFile implements client/sync.Store: it encodes plans into a
// fresh object with boxfile.WriteObject, then sends the
// StoreFileRequest header followed by the encoded object as a
// sub-stream.
func (s *Store) StoreFile(containerDirID box.ObjectID, modTime box.Time, attrHash box.AttrHash, diffFromID box.ObjectID, name box.EncodedName, attrs []byte, plans []boxfile.BlockPlan) (box.ObjectID, error) {
	const op = "rpcstore.StoreFile"
	var buf bytes.Buffer
	if _, err := boxfile.WriteObject(&buf, s.keys, containerDirID, modTime, name, attrs, plans); err != nil {
		return box.NoObject, boxerrors.E(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	req := &boxproto.StoreFileRequest{ContainerDirID: containerDirID, ModTime: modTime, AttrHash: attrHash, DiffFromID: diffFromID, Name: name}
	if err := boxproto.WriteFrame(s.conn, boxproto.TStoreFileRequest, req.Marshal()); err != nil {
		return box.NoObject, boxerrors.E(op, err)
	}
	if err := boxproto.WriteSubstream(s.conn, &buf); err != nil {
		return box.NoObject, boxerrors.E(op, err)
	}
	body, err := s.readReply()
	if err != nil {
		return box.NoObject, boxerrors.E(op, err)
	}
	success, err := boxproto.DecodeSuccess(body)
	if err != nil {
		return box.NoObject, boxerrors.E(op, err)
	}
	return success.ObjectID, nil
}

// DeleteFile implements client/sync.Store.
func (s *Store) DeleteFile(containerDirID box.ObjectID, name box.EncodedName) error {
	const op = "rpcstore.DeleteFile"
	req := &boxproto.DeleteFileRequest{ContainerDirID: containerDirID, Name: name}
	if _, err := s.call(boxproto.TDeleteFileRequest, req.Marshal()); err != nil {
		return boxerrors.E(op, err)
	}
	return nil
}

// KeepAlive implements client/sync.Store: a fire-and-forget ping with
// no paired reply, matching messages.go's note that GetIsAlive is
// identified by its frame Type alone.
func (s *Store) KeepAlive() error {
	const op = "rpcstore.KeepAlive"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := boxproto.WriteFrame(s.conn, boxproto.TGetIsAlive, nil); err != nil {
		return boxerrors.E(op, err)
	}
	return nil
}

// SetClientStoreMarker persists the client's last-writer-wins token,
// called once at the end of a successful sync cycle.
func (s *Store) SetClientStoreMarker(marker uint64) error {
	const op = "rpcstore.SetClientStoreMarker"
	req := &boxproto.SetClientStoreMarkerRequest{Marker: marker}
	if _, err := s.call(boxproto.TSetClientStoreMarkerRequest, req.Marshal()); err != nil {
		return boxerrors.E(op, err)
	}
	return nil
}
