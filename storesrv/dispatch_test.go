package storesrv_test

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"

	"boxbackup.io/box"
	"boxbackup.io/boxcrypto"
	"boxbackup.io/boxfile"
	"boxbackup.io/boxproto"
	"boxbackup.io/objectstore"
	"boxbackup.io/storedir"
	"boxbackup.io/storesrv"
)

type memStore struct {
	mu   sync.Mutex
	data map[box.AccountID]map[box.ObjectID][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[box.AccountID]map[box.ObjectID][]byte)}
}

func (m *memStore) Put(ctx context.Context, account box.AccountID, id box.ObjectID, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[account] == nil {
		m.data[account] = make(map[box.ObjectID][]byte)
	}
	cp := append([]byte(nil), data...)
	m.data[account][id] = cp
	return nil
}

func (m *memStore) Get(ctx context.Context, account box.AccountID, id box.ObjectID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[account][id]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *memStore) Exists(ctx context.Context, account box.AccountID, id box.ObjectID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[account][id]
	return ok, nil
}

func (m *memStore) Delete(ctx context.Context, account box.AccountID, id box.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[account], id)
	return nil
}

var _ objectstore.Store = (*memStore)(nil)

func newTestAccount() *box.Account {
	return &box.Account{
		ID:              1,
		SoftLimitBlocks: 1000,
		HardLimitBlocks: 2000,
		NextObjectID:    box.RootDirectory + 1,
	}
}

// dialLoggedIn drives the Version+Login handshake from the client side
// of a net.Pipe against a storesrv.Serve goroutine, returning the
// connection ready for further requests.
func dialLoggedIn(t *testing.T, client net.Conn, write bool) *boxproto.LoginConfirmed {
	t.Helper()
	if err := boxproto.WriteFrame(client, boxproto.TVersion, (&boxproto.Version{Version: storesrv.ProtocolVersion}).Marshal()); err != nil {
		t.Fatal(err)
	}
	body, err := boxproto.ExpectType(client, boxproto.TVersion)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := boxproto.DecodeVersion(body); err != nil {
		t.Fatal(err)
	}

	var flags boxproto.LoginFlags
	if write {
		flags = boxproto.WriteAccess
	}
	if err := boxproto.WriteFrame(client, boxproto.TLoginRequest, (&boxproto.LoginRequest{Account: 1, Flags: flags}).Marshal()); err != nil {
		t.Fatal(err)
	}
	body, err = boxproto.ExpectType(client, boxproto.TLoginConfirmed)
	if err != nil {
		t.Fatal(err)
	}
	confirmed, err := boxproto.DecodeLoginConfirmed(body)
	if err != nil {
		t.Fatal(err)
	}
	return confirmed
}

func callSuccess(t *testing.T, client net.Conn, typ boxproto.Type, body []byte) *boxproto.Success {
	t.Helper()
	if err := boxproto.WriteFrame(client, typ, body); err != nil {
		t.Fatal(err)
	}
	replyType, replyBody, err := boxproto.ReadFrame(client)
	if err != nil {
		t.Fatal(err)
	}
	if replyType == boxproto.TError {
		em, _ := boxproto.DecodeErrorMessage(replyBody)
		t.Fatalf("request type %d got error reply: %+v", typ, em)
	}
	if replyType != boxproto.TSuccess {
		t.Fatalf("request type %d: unexpected reply type %d", typ, replyType)
	}
	success, err := boxproto.DecodeSuccess(replyBody)
	if err != nil {
		t.Fatal(err)
	}
	return success
}

func TestServeCreateStoreListGetDeleteRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	store := newMemStore()
	account := newTestAccount()
	root := storedir.New(box.RootDirectory, box.NoObject)
	if err := store.Put(context.Background(), account.ID, box.RootDirectory, root.Marshal()); err != nil {
		t.Fatal(err)
	}
	keys, err := boxcrypto.Generate()
	if err != nil {
		t.Fatal(err)
	}

	locks := storesrv.NewWriteLocks()
	loadAccount := func(id box.AccountID) (*box.Account, error) { return account, nil }
	var savedAccount *box.Account
	saveAccount := func(a *box.Account) error { savedAccount = a; return nil }

	done := make(chan error, 1)
	go func() {
		done <- storesrv.Serve(context.Background(), server, locks, store, keys, loadAccount, saveAccount)
	}()

	dialLoggedIn(t, client, true)

	// CreateDirectory under root.
	createReq := &boxproto.CreateDirectoryRequest{ContainerDirID: box.RootDirectory, AttrModTime: 1000, Attributes: []byte("dir-attrs"), Name: box.EncodedName("subdir")}
	created := callSuccess(t, client, boxproto.TCreateDirectoryRequest, createReq.Marshal())
	subdirID := created.ObjectID
	if subdirID == box.NoObject {
		t.Fatal("CreateDirectory returned NoObject")
	}

	// StoreFile into the new directory.
	var encoded bytes.Buffer
	if _, err := boxfile.WriteObject(&encoded, keys, subdirID, 2000, box.EncodedName("file.txt"), []byte("file-attrs"), []boxfile.BlockPlan{boxfile.SelfBlock([]byte("hello world"))}); err != nil {
		t.Fatal(err)
	}
	storeReq := &boxproto.StoreFileRequest{ContainerDirID: subdirID, ModTime: 2000, AttrHash: 42, Name: box.EncodedName("file.txt")}
	if err := boxproto.WriteFrame(client, boxproto.TStoreFileRequest, storeReq.Marshal()); err != nil {
		t.Fatal(err)
	}
	if err := boxproto.WriteSubstream(client, bytes.NewReader(encoded.Bytes())); err != nil {
		t.Fatal(err)
	}
	replyType, replyBody, err := boxproto.ReadFrame(client)
	if err != nil {
		t.Fatal(err)
	}
	if replyType != boxproto.TSuccess {
		t.Fatalf("StoreFile: unexpected reply type %d", replyType)
	}
	stored, err := boxproto.DecodeSuccess(replyBody)
	if err != nil {
		t.Fatal(err)
	}
	fileID := stored.ObjectID

	// ListDirectory on the new directory should show the file.
	listReq := &boxproto.ListDirectoryRequest{ObjectID: subdirID, WantAttrs: true}
	if err := boxproto.WriteFrame(client, boxproto.TListDirectoryRequest, listReq.Marshal()); err != nil {
		t.Fatal(err)
	}
	replyType, replyBody, err = boxproto.ReadFrame(client)
	if err != nil {
		t.Fatal(err)
	}
	if replyType != boxproto.TSuccess {
		t.Fatalf("ListDirectory: unexpected reply type %d", replyType)
	}
	sub := boxproto.NewSubstreamReader(client)
	listing, err := io.ReadAll(sub)
	if err != nil {
		t.Fatal(err)
	}
	dir, err := storedir.Unmarshal(listing)
	if err != nil {
		t.Fatal(err)
	}
	if len(dir.Entries()) != 1 || dir.Entries()[0].ObjectID != fileID {
		t.Fatalf("listing = %+v, want one entry for object %d", dir.Entries(), fileID)
	}

	// GetObject should return the raw bytes verbatim.
	getReq := &boxproto.GetObjectRequest{ObjectID: fileID}
	if err := boxproto.WriteFrame(client, boxproto.TGetObjectRequest, getReq.Marshal()); err != nil {
		t.Fatal(err)
	}
	replyType, replyBody, err = boxproto.ReadFrame(client)
	if err != nil {
		t.Fatal(err)
	}
	if replyType != boxproto.TSuccess {
		t.Fatalf("GetObject: unexpected reply type %d", replyType)
	}
	raw, err := io.ReadAll(boxproto.NewSubstreamReader(client))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(raw, encoded.Bytes()) {
		t.Fatal("GetObject did not return the stored bytes verbatim")
	}

	// DeleteFile then Finished.
	delReq := &boxproto.DeleteFileRequest{ContainerDirID: subdirID, Name: box.EncodedName("file.txt")}
	callSuccess(t, client, boxproto.TDeleteFileRequest, delReq.Marshal())

	if err := boxproto.WriteFrame(client, boxproto.TFinished, nil); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Serve returned %v", err)
	}
	if savedAccount == nil {
		t.Fatal("saveAccount was never called")
	}
	if savedAccount.NextObjectID <= box.RootDirectory+1 {
		t.Fatalf("NextObjectID = %d, want it advanced past the root", savedAccount.NextObjectID)
	}
}

func TestServeRejectsWriteWithoutWriteAccess(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	store := newMemStore()
	account := newTestAccount()
	root := storedir.New(box.RootDirectory, box.NoObject)
	store.Put(context.Background(), account.ID, box.RootDirectory, root.Marshal())
	keys, err := boxcrypto.Generate()
	if err != nil {
		t.Fatal(err)
	}

	locks := storesrv.NewWriteLocks()
	loadAccount := func(id box.AccountID) (*box.Account, error) { return account, nil }

	go storesrv.Serve(context.Background(), server, locks, store, keys, loadAccount, nil)

	dialLoggedIn(t, client, false)

	req := &boxproto.CreateDirectoryRequest{ContainerDirID: box.RootDirectory, Name: box.EncodedName("x")}
	if err := boxproto.WriteFrame(client, boxproto.TCreateDirectoryRequest, req.Marshal()); err != nil {
		t.Fatal(err)
	}
	replyType, replyBody, err := boxproto.ReadFrame(client)
	if err != nil {
		t.Fatal(err)
	}
	if replyType != boxproto.TError {
		t.Fatalf("expected an Error reply for a read-only session, got type %d", replyType)
	}
	em, err := boxproto.DecodeErrorMessage(replyBody)
	if err != nil {
		t.Fatal(err)
	}
	if em.Kind.String() != "auth error" {
		t.Errorf("Kind = %v, want auth error", em.Kind)
	}
}

func TestServeMoveObjectRenamesAcrossDirectories(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	store := newMemStore()
	account := newTestAccount()
	root := storedir.New(box.RootDirectory, box.NoObject)
	store.Put(context.Background(), account.ID, box.RootDirectory, root.Marshal())
	keys, err := boxcrypto.Generate()
	if err != nil {
		t.Fatal(err)
	}

	locks := storesrv.NewWriteLocks()
	loadAccount := func(id box.AccountID) (*box.Account, error) { return account, nil }

	go storesrv.Serve(context.Background(), server, locks, store, keys, loadAccount, func(*box.Account) error { return nil })

	dialLoggedIn(t, client, true)

	dirA := callSuccess(t, client, boxproto.TCreateDirectoryRequest, (&boxproto.CreateDirectoryRequest{ContainerDirID: box.RootDirectory, Name: box.EncodedName("a")}).Marshal()).ObjectID
	dirB := callSuccess(t, client, boxproto.TCreateDirectoryRequest, (&boxproto.CreateDirectoryRequest{ContainerDirID: box.RootDirectory, Name: box.EncodedName("b")}).Marshal()).ObjectID

	moveReq := &boxproto.MoveObjectRequest{ObjectID: dirA, OldContainerID: box.RootDirectory, NewContainerID: dirB, NewName: box.EncodedName("a-moved")}
	callSuccess(t, client, boxproto.TMoveObjectRequest, moveReq.Marshal())

	listReq := &boxproto.ListDirectoryRequest{ObjectID: dirB, WantAttrs: true}
	if err := boxproto.WriteFrame(client, boxproto.TListDirectoryRequest, listReq.Marshal()); err != nil {
		t.Fatal(err)
	}
	replyType, _, err := boxproto.ReadFrame(client)
	if err != nil {
		t.Fatal(err)
	}
	if replyType != boxproto.TSuccess {
		t.Fatalf("ListDirectory: unexpected reply type %d", replyType)
	}
	data, err := io.ReadAll(boxproto.NewSubstreamReader(client))
	if err != nil {
		t.Fatal(err)
	}
	dir, err := storedir.Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(dir.Entries()) != 1 || dir.Entries()[0].ObjectID != dirA || string(dir.Entries()[0].Name) != "a-moved" {
		t.Fatalf("dirB entries = %+v, want one renamed entry for %d", dir.Entries(), dirA)
	}
}
