// Package storesrv implements the server-side session for one client
// connection: the handshake/login state machine, the advisory
// per-account write lock, and the quota gate that StoreFile must pass.
// It is the Go analogue of the teacher's dir/server session handling
// and of the original C++'s BackupStoreContext, adapted to Box
// Backup's simpler (version, login, data, finished) phase sequence.
package storesrv

import (
	"sync"

	"boxbackup.io/box"
	"boxbackup.io/boxerrors"
	"boxbackup.io/boxproto"
)

// Phase is a session's position in the handshake sequence of spec
// §4.7. Transitions are strictly forward; there is no way back to an
// earlier phase short of closing the connection.
type Phase int

const (
	Initial Phase = iota
	Version
	LoggedIn
	Finished
)

func (p Phase) String() string {
	switch p {
	case Initial:
		return "initial"
	case Version:
		return "version"
	case LoggedIn:
		return "logged-in"
	case Finished:
		return "finished"
	}
	return "unknown"
}

// WriteLocks tracks the one advisory write lock an account may hold at
// a time, shared by every session on the server.
type WriteLocks struct {
	mu     sync.Mutex
	holder map[box.AccountID]struct{}
}

// NewWriteLocks returns an empty lock table.
func NewWriteLocks() *WriteLocks {
	return &WriteLocks{holder: make(map[box.AccountID]struct{})}
}

// Acquire takes the write lock for account, reporting false if another
// session already holds it.
func (l *WriteLocks) Acquire(account box.AccountID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.holder[account]; held {
		return false
	}
	l.holder[account] = struct{}{}
	return true
}

// Release gives up the write lock for account, if held. Safe to call
// even if the lock was never acquired.
func (l *WriteLocks) Release(account box.AccountID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.holder, account)
}

// Session is one connection's state: which account it's logged into,
// whether it holds the write lock, and where it is in the handshake.
type Session struct {
	locks *WriteLocks

	phase     Phase
	account   box.AccountID
	writeLock bool // true once this session holds locks' write lock for account

	Account *box.Account // set once logged in; storesrv callers read quota/marker from here
}

// NewSession returns a session bound to a server's shared write-lock
// table, in the Initial phase.
func NewSession(locks *WriteLocks) *Session {
	return &Session{locks: locks}
}

// Phase returns the session's current phase.
func (s *Session) Phase() Phase { return s.phase }

// HandleVersion processes a client's Version handshake, succeeding
// only from Initial and only when the versions match.
func (s *Session) HandleVersion(clientVersion, serverVersion uint32) error {
	const op = "storesrv.HandleVersion"
	if s.phase != Initial {
		return boxerrors.E(op, boxerrors.Protocol, boxerrors.Errorf("Version received in phase %s", s.phase))
	}
	if clientVersion != serverVersion {
		return boxerrors.E(op, boxerrors.Protocol, boxerrors.Errorf("version mismatch: client %d, server %d", clientVersion, serverVersion))
	}
	s.phase = Version
	return nil
}

// HandleLogin processes a client's LoginRequest against acct's current
// state, succeeding only from Version. A write-access request that
// loses the race for the account's advisory lock is rejected with
// boxerrors.Auth, per spec §4.7.
func (s *Session) HandleLogin(acct *box.Account, flags boxproto.LoginFlags) (*boxproto.LoginConfirmed, error) {
	const op = "storesrv.HandleLogin"
	if s.phase != Version {
		return nil, boxerrors.E(op, boxerrors.Protocol, boxerrors.Errorf("Login received in phase %s", s.phase))
	}
	wantWrite := flags&boxproto.WriteAccess != 0
	if wantWrite {
		if !s.locks.Acquire(acct.ID) {
			return nil, boxerrors.E(op, boxerrors.Auth, uint32(acct.ID), boxerrors.Errorf("account is locked for writing by another session"))
		}
		s.writeLock = true
	}
	s.phase = LoggedIn
	s.account = acct.ID
	s.Account = acct
	return &boxproto.LoginConfirmed{
		Marker:          acct.ClientStoreMarker,
		BlocksUsed:      acct.Blocks.Total(),
		BlocksSoftLimit: acct.SoftLimitBlocks,
		BlocksHardLimit: acct.HardLimitBlocks,
	}, nil
}

// RequireAuthed returns an error unless the session is logged in, for
// every data operation handler to call first.
func (s *Session) RequireAuthed() error {
	const op = "storesrv.RequireAuthed"
	if s.phase != LoggedIn {
		return boxerrors.E(op, boxerrors.Protocol, boxerrors.Errorf("operation requires an authenticated session, phase is %s", s.phase))
	}
	return nil
}

// RequireWritable returns an error unless the session holds the
// account's write lock, for every mutating operation handler to call
// first.
func (s *Session) RequireWritable() error {
	const op = "storesrv.RequireWritable"
	if err := s.RequireAuthed(); err != nil {
		return err
	}
	if !s.writeLock {
		return boxerrors.E(op, boxerrors.Auth, uint32(s.account), boxerrors.Errorf("session does not hold the account write lock"))
	}
	return nil
}

// CheckQuota returns boxerrors.Storage if the account is over the
// quota gate threshold, for StoreFile to consult before accepting new
// data.
func (s *Session) CheckQuota() error {
	const op = "storesrv.CheckQuota"
	if s.Account.StorageLimitExceeded() {
		return boxerrors.E(op, boxerrors.Storage, uint32(s.account), boxerrors.Errorf("account storage limit exceeded"))
	}
	return nil
}

// SetClientStoreMarker persists the client's new marker value onto the
// session's account record.
func (s *Session) SetClientStoreMarker(marker uint64) error {
	const op = "storesrv.SetClientStoreMarker"
	if err := s.RequireWritable(); err != nil {
		return boxerrors.E(op, err)
	}
	s.Account.ClientStoreMarker = marker
	return nil
}

// Finish transitions the session to Finished, releasing any write
// lock it holds. Finished is terminal: no further operations may be
// processed on this session.
func (s *Session) Finish() {
	if s.writeLock {
		s.locks.Release(s.account)
		s.writeLock = false
	}
	s.phase = Finished
}
