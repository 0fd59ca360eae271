// Package control implements the client daemon's control socket of
// spec §4.9/§6: a Unix-domain socket accepting one command per line
// (sync, force-sync, reload, terminate, wait-for-sync, wait-for-end,
// quit), replying "ok"/"error", and emitting unsolicited state and
// sync-boundary lines. Grounded on the original
// bin/bbackupd/CommandSocketManager.cpp, generalised from its single
// connection at a time to Go's natural one-goroutine-per-connection
// model.
package control

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"sync"

	"boxbackup.io/boxlog"
)

// Commands is the set of actions a connected command-socket client can
// request. The daemon implements this to receive them.
type Commands interface {
	Sync()
	ForceSync()
	Reload()
	Terminate()
}

// Summary renders the startup banner's configuration-summary line
// (the original's "bbackupd: %d %d %d %d" of AutomaticBackup,
// UpdateStoreInterval, MinimumFileAge, MaxUploadWait).
type Summary func() string

// Server listens on a Unix-domain socket and dispatches commands to
// Commands, tracking sync start/finish events so wait-for-sync and
// wait-for-end can block until the next one occurs.
type Server struct {
	socketPath string
	listener   net.Listener
	cmds       Commands
	summary    Summary
	logger     boxlog.Logger

	mu        sync.Mutex
	state     int
	conns     map[net.Conn]struct{}
	syncGen   int
	finishGen int
	cond      *sync.Cond
}

// Listen creates (replacing any stale file) and starts listening on a
// Unix-domain socket at socketPath.
func Listen(socketPath string, cmds Commands, summary Summary, logger boxlog.Logger) (*Server, error) {
	os.Remove(socketPath)
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}
	s := &Server{
		socketPath: socketPath,
		listener:   l,
		cmds:       cmds,
		summary:    summary,
		logger:     logger,
		conns:      make(map[net.Conn]struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		if !checkPeerCredential(conn) {
			s.logger.Printf("control: rejected connection from peer with mismatched credentials")
			conn.Close()
			continue
		}
		go s.handle(conn)
	}
}

// Close stops accepting new connections and drops every open one.
func (s *Server) Close() error {
	err := s.listener.Close()
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	return err
}

// SetState updates the daemon's reported state and pushes a "state N"
// line to every connected client, mirroring SendStateUpdate.
func (s *Server) SetState(state int) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.broadcast(fmt.Sprintf("state %d\n", state))
}

// NotifySyncStart broadcasts "start-sync" and wakes any connection
// blocked in wait-for-sync.
func (s *Server) NotifySyncStart() {
	s.mu.Lock()
	s.syncGen++
	s.cond.Broadcast()
	s.mu.Unlock()
	s.broadcast("start-sync\n")
}

// NotifySyncFinish broadcasts "finish-sync" and wakes any connection
// blocked in wait-for-end.
func (s *Server) NotifySyncFinish() {
	s.mu.Lock()
	s.finishGen++
	s.cond.Broadcast()
	s.mu.Unlock()
	s.broadcast("finish-sync\n")
}

func (s *Server) broadcast(line string) {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		if _, err := c.Write([]byte(line)); err != nil {
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
		}
	}
}

func (s *Server) handle(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	state := s.state
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	fmt.Fprintf(conn, "%s\nstate %d\n", s.summary(), state)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "quit" {
			return
		}
		ok, respond := s.dispatch(line)
		if !respond {
			continue
		}
		if ok {
			conn.Write([]byte("ok\n"))
		} else {
			conn.Write([]byte("error\n"))
		}
	}
}

// dispatch runs one command line, returning whether it succeeded and
// whether a response line should be sent at all (quit/empty suppress
// a response the way the original does).
func (s *Server) dispatch(line string) (ok bool, respond bool) {
	switch line {
	case "", "quit":
		return false, false
	case "sync":
		s.cmds.Sync()
		return true, true
	case "force-sync":
		s.cmds.ForceSync()
		return true, true
	case "reload":
		s.cmds.Reload()
		return true, true
	case "terminate":
		s.cmds.Terminate()
		return true, true
	case "wait-for-sync":
		s.waitForGen(&s.syncGen)
		return true, true
	case "wait-for-end":
		s.waitForGen(&s.finishGen)
		return true, true
	default:
		return false, true
	}
}

func (s *Server) waitForGen(gen *int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := *gen
	for *gen == start {
		s.cond.Wait()
	}
}
