//go:build linux

package control

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// checkPeerCredential rejects a connection from a UID other than this
// process's own, using SO_PEERCRED, matching the original's
// GetPeerCredentials() check. Connections whose underlying fd can't
// be inspected (not a Unix socket, or the syscall fails) are rejected
// rather than silently trusted.
func checkPeerCredential(conn net.Conn) bool {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return false
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return false
	}
	var cred *unix.Ucred
	var sysErr error
	err = raw.Control(func(fd uintptr) {
		cred, sysErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil || sysErr != nil || cred == nil {
		return false
	}
	return cred.Uid == uint32(os.Getuid())
}
