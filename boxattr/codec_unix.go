//go:build !windows

package boxattr

import (
	"os"
	"syscall"

	"boxbackup.io/box"
	"boxbackup.io/boxerrors"
)

type defaultCodec struct{}

func (defaultCodec) Encode(localPath string) (*Attributes, error) {
	const op = "boxattr.Encode"
	fi, err := os.Lstat(localPath)
	if err != nil {
		return nil, boxerrors.E(op, boxerrors.Filesystem, err)
	}
	a := &Attributes{
		Mode:    uint32(fi.Mode().Perm()),
		ModTime: box.Time(fi.ModTime().UnixMicro()),
	}
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		a.UID = st.Uid
		a.GID = st.Gid
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(localPath)
		if err != nil {
			return nil, boxerrors.E(op, boxerrors.Filesystem, err)
		}
		a.SymlinkTo = target
	}
	// Extended attributes (xattr) and POSIX ACLs are not read here;
	// see the package doc comment on FsAttrCodec.
	return a, nil
}

func (defaultCodec) Apply(localPath string, a *Attributes) error {
	const op = "boxattr.Apply"
	if err := os.Chmod(localPath, os.FileMode(a.Mode)); err != nil {
		return boxerrors.E(op, boxerrors.Filesystem, err)
	}
	if err := os.Chown(localPath, int(a.UID), int(a.GID)); err != nil {
		return boxerrors.E(op, boxerrors.Filesystem, err)
	}
	return nil
}
