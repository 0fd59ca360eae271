//go:build windows

package boxattr

import (
	"os"

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
	return &Attributes{
		Mode:    uint32(fi.Mode().Perm()),
		ModTime: box.Time(fi.ModTime().UnixMicro()),
	}, nil
}

func (defaultCodec) Apply(localPath string, a *Attributes) error {
	return os.Chmod(localPath, os.FileMode(a.Mode))
}
