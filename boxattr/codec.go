package boxattr

// FsAttrCodec converts between a local filesystem's native attribute
// representation (mode bits, ownership, symlink target, and any
// platform xattrs/ACLs) and the cleartext Attributes carried in an
// attribute block. The design notes call out the original's
// platform-variant symlink/xattr code paths as something to isolate
// behind an interface rather than `#ifdef`-style branching; this is
// that seam. Only a default, portable implementation is provided here
// (mode/uid/gid/times/symlink target); platform-specific extended
// attribute and ACL byte encoding is a leaf routine left unimplemented,
// per spec §1.
type FsAttrCodec interface {
	// Encode reads the attributes of the file at localPath into a.
	Encode(localPath string) (*Attributes, error)
	// Apply restores a onto the file at localPath (used by a restore
	// path; not exercised by the backup/diff flow this spec covers).
	Apply(localPath string, a *Attributes) error
}

// DefaultCodec is the portable implementation: every build is linked
// against one, selected at build time via platform-specific files
// (codec_unix.go, codec_windows.go) the way the design notes describe.
var DefaultCodec FsAttrCodec = defaultCodec{}
