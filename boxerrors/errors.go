// Package boxerrors defines the error handling used throughout Box Backup.
package boxerrors

import (
	"bytes"
	"fmt"
	"runtime"

	"boxbackup.io/boxlog"
)

// Error is the type that implements the error interface.
// It contains a number of fields, each of different type.
// An Error value may leave some values unset.
type Error struct {
	// Op is the operation being performed, usually the method being
	// invoked (StoreFile, Login, Diff, ...).
	Op string
	// AccountID identifies the account involved, if any.
	AccountID uint32
	// ObjectID identifies the store object involved, if any.
	ObjectID uint64
	// Kind classifies the error per the kinds in the protocol design.
	Kind Kind
	// Err is the underlying error that triggered this one, if any.
	Err error
}

var _ error = (*Error)(nil)

// Kind classifies the error so callers (protocol encoders, the daemon's
// back-off policy, notify scripts) can act on it without string matching.
type Kind uint8

// The error kinds named by the protocol design.
const (
	Other      Kind = iota // Unclassified.
	Protocol               // Wrong version, unexpected reply, malformed message, over-size frame.
	Connection             // TLS handshake failure, socket closed, read/write timeout.
	Auth                   // Bad login, account locked by another writer, wrong marker.
	Storage                // Quota exceeded, object not found, object-ID exhausted.
	Integrity              // Block hash mismatch, directory magic mismatch, truncated stream.
	Filesystem             // Local read error, attribute read error.
	Config                 // Missing key, invalid value.
)

func (k Kind) String() string {
	switch k {
	case Protocol:
		return "protocol error"
	case Connection:
		return "connection error"
	case Auth:
		return "auth error"
	case Storage:
		return "storage error"
	case Integrity:
		return "integrity error"
	case Filesystem:
		return "filesystem error"
	case Config:
		return "config error"
	case Other:
		return "other error"
	}
	return "unknown error kind"
}

// E builds an error value from its arguments. The type of each argument
// determines its meaning; only one argument of each type may be present
// (if there is more than one, the last one wins).
//
// The types are:
//	string
//		The operation being performed.
//	boxerrors.Kind
//		The kind of error.
//	uint32
//		The account ID involved.
//	uint64
//		The object ID involved.
//	error
//		The underlying error that triggered this one.
func E(args ...interface{}) error {
	if len(args) == 0 {
		return nil
	}
	e := &Error{}
	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			e.Op = arg
		case Kind:
			e.Kind = arg
		case uint32:
			e.AccountID = arg
		case uint64:
			e.ObjectID = arg
		case error:
			e.Err = arg
		default:
			_, file, line, _ := runtime.Caller(1)
			boxlog.Error.Printf("boxerrors.E: bad call from %s:%d: %v", file, line, args)
			return fmt.Errorf("unknown type %T, value %v in error call", arg, arg)
		}
	}
	return e
}

// Str is a trivial implementation of error, for when a plain error()
// would do but we want a named constant.
type Str string

func (s Str) Error() string { return string(s) }

// Errorf is equivalent to fmt.Errorf but returns an error that also
// satisfies boxerrors.Is when wrapped with E.
func Errorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func pad(b *bytes.Buffer, str string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(str)
}

func (e *Error) Error() string {
	b := new(bytes.Buffer)
	if e.Op != "" {
		b.WriteString(e.Op)
	}
	if e.AccountID != 0 {
		pad(b, ": ")
		fmt.Fprintf(b, "account %d", e.AccountID)
	}
	if e.ObjectID != 0 {
		pad(b, ": ")
		fmt.Fprintf(b, "object %d", e.ObjectID)
	}
	if e.Kind != Other {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		if _, ok := e.Err.(*Error); ok {
			pad(b, ":\n\t")
		} else {
			pad(b, ": ")
		}
		b.WriteString(e.Err.Error())
	}
	if b.Len() == 0 {
		return "no error"
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether err is, or wraps, a *boxerrors.Error of the given kind.
func Is(kind Kind, err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	if e.Kind != Other {
		return e.Kind == kind
	}
	return Is(kind, e.Err)
}

// KindOf returns the Kind of err, or Other if err is not a *boxerrors.Error
// or has no kind set at any level of wrapping.
func KindOf(err error) Kind {
	e, ok := err.(*Error)
	if !ok {
		return Other
	}
	if e.Kind != Other {
		return e.Kind
	}
	return KindOf(e.Err)
}
