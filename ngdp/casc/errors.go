package casc

import "fmt"

// Code is one of the error classes the open pipeline and query surface
// can produce, mirroring the taxonomy a C ABI would surface as a
// thread-local error code.
type Code int

const (
	_ Code = iota
	CodeNotEnoughMemory
	CodeBadFormat
	CodeFileCorrupt
	CodeFileNotFound
	CodeInvalidParameter
	CodeInvalidHandle
	CodeInsufficientBuffer
	CodeCancelled
	CodeNotSupported

	// CodeReparseRoot is a signal, not a failure: a root handler
	// returns it to ask the dispatcher to retry loading ROOT from the
	// build's plain ROOT CKey instead of the VFS-root CKey it was
	// first given. It never escapes the dispatcher into a storage
	// open's returned error.
	CodeReparseRoot
)

func (c Code) String() string {
	switch c {
	case CodeNotEnoughMemory:
		return "NOT_ENOUGH_MEMORY"
	case CodeBadFormat:
		return "BAD_FORMAT"
	case CodeFileCorrupt:
		return "FILE_CORRUPT"
	case CodeFileNotFound:
		return "FILE_NOT_FOUND"
	case CodeInvalidParameter:
		return "INVALID_PARAMETER"
	case CodeInvalidHandle:
		return "INVALID_HANDLE"
	case CodeInsufficientBuffer:
		return "INSUFFICIENT_BUFFER"
	case CodeCancelled:
		return "CANCELLED"
	case CodeNotSupported:
		return "NOT_SUPPORTED"
	case CodeReparseRoot:
		return "REPARSE_ROOT"
	default:
		return "UNKNOWN"
	}
}

// Error is a coded error: every phase of the open pipeline and every
// query that can fail returns one of these (usually wrapped by
// github.com/pkg/errors further up the call stack for context).
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func errf(c Code, format string, args ...interface{}) error {
	return &Error{Code: c, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code from err, if it (or something it wraps via
// Unwrap/Cause) is an *Error. Returns false otherwise.
func CodeOf(err error) (Code, bool) {
	type causer interface{ Cause() error }
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code, true
		}
		if c, ok := err.(causer); ok {
			err = c.Cause()
			continue
		}
		if u, ok := err.(unwrapper); ok {
			err = u.Unwrap()
			continue
		}
		break
	}
	return 0, false
}
