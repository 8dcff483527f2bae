package sftpfs

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"github.com/sftpfs/sftpfs/sshfx"
)

// ErrSessionClosed is reported by every operation attempted on a session that
// has been closed or has failed, and by every call that was still in flight
// when the session went down. It is never silently swallowed: a caller
// blocked on a response is always woken with it.
var ErrSessionClosed = errors.New("sftp: session closed")

// ErrLockConflict is reported when a byte-range lock acquisition overlaps a
// lock already held on the same remote path within this process.
var ErrLockConflict = errors.New("sftp: lock conflict")

// A NegotiationError means the version handshake failed and the session never
// became usable.
type NegotiationError struct {
	Current   uint32
	Selected  uint32
	Available []uint32

	Reason string
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("sftp: version negotiation failed: %s (current: %d, selected: %d, available: %v)",
		e.Reason, e.Current, e.Selected, e.Available)
}

// A StatusError is returned when an SFTP operation fails, and provides the
// exact error reported by the remote end.
type StatusError struct {
	Code        sshfx.Status
	Message     string
	LanguageTag string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return "sftp: " + e.Code.Error()
	}
	return fmt.Sprintf("sftp: %q (%s)", e.Message, e.Code)
}

// Is lets a StatusError match both its raw status code and the standard
// sentinel for that code, so callers can test with errors.Is against either
// sshfx.StatusNoSuchFile or fs.ErrNotExist interchangeably.
func (e *StatusError) Is(target error) bool {
	if status, ok := target.(sshfx.Status); ok {
		return e.Code == status
	}

	switch target {
	case fs.ErrNotExist:
		return e.Code == sshfx.StatusNoSuchFile || e.Code == sshfx.StatusNoSuchPath
	case fs.ErrPermission:
		return e.Code == sshfx.StatusPermissionDenied
	case fs.ErrExist:
		return e.Code == sshfx.StatusFileAlreadyExists
	case errors.ErrUnsupported:
		return e.Code == sshfx.StatusOPUnsupported
	case syscall.ENOTDIR:
		return e.Code == sshfx.StatusNotADirectory
	}

	return false
}
