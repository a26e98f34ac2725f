package fusd

import (
	"errors"
	"fmt"
	"syscall"
)

// BrokerError represents a structured broker error with call context and
// an errno-compatible mapping for callers that bridge into syscall.Errno.
type BrokerError struct {
	Op         string // operation that failed (e.g. "OPEN", "READ")
	DeviceName string // device name, empty if not applicable
	OpenFileID uint64 // open-file handle, 0 if not applicable
	Code       BrokerErrorCode
	Errno      syscall.Errno
	Msg        string
	Inner      error
}

func (e *BrokerError) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.DeviceName != "" {
		parts = append(parts, fmt.Sprintf("device=%s", e.DeviceName))
	}
	if e.OpenFileID != 0 {
		parts = append(parts, fmt.Sprintf("open_file=%d", e.OpenFileID))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("fusd: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("fusd: %s", msg)
}

func (e *BrokerError) Unwrap() error {
	return e.Inner
}

// Is lets errors.Is match two *BrokerError values by error code, the way
// callers compare against the sentinel BrokerErrorCode values below.
func (e *BrokerError) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*BrokerError); ok {
		return e.Code == te.Code
	}
	return false
}

// BrokerErrorCode is the broker's error taxonomy, matching the categories in
// the external error handling design: protocol violation, resource
// exhaustion, name collision, argument error, connection lost, permission,
// restart needed, not found, not supported.
type BrokerErrorCode string

const (
	ErrCodeProtocolViolation BrokerErrorCode = "protocol violation"
	ErrCodeResourceExhausted BrokerErrorCode = "resource exhausted"
	ErrCodeNameCollision     BrokerErrorCode = "device name already registered"
	ErrCodeInvalidArgument   BrokerErrorCode = "invalid argument"
	ErrCodeConnectionLost    BrokerErrorCode = "connection lost"
	ErrCodeDeadlockAvoided   BrokerErrorCode = "self-open deadlock avoided"
	ErrCodeRestartNeeded     BrokerErrorCode = "interrupted, restart needed"
	ErrCodeNotFound          BrokerErrorCode = "device not found"
	ErrCodeNotSupported      BrokerErrorCode = "not supported"
)

// NewError creates a broker error with no device/open-file context.
func NewError(op string, code BrokerErrorCode, msg string) *BrokerError {
	return &BrokerError{Op: op, Code: code, Msg: msg}
}

// NewDeviceError creates a device-scoped broker error.
func NewDeviceError(op, deviceName string, code BrokerErrorCode, msg string) *BrokerError {
	return &BrokerError{Op: op, DeviceName: deviceName, Code: code, Msg: msg}
}

// NewOpenFileError creates an open-file-scoped broker error.
func NewOpenFileError(op, deviceName string, openFileID uint64, code BrokerErrorCode, msg string) *BrokerError {
	return &BrokerError{Op: op, DeviceName: deviceName, OpenFileID: openFileID, Code: code, Msg: msg}
}

// WrapError wraps an existing error with broker call context, preserving
// an inner *BrokerError's fields or mapping a syscall.Errno to a code.
func WrapError(op string, inner error) *BrokerError {
	if inner == nil {
		return nil
	}

	if be, ok := inner.(*BrokerError); ok {
		return &BrokerError{
			Op:         op,
			DeviceName: be.DeviceName,
			OpenFileID: be.OpenFileID,
			Code:       be.Code,
			Errno:      be.Errno,
			Msg:        be.Msg,
			Inner:      be.Inner,
		}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &BrokerError{
			Op:    op,
			Code:  mapErrnoToCode(errno),
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}

	return &BrokerError{Op: op, Code: ErrCodeConnectionLost, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToCode(errno syscall.Errno) BrokerErrorCode {
	switch errno {
	case syscall.ENOENT:
		return ErrCodeNotFound
	case syscall.EEXIST:
		return ErrCodeNameCollision
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidArgument
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeResourceExhausted
	case syscall.EPIPE, syscall.ECONNRESET:
		return ErrCodeConnectionLost
	case syscall.EDEADLK:
		return ErrCodeDeadlockAvoided
	case syscall.EINTR:
		return ErrCodeRestartNeeded
	case syscall.EOPNOTSUPP:
		return ErrCodeNotSupported
	default:
		return ErrCodeConnectionLost
	}
}

// IsCode reports whether err is (or wraps) a *BrokerError with the given code.
func IsCode(err error, code BrokerErrorCode) bool {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Code == code
	}
	return false
}
