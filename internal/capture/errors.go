package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceAccess is matched by every *DeviceAccessError.
	ErrDeviceAccess = errors.New("camera and microphone access required")
	// ErrInvalidCall is matched by every *InvariantError.
	ErrInvalidCall = errors.New("invalid capture call")
	// ErrTooShort is returned by Accept when a minimum duration is configured
	// and the take is shorter.
	ErrTooShort = errors.New("recording shorter than the minimum duration")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("capture session closed")
)

// DeviceAccessError reports a denied or missing camera/microphone. It is
// recoverable: the session stays blocked and Acquire may be retried.
type DeviceAccessError struct {
	Reason string
	Err    error
}

func (e *DeviceAccessError) Error() string {
	msg := ErrDeviceAccess.Error()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeviceAccessError) Unwrap() error { return e.Err }

func (e *DeviceAccessError) Is(target error) bool { return target == ErrDeviceAccess }

// InvariantError is a control used in the wrong state, such as stopping a
// recording that never started. The session state is left untouched.
type InvariantError struct {
	Op    string
	State State
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %s not allowed in state %s", ErrInvalidCall, e.Op, e.State)
}

func (e *InvariantError) Unwrap() error { return ErrInvalidCall }
