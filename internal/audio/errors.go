package audio

import (
	"fmt"
	"strings"
)

// ErrorKind classifies capture failures so a UI layer can render actionable
// guidance without inspecting error strings.
type ErrorKind string

const (
	// ErrPermission means access to the device was denied
	ErrPermission ErrorKind = "permission"

	// ErrDeviceAbsent means no device of the requested kind exists
	ErrDeviceAbsent ErrorKind = "device-absent"

	// ErrHardware means the device is busy or reported a failure
	ErrHardware ErrorKind = "hardware"

	// ErrConstraints means the requested constraints cannot be satisfied
	ErrConstraints ErrorKind = "constraints-unsatisfiable"

	// ErrSecurity means capture is blocked in this execution context
	ErrSecurity ErrorKind = "security"

	// ErrUnsupported means the capture primitive or worker is unavailable
	ErrUnsupported ErrorKind = "unsupported"

	// ErrConnectionLost means an active stream ended unexpectedly
	ErrConnectionLost ErrorKind = "connection-lost"

	// ErrTimeout means a worker or device stopped responding
	ErrTimeout ErrorKind = "timeout"
)

// instructions maps each error kind to remediation guidance for the user.
var instructions = map[ErrorKind]string{
	ErrPermission:     "Allow microphone access in your system privacy settings and try again.",
	ErrDeviceAbsent:   "Connect an audio input device or select a different one with --list-devices.",
	ErrHardware:       "The audio device is busy or failed. Close other applications using it and retry.",
	ErrConstraints:    "The requested sample rate or channel layout is not supported by this device.",
	ErrSecurity:       "Audio capture is blocked in this environment.",
	ErrUnsupported:    "System-audio capture needs a backend with loopback support (WASAPI on Windows). Use the microphone source instead.",
	ErrConnectionLost: "The audio device was disconnected. Reconnect it or choose another source.",
	ErrTimeout:        "Audio processing stopped responding. The session will continue on the fallback path.",
}

// CaptureError is the structured error surfaced from connect and switch
// operations. It is returned, never thrown past the public boundary.
type CaptureError struct {
	Kind         ErrorKind
	Message      string
	Instructions string
	Err          error
}

// NewCaptureError builds a CaptureError with the standard remediation
// instructions for the kind.
func NewCaptureError(kind ErrorKind, message string, err error) *CaptureError {
	return &CaptureError{
		Kind:         kind,
		Message:      message,
		Instructions: instructions[kind],
		Err:          err,
	}
}

func (e *CaptureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// classifyDeviceError maps a raw backend error to a capture error kind by
// inspecting the failure text. Unrecognized errors are reported as hardware
// failures, the safest default for retry behavior.
func classifyDeviceError(err error) ErrorKind {
	if err == nil {
		return ErrHardware
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "access denied"), strings.Contains(msg, "permission"):
		return ErrPermission
	case strings.Contains(msg, "no device"), strings.Contains(msg, "device not found"), strings.Contains(msg, "no backend"):
		return ErrDeviceAbsent
	case strings.Contains(msg, "format not supported"), strings.Contains(msg, "invalid device config"):
		return ErrConstraints
	case strings.Contains(msg, "device type not supported"), strings.Contains(msg, "not supported"):
		return ErrUnsupported
	case strings.Contains(msg, "timeout"):
		return ErrTimeout
	default:
		return ErrHardware
	}
}
