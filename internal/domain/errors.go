package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindDuplicateDevice ErrorKind = "duplicate_device"
	KindConfiguration   ErrorKind = "configuration"
	KindNetwork         ErrorKind = "network"
	KindPermission      ErrorKind = "permission"
	KindConflict        ErrorKind = "conflict"
)

// Error carries a kind so callers can branch with errors.Is against the
// sentinels below without caring about the message.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrValidation      = &Error{Kind: KindValidation}
	ErrDuplicateDevice = &Error{Kind: KindDuplicateDevice}
	ErrConfiguration   = &Error{Kind: KindConfiguration}
	ErrNetwork         = &Error{Kind: KindNetwork}
	ErrPermission      = &Error{Kind: KindPermission}
	ErrConflict        = &Error{Kind: KindConflict}
)

func ValidationError(op string, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

func DuplicateDeviceError(op string, deviceID string) error {
	return &Error{Kind: KindDuplicateDevice, Op: op, Message: fmt.Sprintf("device %q already sold or in cart", deviceID)}
}

func ConfigurationError(op string, msg string) error {
	return &Error{Kind: KindConfiguration, Op: op, Message: msg}
}

func NetworkError(op string, err error) error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

func PermissionError(op string, msg string) error {
	return &Error{Kind: KindPermission, Op: op, Message: msg}
}

func ConflictError(op string, format string, args ...any) error {
	return &Error{Kind: KindConflict, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf reports the kind of err, or "" when err is not a domain error.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}
