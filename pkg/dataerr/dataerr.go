// Package dataerr defines the typed error kinds the data-plane core raises
// and the wire category each maps to for a transport adapter to translate.
package dataerr

import (
	"errors"
	"fmt"
)

// Kind is one of the eleven error categories the core recognises.
type Kind string

const (
	InputInvalid    Kind = "INPUT_INVALID"
	Missing         Kind = "MISSING"
	Duplicate       Kind = "DUPLICATE"
	WrongType       Kind = "WRONG_TYPE"
	VersionInvalid  Kind = "VERSION_INVALID"
	DataSize        Kind = "DATA_SIZE"
	StorageFault    Kind = "STORAGE_FAULT"
	TenantNotFound  Kind = "TENANT_NOT_FOUND"
	AuthDenied      Kind = "AUTH_DENIED"
	Internal        Kind = "INTERNAL"
	Cancelled       Kind = "CANCELLED"
)

// WireCategory is the transport-neutral status category a Kind maps to.
func (k Kind) WireCategory() string {
	switch k {
	case InputInvalid:
		return "invalid-argument"
	case Missing:
		return "not-found"
	case Duplicate:
		return "already-exists"
	case WrongType:
		return "failed-precondition"
	case VersionInvalid:
		return "failed-precondition"
	case DataSize:
		return "invalid-argument"
	case StorageFault:
		return "data-loss"
	case TenantNotFound:
		return "not-found"
	case AuthDenied:
		return "permission-denied"
	case Cancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// Error is the typed error carried across stage boundaries. Cause is kept
// for logging at the adapter boundary but is never rendered into Message
// for an Internal error, per the masking rule in the error handling design.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind, keeping cause for diagnostics.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind of err, defaulting to Internal for anything that
// isn't a *Error — the masking boundary the adapter applies before the
// description crosses the wire.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Mask returns an Internal error with the cause description stripped, for
// the uncategorised-exception path at the adapter boundary (§7): the detailed
// cause is logged by the caller before Mask is applied, never returned here.
func Mask(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != Internal {
		return e
	}
	return &Error{Kind: Internal, Message: "internal error"}
}
