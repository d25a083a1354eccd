package registry

import "fmt"

// Kind classifies a registry error so callers can branch on a variant
// instead of a dynamic type check.
type Kind int

const (
	// KindValidation marks a malformed descriptor or version string.
	KindValidation Kind = iota
	// KindAuthentication marks bad credentials or insufficient ownership.
	KindAuthentication
	// KindConflict marks duplicate versions without force, duplicate
	// ownership, and last-owner removal.
	KindConflict
	// KindNotFound marks an unknown package, version or user.
	KindNotFound
	// KindStorage marks an unavailable filesystem or store.
	KindStorage
)

// Error is a tagged registry error carrying a short human-readable message
// safe to surface to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a tagged error of the given kind. Boundary code uses it to
// classify failures raised outside this package.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func validationErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func authenticationErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindAuthentication, Message: fmt.Sprintf(format, args...)}
}

func conflictErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func notFoundErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}
