package lock

import (
	"errors"
	"fmt"
)

// Kind identifies the class of a lock engine error, matching spec §7.
type Kind string

const (
	KindNotFound                Kind = "not_found"
	KindExpired                 Kind = "expired"
	KindNotOwner                Kind = "not_owner"
	KindAlreadyOwnedNotReentrant Kind = "already_owned_not_reentrant"
	KindOwnershipChanged        Kind = "ownership_changed"
	KindInternal                Kind = "internal"
)

// Error is the tagged error engine operations return. It never crosses the
// engine's boundary as a panic or a raw Redis error.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("lock: %s: %s", e.Kind, e.Message)
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func internalError(err error) *Error {
	return &Error{Kind: KindInternal, Message: err.Error()}
}

// AsError unwraps err into a *Error for callers (like pkg/api) that want
// to branch on Kind without importing the errors package themselves.
func AsError(err error) (*Error, bool) {
	var lockErr *Error
	if errors.As(err, &lockErr) {
		return lockErr, true
	}
	return nil, false
}
