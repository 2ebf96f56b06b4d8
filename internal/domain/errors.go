package domain

import "errors"

// Kind classifies an error for callers that only care about the category,
// such as the HTTP layer choosing a status code.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindInvalidInput       Kind = "invalid_input"
	KindUnauthorized       Kind = "unauthorized"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindInternal           Kind = "internal"
)

// Error is a domain error with a stable kind. Values are compared by identity,
// so the package-level sentinels work with errors.Is.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Domain errors
var (
	ErrUserNotFound  = newError(KindNotFound, "user not found")
	ErrMatchNotFound = newError(KindNotFound, "match not found")
	ErrGameNotFound  = newError(KindNotFound, "game not found")
	ErrUnknownPlayer = newError(KindNotFound, "unknown player")

	ErrUserExists           = newError(KindConflict, "user already exists")
	ErrSamePlayer           = newError(KindConflict, "cannot create a match between a player and themselves")
	ErrMatchInactive        = newError(KindConflict, "match is not active")
	ErrMatchAlreadyInactive = newError(KindConflict, "match is already inactive")
	ErrGameAlreadyFinished  = newError(KindConflict, "game has already finished")
	ErrPlayerNotInGame      = newError(KindConflict, "player is not playing in this game")

	ErrInvalidRequest = newError(KindInvalidInput, "invalid request")
	ErrInvalidMove    = newError(KindInvalidInput, "move is required")
	ErrInvalidName    = newError(KindInvalidInput, "name is reserved or contains '/'")

	ErrUnauthorized = newError(KindUnauthorized, "caller is not allowed to act for this player")

	ErrStorageUnavailable = newError(KindStorageUnavailable, "storage unavailable")

	ErrInternalError = newError(KindInternal, "internal server error")
)

// KindOf returns the kind of the first domain error in err's chain.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
