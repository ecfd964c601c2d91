// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

var (
	// ErrNotFound indicates the requested spec, version or user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidShortID indicates a malformed short identifier.
	ErrInvalidShortID = errors.New("invalid short id")

	// ErrInvalidArgument indicates a request parameter failed validation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDuplicateUsername indicates the username uniqueness constraint was violated.
	ErrDuplicateUsername = errors.New("username already exists")

	// ErrStorageUnavailable indicates the remote document store could not complete an operation.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrMalformedDocument indicates a stored document failed normalization.
	ErrMalformedDocument = errors.New("malformed document")

	// ErrUnauthorized indicates failed authentication or a missing permission.
	ErrUnauthorized = errors.New("unauthorized")
)
