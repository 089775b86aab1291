package server

import "errors"

// Dispatch errors reported to clients as error-state Response envelopes.
var (
	ErrActionNotFound = errors.New("action not found")
	ErrMissingAction  = errors.New("missing action query parameter")
	ErrNotARequest    = errors.New("request body is not a Request envelope")
	ErrNotPageable    = errors.New("resource does not support paging")
	ErrInvalidCursor  = errors.New("invalid cursor token")
	ErrUnknownField   = errors.New("unknown field")
	ErrDuplicateKey   = errors.New("duplicate key")
)

var (
	errServeAlreadyCalled = errors.New("server is already listening for incoming requests")
	errDuplicateMount     = errors.New("path is already mounted")
	errInvalidMountPath   = errors.New("mount path must start with / and cannot contain a query")
	errReservedMountPath  = errors.New("mount path is reserved")
	errNilTarget          = errors.New("mount target cannot be nil")
)
