package survey

import "errors"

var (
	// ErrInvalidTransition is returned for operations the current mode does not accept
	ErrInvalidTransition = errors.New("invalid transition for current drawing mode")

	// ErrInsufficientVertices is returned when finishing a sketch with fewer than three vertices
	ErrInsufficientVertices = errors.New("polygon needs at least 3 vertices")

	// ErrDuplicateID is returned when a polygon ID already exists in the store
	ErrDuplicateID = errors.New("polygon ID already exists")

	// ErrNotFound is returned when no completed polygon has the requested ID
	ErrNotFound = errors.New("polygon not found")

	// ErrInvalidStatus is returned when a polygon's status does not fit the operation
	ErrInvalidStatus = errors.New("invalid polygon status")
)
