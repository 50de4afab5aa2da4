package runtime

import "errors"

// Sentinel errors the control-socket layer maps onto its domain error codes.
var (
	// ErrContainerNotFound - no container row (or runner) with the given ID.
	ErrContainerNotFound = errors.New("container not found")

	// ErrContainerExists - create was called with an ID already in use.
	ErrContainerExists = errors.New("container already exists")

	// ErrInvalidState - the requested transition is not legal from the
	// container's current status (e.g. start on a RUNNING container, remove
	// on one that has not stopped).
	ErrInvalidState = errors.New("invalid container state")

	// ErrUnknownCommand - the container's command name has no registered factory.
	ErrUnknownCommand = errors.New("unknown container command")

	// ErrShipUnavailable - the ship named in the container spec is actively
	// assigned to another container.
	ErrShipUnavailable = errors.New("ship is assigned to another container")
)
