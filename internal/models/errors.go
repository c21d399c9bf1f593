package models

import "errors"

var (
	// ErrDuplicateConnection means a connection id was registered twice.
	// Programming-error level: logged and rejected, never expected under
	// correct transport usage.
	ErrDuplicateConnection = errors.New("duplicate connection id")

	// ErrUnknownConnection means the connection was never registered or
	// already removed. Benign race between close and a later operation.
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrNotAuthenticated means an operation that needs a bound user ran
	// on an unauthenticated connection.
	ErrNotAuthenticated = errors.New("connection not authenticated")

	ErrMissingRoom      = errors.New("event has no room id")
	ErrUnknownEventKind = errors.New("unknown event kind")
	ErrMissingDedupeKey = errors.New("message event has no dedupe key")
)
