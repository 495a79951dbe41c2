package database

import "errors"

// Sentinel errors returned by Store operations. Duplicate natural keys
// are not in this list: InsertMessage reports them through its created
// flag, since retried deliveries are expected from the transport layer.
var (
	// ErrNotFound is returned by lookups when no row matches.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidReference is returned when a Response, Event, or
	// transcript link points at a Message surrogate id that does not
	// exist. This indicates a caller bug and is never swallowed.
	ErrInvalidReference = errors.New("referenced message does not exist")

	// ErrAlreadyLinked is returned by LinkTranscript when the transcript
	// already carries a link to a different message. Links are immutable.
	ErrAlreadyLinked = errors.New("transcript already linked to another message")
)
