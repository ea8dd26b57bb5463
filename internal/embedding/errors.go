package embedding

import "errors"

var (
	// ErrTransient marks failures worth retrying: timeouts, connection
	// resets, 5xx responses.
	ErrTransient = errors.New("transient embedding failure")

	// ErrPermanent marks failures that will not succeed on retry:
	// malformed requests, auth errors, oversized input.
	ErrPermanent = errors.New("permanent embedding failure")
)
