package chat

import "errors"

// Every command failure is local to the session that issued it. These
// sentinels are matched with errors.Is by the router when it builds the
// sender-only rejection.
var (
	// ErrValidation covers malformed or empty commands.
	ErrValidation = errors.New("invalid command")

	// ErrNotFound covers unknown reply targets and delete targets.
	ErrNotFound = errors.New("message not found")

	// ErrAuthorization is returned when the moderation gate denies a delete.
	ErrAuthorization = errors.New("not allowed")
)
