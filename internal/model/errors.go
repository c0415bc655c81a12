package model

import "errors"

// Standard errors
var (
	// ErrNotFound reports an explicit lookup miss on the backend
	ErrNotFound = errors.New("model: not found")

	// ErrAmbiguousToken reports a selection token that cannot be parsed
	ErrAmbiguousToken = errors.New("model: ambiguous selection token")
)
