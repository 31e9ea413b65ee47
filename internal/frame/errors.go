package frame

import "errors"

// Domain errors for the frame codec.
var (
	// ErrShortFrame is returned when a codec function is given fewer
	// bytes than a complete frame requires. Callers buffer input until
	// a full frame is available, so this error indicates an internal
	// framing bug rather than a recoverable protocol condition.
	ErrShortFrame = errors.New("frame: short frame")
)
