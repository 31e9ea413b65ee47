package server

import "errors"

// Domain errors for the network server.
var (
	// ErrListenFailed is returned when the listening socket cannot be
	// bound. Fatal at startup.
	ErrListenFailed = errors.New("server: listen failed")
)
