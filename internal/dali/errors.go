package dali

import "errors"

// Domain errors for the DALI bus driver.
var (
	// ErrNoDevice is returned when no USB adapter can be opened.
	// Fatal at startup; once running, device loss is reported through
	// the per-request error channel instead.
	ErrNoDevice = errors.New("dali: no usb adapter found")

	// ErrTransferFailed is returned when a bus write or read fails.
	// Retires the affected request only; the queue advances.
	ErrTransferFailed = errors.New("dali: transfer failed")

	// ErrTransferTimedOut is returned when no completion arrives for an
	// in-flight request within the response timeout.
	ErrTransferTimedOut = errors.New("dali: transfer timed out")

	// ErrNoResponse is returned when the adapter reports that no device
	// on the bus answered the command.
	ErrNoResponse = errors.New("dali: no response from bus")

	// ErrDeviceLost is returned for requests that were pending when the
	// adapter disappeared mid-operation.
	ErrDeviceLost = errors.New("dali: adapter lost")

	// ErrQueueFull is returned when a configured queue limit is reached;
	// the excess request retires immediately with an error reply.
	ErrQueueFull = errors.New("dali: request queue full")
)
