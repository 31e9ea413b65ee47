// Package dali drives the DALI bus through a USB adapter.
//
// The Driver keeps a FIFO queue of pending requests and issues them to
// the hardware one at a time, matching each completion back to the
// connection that caused it (inband) and fanning unsolicited bus
// traffic out as broadcasts (outband). The Transport interface is the
// boundary to the device layer: submit a command, get a completion.
package dali
