package frame

import "fmt"

// Size is the fixed size of every wire frame, at both the network and
// the bus level. The protocol carries no length prefix and no checksum;
// framing relies entirely on this constant.
const Size = 2

// Reply status codes for the second network frame direction
// (server → client reply).
const (
	// StatusOK indicates the bus request completed and the response
	// byte is valid.
	StatusOK byte = 0x00

	// StatusError indicates the bus request failed; the response byte
	// is undefined and set to zero.
	StatusError byte = 0x01
)

// BusFrame is a single bus-level message in either direction.
//
// It is an immutable value: created when a client request is decoded or
// when bus traffic is received, and consumed exactly once by its
// intended recipient (the pending-request queue or a reply emission).
type BusFrame struct {
	// Address is the DALI short/group/broadcast address byte.
	Address byte

	// Command is the DALI command byte.
	Command byte
}

// New constructs a BusFrame from an address and command pair.
func New(address, command byte) BusFrame {
	return BusFrame{Address: address, Command: command}
}

// String returns a human-readable representation of the frame.
func (f BusFrame) String() string {
	return fmt.Sprintf("BusFrame{0x%02X 0x%02X}", f.Address, f.Command)
}

// DecodeRequest parses a client → server network frame into a BusFrame.
//
// The request format is:
//
//	Byte 0: bus address
//	Byte 1: bus command
//
// Returns ErrShortFrame if fewer than Size bytes are supplied. The
// network server's reassembly buffer guarantees complete frames, so a
// short frame here indicates a framing bug in the caller.
func DecodeRequest(data []byte) (BusFrame, error) {
	if len(data) < Size {
		return BusFrame{}, fmt.Errorf("%w: got %d bytes, need %d", ErrShortFrame, len(data), Size)
	}
	return BusFrame{Address: data[0], Command: data[1]}, nil
}

// EncodeBus encodes the frame for transmission on the bus.
//
// The bus format mirrors the network request: address byte followed by
// command byte.
func (f BusFrame) EncodeBus() []byte {
	return []byte{f.Address, f.Command}
}

// EncodeReply encodes a server → client reply frame.
//
// The reply format is:
//
//	Byte 0: status (StatusOK or StatusError)
//	Byte 1: response value (zero when status is StatusError)
func EncodeReply(status, response byte) []byte {
	if status != StatusOK {
		return []byte{status, 0x00}
	}
	return []byte{status, response}
}

// EncodeBroadcast encodes a server → all clients broadcast frame,
// emitted for unsolicited bus traffic.
//
// The broadcast format carries the raw bus frame: address byte followed
// by command byte.
func (f BusFrame) EncodeBroadcast() []byte {
	return []byte{f.Address, f.Command}
}
