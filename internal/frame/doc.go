// Package frame defines the two fixed-size wire formats used by
// daliserver: the 2-byte network frame exchanged with TCP clients and
// the 2-byte bus frame exchanged with the DALI adapter.
//
// The codec is pure and stateless; it performs no I/O. Buffering of
// partial frames is the responsibility of the network server.
package frame
