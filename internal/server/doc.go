// Package server implements the TCP side of daliserver: it accepts
// client connections, reassembles their byte streams into fixed-size
// protocol frames, and supports unicast replies and broadcast fan-out.
//
// Connections are identified by generation-checked IDs rather than
// pointers, so a connection closing while a bus request is still in
// flight leaves the bus driver holding nothing more dangerous than an
// ID whose reply becomes a no-op.
package server
