package server

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/daliserver/internal/dispatch"
)

// Connection tunables.
const (
	// readBufferSize is the per-read scratch buffer. Frames are tiny;
	// this mostly matters when a client pipelines many requests.
	readBufferSize = 256

	// writeQueueSize bounds the per-connection outbound queue. A
	// connection that cannot drain this backlog is scheduled for close
	// rather than allowed to stall the loop.
	writeQueueSize = 32

	// writeTimeout bounds a single write on the connection's writer
	// goroutine.
	writeTimeout = 5 * time.Second

	// inboxSize is the buffer between connection goroutines and the
	// dispatch loop.
	inboxSize = 128
)

// Handler is invoked on the dispatch goroutine once per complete frame,
// with the frame bytes and the originating connection's ID.
type Handler func(frameBytes []byte, conn uuid.UUID)

// Logger is the minimal logging interface the server needs, satisfied
// by logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// eventKind discriminates inbox events posted by the accept and reader
// goroutines.
type eventKind int

const (
	evAccept eventKind = iota
	evData
	evClosed
)

type netEvent struct {
	kind eventKind
	conn net.Conn  // evAccept
	id   uuid.UUID // evData, evClosed
	data []byte    // evData
}

// connection is one accepted client. All fields are owned by the
// dispatch goroutine except writes/done, which the writer and reader
// goroutines share.
type connection struct {
	id   uuid.UUID
	conn net.Conn

	// buf accumulates partial reads until a complete frame is
	// available.
	buf []byte

	writes chan []byte
	done   chan struct{}
}

// Server listens for client connections and reassembles their byte
// streams into fixed-size frames.
//
// Threading: Reply, Broadcast, Close, and the frame handler all run on
// the dispatch goroutine. Accept and per-connection read/write I/O run
// on their own goroutines and communicate with the loop exclusively
// through the inbox.
type Server struct {
	disp      *dispatch.Dispatch
	id        dispatch.ID
	ln        net.Listener
	frameSize int
	handler   Handler
	log       Logger

	inbox chan netEvent
	done  chan struct{}
	once  sync.Once

	conns map[uuid.UUID]*connection
}

// Open binds the listening socket and registers the server with the
// dispatch queue. Bind or listen failure is fatal at startup.
func Open(d *dispatch.Dispatch, address string, port int, frameSize int, handler Handler) (*Server, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("%w: frame size %d", ErrListenFailed, frameSize)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(address, fmt.Sprintf("%d", port)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListenFailed, err)
	}

	s := &Server{
		disp:      d,
		ln:        ln,
		frameSize: frameSize,
		handler:   handler,
		inbox:     make(chan netEvent, inboxSize),
		done:      make(chan struct{}),
		conns:     make(map[uuid.UUID]*connection),
	}
	s.id = d.Register(s)

	go s.acceptLoop()

	return s, nil
}

// SetLogger sets the server's logger. Call before the dispatch loop
// starts.
func (s *Server) SetLogger(log Logger) {
	s.log = log
}

// Addr returns the bound listener address, useful when port 0 was
// requested.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// ConnectionCount returns the number of open connections. Dispatch
// goroutine only.
func (s *Server) ConnectionCount() int {
	return len(s.conns)
}

// acceptLoop accepts connections and posts them to the loop.
func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			// Listener closed during shutdown, or a fatal accept
			// error; either way the accept source ends here.
			return
		}
		s.post(netEvent{kind: evAccept, conn: conn})
	}
}

// readLoop reads from one connection and posts the bytes to the loop.
func (s *Server) readLoop(c *connection) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.post(netEvent{kind: evData, id: c.id, data: data})
		}
		if err != nil {
			s.post(netEvent{kind: evClosed, id: c.id})
			return
		}
	}
}

// writeLoop drains one connection's outbound queue.
func (s *Server) writeLoop(c *connection) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.writes:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				s.post(netEvent{kind: evClosed, id: c.id})
				return
			}
			if _, err := c.conn.Write(data); err != nil {
				s.post(netEvent{kind: evClosed, id: c.id})
				return
			}
		}
	}
}

// post delivers an event to the inbox and rings the dispatch doorbell.
// During shutdown the inbox is abandoned; posting goroutines exit
// instead of blocking.
func (s *Server) post(ev netEvent) {
	select {
	case s.inbox <- ev:
		s.disp.Signal(s.id)
	case <-s.done:
	}
}

// OnReady implements dispatch.Handler: it drains the inbox on the
// dispatch goroutine.
func (s *Server) OnReady() {
	for {
		select {
		case ev := <-s.inbox:
			switch ev.kind {
			case evAccept:
				s.handleAccept(ev.conn)
			case evData:
				s.handleData(ev.id, ev.data)
			case evClosed:
				s.closeConn(ev.id)
			}
		default:
			return
		}
	}
}

// OnTimeout implements dispatch.Handler. The server never arms a
// deadline.
func (s *Server) OnTimeout() {}

// handleAccept registers a new connection and starts its I/O
// goroutines.
func (s *Server) handleAccept(conn net.Conn) {
	c := &connection{
		id:     uuid.New(),
		conn:   conn,
		writes: make(chan []byte, writeQueueSize),
		done:   make(chan struct{}),
	}
	s.conns[c.id] = c

	go s.readLoop(c)
	go s.writeLoop(c)

	s.logDebug("connection accepted", "conn", c.id.String(), "remote", conn.RemoteAddr().String())
}

// handleData appends received bytes to the connection's buffer and
// delivers every complete frame, one handler call per frame. Partial
// trailing bytes stay buffered for the next read.
func (s *Server) handleData(id uuid.UUID, data []byte) {
	c, ok := s.conns[id]
	if !ok {
		// Bytes from a connection already torn down.
		return
	}

	c.buf = append(c.buf, data...)
	for len(c.buf) >= s.frameSize {
		frameBytes := make([]byte, s.frameSize)
		copy(frameBytes, c.buf[:s.frameSize])
		c.buf = c.buf[s.frameSize:]

		if s.handler != nil {
			s.handler(frameBytes, id)
		}
	}
}

// Reply writes one frame to a single connection. Replying to a
// connection that has since closed is a silent no-op, never an error:
// the bus driver may retire a request long after its origin went away.
func (s *Server) Reply(id uuid.UUID, data []byte) {
	c, ok := s.conns[id]
	if !ok {
		return
	}
	s.send(c, data)
}

// Broadcast writes the same frame to every open connection. A
// connection whose write would block or error is scheduled for close
// and skipped; it never aborts delivery to the rest.
func (s *Server) Broadcast(data []byte) {
	for _, c := range s.conns {
		s.send(c, data)
	}
}

// send queues a frame on the connection's writer. A full queue means
// the client has stopped draining; the connection is closed rather
// than allowed to wedge the loop.
func (s *Server) send(c *connection, data []byte) {
	select {
	case c.writes <- data:
	default:
		s.logWarn("write queue full, closing connection", "conn", c.id.String())
		s.closeConn(c.id)
	}
}

// closeConn tears down one connection. Safe to call for an
// already-removed ID.
func (s *Server) closeConn(id uuid.UUID) {
	c, ok := s.conns[id]
	if !ok {
		return
	}
	delete(s.conns, id)
	close(c.done)
	_ = c.conn.Close()

	s.logDebug("connection closed", "conn", id.String())
}

// Close closes every connection, stops the listener, and deregisters
// from dispatch. Safe to call more than once; later calls are no-ops.
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ln.Close()
		for id := range s.conns {
			s.closeConn(id)
		}
		s.disp.Deregister(s.id)
	})
	return err
}

func (s *Server) logDebug(msg string, args ...any) {
	if s.log != nil {
		s.log.Debug(msg, args...)
	}
}

func (s *Server) logWarn(msg string, args ...any) {
	if s.log != nil {
		s.log.Warn(msg, args...)
	}
}
