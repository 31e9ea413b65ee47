package dali

import (
	"fmt"
	"sync"

	"github.com/sstallion/go-hid"

	"github.com/nerrad567/daliserver/internal/frame"
)

// Tridonic DALI USB adapter identifiers.
const (
	defaultVendorID  uint16 = 0x17B5
	defaultProductID uint16 = 0x0020
)

// Adapter report layout. The device exchanges fixed 64-byte HID reports
// on its interrupt endpoints.
const (
	reportSize = 64

	// Direction byte: whether the report correlates to a host command
	// or was sniffed from the bus.
	directionUSB byte = 0x12
	directionBus byte = 0x11

	// Outgoing frame type: standard 16-bit DALI forward frame.
	typeFrame16 byte = 0x03

	// Incoming report types.
	typeNoResponse byte = 0x71 // command sent, no device answered
	typeResponse   byte = 0x72 // command sent, backward frame follows
	typeComplete   byte = 0x73 // command sent, no answer expected
	typeBroadcast  byte = 0x74 // frame observed on the bus
)

// writeQueueSize bounds the Submit hand-off. Only one request is ever
// in flight, so a small buffer is plenty.
const writeQueueSize = 4

// USBConfig identifies the adapter to open. Zero values select the
// Tridonic DALI USB defaults.
type USBConfig struct {
	VendorID  uint16
	ProductID uint16
}

// usbTransport talks to the adapter through hidapi. A writer goroutine
// serialises report writes so Submit never blocks the dispatch loop; a
// reader goroutine parses incoming reports into Completions.
type usbTransport struct {
	dev *hid.Device

	writes      chan frame.BusFrame
	completions chan Completion

	seq    byte
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// OpenUSB opens the first matching DALI USB adapter.
//
// Returns ErrNoDevice if no adapter is attached.
func OpenUSB(cfg USBConfig) (Transport, error) {
	if cfg.VendorID == 0 {
		cfg.VendorID = defaultVendorID
	}
	if cfg.ProductID == 0 {
		cfg.ProductID = defaultProductID
	}

	if err := hid.Init(); err != nil {
		return nil, fmt.Errorf("%w: hid init: %w", ErrNoDevice, err)
	}

	dev, err := hid.OpenFirst(cfg.VendorID, cfg.ProductID)
	if err != nil {
		return nil, fmt.Errorf("%w: %04x:%04x: %w", ErrNoDevice, cfg.VendorID, cfg.ProductID, err)
	}

	t := &usbTransport{
		dev:         dev,
		writes:      make(chan frame.BusFrame, writeQueueSize),
		completions: make(chan Completion, inboxSize),
		closed:      make(chan struct{}),
	}

	t.wg.Add(2)
	go t.readLoop()
	go t.writeLoop()

	return t, nil
}

// Submit implements Transport. It hands the frame to the writer
// goroutine and returns immediately.
func (t *usbTransport) Submit(f frame.BusFrame) error {
	select {
	case <-t.closed:
		return ErrDeviceLost
	default:
	}

	select {
	case t.writes <- f:
		return nil
	default:
		return fmt.Errorf("%w: write queue full", ErrTransferFailed)
	}
}

// Completions implements Transport.
func (t *usbTransport) Completions() <-chan Completion {
	return t.completions
}

// Close implements Transport. Closing the device unblocks the reader;
// both goroutines drain out before the completions channel closes.
func (t *usbTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		err = t.dev.Close()
		t.wg.Wait()
		close(t.completions)
		_ = hid.Exit()
	})
	return err
}

// writeLoop serialises outgoing reports.
func (t *usbTransport) writeLoop() {
	defer t.wg.Done()

	for {
		select {
		case <-t.closed:
			return
		case f := <-t.writes:
			t.seq++
			buf := make([]byte, reportSize)
			buf[0] = directionUSB
			buf[1] = t.seq
			buf[3] = typeFrame16
			buf[5] = f.Address
			buf[6] = f.Command

			if _, err := t.dev.Write(buf); err != nil {
				select {
				case t.completions <- Completion{Frame: f, Err: fmt.Errorf("%w: %w", ErrTransferFailed, err)}:
				case <-t.closed:
					return
				}
			}
		}
	}
}

// readLoop parses incoming reports into Completions until the device
// goes away or the transport is closed.
func (t *usbTransport) readLoop() {
	defer t.wg.Done()

	buf := make([]byte, reportSize)
	for {
		n, err := t.dev.Read(buf)
		if err != nil {
			select {
			case <-t.closed:
			default:
				// Adapter unplugged or read error: the driver observes
				// the closed completions channel and retires everything
				// pending. Close() will close the channel.
				go t.Close() //nolint:errcheck // best effort on device loss
			}
			return
		}
		if n < 7 {
			continue
		}

		c, ok := t.parseReport(buf[:n])
		if !ok {
			continue
		}
		select {
		case t.completions <- c:
		case <-t.closed:
			return
		}
	}
}

// parseReport decodes one incoming report.
//
// Reports with the bus direction byte are traffic sniffed from the
// wire and become unsolicited completions. Reports with the USB
// direction byte close out the host's in-flight command.
func (t *usbTransport) parseReport(buf []byte) (Completion, bool) {
	dir := buf[0]
	kind := buf[1]
	busFrame := frame.New(buf[3], buf[4])
	response := buf[2]

	switch dir {
	case directionBus:
		return Completion{Frame: busFrame, Response: response, Unsolicited: true}, true

	case directionUSB:
		switch kind {
		case typeResponse:
			return Completion{Frame: busFrame, Response: response}, true
		case typeComplete:
			return Completion{Frame: busFrame}, true
		case typeNoResponse:
			return Completion{Frame: busFrame, Err: ErrNoResponse}, true
		case typeBroadcast:
			return Completion{Frame: busFrame, Response: response, Unsolicited: true}, true
		default:
			return Completion{}, false
		}

	default:
		return Completion{}, false
	}
}
