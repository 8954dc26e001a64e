// Package hostserial implements transport.Transport over a real Linux
// tty device, for developing and testing the driver core without the
// target microcontroller: a USB-attached cellular module's /dev/ttyUSBx,
// or one end of a socat-created pty pair.
// https://github.com/usbarmory/cmuxmodem
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.
package hostserial

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	serial "github.com/daedaluz/goserial"

	"github.com/usbarmory/cmuxmodem/transport"
)

// Transport is a transport.Transport backed by a termios raw serial
// port, grounded on github.com/daedaluz/goserial's ioctl-based Port.
type Transport struct {
	mu   sync.Mutex
	port *serial.Port

	events chan transport.Event
	closed chan struct{}

	linePattern bool
	sep         byte
	pending     bytes.Buffer
}

// Open opens path (e.g. "/dev/ttyUSB2") in raw mode at baud and
// starts the background goroutine that turns blocking reads into
// transport.Event values.
func Open(path string, baud int) (*Transport, error) {
	port, err := serial.Open(path, serial.NewOptions().SetReadTimeout(200*time.Millisecond))
	if err != nil {
		return nil, fmt.Errorf("hostserial: open %s: %w", path, err)
	}

	if err := port.MakeRaw(); err != nil {
		port.Close()
		return nil, fmt.Errorf("hostserial: make raw: %w", err)
	}

	if err := setBaud(port, baud); err != nil {
		port.Close()
		return nil, fmt.Errorf("hostserial: set baud: %w", err)
	}

	t := &Transport{
		port:   port,
		events: make(chan transport.Event, 16),
		closed: make(chan struct{}),
		sep:    '\n',
	}

	go t.readLoop()

	return t, nil
}

func setBaud(port *serial.Port, baud int) error {
	speed, ok := baudToCflag(baud)
	if !ok {
		return fmt.Errorf("unsupported baud rate %d", baud)
	}

	attrs, err := port.GetAttr()
	if err != nil {
		return err
	}

	attrs.SetSpeed(speed)

	return port.SetAttr(serial.TCSANOW, attrs)
}

func baudToCflag(baud int) (serial.CFlag, bool) {
	switch baud {
	case 9600:
		return serial.B9600, true
	case 19200:
		return serial.B19200, true
	case 38400:
		return serial.B38400, true
	case 57600:
		return serial.B57600, true
	case 115200:
		return serial.B115200, true
	default:
		return 0, false
	}
}

// readLoop turns the port's blocking, timeout-bounded reads into
// DataAvailable/PatternAt events, matching the Transport contract's
// event-driven shape over goserial's synchronous Read.
func (t *Transport) readLoop() {
	buf := make([]byte, 256)

	for {
		select {
		case <-t.closed:
			close(t.events)
			return
		default:
		}

		n, err := t.port.Read(buf)

		switch {
		case err == nil && n > 0:
			t.deliver(buf[:n])
		case err != nil && !isTimeout(err):
			if err == io.EOF {
				close(t.events)
				return
			}
			t.events <- transport.Event{Kind: transport.Unknown, Data: []byte(err.Error())}
		}
	}
}

func (t *Transport) deliver(p []byte) {
	t.mu.Lock()
	linePattern := t.linePattern
	t.mu.Unlock()

	t.events <- transport.Event{Kind: transport.DataAvailable, Data: append([]byte(nil), p...)}

	if !linePattern {
		return
	}

	t.mu.Lock()
	t.pending.Write(p)
	t.mu.Unlock()

	for {
		t.mu.Lock()
		idx := bytes.IndexByte(t.pending.Bytes(), t.sep)
		if idx >= 0 {
			t.pending.Next(idx + 1)
		}
		t.mu.Unlock()

		if idx < 0 {
			return
		}

		t.events <- transport.Event{Kind: transport.PatternAt, Pos: idx}
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

func (t *Transport) Write(p []byte) (int, error) {
	return t.port.Write(p)
}

func (t *Transport) Events() <-chan transport.Event {
	return t.events
}

func (t *Transport) EnableLinePattern(sep byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.linePattern = true
	t.sep = sep
	t.pending.Reset()
	return nil
}

func (t *Transport) DisableLinePattern() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.linePattern = false
	t.pending.Reset()
	return nil
}

func (t *Transport) EnableRawRx() error  { return nil }
func (t *Transport) DisableRawRx() error { return nil }

func (t *Transport) Flush() error {
	return t.port.Flush(serial.TCIOFLUSH)
}

func (t *Transport) Close() error {
	close(t.closed)
	return t.port.Close()
}
