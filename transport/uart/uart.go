// Package uart implements transport.Transport directly against an
// NXP i.MX6 UART controller's memory-mapped registers, for the
// microcontroller target the driver core is written for. The
// register map, baud-rate computation and enable sequence are
// adapted from the SoC's reference manual in the same shape the
// teacher's own i.MX6 UART driver used; what changes is the
// interface it is wired to: instead of exposing Tx/Rx primitives
// directly, it polls the hardware and turns bytes into
// transport.Event values, including line-pattern detection, so it
// plugs straight into the driver core.
// https://github.com/usbarmory/cmuxmodem
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago
// +build tamago

package uart

import (
	"errors"
	"sync"
	"time"
	"unsafe"

	"github.com/usbarmory/cmuxmodem/transport"
)

// Register offsets, p3608 55.15 UART Memory Map/Register Definition, IMX6ULLRM.
const (
	regURXD = 0x0000
	URXD_CHARRDY = 15
	URXD_ERR     = 14
	URXD_PRERR   = 10
	URXD_RX_DATA = 0

	regUTXD = 0x0040

	regUCR1  = 0x0080
	UCR1_UARTEN = 0

	regUCR2  = 0x0084
	UCR2_SRST = 0
	UCR2_RXEN = 1
	UCR2_TXEN = 2
	UCR2_WS   = 5
	UCR2_IRTS = 14

	regUCR3 = 0x0088
	UCR3_RXDMUXSEL = 2
	UCR3_ADNIMP    = 7

	regUFCR = 0x0090
	UFCR_RXTL  = 0
	UFCR_RFDIV = 7
	UFCR_TXTL  = 10

	regUSR2  = 0x0098
	USR2_RDR = 0

	regUBIR = 0x00a4
	regUBMR = 0x00a8
)

func regRead(addr uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(addr))
}

func regWrite(addr uintptr, val uint32) {
	*(*uint32)(unsafe.Pointer(addr)) = val
}

// UART is a transport.Transport backed by one i.MX6 UART instance.
type UART struct {
	sync.Mutex

	base uintptr
	// RefClock is the UART module clock in Hz after the /6 static
	// divider, used to compute UBMR/UBIR for the requested baud.
	RefClock uint32

	events chan transport.Event
	stop   chan struct{}

	linePattern bool
	sep         byte
	line        []byte
}

// New returns a UART bound to base, the controller's register base
// address (e.g. 0x02020000 for UART1 on the i.MX6ULL family).
func New(base uintptr, refClock uint32) *UART {
	return &UART{
		base:     base,
		RefClock: refClock,
		events:   make(chan transport.Event, 16),
		stop:     make(chan struct{}),
		sep:      '\n',
	}
}

// Init configures the controller for 8N1 RS-232 operation at baud and
// starts the polling goroutine that feeds Events(). Adapted from
// UART.enable() in the teacher's i.MX6 driver.
func (u *UART) Init(baud uint32) {
	u.Lock()
	defer u.Unlock()

	regWrite(u.reg(regUCR1), 0)
	regWrite(u.reg(regUCR2), 0)

	for regRead(u.reg(regUCR2))&(1<<UCR2_SRST) == 0 {
		// wait for software reset deassertion
	}

	ucr3 := uint32(1<<UCR3_ADNIMP | 1<<UCR3_RXDMUXSEL)
	regWrite(u.reg(regUCR3), ucr3)

	ufcr := uint32(0b100<<UFCR_RFDIV | 2<<UFCR_TXTL | 1<<UFCR_RXTL)
	regWrite(u.reg(regUFCR), ufcr)

	regWrite(u.reg(regUBIR), 15)
	regWrite(u.reg(regUBMR), u.RefClock/(2*baud))

	ucr2 := uint32(1<<UCR2_WS | 1<<UCR2_TXEN | 1<<UCR2_RXEN | 1<<UCR2_IRTS | 1<<UCR2_SRST)
	regWrite(u.reg(regUCR2), ucr2)

	regWrite(u.reg(regUCR1), 1<<UCR1_UARTEN)

	go u.poll()
}

func (u *UART) reg(offset uintptr) uintptr {
	return u.base + offset
}

func (u *UART) txEmpty() bool {
	return regRead(u.reg(0x00b4))&(1<<6) != 0
}

func (u *UART) rxReady() bool {
	return regRead(u.reg(regUSR2))&(1<<USR2_RDR) != 0
}

// poll is the bare-metal substitute for an interrupt handler: tamago
// targets have no OS scheduler to block a goroutine on hardware
// readiness, so the inbound side is a tight poll loop, matching the
// spin-wait style of Tx/Rx in the teacher's driver.
func (u *UART) poll() {
	for {
		select {
		case <-u.stop:
			close(u.events)
			return
		default:
		}

		if !u.rxReady() {
			time.Sleep(100 * time.Microsecond)
			continue
		}

		urxd := regRead(u.reg(regURXD))

		if urxd&(0b11111<<URXD_PRERR) != 0 {
			u.events <- transport.Event{Kind: transport.ParityError}
			continue
		}

		c := byte(urxd & 0xff)
		u.deliver(c)
	}
}

func (u *UART) deliver(c byte) {
	u.Lock()
	linePattern := u.linePattern
	u.Unlock()

	u.events <- transport.Event{Kind: transport.DataAvailable, Data: []byte{c}}

	if !linePattern {
		return
	}

	u.Lock()
	u.line = append(u.line, c)
	pos := len(u.line) - 1
	isSep := c == u.sep
	u.Unlock()

	if isSep {
		u.events <- transport.Event{Kind: transport.PatternAt, Pos: pos}

		u.Lock()
		u.line = u.line[:0]
		u.Unlock()
	}
}

// Write transmits p a byte at a time, spin-waiting for the transmit
// FIFO as the teacher's Tx did.
func (u *UART) Write(p []byte) (int, error) {
	select {
	case <-u.stop:
		return 0, errors.New("uart: closed")
	default:
	}

	u.Lock()
	defer u.Unlock()

	for _, c := range p {
		regWrite(u.reg(regUTXD), uint32(c))

		for !u.txEmpty() {
		}
	}

	return len(p), nil
}

func (u *UART) Events() <-chan transport.Event {
	return u.events
}

func (u *UART) EnableLinePattern(sep byte) error {
	u.Lock()
	defer u.Unlock()
	u.linePattern = true
	u.sep = sep
	u.line = u.line[:0]
	return nil
}

func (u *UART) DisableLinePattern() error {
	u.Lock()
	defer u.Unlock()
	u.linePattern = false
	return nil
}

func (u *UART) EnableRawRx() error  { return nil }
func (u *UART) DisableRawRx() error { return nil }

// Flush has no FIFO-drain register on this controller exposed at this
// level; incoming bytes are simply left to be read and discarded by
// the caller's fault-reset path.
func (u *UART) Flush() error { return nil }

func (u *UART) Close() error {
	close(u.stop)
	return nil
}
