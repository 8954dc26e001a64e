package modem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/usbarmory/cmuxmodem/dce"
	"github.com/usbarmory/cmuxmodem/transport"
)

// State is the overall driver state machine described by §4.D.
type State int

const (
	CommandDirect State = iota
	CmuxSetup
	CmuxRunning
	DataMode
	deinited
)

func (s State) String() string {
	switch s {
	case CommandDirect:
		return "command-direct"
	case CmuxSetup:
		return "cmux-setup"
	case CmuxRunning:
		return "cmux-running"
	case DataMode:
		return "data-mode"
	case deinited:
		return "deinited"
	default:
		return "unknown"
	}
}

// Logger is the minimal ambient logging surface the driver uses; a
// bare-metal build can leave it nil (the driver skips logging
// entirely, matching the teacher's boards which have no logging
// backend), while a host build can plug in the standard library's
// *log.Logger, which already satisfies this interface.
type Logger interface {
	Printf(format string, args ...any)
}

// CommandOptions customizes a single send_command call.
type CommandOptions struct {
	// DLCI selects the command channel explicitly; zero means the
	// contract default (DLCI 2 in CmuxRunning, the raw link in
	// CommandDirect). Used for the dial command, which must be
	// sent on DLCI 1.
	DLCI byte
	// Timeout overrides Config.CommandTimeout when non-zero.
	Timeout time.Duration
	// Prompt, when set, must be observed once before terminal
	// result codes are recognized (SPEC_FULL.md §7).
	Prompt string
}

// Driver is the upward API: the Mode & Command Controller plus
// everything it owns. All exported methods are safe for concurrent
// use, though the protocol forbids overlapping commands (Busy).
type Driver struct {
	mu sync.Mutex

	cfg  Config
	tp   transport.Transport
	proto dce.Driver
	log  Logger

	state    State
	channels channelTable
	slot     commandSlot
	events   *eventBus
	intake   *intake
	framer   *framer
	dispatch *dispatcher
}

// New creates a driver bound to tp for its full lifetime, with
// channels Closed and state CommandDirect, and starts the inbound
// goroutine. proto may be nil, in which case StartCMUX fails with
// NotBound and unsolicited lines surface as EventUnknownInput; a
// protocol driver cannot be attached after New.
func New(tp transport.Transport, proto dce.Driver, cfg Config, log Logger) *Driver {
	d := &Driver{
		cfg:   cfg,
		tp:    tp,
		proto: proto,
		log:   log,
		state: CommandDirect,
	}

	d.events = newEventBus()
	d.framer = newFramer(d.events, d.dispatchFrame)
	d.intake = newIntake(cfg.LineBufferSize, d.events, d.framer)
	d.intake.onLine = d.handleDirectLine

	write := func(p []byte) (int, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.tp.Write(p)
	}

	d.dispatch = newDispatcher(&d.slot, d.events, write)
	d.dispatch.onCLD = d.handleCLD
	d.dispatch.onRing = d.handleRing
	d.dispatch.onUnhandledLine = d.handleUnhandledLine
	d.dispatch.setPacing(cfg.InterFrameGap)

	d.intake.setFrameMode(false)
	_ = d.tp.EnableLinePattern('\n')

	go d.run()

	return d
}

// dispatchFrame is the framer's dispatch callback; it always runs
// with d.mu held, since it is only ever invoked from within run(),
// which holds the lock for the duration of an intake cycle.
func (d *Driver) dispatchFrame(f Frame) {
	d.dispatch.onFrame(f)
}

func (d *Driver) handleDirectLine(line string) {
	if isRing(line) {
		d.handleRing()
		return
	}

	if !d.slot.offerLine(line) {
		d.handleUnhandledLine(line)
	}
}

func (d *Driver) handleRing() {
	d.events.post(Event{Kind: EventRing})
}

// handleUnhandledLine offers line to the attached protocol driver
// (§6's handle_line contract) when one is bound, since a vendor
// dialect may recognize unsolicited output (URCs, dialect-specific
// indications) the core's own line classification does not. With no
// protocol driver attached there is nothing to offer it to, so it
// surfaces as EventUnknownInput instead.
func (d *Driver) handleUnhandledLine(line string) {
	if d.proto != nil {
		d.proto.HandleLine(line)
		return
	}

	d.events.post(Event{Kind: EventUnknownInput, Message: line})
}

func (d *Driver) handleCLD() {
	d.logf("received multiplexer close-down, reverting to command-direct")
	d.state = CommandDirect
	d.intake.setFrameMode(false)
	_ = d.tp.EnableLinePattern('\n')
}

// run is the inbound task: it owns the receive side of the transport
// and is the only goroutine that touches the receive buffer.
func (d *Driver) run() {
	for ev := range d.tp.Events() {
		switch ev.Kind {
		case transport.DataAvailable:
			d.mu.Lock()
			d.intake.handleBytes(ev.Data)
			d.mu.Unlock()
		case transport.PatternAt:
			d.mu.Lock()
			d.intake.handlePattern(ev.Pos)
			d.mu.Unlock()
		case transport.FifoOverflow, transport.BufferFull, transport.ParityError, transport.FrameError:
			d.mu.Lock()
			d.intake.handleFault()
			d.mu.Unlock()
			_ = d.tp.Flush()
		case transport.Break:
			d.events.post(Event{Kind: EventUnknownInput, Message: "break"})
		}
	}
}

func (d *Driver) logf(format string, args ...any) {
	if d.log != nil {
		d.log.Printf(format, args...)
	}
}

// SendCommand implements send_command: it installs a line handler,
// writes the command bytes under the driver mutex (serializing the
// write side), and blocks on the completion slot until timeout.
func (d *Driver) SendCommand(ctx context.Context, text string, opts CommandOptions) error {
	if text == "" {
		return newError("SendCommand", InvalidArgument, nil)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = d.cfg.CommandTimeout
	}

	d.mu.Lock()

	if d.state == deinited {
		d.mu.Unlock()
		return newError("SendCommand", StateError, errAlreadyClosed)
	}

	done, err := d.slot.armLine(opts.Prompt, func(line string) (bool, Outcome) {
		switch classifyLine(line) {
		case classSuccess:
			return true, Ok
		case classFailure:
			return true, Fail
		default:
			return false, Pending
		}
	})
	if err != nil {
		d.mu.Unlock()
		return newError("SendCommand", Busy, err)
	}

	var writeErr error

	switch d.state {
	case CommandDirect:
		_, writeErr = d.tp.Write([]byte(text))
	case CmuxRunning:
		dlci := opts.DLCI
		if dlci == 0 {
			dlci = DLCICommand
		}

		frame := Frame{DLCI: dlci, Command: true, Type: UIH, Info: []byte(text)}
		_, writeErr = d.tp.Write(frame.Encode())
	default:
		d.slot.clear()
		d.mu.Unlock()
		return newError("SendCommand", StateError, nil)
	}

	d.mu.Unlock()

	if writeErr != nil {
		d.mu.Lock()
		d.slot.clear()
		d.mu.Unlock()
		return newError("SendCommand", TransportError, writeErr)
	}

	return d.awaitSlot(ctx, done, timeout, "SendCommand")
}

// sendSABM implements send_sabm: emit SABM with P/F set, install a
// frame handler that accepts UA as success and DM as failure.
func (d *Driver) sendSABM(ctx context.Context, dlci byte, timeout time.Duration) error {
	d.mu.Lock()

	done, err := d.slot.armFrame(func(f Frame) (bool, Outcome) {
		if f.DLCI != dlci {
			return false, Pending
		}

		switch f.Type {
		case UA:
			return true, Ok
		case DM:
			return true, Fail
		default:
			return false, Pending
		}
	})
	if err != nil {
		d.mu.Unlock()
		return newError("sendSABM", Busy, err)
	}

	frame := Frame{DLCI: dlci, Command: true, Type: SABM, Poll: true}
	_, writeErr := d.tp.Write(frame.Encode())
	d.mu.Unlock()

	if writeErr != nil {
		d.mu.Lock()
		d.slot.clear()
		d.mu.Unlock()
		return newError("sendSABM", TransportError, writeErr)
	}

	return d.awaitSlot(ctx, done, timeout, "sendSABM")
}

func (d *Driver) awaitSlot(ctx context.Context, done <-chan Outcome, timeout time.Duration, op string) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case outcome := <-done:
		if outcome == Ok {
			return nil
		}

		return newError(op, ProtocolError, errors.New("terminal failure result"))
	case <-timer.C:
		d.mu.Lock()
		d.slot.clear()
		d.mu.Unlock()

		return newError(op, Timeout, nil)
	case <-ctx.Done():
		d.mu.Lock()
		d.slot.clear()
		d.mu.Unlock()

		return newError(op, Timeout, ctx.Err())
	}
}

// SendData implements send_data: valid only in DataMode, fragments
// bytes into UIH frames on DLCI 1 in order.
func (d *Driver) SendData(ctx context.Context, p []byte) (int, error) {
	d.mu.Lock()
	state := d.state
	d.mu.Unlock()

	if state != DataMode {
		return 0, newError("SendData", StateError, nil)
	}

	return d.dispatch.sendOnDLCI(ctx, DLCIData, p)
}

// StartCMUX implements the CmuxSetup → CmuxRunning bring-up: it asks
// the protocol driver to enable CMUX on the modem, switches the
// transport and intake to frame mode, then opens DLCI 0, 1 and 2 in
// order with SABM/UA handshakes.
func (d *Driver) StartCMUX(ctx context.Context, timeout time.Duration) error {
	d.mu.Lock()
	if d.state != CommandDirect {
		d.mu.Unlock()
		return newError("StartCMUX", StateError, nil)
	}
	d.state = CmuxSetup
	d.mu.Unlock()

	if d.proto == nil {
		d.abortCmuxSetup()
		return newError("StartCMUX", NotBound, nil)
	}

	if err := d.proto.SetupCMUX(timeout); err != nil {
		d.abortCmuxSetup()
		d.events.post(Event{Kind: EventCmuxFailed, Message: err.Error()})
		return newError("StartCMUX", StateError, err)
	}

	d.mu.Lock()
	_ = d.tp.DisableLinePattern()
	d.intake.setFrameMode(true)
	_ = d.tp.EnableRawRx()
	d.mu.Unlock()

	for _, dlci := range []byte{DLCIControl, DLCIData, DLCICommand} {
		if err := d.sendSABM(ctx, dlci, timeout); err != nil {
			d.abortCmuxSetup()
			d.events.post(Event{Kind: EventCmuxFailed, Message: fmt.Sprintf("dlci %d: %v", dlci, err)})
			return newError("StartCMUX", StateError, err)
		}

		d.mu.Lock()
		d.channels.set(dlci, Open)
		d.mu.Unlock()
	}

	d.mu.Lock()
	d.state = CmuxRunning
	d.mu.Unlock()

	return nil
}

func (d *Driver) abortCmuxSetup() {
	d.mu.Lock()
	d.state = CommandDirect
	d.intake.setFrameMode(false)
	_ = d.tp.EnableLinePattern('\n')
	d.mu.Unlock()
}

// StartPPP implements the CmuxRunning → DataMode transition: dial on
// DLCI 1 and await CONNECT.
func (d *Driver) StartPPP(ctx context.Context, dialCommand string, timeout time.Duration) error {
	d.mu.Lock()
	if d.state != CmuxRunning {
		d.mu.Unlock()
		return newError("StartPPP", StateError, nil)
	}
	d.mu.Unlock()

	if err := d.SendCommand(ctx, dialCommand, CommandOptions{DLCI: DLCIData, Timeout: timeout}); err != nil {
		return err
	}

	d.mu.Lock()
	d.state = DataMode
	d.channels.set(DLCIData, Open)
	d.mu.Unlock()

	return nil
}

// StopPPP implements the DataMode → CmuxRunning transition: it writes
// the escape guard sequence (if configured) surrounded by quiet time,
// then a CLD frame on DLCI 0. A CLD subsequently observed arriving
// from the modem (handleCLD) completes the drop to CommandDirect.
func (d *Driver) StopPPP(ctx context.Context) error {
	d.mu.Lock()
	if d.state != DataMode {
		d.mu.Unlock()
		return newError("StopPPP", StateError, nil)
	}
	guard := d.cfg.EscapeGuard
	quiet := d.cfg.GuardQuietTime
	d.mu.Unlock()

	if guard != "" {
		time.Sleep(quiet)

		d.mu.Lock()
		_, err := d.tp.Write([]byte(guard))
		d.mu.Unlock()

		if err != nil {
			return newError("StopPPP", TransportError, err)
		}

		time.Sleep(quiet)
	}

	d.mu.Lock()
	d.state = CmuxRunning
	cldFrame := Frame{DLCI: DLCIControl, Command: true, Type: UIH, Info: []byte{cldCommandType, 0x01}}
	_, err := d.tp.Write(cldFrame.Encode())
	d.mu.Unlock()

	if err != nil {
		return newError("StopPPP", TransportError, err)
	}

	return nil
}

// SetRxCallback installs the persistent data callback for DLCI 1 raw
// bytes in DataMode.
func (d *Driver) SetRxCallback(fn func([]byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dispatch.dataCB = fn
}

// RegisterEventHandler installs fn and returns a token RemoveEventHandler accepts.
func (d *Driver) RegisterEventHandler(fn EventHandler) int {
	return d.events.register(fn)
}

// RemoveEventHandler detaches a handler previously installed with RegisterEventHandler.
func (d *Driver) RemoveEventHandler(token int) {
	d.events.removeByToken(token)
}

// State reports the current driver state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Deinit tears the driver down: closes the transport, releasing all
// resources. It is terminal: SendCommand, SendData, StartCMUX,
// StartPPP and StopPPP fail with StateError afterwards, and
// SendCommand and a repeated Deinit wrap errAlreadyClosed.
func (d *Driver) Deinit() error {
	d.mu.Lock()
	if d.state == deinited {
		d.mu.Unlock()
		return newError("Deinit", StateError, errAlreadyClosed)
	}

	if d.proto != nil {
		_ = d.proto.Deinit()
	}

	d.state = deinited
	d.mu.Unlock()

	return d.tp.Close()
}
