package modem

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// cldCommandType is the GSM 07.10 multiplexer-control command byte
// for "Multiplexer close down" (C/R and EA bits set), carried as the
// first info byte of a UIH frame on DLCI 0.
const cldCommandType = 0xC3

// dispatcher implements §4.C: it routes inbound frames to the
// installed handlers and fragments outbound payload into UIH frames.
type dispatcher struct {
	slot            *commandSlot
	events          *eventBus
	dataCB          func([]byte)
	onCLD           func()
	onRing          func()
	onUnhandledLine func(string)
	write           func([]byte) (int, error)
	limiter         *rate.Limiter
}

func newDispatcher(slot *commandSlot, events *eventBus, write func([]byte) (int, error)) *dispatcher {
	return &dispatcher{slot: slot, events: events, write: write}
}

// setPacing installs a token-bucket limiter pacing one permit per
// gap; a zero gap disables pacing entirely (the default).
func (d *dispatcher) setPacing(gap time.Duration) {
	if gap <= 0 {
		d.limiter = nil
		return
	}

	d.limiter = rate.NewLimiter(rate.Every(gap), 1)
}

// onFrame routes a single inbound frame per the §4.C table. It
// assumes the caller (the driver, under its mutex) has already
// decided that no more specific owner claims the frame.
func (d *dispatcher) onFrame(f Frame) {
	if d.slot.isArmed() {
		if d.slot.offerFrame(f) {
			return
		}
	}

	switch f.DLCI {
	case DLCIData:
		d.onDataFrame(f)
	case DLCICommand:
		d.onCommandFrame(f)
	case DLCIControl:
		d.onControlFrame(f)
	default:
		d.events.post(Event{Kind: EventUnknownInput, Message: "frame on unrouted DLCI"})
	}
}

func (d *dispatcher) onDataFrame(f Frame) {
	if f.Type != UIH {
		return
	}

	if d.slot.isArmed() && len(f.Info) > 2 {
		line := trimLine(f.Info)

		if isRing(line) {
			if d.onRing != nil {
				d.onRing()
			}
			return
		}

		if d.slot.offerLine(line) {
			return
		}
	}

	if d.dataCB != nil && len(f.Info) > 0 {
		d.dataCB(f.Info)
		return
	}

	d.events.post(Event{Kind: EventUnknownInput, Message: "data frame with no consumer"})
}

func (d *dispatcher) onCommandFrame(f Frame) {
	if f.Type != UIH {
		return
	}

	line := trimLine(f.Info)

	if isRing(line) {
		if d.onRing != nil {
			d.onRing()
		}
		return
	}

	if len(line) == 0 {
		return
	}

	if !d.slot.offerLine(line) {
		d.handleUnhandledLine(line)
	}
}

// handleUnhandledLine offers line to the attached protocol driver, per
// §6's handle_line contract, falling back to EventUnknownInput when
// none is attached.
func (d *dispatcher) handleUnhandledLine(line string) {
	if d.onUnhandledLine != nil {
		d.onUnhandledLine(line)
		return
	}

	d.events.post(Event{Kind: EventUnknownInput, Message: line})
}

func (d *dispatcher) onControlFrame(f Frame) {
	if f.Type == UIH && len(f.Info) >= 1 && f.Info[0] == cldCommandType {
		if d.onCLD != nil {
			d.onCLD()
		}
		return
	}

	// MSC, PN and other multiplexer-control commands are outside
	// this core's scope; they are neither answered nor surfaced.
}

// trimLine strips CR/LF from info and returns it as a string,
// matching §4.A's line-mode termination rule.
func trimLine(info []byte) string {
	return strings.Trim(string(info), "\r\n")
}

// sendOnDLCI fragments p into UIH frames of at most MaxInfoLen bytes
// each, writing them to the transport in order. It returns the number
// of bytes actually written; a short count means the transport
// rejected a write partway through.
func (d *dispatcher) sendOnDLCI(ctx context.Context, dlci byte, p []byte) (int, error) {
	written := 0

	for len(p) > 0 {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return written, newError("send", Timeout, err)
			}
		}

		chunkLen := len(p)
		if chunkLen > MaxInfoLen {
			chunkLen = MaxInfoLen
		}

		frame := Frame{DLCI: dlci, Command: true, Type: UIH, Info: p[:chunkLen]}

		n, err := d.write(frame.Encode())
		if err != nil {
			return written, newError("send", TransportError, err)
		}
		if n < len(frame.Info)+6 {
			return written, newError("send", TransportError, errShortWrite)
		}

		written += chunkLen
		p = p[chunkLen:]
	}

	return written, nil
}
