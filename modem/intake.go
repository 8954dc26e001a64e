package modem

// intake implements §4.A: it accumulates transport bytes into the
// receive buffer, decides whether the buffer currently holds
// line-oriented or frame-oriented data, and triggers the matching
// parser. All methods are called only from the inbound goroutine.
type intake struct {
	buf       *ringBuffer
	framer    *framer
	events    *eventBus
	frameMode bool

	// onLine delivers a complete, non-empty line read in line
	// mode (CommandDirect, before CMUX bring-up).
	onLine func(string)
}

func newIntake(capacity int, events *eventBus, framer *framer) *intake {
	return &intake{
		buf:    newRingBuffer(capacity),
		framer: framer,
		events: events,
	}
}

// setFrameMode switches between line-oriented and frame-oriented
// parsing, called by the controller on CMUX bring-up and teardown.
func (ix *intake) setFrameMode(on bool) {
	ix.frameMode = on
	ix.buf.reset()
}

// handleBytes is the Go-idiomatic rendering of on_bytes_available:
// rather than a separate "bytes are ready, go read them" notification
// followed by a bounded read call, the transport hands the bytes
// directly to the intake. The room available is computed from the
// buffer's *current* live length at append time, which is the fix
// for Open Question 1 (the original computed its bound before
// querying how many bytes were actually pending, making the clamp a
// no-op).
func (ix *intake) handleBytes(p []byte) {
	n := ix.buf.append(p)

	if n < len(p) {
		ix.events.post(Event{Kind: EventUnknownInput, Message: "receive buffer overflow, truncated"})
	}

	if ix.frameMode {
		ix.framer.drain(ix.buf)

		// A buffer still full after draining holds bytes the framer
		// can make no progress on (a frame longer than the capacity);
		// drop them so the stream resynchronizes at the next start
		// marker.
		if ix.buf.full() {
			ix.buf.reset()
		}
	}
}

// handlePattern is on_line_pattern: the transport has located a
// newline at offset pos within the bytes it has delivered so far. It
// is only meaningful in line mode.
func (ix *intake) handlePattern(pos int) {
	if ix.frameMode {
		return
	}

	h := ix.buf.head()
	if pos < 0 || pos+1 > len(h) {
		return
	}

	line := trimLine(h[:pos+1])
	ix.buf.consume(pos + 1)

	if len(line) > 0 && ix.onLine != nil {
		ix.onLine(line)
	}
}

// handleFault implements the FIFO overflow / ring-buffer-full /
// parity / frame error branch: flush is the caller's responsibility
// (it owns the transport handle); intake only resets its own state,
// leaving the driver state machine untouched.
func (ix *intake) handleFault() {
	ix.buf.reset()
}

func (b *ringBuffer) reset() {
	b.live = 0
}
