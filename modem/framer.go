package modem

// framer implements the streaming inbound parse described by the
// component design: repeatedly attempt to consume a frame from the
// head of the receive buffer, validating markers, length and FCS,
// and resynchronizing on any mismatch.
type framer struct {
	events   *eventBus
	dispatch func(Frame)
}

func newFramer(events *eventBus, dispatch func(Frame)) *framer {
	return &framer{events: events, dispatch: dispatch}
}

// drain consumes every complete, valid frame currently at the head of
// buf, posting an event and resynchronizing for every corrupt or
// misframed run of bytes it encounters.
func (f *framer) drain(buf *ringBuffer) {
	for {
		h := buf.head()

		if len(h) < 5 {
			return
		}

		if h[0] != SOF {
			// Open Question 2: discard exactly one byte and
			// retry, rather than returning without making
			// progress, to bound resync at k+1 cycles for k
			// leading garbage bytes (property P4).
			buf.dropOne()
			f.events.post(Event{Kind: EventResync, Message: "missing start marker"})
			continue
		}

		length := h[3]

		if length&eaBit == 0 {
			// Open Question 4: the multi-byte length form is
			// never accepted.
			if !f.resync(buf) {
				return
			}

			f.events.post(Event{Kind: EventProtocolError, Message: "multi-byte length form rejected"})
			continue
		}

		infoLen := int(length >> 1)
		full := infoLen + 6

		if len(h) < full {
			return
		}

		if h[full-1] != SOF {
			if !f.resync(buf) {
				return
			}

			f.events.post(Event{Kind: EventResync, Message: "missing end marker"})
			continue
		}

		address, control, fcs := h[1], h[2], h[full-2]

		if crc8(address, control, length, fcs) != fcsGood {
			if !f.resync(buf) {
				return
			}

			f.events.post(Event{Kind: EventProtocolError, Message: "fcs mismatch"})
			continue
		}

		frame := decodeFrame(h[:full])
		buf.consume(full)
		f.dispatch(frame)
	}
}

// resync searches past the leading SOF for the next start marker and
// discards everything up to and including it. It returns false when
// no marker is found yet, meaning the caller should wait for more
// bytes rather than discard data that may still resolve into a valid
// frame.
func (f *framer) resync(buf *ringBuffer) bool {
	h := buf.head()

	for i := 1; i < len(h); i++ {
		if h[i] == SOF {
			buf.consume(i + 1)
			return true
		}
	}

	return false
}
