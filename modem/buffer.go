package modem

// ringBuffer is the receive buffer described by the data model: a
// single contiguous bounded region with a live-length cursor.
// bytes[0:live] is the unconsumed tail of the wire stream. It is
// touched only by the inbound goroutine; no locking is required.
type ringBuffer struct {
	bytes []byte
	live  int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{bytes: make([]byte, capacity)}
}

// append copies as much of p as fits into the remaining capacity,
// returning the number of bytes actually appended. Bytes beyond
// capacity are silently dropped by the caller, which must emit an
// UnknownInput event when that happens (§4.A truncate-and-resync
// policy).
func (b *ringBuffer) append(p []byte) (n int) {
	room := len(b.bytes) - b.live
	n = len(p)

	if n > room {
		n = room
	}

	copy(b.bytes[b.live:], p[:n])
	b.live += n

	return n
}

// consume shifts the first n bytes out of the head of the buffer,
// moving the remaining live tail to offset 0.
func (b *ringBuffer) consume(n int) {
	if n <= 0 {
		return
	}

	if n >= b.live {
		b.live = 0
		return
	}

	copy(b.bytes, b.bytes[n:b.live])
	b.live -= n
}

// dropOne discards a single byte from the head, used when resync
// fails to find a start marker. See Open Question 2.
func (b *ringBuffer) dropOne() {
	b.consume(1)
}

func (b *ringBuffer) head() []byte {
	return b.bytes[:b.live]
}

func (b *ringBuffer) full() bool {
	return b.live == len(b.bytes)
}
