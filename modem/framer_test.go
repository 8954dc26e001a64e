package modem

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// feedChunked drives a fresh framer/buffer pair with data split
// according to sizes, returning the dispatched frames in order.
func feedChunked(data []byte, sizes []int) []Frame {
	var got []Frame

	events := newEventBus()
	f := newFramer(events, func(fr Frame) { got = append(got, fr) })
	buf := newRingBuffer(4096)

	pos := 0
	for _, n := range sizes {
		if pos >= len(data) {
			break
		}

		end := pos + n
		if end > len(data) {
			end = len(data)
		}

		buf.append(data[pos:end])
		f.drain(buf)
		pos = end
	}

	if pos < len(data) {
		buf.append(data[pos:])
		f.drain(buf)
	}

	return got
}

func validFrames(n int) []byte {
	var out []byte

	for i := 0; i < n; i++ {
		f := Frame{DLCI: byte(i % 3), Command: true, Type: UIH, Info: []byte{byte(i), byte(i + 1)}}
		out = append(out, f.Encode()...)
	}

	return out
}

// P3: streaming equivalence.
func TestStreamingEquivalence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "n")
		data := validFrames(n)

		whole := feedChunked(data, []int{len(data)})

		var splits []int
		remaining := len(data)
		for remaining > 0 {
			chunk := rapid.IntRange(1, remaining).Draw(t, "chunk")
			splits = append(splits, chunk)
			remaining -= chunk
		}

		chunked := feedChunked(data, splits)

		require.Equal(t, len(whole), len(chunked))

		for i := range whole {
			require.Equal(t, whole[i].DLCI, chunked[i].DLCI)
			require.Equal(t, whole[i].Info, chunked[i].Info)
		}
	})
}

// P4: resync within k+1 cycles for k leading garbage bytes.
func TestResyncBound(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		k := rapid.IntRange(0, 20).Draw(t, "k")

		garbage := make([]byte, k)
		for i := range garbage {
			garbage[i] = 0x41 // never 0xF9
		}

		good := validFrames(1)
		data := append(garbage, good...)

		events := newEventBus()
		var got []Frame
		f := newFramer(events, func(fr Frame) { got = append(got, fr) })
		buf := newRingBuffer(4096)

		buf.append(data)

		// drain() discards one leading garbage byte per iteration of
		// its internal loop (Open Question 2's fix) and keeps going
		// until either a frame completes or data runs out; since all
		// k garbage bytes plus the full good frame are already
		// present, a single call is sufficient to realign and
		// dispatch.
		f.drain(buf)

		require.Len(t, got, 1)
		require.Equal(t, good[4:len(good)-2], got[0].Info)
	})
}
