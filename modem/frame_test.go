package modem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// verified wire examples, SPEC_FULL.md §9. The SABM control byte
// carries the P/F bit (0x2F|0x10 = 0x3F) since send_sabm always sets
// Poll; spec.md's own worked example omits it, and its FCS (0x59)
// does not belong to its header: under the CRC-8 that reproduces the
// CLD example below, header 07 2F 01 gives FCS 0xCB, while 0x59 is the
// FCS of header 0B 3F 01. This asserts the bytes the codec actually
// produces rather than the example's (see DESIGN.md).
func TestEncodeSABMWireFormat(t *testing.T) {
	f := Frame{DLCI: DLCIData, Command: true, Type: SABM, Poll: true}
	assert.Equal(t, []byte{0xF9, 0x07, 0x3F, 0x01, 0xDE, 0xF9}, f.Encode())
}

func TestEncodeCLDWireFormat(t *testing.T) {
	f := Frame{DLCI: DLCIControl, Command: true, Type: UIH, Info: []byte{cldCommandType, 0x01}}
	assert.Equal(t, []byte{0xF9, 0x03, 0xEF, 0x05, 0xC3, 0x01, 0xF2, 0xF9}, f.Encode())
}

// P1: round-trip.
func TestRoundTripUIH(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dlci := byte(rapid.IntRange(0, 63).Draw(t, "dlci"))
		info := rapid.SliceOfN(rapid.Byte(), 0, MaxInfoLen).Draw(t, "info")

		f := Frame{DLCI: dlci, Command: true, Type: UIH, Info: info}
		encoded := f.Encode()

		got, ok := parseOne(encoded)
		require.True(t, ok)
		assert.Equal(t, dlci, got.DLCI)
		assert.Equal(t, UIH, got.Type)
		assert.Equal(t, info, got.Info)
	})
}

// P2: FCS.
func TestFCSProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Byte().Draw(t, "a")
		c := rapid.Byte().Draw(t, "c")
		l := rapid.Byte().Draw(t, "l")

		f := 0xFF - crc8(a, c, l)
		assert.Equal(t, byte(fcsGood), crc8(a, c, l, f))
	})
}

// parseOne decodes a single complete frame from buf using the same
// validation the streaming framer applies, for tests that don't need
// the full intake/driver machinery.
func parseOne(buf []byte) (Frame, bool) {
	if len(buf) < 5 || buf[0] != SOF {
		return Frame{}, false
	}

	length := buf[3]
	if length&eaBit == 0 {
		return Frame{}, false
	}

	full := int(length>>1) + 6
	if len(buf) < full || buf[full-1] != SOF {
		return Frame{}, false
	}

	if crc8(buf[1], buf[2], buf[3], buf[full-2]) != fcsGood {
		return Frame{}, false
	}

	return decodeFrame(buf[:full]), true
}
