package modem

import "github.com/usbarmory/cmuxmodem/bits"

// SOF is the CMUX start/end-of-frame marker.
const SOF = 0xF9

// FrameType identifies a CMUX control-byte frame type, independent of
// the Poll/Final bit.
type FrameType byte

const (
	SABM FrameType = 0x2F
	UA   FrameType = 0x63
	DM   FrameType = 0x0F
	DISC FrameType = 0x43
	UIH  FrameType = 0xEF
)

const (
	pfBit = 0x10 // Poll/Final
	eaBit = 0x01 // address-field extension
	crBit = 0x02 // command/response
)

// MaxInfoLen is the largest information payload this implementation
// produces or accepts; the extended (multi-byte) length form is
// never emitted or parsed, per Open Question 4.
const MaxInfoLen = 127

// Frame is a parsed CMUX PDU.
type Frame struct {
	DLCI    byte
	Command bool // C/R bit: true if this is a command frame
	Type    FrameType
	Poll    bool // Poll/Final bit
	Info    []byte
}

// crc8 computes the reflected CRC-8 (poly 0xE0, init 0xFF) used as
// the CMUX FCS, per 3GPP 27.010 Annex B.
func crc8(data ...byte) byte {
	const poly = 0xE0

	crc := byte(0xFF)

	for _, b := range data {
		crc ^= b

		for i := 0; i < 8; i++ {
			if crc&0x01 != 0 {
				crc = (crc >> 1) ^ poly
			} else {
				crc >>= 1
			}
		}
	}

	return crc
}

// fcsGood is the checksum value a correct receiver computes over
// header||fcs.
const fcsGood = 0xCF

// encodeHeader packs the address, control and length bytes for a
// frame carrying len(info) bytes.
func encodeHeader(dlci byte, command bool, typ FrameType, poll bool, infoLen int) (address, control, length byte) {
	address = eaBit
	bits.SetN(&address, 2, 0b111111, dlci)

	if command {
		bits.Set(&address, 1) // crBit
	}

	control = byte(typ)
	if poll {
		bits.Set(&control, 4)
	}

	length = eaBit
	bits.SetN(&length, 1, 0b1111111, byte(infoLen))

	return
}

// Encode renders f as the bytes of a complete CMUX frame, including
// both SOF markers and the trailing FCS byte.
func (f Frame) Encode() []byte {
	address, control, length := encodeHeader(f.DLCI, f.Command, f.Type, f.Poll, len(f.Info))
	fcs := 0xFF - crc8(address, control, length)

	out := make([]byte, 0, 6+len(f.Info))
	out = append(out, SOF, address, control, length)
	out = append(out, f.Info...)
	out = append(out, fcs, SOF)

	return out
}

// decodeFrame parses a single well-formed frame occupying buf[0:full]
// exactly (the caller has already validated SOF markers, length and
// FCS). It never fails.
func decodeFrame(buf []byte) Frame {
	address, control, length := buf[1], buf[2], buf[3]
	infoLen := int(bits.Get(length, 1, 0b1111111))

	info := make([]byte, infoLen)
	copy(info, buf[4:4+infoLen])

	return Frame{
		DLCI:    bits.Get(address, 2, 0b111111),
		Command: bits.Get(address, 1, 0b1) == 1,
		Type:    FrameType(control &^ pfBit),
		Poll:    control&pfBit != 0,
		Info:    info,
	}
}
