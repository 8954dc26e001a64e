// Package dce describes the protocol-driver capability set the core
// calls into for everything that is vendor- and dialect-specific: the
// AT command text, signal quality parsing, PDP context syntax. The
// core never inspects these details itself.
// https://github.com/usbarmory/cmuxmodem
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.
package dce

import "time"

// FlowKind mirrors the flow control discipline requested of the
// cellular module's own AT interface, independent of the physical
// transport's flow control pins.
type FlowKind int

const (
	FlowNone FlowKind = iota
	FlowSoftware
	FlowHardware
)

// SignalQuality is the result of an operator-specific signal query.
type SignalQuality struct {
	RSSI int
	BER  int
}

// Driver is the protocol driver contract consumed by the core's Mode
// & Command Controller. Concrete implementations encode one vendor's
// AT dialect; the core is written against this interface only.
type Driver interface {
	// HandleLine is offered every non-empty line that arrives in
	// command mode or on the command DLCI while no command is
	// outstanding, other than RING (posted as EventRing). Lines
	// received while a command is pending, informational ones
	// included, are consumed by the core and not offered. Most
	// implementations simply ignore unsolicited lines they do not
	// recognize.
	HandleLine(line string)

	// Sync issues whatever the dialect uses to establish basic
	// responsiveness (classically a bare "AT").
	Sync(timeout time.Duration) error

	EchoMode(on bool) error
	SetFlowControl(kind FlowKind) error
	GetSignalQuality() (SignalQuality, error)
	DefinePDPContext(cid int, pdpType, apn string) error
	SetWorkingMode(mode string) error

	HangUp() error
	PowerDown() error
	Deinit() error

	// SetupCMUX issues the dialect's CMUX-enable command (e.g.
	// AT+CMUX=0) ahead of the core's own DLCI bring-up sequence.
	SetupCMUX(timeout time.Duration) error
}
