// Package modem implements the core of a cellular-modem driver: a
// byte-oriented CMUX (3GPP 27.010) framing engine, a channel/mode
// state machine, and a single-slot command/response rendezvous.
// https://github.com/usbarmory/cmuxmodem
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.
package modem

import (
	"errors"
	"fmt"
)

// Kind classifies the outcome of a failed operation, independent of
// the underlying cause.
type Kind int

const (
	// InvalidArgument marks a request with a malformed or
	// out-of-range parameter (empty command, unknown mode, info
	// longer than 127 bytes).
	InvalidArgument Kind = iota
	// NotBound marks an operation requested before a protocol
	// driver was attached.
	NotBound
	// Busy marks an attempt to issue a command while one is
	// already outstanding.
	Busy
	// Timeout marks a completion slot that did not signal within
	// its deadline.
	Timeout
	// ProtocolError marks a received frame that failed FCS
	// validation or carried an out-of-range header field.
	ProtocolError
	// Resync marks a missing start or end marker; the offending
	// byte was discarded and parsing retried.
	Resync
	// UnknownInput marks a line or frame that arrived with no
	// handler installed to receive it.
	UnknownInput
	// TransportError marks a failed transport read or write.
	TransportError
	// StateError marks a requested mode transition that is
	// invalid from the current driver state.
	StateError
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid argument"
	case NotBound:
		return "not bound"
	case Busy:
		return "busy"
	case Timeout:
		return "timeout"
	case ProtocolError:
		return "protocol error"
	case Resync:
		return "resync"
	case UnknownInput:
		return "unknown input"
	case TransportError:
		return "transport error"
	case StateError:
		return "state error"
	default:
		return "unknown"
	}
}

// Error is returned by every exported operation that can fail; Kind
// allows callers to dispatch on the failure category without string
// matching.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("modem: %s: %s", e.Op, e.Kind)
	}

	return fmt.Sprintf("modem: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// sentinel errors for conditions that carry no extra context.
var (
	errBusy          = errors.New("command already outstanding")
	errAlreadyClosed = errors.New("driver already deinitialized")
	errShortWrite    = errors.New("short write")
)
