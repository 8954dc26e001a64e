package modem

import "time"

// FlowControl selects the serial flow control discipline requested
// of the transport.
type FlowControl int

const (
	FlowNone FlowControl = iota
	FlowSoftware
	FlowHardware
)

// Config collects the tunables named by the driver's configuration
// surface. Field names follow Go convention; they correspond 1:1 to
// the snake_case configuration names of the originating spec.
type Config struct {
	LineBufferSize int
	BaudRate       int
	DataBits       int
	Parity         int
	StopBits       int
	FlowControl    FlowControl

	TxBufferSize      int
	RxBufferSize      int
	EventQueueSize    int
	PatternQueueSize  int
	EventTaskPriority int

	CMUXEnabled bool
	APN         string

	// CommandTimeout bounds send_command when no explicit timeout
	// is supplied by the caller.
	CommandTimeout time.Duration
	// OperatorQueryTimeout bounds long-running queries such as
	// operator selection.
	OperatorQueryTimeout time.Duration
	// ModeChangeTimeout is a mode-change timeout; the core does not
	// read it (StartCMUX and StartPPP take an explicit timeout).
	ModeChangeTimeout time.Duration
	// HangUpTimeout bounds the hang-up sequence.
	HangUpTimeout time.Duration
	// PowerOffTimeout bounds graceful power-down.
	PowerOffTimeout time.Duration

	// InterFrameGap, when non-zero, paces outbound UIH fragments
	// on DLCI 1 through a token-bucket limiter instead of sending
	// them back to back. Zero disables pacing; the command
	// timeout alone is relied upon. See DESIGN.md, Open Question
	// 3.
	InterFrameGap time.Duration

	// EscapeGuard is written, surrounded by GuardQuietTime, ahead
	// of a CLD frame when leaving DataMode. Empty disables the
	// escape sequence.
	EscapeGuard   string
	GuardQuietTime time.Duration
}

// DefaultConfig returns the configuration the driver uses unless the
// caller overrides individual fields.
func DefaultConfig() Config {
	return Config{
		LineBufferSize:    128,
		BaudRate:          115200,
		DataBits:          8,
		Parity:            0,
		StopBits:          1,
		FlowControl:       FlowNone,
		TxBufferSize:      512,
		RxBufferSize:      512,
		EventQueueSize:    16,
		PatternQueueSize:  16,
		EventTaskPriority: 5,
		CMUXEnabled:       true,

		CommandTimeout:       1500 * time.Millisecond,
		OperatorQueryTimeout: 75 * time.Second,
		ModeChangeTimeout:    5 * time.Second,
		HangUpTimeout:        90 * time.Second,
		PowerOffTimeout:      1 * time.Second,

		InterFrameGap: 0,

		EscapeGuard:    "+++",
		GuardQuietTime: 1 * time.Second,
	}
}
