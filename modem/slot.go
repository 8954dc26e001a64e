package modem

import "strings"

// commandSlot is the single-element completion primitive described
// by the data model: at most one command is outstanding at a time,
// and its outcome is delivered through a single-permit channel. All
// methods assume the caller already holds the driver's mutex; the
// slot itself performs no locking.
type commandSlot struct {
	armed bool
	done  chan Outcome

	// exactly one of these is set while armed.
	lineHandler  func(line string) (resolved bool, outcome Outcome)
	frameHandler func(f Frame) (resolved bool, outcome Outcome)

	// prompt, when non-empty, must be seen once before the line
	// handler starts classifying terminal result codes (the
	// send_wait prompt-matching behavior, see SPEC_FULL.md §7).
	prompt    string
	sawPrompt bool
}

// armLine installs fn as the handler for the next line delivered on a
// command-bearing DLCI and returns the channel the caller should
// block on. It fails with Busy if a handler is already installed.
func (s *commandSlot) armLine(prompt string, fn func(line string) (resolved bool, outcome Outcome)) (<-chan Outcome, error) {
	if s.armed {
		return nil, errBusy
	}

	s.armed = true
	s.lineHandler = fn
	s.frameHandler = nil
	s.prompt = prompt
	s.sawPrompt = prompt == ""
	s.done = make(chan Outcome, 1)

	return s.done, nil
}

// armFrame installs fn as the handler for the next frame delivered
// while no line handler is pending, used for SABM/UA handshakes.
func (s *commandSlot) armFrame(fn func(f Frame) (resolved bool, outcome Outcome)) (<-chan Outcome, error) {
	if s.armed {
		return nil, errBusy
	}

	s.armed = true
	s.frameHandler = fn
	s.lineHandler = nil
	s.done = make(chan Outcome, 1)

	return s.done, nil
}

// isArmed reports whether a handler is currently installed.
func (s *commandSlot) isArmed() bool {
	return s.armed
}

// offerLine gives line to the installed line handler, if any. It
// returns true if the line was consumed by the handler (whether or
// not it resolved the command), so the dispatcher knows not to treat
// it as unsolicited input.
func (s *commandSlot) offerLine(line string) bool {
	if !s.armed || s.lineHandler == nil {
		return false
	}

	if !s.sawPrompt {
		if classifyPrompt(line, s.prompt) {
			s.sawPrompt = true
		}

		return true
	}

	resolved, outcome := s.lineHandler(line)
	if resolved {
		s.complete(outcome)
	}

	return true
}

// offerFrame gives f to the installed frame handler, if any.
func (s *commandSlot) offerFrame(f Frame) bool {
	if !s.armed || s.frameHandler == nil {
		return false
	}

	resolved, outcome := s.frameHandler(f)
	if resolved {
		s.complete(outcome)
	}

	return true
}

// complete signals done with outcome and clears the slot.
func (s *commandSlot) complete(outcome Outcome) {
	if !s.armed {
		return
	}

	done := s.done
	s.clear()
	done <- outcome
}

// clear detaches the installed handler without signaling, used on
// timeout: the slot becomes available for a new command but the
// caller that timed out has already observed Timeout independently.
func (s *commandSlot) clear() {
	s.armed = false
	s.lineHandler = nil
	s.frameHandler = nil
	s.prompt = ""
	s.sawPrompt = false
}

func classifyPrompt(line, prompt string) bool {
	return prompt != "" && strings.Contains(line, prompt)
}
