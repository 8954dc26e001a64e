package modem

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/usbarmory/cmuxmodem/transport"
)

// fakeTransport is a minimal in-memory transport.Transport used to
// drive the driver's inbound goroutine and observe outbound bytes
// without any real I/O.
type fakeTransport struct {
	mu      sync.Mutex
	written [][]byte
	events  chan transport.Event
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan transport.Event, 64)}
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	f.written = append(f.written, append([]byte(nil), p...))
	f.mu.Unlock()
	return len(p), nil
}

func (f *fakeTransport) Events() <-chan transport.Event { return f.events }
func (f *fakeTransport) EnableLinePattern(byte) error   { return nil }
func (f *fakeTransport) DisableLinePattern() error      { return nil }
func (f *fakeTransport) EnableRawRx() error             { return nil }
func (f *fakeTransport) DisableRawRx() error            { return nil }
func (f *fakeTransport) Flush() error                   { return nil }

func (f *fakeTransport) Close() error {
	close(f.events)
	return nil
}

func (f *fakeTransport) feedFrame(fr Frame) {
	f.events <- transport.Event{Kind: transport.DataAvailable, Data: fr.Encode()}
}

// newCmuxDriver builds a Driver already parked in CmuxRunning with
// all three DLCIs open, skipping the bring-up handshake so scenario
// tests can focus on the dispatcher and controller in isolation.
func newCmuxDriver(t *testing.T) (*Driver, *fakeTransport) {
	t.Helper()

	tp := newFakeTransport()
	d := New(tp, nil, DefaultConfig(), nil)

	d.mu.Lock()
	d.state = CmuxRunning
	d.intake.setFrameMode(true)
	d.channels.set(DLCIControl, Open)
	d.channels.set(DLCIData, Open)
	d.channels.set(DLCICommand, Open)
	d.mu.Unlock()

	t.Cleanup(func() { _ = d.Deinit() })

	return d, tp
}

// Scenario 1: line handshake.
func TestScenarioLineHandshake(t *testing.T) {
	d, tp := newCmuxDriver(t)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.SendCommand(context.Background(), "AT\r", CommandOptions{Timeout: time.Second})
	}()

	time.Sleep(10 * time.Millisecond)
	tp.feedFrame(Frame{DLCI: DLCICommand, Command: false, Type: UIH, Info: []byte("\r\nOK\r\n")})

	require.NoError(t, <-errCh)
	require.False(t, d.slot.isArmed())
}

// Scenario 2: dial / CONNECT.
func TestScenarioDialConnect(t *testing.T) {
	d, tp := newCmuxDriver(t)

	var got []byte
	done := make(chan struct{})
	d.SetRxCallback(func(p []byte) {
		got = append(got, p...)
		close(done)
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.StartPPP(context.Background(), "ATD*99***1#\r", time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	tp.feedFrame(Frame{DLCI: DLCIData, Command: false, Type: UIH, Info: []byte("\r\nCONNECT\r\n")})

	require.NoError(t, <-errCh)
	require.Equal(t, DataMode, d.State())

	tp.feedFrame(Frame{DLCI: DLCIData, Command: false, Type: UIH, Info: []byte{0x01, 0x02, 0x03}})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("data callback not invoked")
	}
	require.Equal(t, []byte{0x01, 0x02, 0x03}, got)
}

// Scenario 3: fragmented data in.
func TestScenarioFragmentedDataIn(t *testing.T) {
	d, tp := newCmuxDriver(t)

	d.mu.Lock()
	d.state = DataMode
	d.mu.Unlock()

	var got []byte
	done := make(chan struct{})
	d.SetRxCallback(func(p []byte) {
		got = append(got, p...)
		close(done)
	})

	frame := Frame{DLCI: DLCIData, Command: false, Type: UIH, Info: []byte{0xAA, 0xBB, 0xCC, 0xDD}}
	encoded := frame.Encode()

	splits := [][]byte{encoded[:2], encoded[2:5], encoded[5:]}
	for _, chunk := range splits {
		tp.events <- transport.Event{Kind: transport.DataAvailable, Data: chunk}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("data callback not invoked")
	}
	require.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, got)
}

// eventRecorder collects posted events from whatever goroutine the
// event bus calls it on.
type eventRecorder struct {
	mu   sync.Mutex
	seen []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, e)
}

func (r *eventRecorder) has(kind EventKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.seen {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// Scenario 4: double frame in one intake.
func TestScenarioDoubleFrame(t *testing.T) {
	d, tp := newCmuxDriver(t)

	rec := &eventRecorder{}
	d.RegisterEventHandler(rec.record)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.SendCommand(context.Background(), "AT\r", CommandOptions{Timeout: time.Second})
	}()
	time.Sleep(10 * time.Millisecond)

	f1 := Frame{DLCI: DLCICommand, Command: false, Type: UIH, Info: []byte("\r\nOK\r\n")}
	f2 := Frame{DLCI: DLCICommand, Command: false, Type: UIH, Info: []byte("\r\n+CSQ: 19,0\r\n")}
	tp.events <- transport.Event{Kind: transport.DataAvailable, Data: append(f1.Encode(), f2.Encode()...)}

	require.NoError(t, <-errCh)

	require.Eventually(t, func() bool {
		return rec.has(EventUnknownInput)
	}, time.Second, 5*time.Millisecond)
}

// Scenario 5: FCS corruption.
func TestScenarioFCSCorruption(t *testing.T) {
	d, tp := newCmuxDriver(t)

	rec := &eventRecorder{}
	d.RegisterEventHandler(rec.record)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.SendCommand(context.Background(), "AT\r", CommandOptions{Timeout: time.Second})
	}()
	time.Sleep(10 * time.Millisecond)

	bad := Frame{DLCI: DLCICommand, Command: false, Type: UIH, Info: []byte("\r\n+CSQ: 19,0\r\n")}.Encode()
	bad[len(bad)-2] ^= 0x01 // flip a bit in the FCS byte

	good := Frame{DLCI: DLCICommand, Command: false, Type: UIH, Info: []byte("\r\nOK\r\n")}.Encode()

	tp.events <- transport.Event{Kind: transport.DataAvailable, Data: append(bad, good...)}

	require.NoError(t, <-errCh)
	require.True(t, rec.has(EventProtocolError))
}

// Scenario 6: timeout then recovery.
func TestScenarioTimeoutThenRecovery(t *testing.T) {
	d, tp := newCmuxDriver(t)

	err := d.SendCommand(context.Background(), "AT\r", CommandOptions{Timeout: 50 * time.Millisecond})
	require.Error(t, err)

	var modemErr *Error
	require.ErrorAs(t, err, &modemErr)
	require.Equal(t, Timeout, modemErr.Kind)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.SendCommand(context.Background(), "AT\r", CommandOptions{Timeout: time.Second})
	}()
	time.Sleep(10 * time.Millisecond)
	tp.feedFrame(Frame{DLCI: DLCICommand, Command: false, Type: UIH, Info: []byte("\r\nOK\r\n")})

	require.NoError(t, <-errCh)
}

// P5: at most one command outstanding.
func TestBusyDoesNotPerturbSlot(t *testing.T) {
	d, tp := newCmuxDriver(t)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.SendCommand(context.Background(), "AT\r", CommandOptions{Timeout: time.Second})
	}()
	time.Sleep(10 * time.Millisecond)

	err := d.SendCommand(context.Background(), "AT+CSQ\r", CommandOptions{Timeout: time.Second})
	require.Error(t, err)

	var modemErr *Error
	require.ErrorAs(t, err, &modemErr)
	require.Equal(t, Busy, modemErr.Kind)

	tp.feedFrame(Frame{DLCI: DLCICommand, Command: false, Type: UIH, Info: []byte("\r\nOK\r\n")})
	require.NoError(t, <-errCh)
}

// P6: ordering of fragmented send_data.
func TestSendDataOrdering(t *testing.T) {
	d, tp := newCmuxDriver(t)

	d.mu.Lock()
	d.state = DataMode
	d.mu.Unlock()

	payload := make([]byte, 3*MaxInfoLen+10)
	for i := range payload {
		payload[i] = byte(i)
	}

	n, err := d.SendData(context.Background(), payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	tp.mu.Lock()
	defer tp.mu.Unlock()

	var reassembled []byte
	for _, w := range tp.written {
		f, ok := parseOne(w)
		require.True(t, ok)
		reassembled = append(reassembled, f.Info...)
	}

	require.Equal(t, payload, reassembled)
}
