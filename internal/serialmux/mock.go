package serialmux

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPortClosed is returned by the in-memory ports after Close.
var ErrPortClosed = errors.New("serial port closed")

// MockSerialPort feeds generated lines to the mux and discards writes. It
// backs the development mode of the service when no bridge is attached.
type MockSerialPort struct {
	r       *io.PipeReader
	w       *io.PipeWriter
	done    chan struct{}
	once    sync.Once
	written atomic.Int64
	onWrite func(p []byte)
}

func (m *MockSerialPort) Read(p []byte) (int, error) { return m.r.Read(p) }

// Write counts p and passes it to the write hook, if any.
func (m *MockSerialPort) Write(p []byte) (int, error) {
	select {
	case <-m.done:
		return 0, ErrPortClosed
	default:
	}
	m.written.Add(int64(len(p)))
	if m.onWrite != nil {
		m.onWrite(p)
	}
	return len(p), nil
}

// Written reports the number of bytes written so far.
func (m *MockSerialPort) Written() int64 { return m.written.Load() }

func (m *MockSerialPort) Close() error {
	m.once.Do(func() {
		close(m.done)
		m.r.Close()
	})
	return nil
}

// NewMockSerialMux returns a mux whose port emits gen(n) every period, where
// n counts from zero. A nil line from gen is skipped. onWrite, if not nil,
// sees every command written to the port.
func NewMockSerialMux(period time.Duration, gen func(n int) []byte, onWrite func(p []byte)) *SerialMux[*MockSerialPort] {
	r, w := io.Pipe()
	port := &MockSerialPort{r: r, w: w, done: make(chan struct{}), onWrite: onWrite}

	go func() {
		defer w.Close()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for n := 0; ; n++ {
			select {
			case <-port.done:
				return
			case <-ticker.C:
			}
			line := gen(n)
			if line == nil {
				continue
			}
			if !bytes.HasSuffix(line, []byte("\n")) {
				line = append(line, '\n')
			}
			if _, err := w.Write(line); err != nil {
				return
			}
		}
	}()

	return NewSerialMux(port)
}

// TestableSerialPort is an in-memory SerialPorter for tests. Reads drain
// ReadBuffer; writes accumulate in WriteBuffer.
type TestableSerialPort struct {
	mu sync.Mutex

	ReadBuffer  *bytes.Buffer
	WriteBuffer *bytes.Buffer

	// ReadError and WriteError are returned once by the next call.
	ReadError  error
	WriteError error
	CloseError error

	// BlockReads makes Read wait for data instead of returning io.EOF.
	BlockReads bool

	Closed     bool
	WriteCalls int

	readCond *sync.Cond
}

// NewTestableSerialPort returns an empty port with blocking reads.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
		BlockReads:  true,
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	for t.BlockReads && !t.Closed && t.ReadBuffer.Len() == 0 && t.ReadError == nil {
		t.readCond.Wait()
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	if t.Closed {
		return 0, ErrPortClosed
	}
	return t.ReadBuffer.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++
	if t.Closed {
		return 0, ErrPortClosed
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	return t.WriteBuffer.Write(p)
}

// Close marks the port closed and wakes blocked readers.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// AddReadData queues data for subsequent reads.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// FailRead makes the next read return err, waking a blocked reader.
func (t *TestableSerialPort) FailRead(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadError = err
	t.readCond.Broadcast()
}

// GetWrittenData returns a copy of everything written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.WriteBuffer.Bytes()...)
}
