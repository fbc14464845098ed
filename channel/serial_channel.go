package channel

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"iot-gateway/ioterrors"
)

// DefaultBaudRate is the serial speed used when a port does not specify one.
const DefaultBaudRate = 115200

// DefaultReadTimeout matches the embedded targets this gateway talks to:
// long enough that a slow board still answers, short enough that
// ReadAll's poll returns promptly when nothing is pending.
const DefaultReadTimeout = 500 * time.Millisecond

// SerialChannel is a ByteChannel backed by a local serial port. Its
// ChannelId is the port path, and reconnecting re-opens that same path
// the way the original serial_connection re-opens on SerialException.
type SerialChannel struct {
	mu       sync.Mutex
	port     string
	baudRate int
	conn     serial.Port
}

// NewSerialChannel opens port at baudRate (DefaultBaudRate if zero) with
// no parity and the gateway's default read timeout.
func NewSerialChannel(port string, baudRate int) (*SerialChannel, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	sc := &SerialChannel{port: port, baudRate: baudRate}
	if err := sc.open(); err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *SerialChannel) open() error {
	mode := &serial.Mode{
		BaudRate: s.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	conn, err := serial.Open(s.port, mode)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.port, err)
	}
	if err := conn.SetReadTimeout(DefaultReadTimeout); err != nil {
		conn.Close()
		return fmt.Errorf("set read timeout on %s: %w", s.port, err)
	}
	s.conn = conn
	return nil
}

// reconnect re-opens the same port path, closing any stale handle first.
func (s *SerialChannel) reconnect() error {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	return s.open()
}

// Read waits for exactly n bytes, reconnecting the port once on a
// transient error before surfacing TransportFailed. The underlying port
// is configured with a read timeout (see open), so a silent device makes
// each conn.Read call return (0, nil) rather than block; Read treats
// that as "no data yet" and keeps polling until ReadExactTimeout
// elapses, then gives up and returns ErrTimeout with whatever partial
// bytes it collected - mirroring pyserial's read(), which never blocks
// past the port's configured timeout.
func (s *SerialChannel) Read(n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, n)
	got := 0
	deadline := time.Now().Add(ReadExactTimeout)
	for attempt := 0; attempt < 2; attempt++ {
		failed := false
		for got < n {
			if time.Now().After(deadline) {
				return buf[:got], ioterrors.ErrTimeout
			}
			chunk := make([]byte, n-got)
			m, err := s.conn.Read(chunk)
			if err != nil {
				failed = true
				break
			}
			if m == 0 {
				// port read timeout elapsed with nothing pending; keep
				// polling against our own deadline above.
				continue
			}
			got += copy(buf[got:], chunk[:m])
		}
		if got == n {
			return buf, nil
		}
		if !failed {
			continue
		}
		if attempt == 0 {
			if err := s.reconnect(); err != nil {
				return buf[:got], &ioterrors.TransportFailed{Channel: s.port, Cause: err}
			}
			continue
		}
	}
	return buf[:got], &ioterrors.TransportFailed{Channel: s.port, Cause: fmt.Errorf("read failed after reconnect")}
}

// ReadAll returns whatever is immediately available without blocking
// beyond the configured read timeout.
func (s *SerialChannel) ReadAll() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, 4096)
	for attempt := 0; attempt < 2; attempt++ {
		n, err := s.conn.Read(buf)
		if err == nil {
			return buf[:n], nil
		}
		if attempt == 0 {
			if rErr := s.reconnect(); rErr != nil {
				return nil, &ioterrors.TransportFailed{Channel: s.port, Cause: rErr}
			}
			continue
		}
		return nil, &ioterrors.TransportFailed{Channel: s.port, Cause: err}
	}
	return nil, &ioterrors.TransportFailed{Channel: s.port, Cause: fmt.Errorf("read_all failed after reconnect")}
}

// Write sends data in WriteChunkSize pieces with WritePacing between
// them, matching the USB-CDC pacing real boards need.
func (s *SerialChannel) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		err := writeChunked(s.conn.Write, data)
		if err == nil {
			return nil
		}
		if attempt == 0 {
			if rErr := s.reconnect(); rErr != nil {
				return &ioterrors.TransportFailed{Channel: s.port, Cause: rErr}
			}
			continue
		}
		return &ioterrors.TransportFailed{Channel: s.port, Cause: err}
	}
	return &ioterrors.TransportFailed{Channel: s.port, Cause: fmt.Errorf("write failed after reconnect")}
}

// Close releases the serial port.
func (s *SerialChannel) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// ID is the port path, used as the ChannelId for registry dedup.
func (s *SerialChannel) ID() string { return s.port }
