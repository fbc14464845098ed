// Package channel implements the abstract byte-transport layer: a small
// capability set of read/write operations shared by every concrete
// transport (serial port, TLS socket), plus the tail-compare read_until
// helper and the paced chunked-write helper both transports rely on.
package channel

import (
	"errors"
	"time"

	"iot-gateway/ioterrors"
)

// WriteChunkSize is the maximum number of bytes written per syscall.
// Small embedded USB-CDC stacks drop or corrupt larger single writes.
const WriteChunkSize = 256

// WritePacing is the delay between successive chunks of a Write call.
const WritePacing = 10 * time.Millisecond

// ReadExactTimeout bounds how long a single Read(n) call will wait for a
// silent device before giving up and returning ErrTimeout, matching
// pyserial's read(), which returns whatever it has (possibly nothing)
// once the port's configured timeout elapses rather than blocking
// forever for the requested byte count. A var, not a const, so tests can
// shorten it rather than waiting out the real default.
var ReadExactTimeout = 5 * time.Second

// ByteChannel is the capability set every transport variant implements:
// read exactly n bytes, read whatever is immediately available, write,
// and close. read_until is deliberately not part of the interface: it is
// built once, generically, on top of Read (see ReadUntil below) so every
// variant gets the same tail-compare semantics for free.
type ByteChannel interface {
	// Read blocks until exactly n bytes have been received or the
	// channel fails.
	Read(n int) ([]byte, error)

	// ReadAll returns whatever is immediately available, possibly
	// nothing, without blocking beyond a short poll.
	ReadAll() ([]byte, error)

	// Write sends data, chunking internally per WriteChunkSize/WritePacing.
	Write(data []byte) error

	// Close releases the underlying transport.
	Close() error

	// ID is the ChannelId: an opaque equality key distinguishing this
	// physical channel from others (port path, or remote address tuple).
	ID() string
}

// ReadUntil accumulates bytes one at a time from ch until the
// accumulated buffer's tail equals pattern, or timeout elapses.
//
// The comparison is a tail-compare against only the last len(pattern)
// bytes, not a scan of the whole buffer, so a pattern that straddles two
// reads is still detected.
func ReadUntil(ch ByteChannel, pattern []byte, timeout time.Duration) ([]byte, error) {
	result := make([]byte, 0, len(pattern)*2)
	deadline := time.Now().Add(timeout)
	for !hasSuffix(result, pattern) {
		if time.Now().After(deadline) {
			return result, ioterrors.ErrTimeout
		}
		b, err := ch.Read(1)
		if err != nil {
			// A transport-level read timeout just means the device stayed
			// quiet for one Read call; keep waiting until our own
			// deadline above is what actually ends the loop. Any other
			// error (reset, transport failure) is fatal immediately.
			if errors.Is(err, ioterrors.ErrTimeout) {
				continue
			}
			return result, err
		}
		result = append(result, b...)
	}
	return result, nil
}

func hasSuffix(buf, pattern []byte) bool {
	if len(pattern) == 0 {
		return true
	}
	if len(buf) < len(pattern) {
		return false
	}
	tail := buf[len(buf)-len(pattern):]
	for i := range pattern {
		if tail[i] != pattern[i] {
			return false
		}
	}
	return true
}

// writeChunked writes data through the supplied writer function in
// WriteChunkSize pieces with WritePacing between them, matching the
// embedded-stack friendly pacing every transport needs.
func writeChunked(write func([]byte) (int, error), data []byte) error {
	for i := 0; i < len(data); i += WriteChunkSize {
		end := i + WriteChunkSize
		if end > len(data) {
			end = len(data)
		}
		if _, err := write(data[i:end]); err != nil {
			return err
		}
		if end < len(data) {
			time.Sleep(WritePacing)
		}
	}
	return nil
}
