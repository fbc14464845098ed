// Package ioterrors defines the error taxonomy shared by the transport,
// protocol and gateway layers, so callers can classify a failure with
// errors.Is/errors.As instead of matching on message strings.
package ioterrors

import "fmt"

// Sentinel errors for conditions that carry no extra context.
var (
	// ErrTimeout is returned when a read_until-style wait exceeds its deadline.
	ErrTimeout = fmt.Errorf("timeout")

	// ErrConnectionReset is returned when a peer closes a stream mid-read.
	ErrConnectionReset = fmt.Errorf("connection reset")

	// ErrDeviceUnknown is returned when a requested UID is not in the registry.
	ErrDeviceUnknown = fmt.Errorf("no such device")

	// ErrDeviceBusy is returned when try_acquire fails because another
	// session already holds the device lock.
	ErrDeviceBusy = fmt.Errorf("device busy")
)

// TransportFailed wraps the underlying cause of a second consecutive
// transport failure (the point at which the one-shot reconnect policy
// gives up).
type TransportFailed struct {
	Channel string
	Cause   error
}

func (e *TransportFailed) Error() string {
	return fmt.Sprintf("transport failed on %s: %v", e.Channel, e.Cause)
}

func (e *TransportFailed) Unwrap() error { return e.Cause }

// AuthFailed carries the server's rejection reason verbatim (one of
// "wrong password", "no such device", "device busy") so a client can
// surface it without string-matching the wire bytes again.
type AuthFailed struct {
	Reason string
}

func (e *AuthFailed) Error() string { return "auth failed: " + e.Reason }

// ReplProtocolError signals that the raw-REPL framing broke: the "OK"
// ack never arrived, or the banner never appeared.
type ReplProtocolError struct {
	Detail string
}

func (e *ReplProtocolError) Error() string { return "repl protocol error: " + e.Detail }

// ReplExecutionError carries the remote traceback text captured from the
// stderr region of a REPL response.
type ReplExecutionError struct {
	Traceback string
}

func (e *ReplExecutionError) Error() string { return "remote exception: " + e.Traceback }

// ConfigLoadError is surfaced only at process startup.
type ConfigLoadError struct {
	Path  string
	Cause error
}

func (e *ConfigLoadError) Error() string {
	return fmt.Sprintf("failed to load config %s: %v", e.Path, e.Cause)
}

func (e *ConfigLoadError) Unwrap() error { return e.Cause }
