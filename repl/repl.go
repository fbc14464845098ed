// Package repl implements the raw-REPL wire protocol used to execute code
// on an attached microcontroller and drive its file-copy and directory-sync
// sublayers. An Engine wraps a registry.Device and speaks raw REPL over its
// channel.ByteChannel.
package repl

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"iot-gateway/channel"
	"iot-gateway/ioterrors"
	"iot-gateway/registry"
)

var (
	mcuRawRepl    = []byte{0x01}
	mcuAbort      = []byte{0x03}
	mcuReset      = []byte{0x04}
	mcuEval       = []byte{'\r', 0x04}
	rawReplBanner = []byte("raw REPL; CTRL-B to exit\r\n>")
)

const (
	eot = 0x04
	ack = 0x06

	// bufferSize is the USB-CDC-safe chunk size used by the file-transfer
	// sublayer; baked into the MCU-side templates too since there is no
	// shared constant on the wire.
	bufferSize = 254

	rawReplTimeout = 5 * time.Second
)

// OpSink receives one notification per applied sync operation, where
// kind is "add", "update", or "delete". It is nil by default; set it on
// an Engine to observe RSync's effect on a running device without the
// repl package importing a metrics type directly.
type OpSink func(kind string)

// Engine drives the raw REPL protocol over a single Device's channel.
type Engine struct {
	device *registry.Device

	// Ops, if set, is called once for each sync operation RSync applies.
	Ops OpSink
}

// NewEngine returns an Engine bound to device. Callers are expected to hold
// device's session lock (Acquire/TryAcquire) for the engine's lifetime.
func NewEngine(device *registry.Device) *Engine {
	return &Engine{device: device}
}

func (e *Engine) ch() channel.ByteChannel {
	return e.device.Channel()
}

func wrapTransport(ch channel.ByteChannel, err error) error {
	if err == nil {
		return nil
	}
	return &ioterrors.TransportFailed{Channel: ch.ID(), Cause: err}
}

// execPart1 enters raw REPL mode and submits code for evaluation, stopping
// once the device has acknowledged with "OK".
func (e *Engine) execPart1(code []byte) error {
	ch := e.ch()
	if err := ch.Write(mcuAbort); err != nil {
		return wrapTransport(ch, err)
	}
	if err := ch.Write(mcuAbort); err != nil {
		return wrapTransport(ch, err)
	}
	if err := ch.Write(mcuRawRepl); err != nil {
		return wrapTransport(ch, err)
	}
	if _, err := channel.ReadUntil(ch, rawReplBanner, rawReplTimeout); err != nil {
		return err
	}
	if err := ch.Write(code); err != nil {
		return wrapTransport(ch, err)
	}
	if err := ch.Write(mcuEval); err != nil {
		return wrapTransport(ch, err)
	}
	okBytes, err := ch.Read(2)
	if err != nil {
		return wrapTransport(ch, err)
	}
	if string(okBytes) != "OK" {
		return &ioterrors.ReplProtocolError{Detail: fmt.Sprintf("device rejected eval: %q", code)}
	}
	return nil
}

// execPart2Stream reads the response in streaming mode: stdout bytes are
// forwarded to output.Ans as they arrive, up to the first EOT; anything
// between the first and second EOT is an error message forwarded to
// output.Err.
func (e *Engine) execPart2Stream(output Output) error {
	ch := e.ch()
	for {
		chunk, err := ch.ReadAll()
		if err != nil {
			return wrapTransport(ch, err)
		}
		parts := bytes.Split(chunk, []byte{eot})
		if len(parts[0]) > 0 {
			output.Ans(parts[0])
		}
		if len(parts) > 1 {
			if len(parts[1]) > 0 {
				output.Err(parts[1])
			}
			if len(parts) > 2 {
				return nil
			}
			break
		}
	}
	for {
		chunk, err := ch.ReadAll()
		if err != nil {
			return wrapTransport(ch, err)
		}
		parts := bytes.Split(chunk, []byte{eot})
		if len(parts[0]) > 0 {
			output.Err(parts[0])
		}
		if len(parts) > 1 {
			return nil
		}
	}
}

// execPart2Value accumulates the response until both EOT markers have been
// seen, then returns the stdout segment, surfacing a non-empty error
// segment as ReplExecutionError.
func (e *Engine) execPart2Value() ([]byte, error) {
	ch := e.ch()
	var result []byte
	for bytes.Count(result, []byte{eot}) <= 1 {
		chunk, err := ch.ReadAll()
		if err != nil {
			return nil, wrapTransport(ch, err)
		}
		result = append(result, chunk...)
	}
	parts := bytes.SplitN(result, []byte{eot}, 3)
	if len(parts) > 1 && len(parts[1]) > 0 {
		return nil, &ioterrors.ReplExecutionError{Traceback: string(parts[1])}
	}
	return parts[0], nil
}

func buildFuncCall(mcuSource, callExpr string) string {
	var b strings.Builder
	b.WriteString(mcuSource)
	b.WriteString("\nimport os\nos.chdir('/')\n")
	b.WriteString("output = ")
	b.WriteString(callExpr)
	b.WriteString("\nif output != None: print(output)\n")
	return b.String()
}

// evalFuncValue runs mcuSource followed by callExpr, optionally running
// xfer (a host-side data pump) between submission and response, and
// returns the accumulated stdout.
func (e *Engine) evalFuncValue(mcuSource, callExpr string, xfer func() error) ([]byte, error) {
	code := buildFuncCall(mcuSource, callExpr)
	if err := e.execPart1([]byte(code)); err != nil {
		return nil, err
	}
	if xfer != nil {
		if err := xfer(); err != nil {
			return nil, err
		}
	}
	out, err := e.execPart2Value()
	if err != nil {
		return nil, err
	}
	e.device.Seen()
	return bytes.TrimSpace(out), nil
}

// evalFuncStream is the streaming counterpart of evalFuncValue, used when
// the caller wants incremental output (e.g. cat, directory listing).
func (e *Engine) evalFuncStream(mcuSource, callExpr string, output Output) error {
	code := buildFuncCall(mcuSource, callExpr)
	if err := e.execPart1([]byte(code)); err != nil {
		return err
	}
	if err := e.execPart2Stream(output); err != nil {
		return err
	}
	e.device.Seen()
	return nil
}

// Eval submits arbitrary code for evaluation, streaming stdout/stderr to
// output as it is produced. A 0x04 byte printed by the evaluated code
// itself is taken as the end of the stdout region: the framing cannot
// tell it apart from the device's EOT terminator.
func (e *Engine) Eval(code string, output Output) error {
	if err := e.execPart1([]byte(code)); err != nil {
		return err
	}
	if err := e.execPart2Stream(output); err != nil {
		return err
	}
	e.device.Seen()
	return nil
}

// Softreset resets the MicroPython VM and waits for the raw REPL banner to
// confirm it has come back up.
func (e *Engine) Softreset() error {
	ch := e.ch()
	if err := ch.Write(mcuAbort); err != nil {
		return wrapTransport(ch, err)
	}
	if err := ch.Write(mcuReset); err != nil {
		return wrapTransport(ch, err)
	}
	if err := ch.Write([]byte("\n")); err != nil {
		return wrapTransport(ch, err)
	}
	if _, err := channel.ReadUntil(ch, rawReplBanner, rawReplTimeout); err != nil {
		return err
	}
	e.device.Seen()
	return nil
}

// UID asks the device for its stable hardware identifier.
func (e *Engine) UID() (string, error) {
	out, err := e.evalFuncValue(mcuUIDSource, "_uid()", nil)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// GetTime returns the device's current clock reading.
func (e *Engine) GetTime() (time.Time, error) {
	out, err := e.evalFuncValue(mcuGetTimeSource, "_get_time()", nil)
	if err != nil {
		return time.Time{}, err
	}
	fields, err := parsePyTuple(string(out))
	if err != nil {
		return time.Time{}, &ioterrors.ReplProtocolError{Detail: fmt.Sprintf("unparsable get_time() reply %q: %v", out, err)}
	}
	if len(fields) < 6 {
		return time.Time{}, &ioterrors.ReplProtocolError{Detail: fmt.Sprintf("get_time() reply too short: %q", out)}
	}
	return time.Date(fields[0], time.Month(fields[1]), fields[2], fields[3], fields[4], fields[5], 0, time.UTC), nil
}

// SyncTime sets the device's RTC from the host's current local time if the
// skew exceeds tolerance.
func (e *Engine) SyncTime(tolerance time.Duration) error {
	now := time.Now()
	callExpr := fmt.Sprintf(
		"_set_time((%d, %d, %d, %d, %d, %d, %d, %d, -1), %g)",
		now.Year(), int(now.Month()), now.Day(), now.Hour(), now.Minute(), now.Second(),
		int(now.Weekday()), now.YearDay(), tolerance.Seconds(),
	)
	_, err := e.evalFuncValue(mcuSetTimeSource, callExpr, nil)
	return err
}

// Characteristics describes a device's REPL capabilities.
type Characteristics struct {
	HasBuffer   bool
	HasBinascii bool
	TimeOffset  int64
}

// DeviceCharacteristics reports a device's buffered-stdio and binascii
// availability, plus its epoch offset relative to Unix time.
func (e *Engine) DeviceCharacteristics() (Characteristics, error) {
	out, err := e.evalFuncValue(mcuDeviceCharacteristicsSource, "_device_characteristics()", nil)
	if err != nil {
		return Characteristics{}, err
	}
	return parsePyCharacteristics(string(out))
}
