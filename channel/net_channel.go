package channel

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"iot-gateway/ioterrors"
)

// HandshakeFrameLimit bounds the size of the auth reply read during the
// client handshake, mirroring the server's own 1024-byte frame limit.
const HandshakeFrameLimit = 1024

// NetChannel is a ByteChannel backed by a TLS/TCP socket to a remote
// DeviceServer. Its ChannelId is the (ip, port, uid) tuple. Connecting
// (including on reconnect) performs the client handshake described in
// the external interfaces: send {"uid","password"}, expect "ok".
type NetChannel struct {
	mu       sync.Mutex
	ip       string
	port     int
	uid      string
	password string
	conn     net.Conn
}

// NewNetChannel describes a remote device at ip:port without connecting
// yet. The TLS dial and the {"uid","password"} handshake happen lazily,
// on first Read/Write (and again on every reconnect) - matching the
// client session lifecycle where a NetDevice only opens its socket once
// a caller actually acquires it.
func NewNetChannel(ip string, port int, uid, password string) *NetChannel {
	return &NetChannel{ip: ip, port: port, uid: uid, password: password}
}

// ensureConnected dials and handshakes if no connection is established yet.
func (n *NetChannel) ensureConnected() error {
	if n.conn != nil {
		return nil
	}
	return n.connect()
}

func (n *NetChannel) connect() error {
	addr := fmt.Sprintf("%s:%d", n.ip, n.port)
	rawConn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if tc, ok := rawConn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	// Self-signed server certificates are expected; authentication is by
	// shared password, not PKI, per the transport contract.
	tlsConn := tls.Client(rawConn, &tls.Config{
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
	})
	if err := tlsConn.Handshake(); err != nil {
		rawConn.Close()
		return fmt.Errorf("tls handshake with %s: %w", addr, err)
	}

	hello, err := json.Marshal(struct {
		UID      string `json:"uid"`
		Password string `json:"password"`
	}{n.uid, n.password})
	if err != nil {
		tlsConn.Close()
		return err
	}
	if err := writeChunked(tlsConn.Write, hello); err != nil {
		tlsConn.Close()
		return fmt.Errorf("send handshake to %s: %w", addr, err)
	}

	reply := make([]byte, HandshakeFrameLimit)
	m, err := tlsConn.Read(reply)
	if err != nil {
		tlsConn.Close()
		return fmt.Errorf("read handshake reply from %s: %w", addr, err)
	}
	if string(reply[:m]) != "ok" {
		tlsConn.Close()
		return &ioterrors.AuthFailed{Reason: string(reply[:m])}
	}

	n.conn = tlsConn
	return nil
}

func (n *NetChannel) reconnect() error {
	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
	return n.connect()
}

// Read waits for exactly n bytes, bounded by ReadExactTimeout: a socket
// that stays silent past that deadline makes the pending conn.Read fail
// with a net.Error whose Timeout() is true, which Read reports as
// ErrTimeout rather than blocking forever. A zero-length read signals
// the peer closed the connection and is reported as ConnectionReset; it
// is not retried, since a closed session has nothing to reconnect to.
func (n *NetChannel) Read(size int) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.ensureConnected(); err != nil {
		return nil, &ioterrors.TransportFailed{Channel: n.ID(), Cause: err}
	}

	n.conn.SetReadDeadline(time.Now().Add(ReadExactTimeout))
	defer n.conn.SetReadDeadline(time.Time{})

	buf := make([]byte, size)
	got := 0
	for got < size {
		m, err := n.conn.Read(buf[got:])
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return buf[:got], ioterrors.ErrTimeout
			}
			if errors.Is(err, io.EOF) {
				return buf[:got], ioterrors.ErrConnectionReset
			}
			return buf[:got], &ioterrors.TransportFailed{Channel: n.ID(), Cause: err}
		}
		if m == 0 {
			return buf[:got], ioterrors.ErrConnectionReset
		}
		got += m
	}
	return buf, nil
}

// ReadAll returns one recv's worth of data (up to 1024 bytes). A
// zero-length recv is a connection reset, matching NetDevice.read_all.
func (n *NetChannel) ReadAll() ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.ensureConnected(); err != nil {
		return nil, &ioterrors.TransportFailed{Channel: n.ID(), Cause: err}
	}

	buf := make([]byte, 1024)
	n.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	m, err := n.conn.Read(buf)
	n.conn.SetReadDeadline(time.Time{})
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		if errors.Is(err, io.EOF) {
			return nil, ioterrors.ErrConnectionReset
		}
		return nil, &ioterrors.TransportFailed{Channel: n.ID(), Cause: err}
	}
	if m == 0 {
		return nil, ioterrors.ErrConnectionReset
	}
	return buf[:m], nil
}

// Write sends data, reconnecting (re-dial, re-handshake) once on a
// transient failure before surfacing TransportFailed.
func (n *NetChannel) Write(data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.ensureConnected(); err != nil {
		return &ioterrors.TransportFailed{Channel: n.ID(), Cause: err}
	}

	for attempt := 0; attempt < 2; attempt++ {
		err := writeChunked(n.conn.Write, data)
		if err == nil {
			return nil
		}
		if attempt == 0 {
			if rErr := n.reconnect(); rErr != nil {
				return &ioterrors.TransportFailed{Channel: n.ID(), Cause: rErr}
			}
			continue
		}
		return &ioterrors.TransportFailed{Channel: n.ID(), Cause: err}
	}
	return &ioterrors.TransportFailed{Channel: n.ID(), Cause: fmt.Errorf("write failed after reconnect")}
}

// Close releases the TLS socket.
func (n *NetChannel) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn = nil
	return err
}

// ID is the (ip, port, uid) tuple serialized as a ChannelId.
func (n *NetChannel) ID() string {
	return fmt.Sprintf("%s:%d/%s", n.ip, n.port, n.uid)
}
