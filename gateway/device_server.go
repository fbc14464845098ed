// Package gateway implements the server side of the remote-device
// protocol: DeviceServer accepts client sessions and pumps bytes between
// a socket and a locked Device, while Advertiser periodically broadcasts
// which devices are locally attached and fresh.
package gateway

import (
	"crypto/subtle"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"iot-gateway/channel"
	"iot-gateway/registry"
)

const (
	tcpKeepAliveIdle     = 1 * time.Second
	tcpKeepAliveInterval = 1 * time.Second
	tcpKeepAliveCount    = 3

	// pumpPollInterval paces the device->socket poll side of PUMP; the
	// socket->device side blocks on conn.Read instead.
	pumpPollInterval = 20 * time.Millisecond
	socketReadChunk  = 256
)

// EventSink reports a session lifecycle occurrence (kind is one of the
// event-bus event-type constants, e.g. "session_opened"). Domain code
// never imports the event bus package directly; it is handed this
// narrow callback instead.
type EventSink func(kind, uid, message string)

// ByteSink reports n bytes pumped in the given direction ("in" from
// socket to device, "out" from device to socket).
type ByteSink func(direction string, n int)

// SessionDelta reports a session starting (+1) or ending (-1).
type SessionDelta func(delta int)

// DeviceServer accepts TLS connections, authenticates them against the
// registry, and pumps bytes between the client socket and the locked
// Device for the lifetime of the session.
type DeviceServer struct {
	reg       *registry.Registry
	password  string
	tlsConfig *tls.Config
	logger    *slog.Logger

	// Events, Bytes, and Sessions are optional observers. A nil field is
	// simply never called.
	Events   EventSink
	Bytes    ByteSink
	Sessions SessionDelta
}

// NewDeviceServer builds a DeviceServer backed by a freshly generated
// self-signed certificate. password is the single shared secret every
// client handshake is checked against.
func NewDeviceServer(reg *registry.Registry, password string, logger *slog.Logger) (*DeviceServer, error) {
	cert, err := selfSignedServerCert()
	if err != nil {
		return nil, err
	}
	return &DeviceServer{
		reg:       reg,
		password:  password,
		tlsConfig: newServerTLSConfig(cert),
		logger:    logger,
	}, nil
}

// Serve accepts connections on port until stop is closed. It blocks only
// on Listener.Accept; each connection is handled on its own goroutine so
// N clients can reach N different devices in parallel.
func (s *DeviceServer) Serve(port int, stop <-chan struct{}) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", port, err)
	}

	closed := make(chan struct{})
	go func() {
		select {
		case <-stop:
			ln.Close()
		case <-closed:
		}
	}()
	defer close(closed)

	s.logger.Info("accepting connections", "port", port)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

func (s *DeviceServer) handleConn(conn net.Conn) {
	s.logger.Info("connection accepted", "remote", conn.RemoteAddr())
	defer conn.Close()

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
		tc.SetKeepAliveConfig(net.KeepAliveConfig{
			Enable:   true,
			Idle:     tcpKeepAliveIdle,
			Interval: tcpKeepAliveInterval,
			Count:    tcpKeepAliveCount,
		})
	}

	tlsConn := tls.Server(conn, s.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		s.logger.Warn("tls handshake failed", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	device, uid, reject := s.authenticate(tlsConn)
	if reject != "" {
		tlsConn.Write([]byte(reject))
		s.logger.Info("rejected connection", "remote", conn.RemoteAddr(), "reason", reject)
		if s.Events != nil {
			s.Events("session_rejected", uid, reject)
		}
		return
	}
	defer device.Release()

	if _, err := tlsConn.Write([]byte("ok")); err != nil {
		s.logger.Warn("failed to ack handshake", "uid", device.UID(), "error", err)
		return
	}

	s.logger.Info("session started", "uid", device.UID())
	if s.Events != nil {
		s.Events("session_opened", device.UID(), conn.RemoteAddr().String())
	}
	if s.Sessions != nil {
		s.Sessions(1)
		defer s.Sessions(-1)
	}
	s.pump(tlsConn, device)
	s.logger.Info("session ended", "uid", device.UID())
	if s.Events != nil {
		s.Events("session_closed", device.UID(), "")
	}
}

// authenticate reads the single {"uid","password"} JSON frame (bounded
// by the handshake frame limit) and, on success, returns a locked
// Device. On failure it returns the exact rejection string the protocol
// defines; the caller writes it verbatim and closes.
func (s *DeviceServer) authenticate(conn net.Conn) (device *registry.Device, uid, reject string) {
	buf := make([]byte, channel.HandshakeFrameLimit)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, "", "wrong password"
	}

	var hello struct {
		UID      string `json:"uid"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(buf[:n], &hello); err != nil {
		return nil, "", "wrong password"
	}
	uid = hello.UID

	if subtle.ConstantTimeCompare([]byte(hello.Password), []byte(s.password)) != 1 {
		return nil, uid, "wrong password"
	}

	dev := s.reg.GetByUID(hello.UID)
	if dev == nil {
		return nil, uid, "no such device"
	}
	if !dev.TryAcquire() {
		return nil, uid, "device busy"
	}
	return dev, uid, ""
}

// pump shuttles bytes between conn and device until either side closes
// or fails. conn->device reads block on conn.Read; device->conn polls
// ReadAll on a short interval, matching the non-blocking read_all the
// wire protocol expects.
func (s *DeviceServer) pump(conn net.Conn, device *registry.Device) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, socketReadChunk)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				if werr := device.Channel().Write(buf[:n]); werr != nil {
					s.logger.Warn("write to device failed", "uid", device.UID(), "error", werr)
					return
				}
				if s.Bytes != nil {
					s.Bytes("in", n)
				}
			}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pumpPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			msg, err := device.Channel().ReadAll()
			if err != nil {
				s.logger.Warn("read from device failed", "uid", device.UID(), "error", err)
				conn.Close()
				<-done
				return
			}
			if len(msg) == 0 {
				continue
			}
			if _, err := conn.Write(msg); err != nil {
				conn.Close()
				<-done
				return
			}
			if s.Bytes != nil {
				s.Bytes("out", len(msg))
			}
		}
	}
}
