package gateway

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"iot-gateway/registry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoChannel is a thread-safe ByteChannel that queues whatever is
// written to it for the next ReadAll, so a test can drive both pump
// directions over a loopback connection.
type echoChannel struct {
	mu  sync.Mutex
	buf []byte
}

func (c *echoChannel) Read(n int) ([]byte, error) { return nil, fmt.Errorf("not used in tests") }

func (c *echoChannel) ReadAll() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.buf
	c.buf = nil
	return out, nil
}

func (c *echoChannel) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = append(c.buf, data...)
	return nil
}

func (c *echoChannel) Close() error { return nil }
func (c *echoChannel) ID() string   { return "echo" }

func startTestServer(t *testing.T, reg *registry.Registry, password string) (port int, stop chan struct{}) {
	t.Helper()
	srv, err := NewDeviceServer(reg, password, discardLogger())
	if err != nil {
		t.Fatalf("NewDeviceServer: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	p := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	stop = make(chan struct{})
	go srv.Serve(p, stop)
	time.Sleep(30 * time.Millisecond)
	return p, stop
}

func dialTLS(t *testing.T, port int) *tls.Conn {
	t.Helper()
	conn, err := tls.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port), &tls.Config{InsecureSkipVerify: true})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func sendHello(t *testing.T, conn *tls.Conn, uid, password string) string {
	t.Helper()
	hello, _ := json.Marshal(map[string]string{"uid": uid, "password": password})
	if _, err := conn.Write(hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	return string(buf[:n])
}

func TestDeviceServerAcceptsHandshakeAndPumps(t *testing.T) {
	reg := registry.New()
	ch := &echoChannel{}
	dev := registry.NewDevice("dev-1", "test", ch)
	reg.Add(dev)

	port, stop := startTestServer(t, reg, "secret")
	defer close(stop)

	conn := dialTLS(t, port)
	defer conn.Close()

	reply := sendHello(t, conn, "dev-1", "secret")
	if reply != "ok" {
		t.Fatalf("reply = %q, want ok", reply)
	}

	if dev.Locked() != true {
		t.Error("expected device to be locked during session")
	}

	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Errorf("echoed = %q, want ping", buf[:n])
	}
}

func TestDeviceServerRejectsWrongPassword(t *testing.T) {
	reg := registry.New()
	reg.Add(registry.NewDevice("dev-1", "test", &echoChannel{}))

	port, stop := startTestServer(t, reg, "secret")
	defer close(stop)

	conn := dialTLS(t, port)
	defer conn.Close()

	if reply := sendHello(t, conn, "dev-1", "wrong"); reply != "wrong password" {
		t.Errorf("reply = %q, want %q", reply, "wrong password")
	}
}

func TestDeviceServerRejectsUnknownUID(t *testing.T) {
	reg := registry.New()

	port, stop := startTestServer(t, reg, "secret")
	defer close(stop)

	conn := dialTLS(t, port)
	defer conn.Close()

	if reply := sendHello(t, conn, "ghost", "secret"); reply != "no such device" {
		t.Errorf("reply = %q, want %q", reply, "no such device")
	}
}

func TestDeviceServerRejectsBusyDevice(t *testing.T) {
	reg := registry.New()
	dev := registry.NewDevice("dev-1", "test", &echoChannel{})
	dev.Acquire()
	defer dev.Release()
	reg.Add(dev)

	port, stop := startTestServer(t, reg, "secret")
	defer close(stop)

	conn := dialTLS(t, port)
	defer conn.Close()

	if reply := sendHello(t, conn, "dev-1", "secret"); reply != "device busy" {
		t.Errorf("reply = %q, want %q", reply, "device busy")
	}
}
