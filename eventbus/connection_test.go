package eventbus

import (
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConnectionIsConnectedWithNilConn(t *testing.T) {
	c := &Connection{conn: nil, url: "nats://localhost:4222", logger: discardLogger()}
	if c.IsConnected() {
		t.Error("IsConnected() should return false when conn is nil")
	}
}

func TestConnectionCloseIsSafeOnNilConn(t *testing.T) {
	c := &Connection{conn: nil, url: "nats://localhost:4222", logger: discardLogger()}
	c.Close()
	c.Close() // must tolerate repeated calls
}

func TestNilConnectionIsNeverConnected(t *testing.T) {
	var c *Connection
	if c.IsConnected() {
		t.Error("IsConnected() on a nil *Connection should return false")
	}
	c.Close() // must not panic
}

func TestConnectPropagatesDialError(t *testing.T) {
	if _, err := Connect("nats://127.0.0.1:1", discardLogger()); err == nil {
		t.Error("Connect() expected an error dialing an unreachable address, got nil")
	}
}
