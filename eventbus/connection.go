// Package eventbus publishes operational telemetry — device discovery,
// session lifecycle, scan results, reconnect attempts — to NATS. Every
// domain package stays ignorant of this package: it is handed a plain
// Publish callback, never a direct import.
package eventbus

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
)

// Connection owns a single NATS client connection, reconnecting
// automatically per the nats.go client's own backoff.
type Connection struct {
	conn   *nats.Conn
	url    string
	logger *slog.Logger
	mu     sync.RWMutex
}

// Connect dials the given NATS URL. A blank url is a caller error: the
// decision to disable the event bus is made by never calling Connect.
func Connect(url string, logger *slog.Logger) (*Connection, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to event bus", "url", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from event bus", "error", err)
			}
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("event bus connection closed")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to event bus at %s: %w", url, err)
	}
	logger.Info("connected to event bus", "url", url)

	return &Connection{conn: conn, url: url, logger: logger}, nil
}

// Close closes the underlying connection. Safe to call on a nil receiver.
func (c *Connection) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.logger.Info("closed event bus connection")
	}
}

// IsConnected reports whether the connection is currently usable.
func (c *Connection) IsConnected() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

func (c *Connection) publish(subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("event bus connection is closed")
	}
	return conn.Publish(subject, data)
}
