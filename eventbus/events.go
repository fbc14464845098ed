package eventbus

import (
	"encoding/json"
	"log/slog"
	"time"
)

// Event type discriminants, one per operational occurrence a caller may
// want to observe.
const (
	EventServiceStart     = "service_start"
	EventServiceStop      = "service_stop"
	EventDeviceDiscovered = "device_discovered"
	EventSessionOpened    = "session_opened"
	EventSessionClosed    = "session_closed"
	EventSessionRejected  = "session_rejected"
	EventScanCompleted    = "scan_completed"
	EventReconnect        = "reconnect"
	EventError            = "error"
)

// Event is the flat JSON payload published for every occurrence.
type Event struct {
	Timestamp  time.Time      `json:"ts"`
	Type       string         `json:"type"`
	InstanceID string         `json:"instance"`
	UID        string         `json:"uid,omitempty"`
	Message    string         `json:"msg,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// Publish is the callback signature domain packages are handed. They
// call it when something operationally interesting happens; they never
// import this package or know whether NATS is even connected.
type Publish func(event Event)

// Publisher publishes Events to a subject derived from a configured
// prefix. A nil *Publisher is valid and silently drops every event, so
// callers can wire Publisher.Publish in unconditionally.
type Publisher struct {
	conn       *Connection
	subject    string
	instanceID string
	logger     *slog.Logger
}

// NewPublisher builds a Publisher bound to a connection and subject.
// Returns nil if conn is nil, so the event bus is optional end to end.
func NewPublisher(conn *Connection, subject, instanceID string, logger *slog.Logger) *Publisher {
	if conn == nil {
		return nil
	}
	return &Publisher{conn: conn, subject: subject, instanceID: instanceID, logger: logger}
}

// Publish sends an event. Safe to call on a nil receiver.
func (p *Publisher) Publish(event Event) {
	if p == nil || !p.conn.IsConnected() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.InstanceID == "" {
		event.InstanceID = p.instanceID
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal event", "error", err, "type", event.Type)
		return
	}
	if err := p.conn.publish(p.subject, data); err != nil {
		p.logger.Warn("failed to publish event", "error", err, "type", event.Type)
		return
	}
	p.logger.Debug("published event", "type", event.Type, "uid", event.UID, "message", event.Message)
}

// PublishDeviceDiscovered publishes a device_discovered event.
func (p *Publisher) PublishDeviceDiscovered(uid, protocol string) {
	p.Publish(Event{
		Type:    EventDeviceDiscovered,
		UID:     uid,
		Message: "device discovered",
		Details: map[string]any{"protocol": protocol},
	})
}

// PublishSessionOpened publishes a session_opened event.
func (p *Publisher) PublishSessionOpened(uid, remoteAddr string) {
	p.Publish(Event{
		Type:    EventSessionOpened,
		UID:     uid,
		Message: "session opened",
		Details: map[string]any{"remote_addr": remoteAddr},
	})
}

// PublishSessionClosed publishes a session_closed event.
func (p *Publisher) PublishSessionClosed(uid, reason string) {
	p.Publish(Event{
		Type:    EventSessionClosed,
		UID:     uid,
		Message: reason,
	})
}

// PublishSessionRejected publishes a session_rejected event, e.g. for a
// wrong password, unknown uid, or a device already locked.
func (p *Publisher) PublishSessionRejected(uid, reason string) {
	p.Publish(Event{
		Type:    EventSessionRejected,
		UID:     uid,
		Message: reason,
	})
}

// PublishScanCompleted publishes a scan_completed event.
func (p *Publisher) PublishScanCompleted(found int) {
	p.Publish(Event{
		Type:    EventScanCompleted,
		Message: "scan completed",
		Details: map[string]any{"found": found},
	})
}

// PublishReconnect publishes a reconnect attempt event.
func (p *Publisher) PublishReconnect(uid string, attempt int, reason string) {
	p.Publish(Event{
		Type:    EventReconnect,
		UID:     uid,
		Message: reason,
		Details: map[string]any{"attempt": attempt},
	})
}

// PublishError publishes a generic error event.
func (p *Publisher) PublishError(uid, errMsg string) {
	p.Publish(Event{
		Type:    EventError,
		UID:     uid,
		Message: errMsg,
	})
}

// BuildSubject constructs the events subject from a prefix and an
// instance id, e.g. "iot" + "gw-01" -> "iot.events.gw-01".
func BuildSubject(subjectPrefix, instanceID string) string {
	return subjectPrefix + ".events." + instanceID
}
