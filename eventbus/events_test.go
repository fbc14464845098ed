package eventbus

import "testing"

func TestNewPublisherReturnsNilForNilConnection(t *testing.T) {
	p := NewPublisher(nil, "iot.events.gw-01", "gw-01", discardLogger())
	if p != nil {
		t.Error("NewPublisher(nil, ...) should return nil")
	}
}

func TestNilPublisherPublishDoesNotPanic(t *testing.T) {
	var p *Publisher
	p.Publish(Event{Type: EventServiceStart})
	p.PublishDeviceDiscovered("dev-1", "repl")
	p.PublishSessionOpened("dev-1", "127.0.0.1:1234")
	p.PublishSessionClosed("dev-1", "client closed")
	p.PublishSessionRejected("dev-1", "wrong password")
	p.PublishScanCompleted(3)
	p.PublishReconnect("dev-1", 1, "timeout")
	p.PublishError("dev-1", "boom")
}

func TestPublisherSkipsWhenDisconnected(t *testing.T) {
	conn := &Connection{conn: nil, url: "nats://localhost:4222", logger: discardLogger()}
	p := NewPublisher(conn, "iot.events.gw-01", "gw-01", discardLogger())
	if p == nil {
		t.Fatal("NewPublisher() should not return nil for a non-nil connection")
	}
	// Should not panic even though the connection is never actually dialed.
	p.PublishDeviceDiscovered("dev-1", "repl")
}

func TestBuildSubject(t *testing.T) {
	if got := BuildSubject("iot", "gw-01"); got != "iot.events.gw-01" {
		t.Errorf("BuildSubject() = %q, want %q", got, "iot.events.gw-01")
	}
}
