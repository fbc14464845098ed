// Package registry implements the thread-safe device catalog: Device
// (a ByteChannel plus a stable UID, a freshness timestamp, and an
// exclusive-use lock) and Registry (the uid/channel-id keyed catalog).
package registry

import (
	"sync"
	"time"

	"iot-gateway/channel"
)

// Device wraps a ByteChannel with the identity and freshness tracking
// the rest of the gateway needs. The exclusive lock guarantees at most
// one logical session ever performs I/O on the channel at a time.
type Device struct {
	uid         string
	description string
	ch          channel.ByteChannel

	lastSeenMu sync.Mutex
	lastSeen   time.Time

	sessionLock sync.Mutex
}

// NewDevice constructs a Device around an already-open channel. uid is
// immutable from this point forward, matching the invariant that the
// UID observed during handshake never changes afterwards.
func NewDevice(uid, description string, ch channel.ByteChannel) *Device {
	return &Device{
		uid:         uid,
		description: description,
		ch:          ch,
		lastSeen:    time.Now(),
	}
}

// UID is the device's stable, globally unique identifier.
func (d *Device) UID() string { return d.uid }

// Description is the immutable human-readable label for this device.
func (d *Device) Description() string { return d.description }

// ChannelID is the ByteChannel's ChannelId, used by the Registry to
// dedup rescans of the same physical channel.
func (d *Device) ChannelID() string { return d.ch.ID() }

// Channel returns the underlying transport. Callers must hold the
// session lock (via Acquire/TryAcquire) before performing I/O on it.
func (d *Device) Channel() channel.ByteChannel { return d.ch }

// Seen marks the device as observed right now, advancing last_seen.
// last_seen only ever moves forward: if the clock ever returned an
// earlier instant than any call so far, the stale value is still kept.
func (d *Device) Seen() {
	d.lastSeenMu.Lock()
	defer d.lastSeenMu.Unlock()
	now := time.Now()
	if now.After(d.lastSeen) {
		d.lastSeen = now
	}
}

// LastSeen returns the last recorded freshness timestamp.
func (d *Device) LastSeen() time.Time {
	d.lastSeenMu.Lock()
	defer d.lastSeenMu.Unlock()
	return d.lastSeen
}

// Age is the time elapsed since the device was last seen. Always
// non-negative because last_seen is monotonically non-decreasing.
func (d *Device) Age() time.Duration {
	age := time.Since(d.LastSeen())
	if age < 0 {
		return 0
	}
	return age
}

// Acquire blocks until the device's exclusive session lock is held.
// Callers must call Release on every exit path, including panics; use
// a deferred Release immediately after a successful Acquire.
func (d *Device) Acquire() {
	d.sessionLock.Lock()
}

// TryAcquire is the non-blocking form used by the server to answer
// "busy" without queueing. Returns true if the lock was obtained.
func (d *Device) TryAcquire() bool {
	return d.sessionLock.TryLock()
}

// Release releases the session lock acquired via Acquire/TryAcquire.
func (d *Device) Release() {
	d.sessionLock.Unlock()
}

// Locked reports whether a session currently holds the device.
// Best-effort and racy by nature (the state can change the instant
// after this returns); intended for status reporting, not coordination.
func (d *Device) Locked() bool {
	if d.sessionLock.TryLock() {
		d.sessionLock.Unlock()
		return false
	}
	return true
}
