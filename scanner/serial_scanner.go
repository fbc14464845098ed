// Package scanner discovers devices and installs them into a registry:
// SerialScanner walks locally attached USB serial ports, NetScanner listens
// for UDP advertisements from remote gateways.
package scanner

import (
	"fmt"
	"log/slog"
	"time"

	"go.bug.st/serial/enumerator"

	"iot-gateway/channel"
	"iot-gateway/registry"
)

// Compatible USB vendor IDs, matching the boards this gateway is built for.
const (
	VIDAdafruit = 0x239A
	VIDParticle = 0x2B04
	VIDEsp32    = 0x10C4
	VIDStm32    = 0xF055
)

var compatibleVID = map[string]bool{
	fmt.Sprintf("%04X", VIDAdafruit): true,
	fmt.Sprintf("%04X", VIDParticle): true,
	fmt.Sprintf("%04X", VIDEsp32):    true,
	fmt.Sprintf("%04X", VIDStm32):    true,
}

// UIDProber learns a newly opened channel's UID before it is registered.
// The repl package supplies the real implementation; tests supply a stub.
type UIDProber func(ch channel.ByteChannel) (string, error)

// DeviceSink reports a newly registered device (uid, protocol - "serial"
// or "net"). Domain code never imports the event bus directly; it is
// handed this narrow callback instead, mirroring gateway.EventSink.
type DeviceSink func(uid, protocol string)

// ScanSink reports how many new devices a single Scan pass registered.
type ScanSink func(found int)

// SerialScanner enumerates USB serial ports on each Scan call and installs
// newly seen, vendor-allowlisted ports into the registry.
type SerialScanner struct {
	reg       *registry.Registry
	baudRate  int
	probeUID  UIDProber
	logger    *slog.Logger
	listPorts func() ([]*enumerator.PortDetails, error)
	openPort  func(port string, baudRate int) (channel.ByteChannel, error)

	// Discovered and ScanDone are optional observers. A nil field is
	// simply never called.
	Discovered DeviceSink
	ScanDone   ScanSink
}

// NewSerialScanner builds a SerialScanner. probeUID is called once per newly
// opened port to learn its UID; baudRate defaults to channel.DefaultBaudRate
// when zero.
func NewSerialScanner(reg *registry.Registry, baudRate int, probeUID UIDProber, logger *slog.Logger) *SerialScanner {
	if baudRate == 0 {
		baudRate = channel.DefaultBaudRate
	}
	return &SerialScanner{
		reg:       reg,
		baudRate:  baudRate,
		probeUID:  probeUID,
		logger:    logger,
		listPorts: enumerator.GetDetailedPortsList,
		openPort: func(port string, baudRate int) (channel.ByteChannel, error) {
			return channel.NewSerialChannel(port, baudRate)
		},
	}
}

// Scan enumerates ports once, opening and registering any compatible port
// not already known to the registry. Per-port errors are logged and do not
// abort the scan.
func (s *SerialScanner) Scan() {
	ports, err := s.listPorts()
	if err != nil {
		s.logger.Warn("serial port enumeration failed", "error", err)
		return
	}

	found := 0
	for _, p := range ports {
		if !p.IsUSB || !compatibleVID[p.VID] {
			continue
		}
		if s.reg.HasChannel(p.Name) {
			continue
		}
		if s.openAndRegister(p) {
			found++
		}
	}
	if s.ScanDone != nil {
		s.ScanDone(found)
	}
}

func (s *SerialScanner) openAndRegister(p *enumerator.PortDetails) bool {
	ch, err := s.openPort(p.Name, s.baudRate)
	if err != nil {
		s.logger.Warn("failed to open serial port", "port", p.Name, "error", err)
		return false
	}

	uid, err := s.probeUID(ch)
	if err != nil {
		s.logger.Warn("failed to probe device uid", "port", p.Name, "error", err)
		ch.Close()
		return false
	}

	description := fmt.Sprintf("%s (vid=%s pid=%s)", p.Name, p.VID, p.PID)
	dev := registry.NewDevice(uid, description, ch)
	s.reg.Add(dev)
	s.logger.Info("registered serial device", "uid", uid, "port", p.Name)
	if s.Discovered != nil {
		s.Discovered(uid, "serial")
	}
	return true
}

// Run invokes Scan on a fixed interval until stop is closed.
func (s *SerialScanner) Run(interval time.Duration, stop <-chan struct{}) {
	s.Scan()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Scan()
		}
	}
}
