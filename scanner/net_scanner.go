package scanner

import (
	"encoding/json"
	"log/slog"
	"net"
	"time"

	"iot-gateway/channel"
	"iot-gateway/registry"
)

// advertisement mirrors the wire object an Advertiser broadcasts.
type advertisement struct {
	UID      string `json:"uid"`
	IPAddr   string `json:"ip_addr"`
	IPPort   int    `json:"ip_port"`
	Protocol string `json:"protocol"`
}

// PasswordLookup resolves the shared password to use when a NetScanner
// later connects to a newly discovered device. Returning "" is valid for
// devices that require no password.
type PasswordLookup func(uid string) string

// NetScanner listens for UDP device advertisements and installs newly seen
// remote devices into the registry. The registered Device's channel is a
// lazily-connecting channel.NetChannel; the scanner never dials it itself.
type NetScanner struct {
	reg            *registry.Registry
	advertisePort  int
	scanWindow     time.Duration
	passwordLookup PasswordLookup
	logger         *slog.Logger

	// Discovered and ScanDone are optional observers. A nil field is
	// simply never called.
	Discovered DeviceSink
	ScanDone   ScanSink
}

// NewNetScanner builds a NetScanner bound to advertisePort. scanWindow
// defaults to 4s when zero, matching the advertisement cadence this
// listens against.
func NewNetScanner(reg *registry.Registry, advertisePort int, scanWindow time.Duration, passwordLookup PasswordLookup, logger *slog.Logger) *NetScanner {
	if scanWindow == 0 {
		scanWindow = 4 * time.Second
	}
	return &NetScanner{
		reg:            reg,
		advertisePort:  advertisePort,
		scanWindow:     scanWindow,
		passwordLookup: passwordLookup,
		logger:         logger,
	}
}

// Scan opens a UDP listener, collects advertisements for one scan window,
// and registers every new (ip, port, uid) triple it sees. Malformed
// datagrams and the eventual read timeout are logged, never fatal.
func (s *NetScanner) Scan() {
	addr := &net.UDPAddr{Port: s.advertisePort}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		s.logger.Warn("failed to bind advertisement listener", "port", s.advertisePort, "error", err)
		return
	}
	defer conn.Close()

	deadline := time.Now().Add(s.scanWindow)
	buf := make([]byte, 2048)

	found := 0
	defer func() {
		if s.ScanDone != nil {
			s.ScanDone(found)
		}
	}()

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		conn.SetReadDeadline(time.Now().Add(remaining))

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return
			}
			s.logger.Warn("advertisement read failed", "error", err)
			return
		}

		var adv advertisement
		if err := json.Unmarshal(buf[:n], &adv); err != nil {
			s.logger.Debug("discarding malformed advertisement", "error", err)
			continue
		}
		if adv.Protocol != "repl" {
			continue
		}
		if s.register(adv) {
			found++
		}
	}
}

func (s *NetScanner) register(adv advertisement) bool {
	ch := channel.NewNetChannel(adv.IPAddr, adv.IPPort, adv.UID, s.passwordLookup(adv.UID))
	if s.reg.HasChannel(ch.ID()) {
		return false
	}

	description := adv.IPAddr
	dev := registry.NewDevice(adv.UID, description, ch)
	s.reg.Add(dev)
	s.logger.Info("registered net device", "uid", adv.UID, "addr", adv.IPAddr, "port", adv.IPPort)
	if s.Discovered != nil {
		s.Discovered(adv.UID, "net")
	}
	return true
}

// Run invokes Scan back-to-back until stop is closed.
func (s *NetScanner) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
			s.Scan()
		}
	}
}
