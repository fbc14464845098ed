package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"iot-gateway/registry"
)

// advertiseBackoff is how long Advertiser waits after a transient UDP
// failure (e.g. "network unreachable") before rebuilding its socket.
const advertiseBackoff = 5 * time.Second

// advertisement is the wire object broadcast once per device per tick.
type advertisement struct {
	UID      string  `json:"uid"`
	IPAddr   string  `json:"ip_addr"`
	IPPort   int     `json:"ip_port"`
	Protocol string  `json:"protocol"`
	LastSeen float64 `json:"last_seen"`
}

// ScanTrigger is invoked once per advertise tick before the registry is
// read, giving scanners a chance to refresh it. A nil ScanTrigger just
// advertises whatever the registry currently holds.
type ScanTrigger func()

// Advertiser periodically broadcasts every registry Device younger than
// maxAge, so peers running a NetScanner can discover and dial them.
type Advertiser struct {
	reg                  *registry.Registry
	myIP                 string
	advertisePort        int
	connectionServerPort int
	interval             time.Duration
	maxAge               time.Duration
	scan                 ScanTrigger
	logger               *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewAdvertiser builds an Advertiser. myIP is the address clients should
// dial back to; callers typically obtain it via LocalIP.
func NewAdvertiser(reg *registry.Registry, myIP string, advertisePort, connectionServerPort int, interval, maxAge time.Duration, scan ScanTrigger, logger *slog.Logger) *Advertiser {
	return &Advertiser{
		reg:                  reg,
		myIP:                 myIP,
		advertisePort:        advertisePort,
		connectionServerPort: connectionServerPort,
		interval:             interval,
		maxAge:               maxAge,
		scan:                 scan,
		logger:               logger,
		stopCh:               make(chan struct{}),
	}
}

// Start begins the advertise loop on its own goroutine.
func (a *Advertiser) Start() {
	a.wg.Add(1)
	go a.loop()
}

// Stop signals the advertise loop to exit and waits for it to finish.
func (a *Advertiser) Stop() {
	close(a.stopCh)
	a.wg.Wait()
}

func (a *Advertiser) loop() {
	defer a.wg.Done()
	for {
		if err := a.advertiseOnce(); err != nil {
			a.logger.Warn("advertise failed, backing off", "error", err)
			select {
			case <-a.stopCh:
				return
			case <-time.After(advertiseBackoff):
			}
			continue
		}

		wait := a.interval
		if wait < time.Second {
			wait = time.Second
		}
		select {
		case <-a.stopCh:
			return
		case <-time.After(wait):
		}
	}
}

func (a *Advertiser) advertiseOnce() error {
	if a.scan != nil {
		a.scan()
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("open broadcast socket: %w", err)
	}
	defer conn.Close()
	if err := enableBroadcast(conn); err != nil {
		return fmt.Errorf("enable broadcast: %w", err)
	}

	dest := &net.UDPAddr{IP: net.IPv4bcast, Port: a.advertisePort}
	for _, dev := range a.reg.Snapshot() {
		if dev.Age() > a.maxAge {
			a.logger.Debug("not advertising stale device", "uid", dev.UID(), "age", dev.Age())
			continue
		}
		msg := advertisement{
			UID:      dev.UID(),
			IPAddr:   a.myIP,
			IPPort:   a.connectionServerPort,
			Protocol: "repl",
			LastSeen: float64(dev.LastSeen().Unix()),
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal advertisement: %w", err)
		}
		if _, err := conn.WriteToUDP(data, dest); err != nil {
			return fmt.Errorf("broadcast to %s: %w", dest, err)
		}
		a.logger.Debug("advertised device", "uid", dev.UID())
	}
	return nil
}

// enableBroadcast sets SO_BROADCAST on conn, which the net package does
// not expose directly; sending to the broadcast address without it
// fails with a permission error on every platform this targets.
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// LocalIP determines the host's outward-facing IP address by dialing an
// address that need not be reachable, then reading the local endpoint
// the kernel chose.
func LocalIP() (string, error) {
	conn, err := net.Dial("udp", "10.1.1.1:1")
	if err != nil {
		return "", fmt.Errorf("determine local ip: %w", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
