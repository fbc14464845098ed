package gateway

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"iot-gateway/registry"
)

func TestAdvertiserBroadcastsFreshDevices(t *testing.T) {
	reg := registry.New()
	reg.Add(registry.NewDevice("fresh-uid", "test", &echoChannel{}))

	listenConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := listenConn.LocalAddr().(*net.UDPAddr).Port
	listenConn.SetReadDeadline(time.Now().Add(2 * time.Second))

	a := NewAdvertiser(reg, "127.0.0.1", port, 50001, 30*time.Millisecond, 5*time.Second, nil, discardLogger())
	a.Start()
	defer a.Stop()

	buf := make([]byte, 2048)
	n, _, err := listenConn.ReadFromUDP(buf)
	listenConn.Close()
	if err != nil {
		t.Fatalf("expected a broadcast datagram, got error: %v", err)
	}

	var adv advertisement
	if err := json.Unmarshal(buf[:n], &adv); err != nil {
		t.Fatalf("unmarshal advertisement: %v", err)
	}
	if adv.UID != "fresh-uid" || adv.Protocol != "repl" || adv.IPPort != 50001 {
		t.Errorf("unexpected advertisement: %+v", adv)
	}
}

func TestAdvertiserSkipsStaleDevices(t *testing.T) {
	reg := registry.New()
	dev := registry.NewDevice("stale-uid", "test", &echoChannel{})
	reg.Add(dev)

	listenConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := listenConn.LocalAddr().(*net.UDPAddr).Port
	listenConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	defer listenConn.Close()

	a := NewAdvertiser(reg, "127.0.0.1", port, 50001, 30*time.Millisecond, -time.Second, nil, discardLogger())
	a.Start()
	defer a.Stop()

	buf := make([]byte, 2048)
	_, _, err = listenConn.ReadFromUDP(buf)
	if err == nil {
		t.Fatal("expected no broadcast for a device older than max_age")
	}
}

func TestAdvertiserInvokesScanTrigger(t *testing.T) {
	reg := registry.New()
	called := make(chan struct{}, 1)

	listenConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := listenConn.LocalAddr().(*net.UDPAddr).Port
	listenConn.Close()

	a := NewAdvertiser(reg, "127.0.0.1", port, 50001, 20*time.Millisecond, time.Second, func() {
		select {
		case called <- struct{}{}:
		default:
		}
	}, discardLogger())
	a.Start()
	defer a.Stop()

	select {
	case <-called:
	case <-time.After(1 * time.Second):
		t.Fatal("expected scan trigger to be invoked")
	}
}
