package scanner

import (
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"iot-gateway/registry"
)

func TestNetScannerRegistersAdvertisedDevice(t *testing.T) {
	reg := registry.New()

	// Reserve an ephemeral port, then hand it to the scanner so the test
	// knows where to send its fake advertisement.
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		t.Fatalf("failed to reserve test port: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()

	s := NewNetScanner(reg, port, 500*time.Millisecond, func(string) string { return "secret" }, discardLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Scan()
	}()

	time.Sleep(50 * time.Millisecond)
	adv := advertisement{UID: "uid-net-1", IPAddr: "127.0.0.1", IPPort: 50001, Protocol: "repl"}
	payload, _ := json.Marshal(adv)
	sender, err := net.Dial("udp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sender.Close()
	sender.Write(payload)

	<-done

	got := reg.GetByUID("uid-net-1")
	if got == nil {
		t.Fatal("expected uid-net-1 to be registered")
	}
	if got.ChannelID() != "127.0.0.1:50001/uid-net-1" {
		t.Errorf("unexpected channel id: %s", got.ChannelID())
	}
}

func TestNetScannerFiresDiscoveredAndScanDone(t *testing.T) {
	reg := registry.New()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		t.Fatalf("failed to reserve test port: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()

	s := NewNetScanner(reg, port, 100*time.Millisecond, func(string) string { return "secret" }, discardLogger())

	var discovered []string
	var scanCounts []int
	s.Discovered = func(uid, protocol string) {
		discovered = append(discovered, uid+"/"+protocol)
	}
	s.ScanDone = func(found int) {
		scanCounts = append(scanCounts, found)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Scan()
	}()

	time.Sleep(20 * time.Millisecond)
	adv := advertisement{UID: "uid-net-2", IPAddr: "127.0.0.1", IPPort: 50002, Protocol: "repl"}
	payload, _ := json.Marshal(adv)
	sender, err := net.Dial("udp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sender.Close()
	sender.Write(payload)

	<-done

	if len(discovered) != 1 || discovered[0] != "uid-net-2/net" {
		t.Errorf("expected one discovered event for uid-net-2/net, got %v", discovered)
	}
	if len(scanCounts) != 1 || scanCounts[0] != 1 {
		t.Errorf("expected one scan-done event reporting 1 found, got %v", scanCounts)
	}
}

func TestNetScannerRejectsNonReplProtocol(t *testing.T) {
	reg := registry.New()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		t.Fatalf("failed to reserve test port: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()

	s := NewNetScanner(reg, port, 200*time.Millisecond, func(string) string { return "" }, discardLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Scan()
	}()

	time.Sleep(30 * time.Millisecond)
	adv := advertisement{UID: "uid-other", IPAddr: "127.0.0.1", IPPort: 50001, Protocol: "mqtt"}
	payload, _ := json.Marshal(adv)
	sender, _ := net.Dial("udp", "127.0.0.1:"+strconv.Itoa(port))
	defer sender.Close()
	sender.Write(payload)

	<-done

	if reg.GetByUID("uid-other") != nil {
		t.Error("expected non-repl advertisement to be ignored")
	}
}
