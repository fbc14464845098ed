package channel

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"errors"
	"math/big"
	"net"
	"strconv"
	"testing"
	"time"

	"iot-gateway/ioterrors"
)

func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

// startFakeGateway runs a single-shot TLS listener that reads the
// {"uid","password"} handshake frame and replies with reply.
func startFakeGateway(t *testing.T, reply string, wantUID, wantPassword string) (port int, done chan struct{}) {
	t.Helper()
	cert := selfSignedCert(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, err = strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse listener port: %v", err)
	}

	done = make(chan struct{})
	go func() {
		defer close(done)
		defer ln.Close()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 1024)
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		var hello struct {
			UID      string `json:"uid"`
			Password string `json:"password"`
		}
		if err := json.Unmarshal(buf[:n], &hello); err != nil {
			return
		}
		if hello.UID != wantUID || hello.Password != wantPassword {
			conn.Write([]byte("wrong password"))
			return
		}
		conn.Write([]byte(reply))
		if reply == "ok" {
			time.Sleep(20 * time.Millisecond)
		}
	}()
	return port, done
}

func TestNetChannelHandshakeOK(t *testing.T) {
	port, done := startFakeGateway(t, "ok", "uid-1", "secret")

	nc := NewNetChannel("127.0.0.1", port, "uid-1", "secret")
	if err := nc.ensureConnected(); err != nil {
		t.Fatalf("expected successful handshake, got %v", err)
	}
	nc.Close()
	<-done
}

// TestNetChannelReadTimesOutAgainstSilentPeer reproduces a device that
// goes quiet mid-banner: the peer completes the handshake but then never
// sends another byte. Read must give up once ReadExactTimeout elapses
// instead of blocking on conn.Read forever.
func TestNetChannelReadTimesOutAgainstSilentPeer(t *testing.T) {
	// startFakeGateway's "ok" reply holds the connection open for 20ms
	// before closing it; ReadExactTimeout must fire well inside that
	// window or Read would observe the peer closing instead of a timeout.
	old := ReadExactTimeout
	ReadExactTimeout = 5 * time.Millisecond
	defer func() { ReadExactTimeout = old }()

	port, done := startFakeGateway(t, "ok", "uid-1", "secret")
	nc := NewNetChannel("127.0.0.1", port, "uid-1", "secret")

	start := time.Now()
	_, err := nc.Read(4)
	elapsed := time.Since(start)

	if !errors.Is(err, ioterrors.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("Read blocked for %v, expected to return near ReadExactTimeout", elapsed)
	}
	nc.Close()
	<-done
}

func TestNetChannelHandshakeWrongPassword(t *testing.T) {
	port, done := startFakeGateway(t, "wrong password", "uid-1", "secret")

	nc := NewNetChannel("127.0.0.1", port, "uid-1", "bad-password")
	err := nc.ensureConnected()
	if err == nil {
		t.Fatal("expected AuthFailed, got nil")
	}
	var authErr *ioterrors.AuthFailed
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *ioterrors.AuthFailed, got %v (%T)", err, err)
	}
	if authErr.Reason != "wrong password" {
		t.Errorf("reason = %q, want %q", authErr.Reason, "wrong password")
	}
	<-done
}
