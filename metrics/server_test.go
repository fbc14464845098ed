package metrics

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServerExposesMetricsEndpoint(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(func() Stats { return Stats{RegistrySize: 2, ActiveSessions: 1} }))

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv := NewServer(addr, reg, discardLogger())
	srv.Start()
	defer srv.Stop(context.Background())

	time.Sleep(30 * time.Millisecond)

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "iot_gateway_registry_size 2") {
		t.Errorf("metrics body missing registry size gauge: %s", body)
	}
}

func TestServerStopShutsDownCleanly(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv := NewServer(addr, prometheus.NewRegistry(), discardLogger())
	srv.Start()
	time.Sleep(20 * time.Millisecond)

	if err := srv.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
