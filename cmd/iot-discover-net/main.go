// Command iot-discover-net listens for gateway UDP advertisements and
// logs each remote device as it is discovered. It is a standalone
// diagnostic tool, independent of the full gateway daemon.
package main

import (
	"flag"
	"log/slog"
	"os"
	"time"

	"iot-gateway/registry"
	"iot-gateway/scanner"
)

func main() {
	advertisePort := flag.Int("advertise-port", 50003, "UDP port to listen for advertisements on")
	password := flag.String("password", "", "Shared password to use when later connecting to a discovered device")
	scanWindow := flag.Duration("scan-window", 4*time.Second, "How long each listen pass collects advertisements")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	reg := registry.New()
	s := scanner.NewNetScanner(reg, *advertisePort, *scanWindow, func(string) string {
		return *password
	}, logger)

	stop := make(chan struct{})
	go s.Run(stop)

	logger.Info("listening for net device advertisements", "advertise_port", *advertisePort)
	for range time.Tick(1 * time.Second) {
		for _, dev := range reg.Snapshot() {
			logger.Info("device seen", "uid", dev.UID(), "description", dev.Description(), "age", dev.Age())
		}
	}
}
