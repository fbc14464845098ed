// Command iot-discover-serial scans USB serial ports for compatible
// microcontrollers and logs each registered device's identity (uid,
// description, age) once a second. It is a standalone diagnostic tool,
// independent of the full gateway daemon.
package main

import (
	"flag"
	"log/slog"
	"os"
	"time"

	"iot-gateway/channel"
	"iot-gateway/registry"
	"iot-gateway/repl"
	"iot-gateway/scanner"
)

func main() {
	baudRate := flag.Int("baud", 115200, "Serial baud rate to probe at")
	interval := flag.Duration("interval", 2*time.Second, "How often to rescan for newly attached devices")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	reg := registry.New()
	s := scanner.NewSerialScanner(reg, *baudRate, probeUID, logger)

	stop := make(chan struct{})
	go s.Run(*interval, stop)

	logger.Info("scanning for serial devices", "baud", *baudRate, "interval", *interval)
	for range time.Tick(1 * time.Second) {
		for _, dev := range reg.Snapshot() {
			logger.Info("device seen", "uid", dev.UID(), "description", dev.Description(), "age", dev.Age())
		}
	}
}

func probeUID(ch channel.ByteChannel) (string, error) {
	dev := registry.NewDevice("", "probe", ch)
	engine := repl.NewEngine(dev)
	return engine.UID()
}
