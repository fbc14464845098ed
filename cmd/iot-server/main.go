// Command iot-server runs the gateway daemon: it scans for devices over
// USB serial and UDP advertisement, serves the connection endpoint
// remote clients dial into, and advertises locally attached devices to
// the network.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/natefinch/lumberjack.v2"

	"iot-gateway/channel"
	"iot-gateway/eventbus"
	"iot-gateway/gateway"
	"iot-gateway/gwconfig"
	"iot-gateway/ioterrors"
	"iot-gateway/metrics"
	"iot-gateway/registry"
	"iot-gateway/repl"
	"iot-gateway/scanner"
)

const appVersion = "1.0.0"

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("iot-server v%s\n", appVersion)
		os.Exit(0)
	}
	if *configPath == "" {
		log.Fatal("Error: -config flag is required")
	}

	cfg, err := gwconfig.Load(*configPath)
	if err != nil {
		log.Fatal(&ioterrors.ConfigLoadError{Path: *configPath, Cause: err})
	}

	logger := setupLogging(cfg, *debug)
	logger.Info("starting iot-server", "version", appVersion, "instance", cfg.App.InstanceID)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var eventConn *eventbus.Connection
	var events *eventbus.Publisher
	if cfg.EventBus.URL != "" {
		eventConn, err = eventbus.Connect(cfg.EventBus.URL, logger)
		if err != nil {
			logger.Warn("continuing without event bus", "error", err)
		} else {
			defer eventConn.Close()
			subject := eventbus.BuildSubject(cfg.EventBus.SubjectPrefix, cfg.App.InstanceID)
			events = eventbus.NewPublisher(eventConn, subject, cfg.App.InstanceID, logger)
		}
	}

	reg := registry.New()

	metricsReg := prometheus.NewRegistry()
	counters := metrics.NewCounters(metricsReg)
	sessions := newSessionCounter()
	metricsReg.MustRegister(metrics.NewCollector(func() metrics.Stats {
		return metrics.Stats{RegistrySize: reg.Len(), ActiveSessions: sessions.count()}
	}))

	var metricsSrv *metrics.Server
	if cfg.Metrics.ListenAddr != "" {
		metricsSrv = metrics.NewServer(cfg.Metrics.ListenAddr, metricsReg, logger)
		metricsSrv.Start()
	}

	stopServe := make(chan struct{})
	deviceServer, err := gateway.NewDeviceServer(reg, cfg.Gateway.Password, logger)
	if err != nil {
		logger.Error("failed to build device server", "error", err)
		os.Exit(1)
	}
	deviceServer.Bytes = counters.AddReplBytes
	deviceServer.Sessions = sessions.add
	deviceServer.Events = func(kind, uid, message string) {
		events.Publish(eventbus.Event{Type: kind, UID: uid, Message: message})
	}
	go func() {
		if err := deviceServer.Serve(cfg.Gateway.ConnectionServerPort, stopServe); err != nil {
			logger.Error("device server stopped with error", "error", err)
		}
	}()

	myIP, err := gateway.LocalIP()
	if err != nil {
		logger.Warn("could not determine local IP, advertiser disabled", "error", err)
	}

	serialScanner := scanner.NewSerialScanner(reg, 115200, probeUID, logger)
	serialScanner.Discovered = func(uid, protocol string) {
		events.Publish(eventbus.Event{Type: eventbus.EventDeviceDiscovered, UID: uid, Message: "device discovered", Details: map[string]any{"protocol": protocol}})
	}
	serialScanner.ScanDone = func(found int) {
		events.Publish(eventbus.Event{Type: eventbus.EventScanCompleted, Message: "scan completed", Details: map[string]any{"found": found, "protocol": "serial"}})
	}
	stopSerialScan := make(chan struct{})
	go serialScanner.Run(time.Duration(cfg.Gateway.DeviceScanInterval*float64(time.Second)), stopSerialScan)

	netScanner := scanner.NewNetScanner(reg, cfg.Gateway.AdvertisePort, 4*time.Second, func(string) string {
		return cfg.Gateway.Password
	}, logger)
	netScanner.Discovered = func(uid, protocol string) {
		events.Publish(eventbus.Event{Type: eventbus.EventDeviceDiscovered, UID: uid, Message: "device discovered", Details: map[string]any{"protocol": protocol}})
	}
	netScanner.ScanDone = func(found int) {
		events.Publish(eventbus.Event{Type: eventbus.EventScanCompleted, Message: "scan completed", Details: map[string]any{"found": found, "protocol": "net"}})
	}
	stopNetScan := make(chan struct{})
	go netScanner.Run(stopNetScan)

	var advertiser *gateway.Advertiser
	if myIP != "" {
		advertiser = gateway.NewAdvertiser(reg, myIP, cfg.Gateway.AdvertisePort, cfg.Gateway.ConnectionServerPort,
			time.Duration(cfg.Gateway.DeviceScanInterval*float64(time.Second)), time.Duration(cfg.Gateway.MaxAgeSeconds*float64(time.Second)),
			netScanner.Scan, logger)
		advertiser.Start()
	}

	logger.Info("iot-server started successfully",
		"connection_port", cfg.Gateway.ConnectionServerPort,
		"advertise_port", cfg.Gateway.AdvertisePort)
	events.Publish(eventbus.Event{Type: eventbus.EventServiceStart, Message: "iot-server started"})

	sig := <-sigChan
	logger.Info("received shutdown signal", "signal", sig.String())

	if advertiser != nil {
		advertiser.Stop()
	}
	close(stopNetScan)
	close(stopSerialScan)
	close(stopServe)
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping metrics server", "error", err)
		}
	}
	events.Publish(eventbus.Event{Type: eventbus.EventServiceStop, Message: "iot-server stopping"})
	logger.Info("iot-server stopped")
}

// probeUID opens a throwaway REPL session over a freshly detected serial
// channel just long enough to ask the device who it is.
func probeUID(ch channel.ByteChannel) (string, error) {
	dev := registry.NewDevice("", "probe", ch)
	engine := repl.NewEngine(dev)
	return engine.UID()
}

// sessionCounter tracks how many device sockets are currently locked and
// pumping, for the active_sessions gauge.
type sessionCounter struct {
	mu sync.Mutex
	n  int
}

func newSessionCounter() *sessionCounter { return &sessionCounter{} }

func (s *sessionCounter) add(delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n += delta
}

func (s *sessionCounter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

func setupLogging(cfg *gwconfig.Config, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	} else {
		switch cfg.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Directory != "" {
		if err := os.MkdirAll(cfg.Logging.Directory, 0755); err != nil {
			log.Printf("warning: failed to create log directory: %v", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			writer := &lumberjack.Logger{
				Filename:   filepath.Join(cfg.Logging.Directory, "iot-server.log"),
				MaxSize:    cfg.Logging.MaxSizeMB,
				MaxBackups: cfg.Logging.MaxBackups,
				Compress:   cfg.Logging.Compress,
			}
			handler = slog.NewJSONHandler(writer, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
