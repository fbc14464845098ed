// Command iot-sync drives the rlist/rdiff/rsync directory-sync protocol
// against a single device reachable through a running gateway, the way a
// deployment tool pushes a host project tree onto an attached
// microcontroller over the network. It is a standalone client,
// independent of the gateway daemon process.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"iot-gateway/channel"
	"iot-gateway/metrics"
	"iot-gateway/registry"
	"iot-gateway/repl"
)

func main() {
	ip := flag.String("ip", "", "Gateway host to dial")
	port := flag.Int("port", 0, "Gateway connection-server port")
	uid := flag.String("uid", "", "Device UID to sync")
	password := flag.String("password", "", "Gateway shared password")
	hostDir := flag.String("host-dir", "", "Directory containing the project trees to sync")
	path := flag.String("path", "", "Device-side path to sync under")
	projectList := flag.String("projects", "", "Comma-separated project directory names under host-dir")
	dryRun := flag.Bool("dry-run", false, "Report the plan without applying it")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *ip == "" || *port == 0 || *uid == "" || *hostDir == "" {
		fmt.Fprintln(os.Stderr, "Error: -ip, -port, -uid and -host-dir are required")
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	counters := metrics.NewCounters(prometheus.NewRegistry())

	ch := channel.NewNetChannel(*ip, *port, *uid, *password)
	dev := registry.NewDevice(*uid, "", ch)
	if !dev.TryAcquire() {
		logger.Error("device busy, another session already holds it")
		os.Exit(1)
	}
	defer dev.Release()

	engine := repl.NewEngine(dev)
	engine.Ops = counters.IncRsyncOp

	var projects []string
	for _, p := range strings.Split(*projectList, ",") {
		if p = strings.TrimSpace(p); p != "" {
			projects = append(projects, p)
		}
	}

	plan, err := engine.RSync(*hostDir, *path, projects, *dryRun)
	if err != nil {
		logger.Error("sync failed", "uid", *uid, "error", err)
		os.Exit(1)
	}

	for _, entry := range plan {
		logger.Info("sync", "action", entry.Action, "path", entry.Path)
	}
	logger.Info("sync complete", "uid", *uid, "entries", len(plan), "dry_run", *dryRun)
}
