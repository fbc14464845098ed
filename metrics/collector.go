// Package metrics exposes Prometheus gauges and counters for the
// gateway's registry, active device sessions, REPL byte traffic, and
// sync operation counts. Domain packages never import this package;
// they report through the Counters struct they are handed.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Stats is a point-in-time snapshot pulled by the Collector on every
// scrape, the same pull-on-Collect shape as a poll-based exporter.
type Stats struct {
	RegistrySize   int
	ActiveSessions int
}

// StatsFunc is the callback a Collector polls on every scrape.
type StatsFunc func() Stats

// Collector is a custom prometheus.Collector: registry size and active
// session count are pulled fresh on every scrape rather than cached, the
// same shape as polling a remote /connz endpoint.
type Collector struct {
	statsFunc      StatsFunc
	registrySize   *prometheus.Desc
	activeSessions *prometheus.Desc
}

// NewCollector builds a Collector that calls statsFunc on every scrape.
func NewCollector(statsFunc StatsFunc) *Collector {
	return &Collector{
		statsFunc: statsFunc,
		registrySize: prometheus.NewDesc(
			"iot_gateway_registry_size",
			"Number of devices currently known to the registry",
			nil, nil,
		),
		activeSessions: prometheus.NewDesc(
			"iot_gateway_active_sessions",
			"Number of device sockets currently locked and pumping",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.registrySize
	ch <- c.activeSessions
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.statsFunc()
	ch <- prometheus.MustNewConstMetric(c.registrySize, prometheus.GaugeValue, float64(stats.RegistrySize))
	ch <- prometheus.MustNewConstMetric(c.activeSessions, prometheus.GaugeValue, float64(stats.ActiveSessions))
}

// Counters holds the running-total metrics that domain code increments
// directly as work happens, rather than metrics pulled on scrape: bytes
// pumped between socket and device, and sync operations applied to a
// device's filesystem.
type Counters struct {
	ReplBytes *prometheus.CounterVec
	RsyncOps  *prometheus.CounterVec
}

// NewCounters creates and registers the running-total counters against reg.
func NewCounters(reg *prometheus.Registry) *Counters {
	c := &Counters{
		ReplBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iot_gateway_repl_bytes_total",
			Help: "Bytes pumped between client socket and device, by direction",
		}, []string{"direction"}),
		RsyncOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iot_gateway_rsync_ops_total",
			Help: "Sync operations applied to a device's filesystem, by kind",
		}, []string{"kind"}),
	}
	reg.MustRegister(c.ReplBytes, c.RsyncOps)
	return c
}

// AddReplBytes records n bytes pumped in the given direction ("in" from
// socket to device, "out" from device to socket). Safe on a nil receiver.
func (c *Counters) AddReplBytes(direction string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.ReplBytes.WithLabelValues(direction).Add(float64(n))
}

// IncRsyncOp records one sync operation of the given kind ("add",
// "update", or "delete"). Safe on a nil receiver.
func (c *Counters) IncRsyncOp(kind string) {
	if c == nil {
		return
	}
	c.RsyncOps.WithLabelValues(kind).Inc()
}
