package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus instruments for the monitor duty cycle.
type Metrics struct {
	blocksRead         prometheus.Counter
	reorgsDetected     prometheus.Counter
	resolutionFailures prometheus.Counter
	lastBlockRead      prometheus.Gauge
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = &Metrics{
			blocksRead: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "headwatch_blocks_read_total",
				Help: "Total number of block headers read into the buffer",
			}),
			reorgsDetected: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "headwatch_reorgs_detected_total",
				Help: "Total number of chain reorganisations detected",
			}),
			resolutionFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "headwatch_resolution_failures_total",
				Help: "Total number of cycles that exhausted the reorg retry budget",
			}),
			lastBlockRead: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "headwatch_last_block_read",
				Help: "Highest block number currently buffered",
			}),
		}
		prometheus.MustRegister(
			metrics.blocksRead,
			metrics.reorgsDetected,
			metrics.resolutionFailures,
			metrics.lastBlockRead,
		)
	})
	return metrics
}

// BlocksRead adds n to the blocks read counter.
func (m *Metrics) BlocksRead(n uint64) {
	if m != nil {
		m.blocksRead.Add(float64(n))
	}
}

// ReorgDetected increments the reorg counter.
func (m *Metrics) ReorgDetected() {
	if m != nil {
		m.reorgsDetected.Inc()
	}
}

// ResolutionFailure increments the exhausted-resolution counter.
func (m *Metrics) ResolutionFailure() {
	if m != nil {
		m.resolutionFailures.Inc()
	}
}

// SetLastBlockRead records the highest buffered block.
func (m *Metrics) SetLastBlockRead(n uint64) {
	if m != nil {
		m.lastBlockRead.Set(float64(n))
	}
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
