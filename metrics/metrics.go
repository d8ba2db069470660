// Package metrics defines the Prometheus metric types ustack exports and
// provides the counters/histograms the rest of the engine increments or
// observes. Structured the way github.com/m-lab/tcp-info/metrics is: a
// single var block of promauto.New* values plus an init() log line.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FragmentsSentTotal counts IPv4 fragments emitted by the send path.
	FragmentsSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ustack_ip4_fragments_sent_total",
			Help: "Number of IPv4 fragments emitted on the send path.",
		},
	)

	// ReassemblyDropsTotal counts reassembly entries dropped, by reason.
	ReassemblyDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ustack_ip4_reassembly_drops_total",
			Help: "Number of IPv4 reassembly entries dropped.",
		}, []string{"reason"})

	// RetransmitsTotal counts TCP retransmissions, by cause.
	RetransmitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ustack_tcp_retransmits_total",
			Help: "Number of TCP segment retransmissions.",
		}, []string{"cause"})

	// CwndHistogram tracks observed congestion window sizes in segments.
	CwndHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "ustack_tcp_cwnd_segments_histogram",
			Help: "Congestion window size, in MSS-sized segments, at the time of each send.",
			Buckets: []float64{
				1, 2, 3, 4, 6, 8, 12, 16, 24, 32, 48, 64, 96, 128, 192, 256,
			},
		},
	)

	// PMTUEstimateHistogram tracks the distribution of path-MTU estimates
	// across all tracked remote addresses.
	PMTUEstimateHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ustack_pmtu_estimate_bytes_histogram",
			Help:    "Path MTU estimate, in bytes, each time the cache is updated.",
			Buckets: []float64{256, 508, 576, 1280, 1400, 1480, 1500, 4096, 9000},
		},
	)

	// PCBTableSize tracks the number of live PCBs, by state.
	PCBTableSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ustack_tcp_pcb_table_size",
			Help: "Number of live TCP PCBs, labeled by state.",
		}, []string{"state"})

	// RTTHistogram tracks measured round-trip-time samples.
	RTTHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "ustack_tcp_rtt_seconds_histogram",
			Help: "Measured round-trip-time samples (RFC 6298).",
			Buckets: []float64{
				0.001, 0.002, 0.004, 0.008, 0.016, 0.032, 0.064, 0.128,
				0.256, 0.512, 1.024, 2.048, 4.096,
			},
		},
	)

	// ErrorsTotal counts ustackerr.Error values surfaced at the API
	// boundary, labeled by kind.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ustack_errors_total",
			Help: "Total number of ustack errors returned at the API boundary.",
		}, []string{"kind"})
)

func init() {
	log.Println("Prometheus metrics in ustack.metrics are registered.")
}
