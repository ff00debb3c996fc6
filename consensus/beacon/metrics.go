// Copyright 2024 The go-equa Authors
// Merklith Consensus Core - Prometheus Instrumentation

package beacon

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the Prometheus collectors the Engine updates as it
// processes blocks, attestations and epoch boundaries. Grounded on the
// teacher's go.mod dependency on prometheus/client_golang; the teacher
// itself registers metrics through the geth metrics facade, but this
// core has no geth node to register against, so collectors are plain
// client_golang primitives the node layer registers with its own
// registry.
type Metrics struct {
	AttestationsProcessed prometheus.Counter
	Justifications        prometheus.Counter
	Finalizations         prometheus.Counter
	SlashingEvents        prometheus.Counter
	CommitteeSelectionFailures prometheus.Counter
	CommitteeSize         prometheus.Gauge
	ReorgDepth            prometheus.Histogram
}

// NewMetrics constructs an unregistered Metrics set; callers register
// it with their own prometheus.Registerer (the core never touches a
// global registry, consistent with §5's no-global-state discipline).
func NewMetrics() *Metrics {
	return &Metrics{
		AttestationsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "merklith",
			Subsystem: "beacon",
			Name:      "attestations_processed_total",
			Help:      "Total attestations accepted by the finality gadget.",
		}),
		Justifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "merklith",
			Subsystem: "beacon",
			Name:      "justifications_total",
			Help:      "Total checkpoints justified.",
		}),
		Finalizations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "merklith",
			Subsystem: "beacon",
			Name:      "finalizations_total",
			Help:      "Total checkpoints finalized.",
		}),
		SlashingEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "merklith",
			Subsystem: "beacon",
			Name:      "slashing_events_total",
			Help:      "Total validators slashed.",
		}),
		CommitteeSelectionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "merklith",
			Subsystem: "beacon",
			Name:      "committee_selection_failures_total",
			Help:      "Total epochs for which committee selection failed.",
		}),
		CommitteeSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "merklith",
			Subsystem: "beacon",
			Name:      "committee_size",
			Help:      "Size of the most recently sealed committee.",
		}),
		ReorgDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "merklith",
			Subsystem: "beacon",
			Name:      "reorg_depth",
			Help:      "Depth of fork-choice head changes.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

// Collectors returns every collector for bulk registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.AttestationsProcessed,
		m.Justifications,
		m.Finalizations,
		m.SlashingEvents,
		m.CommitteeSelectionFailures,
		m.CommitteeSize,
		m.ReorgDepth,
	}
}
