// internal/bank/metrics.go
package bank

import (
	"fmt"

	"github.com/FairForge/tierbank/internal/tier"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of one bank
type Metrics struct {
	Loads        *prometheus.CounterVec
	Unloads      *prometheus.CounterVec
	Errors       *prometheus.CounterVec
	Purges       prometheus.Counter
	LoadDuration prometheus.Histogram
	gauges       []prometheus.Collector
}

func newMetrics(name string, tracker *tier.Tracker) *Metrics {
	labels := prometheus.Labels{"bank": name}

	m := &Metrics{
		Loads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "tierbank_loads_total",
				Help:        "Items loaded into memory, by the tier they came from",
				ConstLabels: labels,
			},
			[]string{"from"},
		),
		Unloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "tierbank_unloads_total",
				Help:        "Items demoted, by destination tier",
				ConstLabels: labels,
			},
			[]string{"to"},
		),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "tierbank_errors_total",
				Help:        "Failed tier transitions",
				ConstLabels: labels,
			},
			[]string{"op"},
		),
		Purges: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "tierbank_purges_total",
			Help:        "Purge passes run",
			ConstLabels: labels,
		}),
		LoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "tierbank_load_duration_seconds",
			Help:        "Time to bring an item into memory",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}),
	}

	counters := tracker.Counters()
	for _, level := range []tier.Level{tier.Hot, tier.Memory} {
		level := level
		m.gauges = append(m.gauges,
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name:        fmt.Sprintf("tierbank_%s_bytes", level),
				Help:        fmt.Sprintf("Bytes held in the %s tier", level),
				ConstLabels: labels,
			}, func() float64 { return float64(counters.Bytes(level)) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name:        fmt.Sprintf("tierbank_%s_budget_bytes", level),
				Help:        fmt.Sprintf("Byte budget of the %s tier, -1 when unlimited", level),
				ConstLabels: labels,
			}, func() float64 { return float64(tracker.Limit(level)) }),
		)
	}
	m.gauges = append(m.gauges, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "tierbank_memory_items",
		Help:        "Items currently held in memory",
		ConstLabels: labels,
	}, func() float64 { return float64(tracker.Count(tier.Memory)) }))

	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return append([]prometheus.Collector{m.Loads, m.Unloads, m.Errors, m.Purges, m.LoadDuration}, m.gauges...)
}

// register adds every collector to reg
func (m *Metrics) register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register bank metrics: %w", err)
		}
	}
	return nil
}

func (m *Metrics) unregister(reg prometheus.Registerer) {
	for _, c := range m.collectors() {
		reg.Unregister(c)
	}
}

// RecordLoad counts a load and its duration
func (m *Metrics) RecordLoad(from CacheLevel, seconds float64) {
	m.Loads.WithLabelValues(from.String()).Inc()
	m.LoadDuration.Observe(seconds)
}

// RecordUnload counts a demotion
func (m *Metrics) RecordUnload(to CacheLevel) {
	m.Unloads.WithLabelValues(to.String()).Inc()
}

// RecordError counts a failed transition
func (m *Metrics) RecordError(op string) {
	m.Errors.WithLabelValues(op).Inc()
}
