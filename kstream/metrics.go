package kstream

import (
	"errors"

	"github.com/birdayz/kstreams-harness/internal/execution"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	consumed  *prometheus.CounterVec
	forwarded *prometheus.CounterVec
	errors    *prometheus.CounterVec
	running   *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kstreams_harness_records_consumed_total",
			Help: "Records read from the source topic.",
		}, []string{"job"}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kstreams_harness_records_forwarded_total",
			Help: "Records acknowledged on the sink topic.",
		}, []string{"job"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kstreams_harness_forward_errors_total",
			Help: "Records that could not be written to the sink topic.",
		}, []string{"job"}),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kstreams_harness_job_running",
			Help: "1 while the job's worker is running.",
		}, []string{"job"}),
	}
	m.consumed = register(reg, m.consumed)
	m.forwarded = register(reg, m.forwarded)
	m.errors = register(reg, m.errors)
	m.running = register(reg, m.running)
	return m
}

// register adds c to reg. Jobs sharing a registry share the collectors.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) worker(job string) execution.Metrics {
	return execution.Metrics{
		Consumed:  m.consumed.WithLabelValues(job),
		Forwarded: m.forwarded.WithLabelValues(job),
		Errors:    m.errors.WithLabelValues(job),
	}
}
