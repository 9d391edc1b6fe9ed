// Package metrics exposes the ingest counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/otcheredev/ris-dicom-ingest/internal/batch"
)

const namespace = "ris_ingest"

// Instance outcomes
const (
	InstanceReceived = "received"
	InstanceStored   = "stored"
	InstanceFailed   = "failed"
)

// Metrics holds every collector. A nil *Metrics records nothing.
type Metrics struct {
	associations  *prometheus.CounterVec
	instances     *prometheus.CounterVec
	flushes       *prometheus.CounterVec
	units         *prometheus.CounterVec
	flushDuration *prometheus.HistogramVec
	consumed      *prometheus.CounterVec
	poison        *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		associations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "associations_total",
			Help:      "Closed DICOM associations by end state.",
		}, []string{"end_state"}),
		instances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_total",
			Help:      "Instances received over DIMSE by outcome.",
		}, []string{"outcome"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_flushes_total",
			Help:      "Accumulator flushes by pipeline, trigger and outcome.",
		}, []string{"pipeline", "trigger", "outcome"}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_units_total",
			Help:      "Units handed to sinks by pipeline and result.",
		}, []string{"pipeline", "result"}),
		flushDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_flush_duration_seconds",
			Help:      "Time spent in sink calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pipeline"}),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_messages_consumed_total",
			Help:      "Bus messages read and committed.",
		}, []string{"topic"}),
		poison: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_messages_poison_total",
			Help:      "Bus messages dropped because they could not be decoded.",
		}, []string{"topic"}),
	}
	reg.MustRegister(m.associations, m.instances, m.flushes, m.units, m.flushDuration, m.consumed, m.poison)
	return m
}

// ObserveAssociation counts a closed association
func (m *Metrics) ObserveAssociation(endState string) {
	if m == nil {
		return
	}
	m.associations.WithLabelValues(endState).Inc()
}

// ObserveInstance counts an instance outcome
func (m *Metrics) ObserveInstance(outcome string) {
	if m == nil {
		return
	}
	m.instances.WithLabelValues(outcome).Inc()
}

// ObserveFlush implements batch.Observer
func (m *Metrics) ObserveFlush(pipeline string, trigger batch.Trigger, _ int, result batch.Result, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.flushes.WithLabelValues(pipeline, string(trigger), outcome).Inc()
	m.units.WithLabelValues(pipeline, "delivered").Add(float64(result.Delivered))
	m.units.WithLabelValues(pipeline, "failed").Add(float64(result.Failed))
	m.flushDuration.WithLabelValues(pipeline).Observe(elapsed.Seconds())
}

// ObserveConsumed implements consumer.Observer
func (m *Metrics) ObserveConsumed(topic string, n int) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(topic).Add(float64(n))
}

// ObservePoison implements consumer.Observer
func (m *Metrics) ObservePoison(topic string) {
	if m == nil {
		return
	}
	m.poison.WithLabelValues(topic).Inc()
}
