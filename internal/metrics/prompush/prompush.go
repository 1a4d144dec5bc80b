// Package prompush pushes pipeline metrics to a Prometheus Pushgateway.
// A batch job has no scrape endpoint, so the registry is pushed on Flush
// at the end of each run.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"txetl/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend. The pipeline job is
// the Pushgateway grouping key, so collectors carry no job label.
type Backend struct {
	gatewayURL string
	jobName    string
	reg        *prometheus.Registry

	stepCounter   *prometheus.CounterVec
	stepDuration  *prometheus.SummaryVec
	recordCounter *prometheus.CounterVec
	batchCounter  *prometheus.CounterVec
	rejectCounter *prometheus.CounterVec
	aggregateRows *prometheus.GaugeVec
}

// NewBackend constructs a Pushgateway backend. An empty jobName becomes
// "etl"; gatewayURL is required.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "etl"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		stepCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline step executions by step and status.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.StepDuration,
			Help:       "Pipeline step duration in seconds by step and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"step", "status"}),
		recordCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Records by kind (read, loaded, rejected, unflushed).",
		}, []string{"kind"}),
		batchCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Loader batches by outcome.",
		}, []string{"outcome"}),
		rejectCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RejectionsTotal,
			Help: "Rejected records by reason.",
		}, []string{"reason"}),
		aggregateRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metrics.AggregateRows,
			Help: "Rows in each summary aggregate after the last refresh.",
		}, []string{"aggregate"}),
	}

	for _, c := range []prometheus.Collector{
		b.stepCounter, b.stepDuration, b.recordCounter, b.batchCounter, b.rejectCounter, b.aggregateRows,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register collector: %w", err)
		}
	}
	return b, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		if b.stepCounter != nil {
			b.stepCounter.WithLabelValues(labels["step"], labels["status"]).Add(delta)
		}
	case metrics.RecordsTotal:
		if b.recordCounter != nil {
			b.recordCounter.WithLabelValues(labels["kind"]).Add(delta)
		}
	case metrics.BatchesTotal:
		if b.batchCounter != nil {
			b.batchCounter.WithLabelValues(labels["outcome"]).Add(delta)
		}
	case metrics.RejectionsTotal:
		if b.rejectCounter != nil {
			b.rejectCounter.WithLabelValues(labels["reason"]).Add(delta)
		}
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	switch name {
	case metrics.StepDuration:
		if b.stepDuration != nil {
			b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
		}
	case metrics.AggregateRows:
		// Last value wins; a gauge reads better than a distribution here.
		if b.aggregateRows != nil {
			b.aggregateRows.WithLabelValues(labels["aggregate"]).Set(value)
		}
	}
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).Gatherer(b.reg).Push()
}
