// Package metrics records upgrade outcomes for the node_exporter textfile collector.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/conn-castle/keg/internal/messages"
	"github.com/conn-castle/keg/internal/upgrade"
)

// Transaction results.
const (
	ResultSuccess            = "success"
	ResultRolledBack         = "rolled_back"
	ResultCompensationFailed = "compensation_failed"
)

// Recorder implements upgrade.Observer on a private registry.
type Recorder struct {
	registry *prometheus.Registry
	now      func() time.Time

	transactions  *prometheus.CounterVec
	compensations *prometheus.CounterVec
	duration      prometheus.Histogram
	lastRun       prometheus.Gauge
}

// New returns a Recorder with every collector registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		now:      time.Now,
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keg",
				Subsystem: "upgrade",
				Name:      "transactions_total",
				Help:      "Upgrade transactions by result",
			},
			[]string{"result"},
		),
		compensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keg",
				Subsystem: "upgrade",
				Name:      "compensations_total",
				Help:      "Compensating actions run after a failed upgrade step, by action and result",
			},
			[]string{"action", "result"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "keg",
				Subsystem: "upgrade",
				Name:      "transaction_duration_seconds",
				Help:      "Duration of one package upgrade in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4min
			},
		),
		lastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "keg",
				Subsystem: "upgrade",
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the metrics file was last written",
			},
		),
	}
	r.registry.MustRegister(r.transactions, r.compensations, r.duration, r.lastRun)
	return r
}

// TransactionFinished records one package upgrade.
func (r *Recorder) TransactionFinished(_ string, elapsed time.Duration, err error) {
	r.transactions.WithLabelValues(transactionResult(err)).Inc()
	r.duration.Observe(elapsed.Seconds())
}

// CompensationFinished records one compensating action.
func (r *Recorder) CompensationFinished(step upgrade.Step, err error) {
	result := ResultSuccess
	if err != nil {
		result = "failure"
	}
	r.compensations.WithLabelValues(step.String(), result).Inc()
}

// Registry exposes the private registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes every metric to path in the text exposition format.
// The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	r.lastRun.Set(float64(r.now().Unix()))
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf(messages.MetricsWriteFailedFmt, path, err)
	}
	return nil
}

func transactionResult(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, upgrade.ErrCompensation):
		return ResultCompensationFailed
	default:
		return ResultRolledBack
	}
}
