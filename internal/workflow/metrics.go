package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"holo/internal/pipeline"
	"holo/internal/queue"
)

// Metrics holds the orchestrator's Prometheus collectors.
type Metrics struct {
	claimed   prometheus.Counter
	finished  *prometheus.CounterVec
	reclaimed prometheus.Counter
	stage     *prometheus.HistogramVec
	busy      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg. Collectors
// that are already registered (a second manager in the same process) are
// reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		claimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "holo",
			Name:      "jobs_claimed_total",
			Help:      "Bake jobs claimed by workers.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "holo",
			Name:      "jobs_finished_total",
			Help:      "Bake jobs that reached a terminal status.",
		}, []string{"status"}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "holo",
			Name:      "jobs_reclaimed_total",
			Help:      "Running jobs returned to the queue after their lease expired.",
		}),
		stage: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "holo",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"stage", "result"}),
		busy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "holo",
			Name:      "workers_busy",
			Help:      "Workers currently processing a job.",
		}),
	}
	m.claimed = register(reg, m.claimed).(prometheus.Counter)
	m.finished = register(reg, m.finished).(*prometheus.CounterVec)
	m.reclaimed = register(reg, m.reclaimed).(prometheus.Counter)
	m.stage = register(reg, m.stage).(*prometheus.HistogramVec)
	m.busy = register(reg, m.busy).(prometheus.Gauge)
	return m
}

func register(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}

func (m *Metrics) jobClaimed() {
	m.claimed.Inc()
}

func (m *Metrics) jobFinished(status queue.Status) {
	m.finished.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) jobsReclaimed(n int64) {
	if n > 0 {
		m.reclaimed.Add(float64(n))
	}
}

// ObserveStage is a pipeline.StageObserver.
func (m *Metrics) ObserveStage(stage pipeline.StageName, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.stage.WithLabelValues(string(stage), result).Observe(elapsed.Seconds())
}
