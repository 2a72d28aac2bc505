// Package metrics exposes Prometheus instrumentation for solves and runs.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rogersf/backdp/internal/domain"
	"github.com/rogersf/backdp/internal/dp"
)

const namespace = "backdp"

// Metrics holds the collectors registered for one process.
type Metrics struct {
	solveDuration    prometheus.Histogram
	stepDuration     prometheus.Histogram
	statesSolved     prometheus.Counter
	actionsEvaluated prometheus.Counter
	outcomesVisited  prometheus.Counter
	solveFailures    *prometheus.CounterVec
	runs             *prometheus.CounterVec
	lastOptimalValue prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		solveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solve_duration_seconds",
			Help:      "Wall time of a full backward induction",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		stepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of one backward step",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		statesSolved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "states_solved_total",
			Help:      "States whose Bellman maximum was computed",
		}),
		actionsEvaluated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_evaluated_total",
			Help:      "State-action expectations computed",
		}),
		outcomesVisited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_visited_total",
			Help:      "Next-state outcomes read while computing expectations",
		}),
		solveFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solve_failures_total",
			Help:      "Failed solves by engine error code",
		}, []string{"code"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Run lifecycle transitions by resulting status",
		}, []string{"status"}),
		lastOptimalValue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_optimal_value",
			Help:      "Optimal value of the start state in the most recent solve",
		}),
	}
}

// ObserveStep records one completed backward step. It matches dp.WithObserver.
func (m *Metrics) ObserveStep(s dp.StepStats) {
	m.stepDuration.Observe(s.Elapsed.Seconds())
	m.statesSolved.Add(float64(s.States))
	m.actionsEvaluated.Add(float64(s.Actions))
	m.outcomesVisited.Add(float64(s.Outcomes))
}

// ObserveSolve records the outcome of a full solve.
func (m *Metrics) ObserveSolve(elapsed time.Duration, err error) {
	if err == nil {
		m.solveDuration.Observe(elapsed.Seconds())
		return
	}
	m.solveFailures.WithLabelValues(errorCode(err)).Inc()
}

// ObserveRun records a run entering status.
func (m *Metrics) ObserveRun(status domain.RunStatus) {
	m.runs.WithLabelValues(string(status)).Inc()
}

// SetOptimalValue records the start-state value of the latest solve.
func (m *Metrics) SetOptimalValue(v float64) {
	m.lastOptimalValue.Set(v)
}

func errorCode(err error) string {
	var engErr *domain.EngineError
	if errors.As(err, &engErr) {
		return strconv.Itoa(engErr.Code)
	}
	return "other"
}
