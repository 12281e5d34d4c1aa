// Package metrics records engine events as Prometheus counters.
//
// Every CLI invocation is a short-lived process, so counters are seeded from the
// previous textfile on start and written back with Flush. The file is meant for the
// node_exporter textfile collector.
package metrics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// Ensure Metrics implements domain.Metrics.
var _ domain.Metrics = (*Metrics)(nil)

// Metric names.
const (
	TransitionsName   = "taskflow_transitions_total"
	PreconditionsName = "taskflow_precondition_failures_total"
	LocksName         = "taskflow_lock_acquisitions_total"
	ConflictsName     = "taskflow_lock_conflicts_total"
	RecoveriesName    = "taskflow_recovery_actions_total"
	EscalationsName   = "taskflow_escalations_total"
)

// Metrics holds the engine counters.
//
// Metrics:
//   - taskflow_transitions_total{from,to} - committed state transitions
//   - taskflow_precondition_failures_total{to} - rejected transitions
//   - taskflow_lock_acquisitions_total - task locks acquired
//   - taskflow_lock_conflicts_total - acquisitions refused by another owner
//   - taskflow_recovery_actions_total{action} - repairs made by recovery
//   - taskflow_escalations_total - escalations raised to the human
type Metrics struct {
	registry      *prometheus.Registry
	transitions   *prometheus.CounterVec
	preconditions *prometheus.CounterVec
	recoveries    *prometheus.CounterVec
	locks         prometheus.Counter
	conflicts     prometheus.Counter
	escalations   prometheus.Counter
	path          string
}

// New creates the counters. When path names an existing textfile its samples are
// loaded first; an empty path keeps the counters in memory only.
func New(path string) (*Metrics, error) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	m := &Metrics{
		registry: reg,
		path:     path,
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: TransitionsName,
			Help: "Committed task state transitions.",
		}, []string{"from", "to"}),
		preconditions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: PreconditionsName,
			Help: "Transitions rejected for unmet preconditions.",
		}, []string{"to"}),
		recoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: RecoveriesName,
			Help: "Repairs performed by crash recovery.",
		}, []string{"action"}),
		locks: factory.NewCounter(prometheus.CounterOpts{
			Name: LocksName,
			Help: "Task locks acquired.",
		}),
		conflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: ConflictsName,
			Help: "Lock acquisitions refused because another owner holds the task.",
		}),
		escalations: factory.NewCounter(prometheus.CounterOpts{
			Name: EscalationsName,
			Help: "Escalations raised to the human.",
		}),
	}
	if path == "" {
		return m, nil
	}
	if err := m.seed(path); err != nil {
		return nil, err
	}
	return m, nil
}

// Registry returns the registry holding the counters.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Transition(from, to domain.State) {
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) PreconditionFailed(to domain.State) {
	m.preconditions.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) LockAcquired() { m.locks.Inc() }
func (m *Metrics) LockConflict() { m.conflicts.Inc() }
func (m *Metrics) Escalation()   { m.escalations.Inc() }

func (m *Metrics) Recovery(action string) {
	m.recoveries.WithLabelValues(action).Inc()
}

// Flush writes every counter to the textfile. It does nothing without a path.
func (m *Metrics) Flush() error {
	if m.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o750); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(m.path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// seed adds the samples of a previously written textfile to the counters.
// Families and label sets that do not belong to a known counter are ignored.
func (m *Metrics) seed(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open metrics: %w", err)
	}
	defer func() { _ = f.Close() }()

	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(f)
	if err != nil {
		return fmt.Errorf("parse metrics %s: %w", path, err)
	}

	vecs := map[string]*prometheus.CounterVec{
		TransitionsName:   m.transitions,
		PreconditionsName: m.preconditions,
		RecoveriesName:    m.recoveries,
	}
	counters := map[string]prometheus.Counter{
		LocksName:       m.locks,
		ConflictsName:   m.conflicts,
		EscalationsName: m.escalations,
	}
	for name, family := range families {
		for _, metric := range family.GetMetric() {
			value := sampleValue(metric)
			if value <= 0 {
				continue
			}
			labels := prometheus.Labels{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			if c, found := counters[name]; found && len(labels) == 0 {
				c.Add(value)
				continue
			}
			if vec, found := vecs[name]; found {
				if c, err := vec.GetMetricWith(labels); err == nil {
					c.Add(value)
				}
			}
		}
	}
	return nil
}

// sampleValue reads a counter sample, also accepting untyped samples written without a TYPE line.
func sampleValue(metric *dto.Metric) float64 {
	if c := metric.GetCounter(); c != nil {
		return c.GetValue()
	}
	return metric.GetUntyped().GetValue()
}
