// Package metrics counts what the node did. Counters accumulate across
// every boot that shares a Metrics value.
package metrics

import (
	"net/http"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "agsys_node"

// Metrics holds the counters on a private registry. One value may be
// handed to several engines in turn; nothing resets between boots.
type Metrics struct {
	registry    *prometheus.Registry
	publishes   *prometheus.CounterVec
	reads       *prometheus.CounterVec
	transitions *prometheus.CounterVec
	taskExits   *prometheus.CounterVec
}

// New creates and registers the counters
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_attempts_total",
			Help:      "Webhook publish cycles by the stage reached and outcome.",
		}, []string{"stage", "result"}),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_reads_total",
			Help:      "Sensor channel reads by outcome.",
		}, []string{"channel", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connectivity_transitions_total",
			Help:      "Connectivity state machine transitions.",
		}, []string{"from", "to", "event"}),
		taskExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_exits_total",
			Help:      "Tasks that stopped before the node shut down.",
		}, []string{"task"}),
	}
	m.registry.MustRegister(m.publishes, m.reads, m.transitions, m.taskExits)
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObservePublish counts one publish cycle
func (m *Metrics) ObservePublish(stage string, err error) {
	m.publishes.WithLabelValues(stage, result(err)).Inc()
}

// ObserveRead counts one sensor channel read
func (m *Metrics) ObserveRead(channel string, err error) {
	m.reads.WithLabelValues(channel, result(err)).Inc()
}

// ObserveTransition counts one connectivity transition
func (m *Metrics) ObserveTransition(from, to, event string) {
	m.transitions.WithLabelValues(from, to, event).Inc()
}

// ObserveTaskExit counts a task that stopped early
func (m *Metrics) ObserveTaskExit(task string) {
	m.taskExits.WithLabelValues(task).Inc()
}

// Registry exposes the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Summary flattens every non-zero counter into name{labels} -> value
func (m *Metrics) Summary() (map[string]float64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			v := metric.GetCounter().GetValue()
			if v == 0 {
				continue
			}
			labels := make([]string, 0, len(metric.GetLabel()))
			for _, lp := range metric.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			sort.Strings(labels)
			key := strings.TrimPrefix(mf.GetName(), namespace+"_")
			if len(labels) > 0 {
				key += "{" + strings.Join(labels, ",") + "}"
			}
			out[key] = v
		}
	}
	return out, nil
}

// LogSummary writes the counters accumulated so far as one log line
func (m *Metrics) LogSummary(logger zerolog.Logger) {
	summary, err := m.Summary()
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to gather metrics")
		return
	}

	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	dict := zerolog.Dict()
	for _, k := range keys {
		dict = dict.Float64(k, summary[k])
	}
	logger.Info().Dict("counters", dict).Msg("Boot summary")
}
