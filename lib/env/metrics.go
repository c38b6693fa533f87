package env

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

type envMetrics struct {
	set      *metrics.Set
	gets     *metrics.Counter
	misses   *metrics.Counter
	renewals *metrics.Counter
	fallback *metrics.Counter
}

func newEnvMetrics(c *core) *envMetrics {
	label := func(metric string) string {
		return fmt.Sprintf(`txkv_env_%s{env=%q}`, metric, c.name())
	}
	m := &envMetrics{set: metrics.NewSet()}
	m.gets = m.set.NewCounter(label("gets_total"))
	m.misses = m.set.NewCounter(label("get_misses_total"))
	m.renewals = m.set.NewCounter(label("read_txn_renewals_total"))
	m.fallback = m.set.NewCounter(label("scratch_fallbacks_total"))
	m.set.NewGauge(label("read_txns_open"), func() float64 {
		return float64(c.readers.Size())
	})
	m.set.NewGauge(label("databases_open"), func() float64 {
		return float64(c.dbs.Size())
	})
	m.set.NewGauge(label("commits"), func() float64 {
		return float64(c.commits.Load())
	})
	return m
}

// WriteMetrics writes the metrics of the environment and its writer in
// Prometheus text format.
func (e *Environment) WriteMetrics(w io.Writer) {
	e.core.metrics.set.WritePrometheus(w)
	e.core.writer.WriteMetrics(w)
}
