package writer

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"

	"github.com/ValentinKolb/txKV/lib/util"
)

// writerMetrics groups the counters of one writer. Each writer owns its set, so
// several writers in one process do not collide.
type writerMetrics struct {
	set          *metrics.Set
	batches      *metrics.Counter
	instructions *metrics.Counter
	commitErrors *metrics.Counter
	aborts       *metrics.Counter
	restarts     *metrics.Counter
	interrupts   *metrics.Counter
	commitTime   *metrics.Histogram
	values       *util.SizeHistogram
}

func newWriterMetrics(name string, queued func() int) *writerMetrics {
	label := func(metric string) string {
		return fmt.Sprintf(`txkv_writer_%s{writer=%q}`, metric, name)
	}
	m := &writerMetrics{set: metrics.NewSet(), values: util.NewSizeHistogram()}
	m.batches = m.set.NewCounter(label("batches_total"))
	m.instructions = m.set.NewCounter(label("instructions_total"))
	m.commitErrors = m.set.NewCounter(label("commit_errors_total"))
	m.aborts = m.set.NewCounter(label("aborts_total"))
	m.restarts = m.set.NewCounter(label("restarts_total"))
	m.interrupts = m.set.NewCounter(label("interrupts_total"))
	m.commitTime = m.set.NewHistogram(label("commit_duration_seconds"))
	m.set.NewGauge(label("queued_submissions"), func() float64 {
		return float64(queued())
	})
	m.set.NewGauge(label("value_size_avg_bytes"), func() float64 {
		return float64(m.values.Average())
	})
	m.set.NewGauge(label("value_size_p99_bytes"), func() float64 {
		return float64(m.values.Percentile(99))
	})
	return m
}

// WriteMetrics writes the writer's metrics in Prometheus text format.
func (w *Writer) WriteMetrics(out io.Writer) {
	w.metrics.set.WritePrometheus(out)
}

// ValueSizes returns the distribution of put value sizes seen so far.
func (w *Writer) ValueSizes() *util.SizeHistogram {
	return w.metrics.values
}
