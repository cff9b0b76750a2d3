package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"l3book/internal/book"
	"l3book/internal/common"
)

const namespace = "l3book"

// Metrics exports book telemetry to Prometheus. It implements book.Observer
// and owns its registry, so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	eventsApplied  *prometheus.CounterVec
	eventsDropped  *prometheus.CounterVec
	gaps           prometheus.Counter
	missedSeqs     prometheus.Counter
	levelsRejected *prometheus.CounterVec
	levelsPruned   *prometheus.CounterVec

	levels      *prometheus.GaugeVec
	orders      prometheus.Gauge
	lastApplied prometheus.Gauge
	spread      prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_applied_total", Help: "Feed events applied to the book by kind",
		}, []string{"kind"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_dropped_total", Help: "Feed events dropped by kind and reason",
		}, []string{"kind", "reason"}),
		gaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sequence_gaps_total", Help: "Applied events that skipped ahead of the expected sequence",
		}),
		missedSeqs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sequence_missed_total", Help: "Sequence numbers skipped over by gaps",
		}),
		levelsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "levels_rejected_total", Help: "New levels rejected because the ladder was full",
		}, []string{"side"}),
		levelsPruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "levels_pruned_total", Help: "Crossed levels pruned by a new best price",
		}, []string{"side"}),
		levels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "levels", Help: "Raw price levels per side",
		}, []string{"side"}),
		orders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "orders", Help: "Resting orders tracked by the book",
		}),
		lastApplied: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_applied_sequence", Help: "Sequence of the last applied event",
		}),
		spread: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "spread", Help: "Best ask minus best bid",
		}),
	}

	m.registry.MustRegister(
		m.eventsApplied, m.eventsDropped, m.gaps, m.missedSeqs,
		m.levelsRejected, m.levelsPruned,
		m.levels, m.orders, m.lastApplied, m.spread,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EventApplied(kind book.Kind) {
	m.eventsApplied.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) EventDropped(kind book.Kind, reason string) {
	m.eventsDropped.WithLabelValues(kind.String(), reason).Inc()
}

func (m *Metrics) GapDetected(expected, got int64) {
	m.gaps.Inc()
	m.missedSeqs.Add(float64(got - expected))
}

func (m *Metrics) LevelRejected(side common.Side) {
	m.levelsRejected.WithLabelValues(side.String()).Inc()
}

func (m *Metrics) LevelsPruned(side common.Side, n int) {
	m.levelsPruned.WithLabelValues(side.String()).Add(float64(n))
}

// ObserveBook samples the book's size gauges. It must be called from the
// goroutine that owns the book.
func (m *Metrics) ObserveBook(b *book.Book) {
	for _, side := range []common.Side{common.Buy, common.Sell} {
		m.levels.WithLabelValues(side.String()).Set(float64(b.Depth(side)))
	}
	m.orders.Set(float64(b.OrderCount()))
	m.lastApplied.Set(float64(b.LastApplied()))

	bid, okBid := b.Best(common.Buy)
	ask, okAsk := b.Best(common.Sell)
	if okBid && okAsk {
		m.spread.Set((ask.Price - bid.Price).Decimal().InexactFloat64())
	}
}
