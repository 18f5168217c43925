package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	onlineGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flagplane_stream_subscribers",
		Help: "Number of connected stream subscribers",
	})
	pushCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flagplane_stream_deliveries_total",
		Help: "Total number of events enqueued to subscribers",
	})
	slowConsumerCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flagplane_stream_slow_consumer_disconnects_total",
		Help: "Subscribers disconnected because their buffer was full",
	})
	publishLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flagplane_stream_publish_seconds",
		Help:    "Time to offer one event to every matching subscriber",
		Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
	})
	writeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flagplane_store_write_seconds",
		Help:    "Latency of flag writes by outcome",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
)

type prometheusObserver struct {
	onlineGauge         prometheus.Gauge
	pushCounter         prometheus.Counter
	slowConsumerCounter prometheus.Counter
	publishLatency      prometheus.Histogram
	writeLatency        *prometheus.HistogramVec
}

// NewPrometheusObserver returns an observer backed by the default registry,
// which also carries the go runtime collector (go_goroutines,
// go_memstats_heap_alloc_bytes).
func NewPrometheusObserver() *prometheusObserver {
	return &prometheusObserver{
		onlineGauge:         onlineGauge,
		pushCounter:         pushCounter,
		slowConsumerCounter: slowConsumerCounter,
		publishLatency:      publishLatency,
		writeLatency:        writeLatency,
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func (p *prometheusObserver) IncOnline() {
	p.onlineGauge.Inc()
}

func (p *prometheusObserver) DecOnline() {
	p.onlineGauge.Dec()
}

func (p *prometheusObserver) RecordPush(deliveries int) {
	p.pushCounter.Add(float64(deliveries))
}

func (p *prometheusObserver) RecordSlowConsumer() {
	p.slowConsumerCounter.Inc()
}

func (p *prometheusObserver) ObservePublishLatency(seconds float64) {
	p.publishLatency.Observe(seconds)
}

func (p *prometheusObserver) ObserveWrite(outcome string, seconds float64) {
	p.writeLatency.WithLabelValues(outcome).Observe(seconds)
}
