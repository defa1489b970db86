package observability

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	codecMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kproxy",
			Subsystem: "codec",
			Name:      "messages_total",
			Help:      "Requests decoded successfully.",
		},
		[]string{"filter", "api_key", "api_version"},
	)
	codecFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kproxy",
			Subsystem: "codec",
			Name:      "parse_failures_total",
			Help:      "Requests that could not be decoded, by reason.",
		},
		[]string{"filter", "reason"},
	)
	codecBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kproxy",
			Subsystem: "codec",
			Name:      "consumed_bytes_total",
			Help:      "Bytes consumed by stream decoders.",
		},
		[]string{"filter"},
	)
	codecDesyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kproxy",
			Subsystem: "codec",
			Name:      "desyncs_total",
			Help:      "Connections closed because framing was lost.",
		},
		[]string{"filter"},
	)
	codecMessageSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kproxy",
			Subsystem: "codec",
			Name:      "message_size_bytes",
			Help:      "Declared request length in bytes.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 10),
		},
		[]string{"filter"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(codecMessages, codecFailures, codecBytes, codecDesyncs, codecMessageSize)
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordMessage(filter string, apiKey, apiVersion int16, length int32) {
	RegisterMetrics()
	codecMessages.WithLabelValues(filter, strconv.Itoa(int(apiKey)), strconv.Itoa(int(apiVersion))).Inc()
	codecMessageSize.WithLabelValues(filter).Observe(float64(length))
}

func RecordFailure(filter, reason string, length int32) {
	RegisterMetrics()
	codecFailures.WithLabelValues(filter, reason).Inc()
	codecMessageSize.WithLabelValues(filter).Observe(float64(length))
}

func RecordConsumed(filter string, n int) {
	RegisterMetrics()
	codecBytes.WithLabelValues(filter).Add(float64(n))
}

func RecordDesync(filter string) {
	RegisterMetrics()
	codecDesyncs.WithLabelValues(filter).Inc()
}
