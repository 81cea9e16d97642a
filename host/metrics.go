package host

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics is the Host's instrumentation surface (spec §4.4 "expose
// instrumentation"). Counters are package-level via promauto the way
// the corpus's own Prometheus consumers register metrics, so repeated
// Host construction within one process registers each metric once.
type metrics struct {
	requestsSubmitted     prometheus.Counter
	requestsCompleted     prometheus.Counter
	resubmits             prometheus.Counter
	resubmitLimitExceeded prometheus.Counter
	ioWaits               prometheus.Counter
}

var (
	metricRequestsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ski_arena",
		Subsystem: "host",
		Name:      "requests_submitted_total",
		Help:      "Requests submitted via SubmitAsync.",
	})
	metricRequestsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ski_arena",
		Subsystem: "host",
		Name:      "requests_completed_total",
		Help:      "Requests resolved with a final result.",
	})
	metricResubmits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ski_arena",
		Subsystem: "host",
		Name:      "resubmits_total",
		Help:      "Step-budget suspensions automatically resubmitted by the poller.",
	})
	metricResubmitLimitExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ski_arena",
		Subsystem: "host",
		Name:      "resubmit_limit_exceeded_total",
		Help:      "Requests failed after exceeding Config.MaxResubmits.",
	})
	metricIOWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ski_arena",
		Subsystem: "host",
		Name:      "io_waits_total",
		Help:      "Suspensions registered for an IO-wait wake-up.",
	})
)

func newMetrics() *metrics {
	return &metrics{
		requestsSubmitted:     metricRequestsSubmitted,
		requestsCompleted:     metricRequestsCompleted,
		resubmits:             metricResubmits,
		resubmitLimitExceeded: metricResubmitLimitExceeded,
		ioWaits:               metricIOWaits,
	}
}
