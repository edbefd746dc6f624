package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	InlineCompleted  = prometheus.NewCounter(prometheus.CounterOpts{Name: "async_requests_inline_completed_total", Help: "Requests completed within the synchronous budget"})
	Dispatched       = prometheus.NewCounter(prometheus.CounterOpts{Name: "async_requests_dispatched_total", Help: "Jobs handed to the dispatch queue"})
	Reattachments    = prometheus.NewCounter(prometheus.CounterOpts{Name: "async_requests_reattached_total", Help: "Requests short-circuited to an existing record"})
	PendingReturned  = prometheus.NewCounter(prometheus.CounterOpts{Name: "async_requests_pending_total", Help: "Requests answered with a pending signal"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "async_requests_rate_limit_rejects_total", Help: "Requests rejected by the per-user rate limiter"})
	WorkerSuccess    = prometheus.NewCounter(prometheus.CounterOpts{Name: "worker_completed_total", Help: "Jobs concluded with a success outcome"})
	WorkerFailure    = prometheus.NewCounter(prometheus.CounterOpts{Name: "worker_failed_total", Help: "Jobs concluded with a failure outcome or error"})
	WorkerDuplicate  = prometheus.NewCounter(prometheus.CounterOpts{Name: "worker_duplicate_delivery_total", Help: "Redeliveries skipped because the record was already terminal"})
	WorkerDeadLetter = prometheus.NewCounter(prometheus.CounterOpts{Name: "worker_dead_letter_total", Help: "Jobs moved to the DLQ"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "dispatch_queue_depth", Help: "Ready dispatch queue depth"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "dispatch_inflight", Help: "Jobs currently leased"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			InlineCompleted,
			Dispatched,
			Reattachments,
			PendingReturned,
			RateLimitRejects,
			WorkerSuccess,
			WorkerFailure,
			WorkerDuplicate,
			WorkerDeadLetter,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
