package interceptor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wireloop/wireloop/rpcctx"
	"github.com/wireloop/wireloop/status"
)

// Metrics records per-method RPC counts and latency, grounded on the
// teacher's MetricsInterceptor but backed by real prometheus collectors
// instead of plain counters so the values can be scraped.
type Metrics struct {
	requestsTotal *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

// NewMetrics registers its collectors on reg and returns the interceptor.
// Passing prometheus.NewRegistry() (rather than the global DefaultRegisterer)
// keeps repeated test construction from panicking on duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wireloop_rpc_requests_total",
			Help: "Total RPCs processed, labeled by method and status code.",
		}, []string{"method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wireloop_rpc_duration_seconds",
			Help:    "RPC handler latency in seconds, labeled by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
	reg.MustRegister(m.requestsTotal, m.duration)
	return m
}

func (m *Metrics) Intercept(ctx *rpcctx.Context, method string, next Next) *status.Status {
	start := time.Now()
	st := next(ctx)
	m.duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	m.requestsTotal.WithLabelValues(method, status.FromError(st.Err()).Code().String()).Inc()
	return st
}
