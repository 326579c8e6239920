package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidshare_store_operations_total",
		Help: "Record store operations by collection and outcome",
	}, []string{"op", "collection", "outcome"}) // outcome=ok|error

	storeOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vidshare_store_operation_duration_seconds",
		Help:    "Record store operation latency, including the full backend round trip",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidshare_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vidshare_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	rateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidshare_ratelimit_rejections_total",
		Help: "Requests rejected by the per-client rate limiter",
	}, []string{"route"})

	usersTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vidshare_users_total",
		Help: "Number of users after the last store initialization",
	})
)

// ObserveStoreOp records one store call that started at start.
func ObserveStoreOp(op, collection string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	storeOpsTotal.WithLabelValues(op, collection, outcome).Inc()
	storeOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func RecordRateLimited(route string) {
	rateLimitRejections.WithLabelValues(route).Inc()
}

func SetUsersTotal(n int) {
	usersTotal.Set(float64(n))
}
