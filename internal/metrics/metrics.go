package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Wake signal dispatches partitioned by channel and result
	PushDispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wakeline_push_dispatch_total",
			Help: "Wake signal dispatches by channel and result",
		},
		[]string{"channel", "result"},
	)

	PushDispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wakeline_push_dispatch_duration_seconds",
			Help:    "Latency of outbound push provider calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	SchedulerRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wakeline_scheduler_runs_total",
			Help: "Scheduler passes executed",
		},
	)

	// Users seen by the scheduler partitioned by what happened to them
	SchedulerUsersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wakeline_scheduler_users_total",
			Help: "Users evaluated by the scheduler by category",
		},
		[]string{"category"},
	)

	RetryActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wakeline_retry_actions_total",
			Help: "Retry processor actions (redispatched, exhausted, failed)",
		},
		[]string{"action"},
	)

	ReceiptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wakeline_receipts_total",
			Help: "Delivery receipts processed",
		},
		[]string{"status", "acknowledged"},
	)

	PendingCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wakeline_pending_calls",
			Help: "Calls awaiting acknowledgment at the last retry pass",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wakeline_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wakeline_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Middleware records request counts and latency. The route label uses the
// mux path template to keep cardinality low.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
