// Package metrics declares the Prometheus collectors exposed on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qrattend_sessions_issued_total",
		Help: "Attendance sessions opened by lecturers.",
	})

	// AttendanceAttempts is labelled with "accepted" or the name of the gate that rejected the submission.
	AttendanceAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrattend_attendance_attempts_total",
		Help: "Attendance submissions by outcome.",
	}, []string{"outcome"})

	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrattend_notification_failures_total",
		Help: "Best-effort side effects that failed after attendance was recorded.",
	}, []string{"channel"})

	// EmailsSent is labelled "sent" or "failed".
	EmailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrattend_emails_total",
		Help: "Attendance confirmation e-mails handled by the worker.",
	}, []string{"result"})

	RosterSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qrattend_roster_subscribers",
		Help: "Open live roster streams.",
	})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qrattend_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// GinMiddleware records request latency per matched route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
