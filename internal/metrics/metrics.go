// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the application collectors. A nil *Metrics is a no-op.
type Metrics struct {
	MembersAdded      prometheus.Counter
	MembersDeleted    prometheus.Counter
	AttendanceToggles *prometheus.CounterVec
	AuthEvents        *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MembersAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gracelog",
			Name:      "members_added_total",
			Help:      "Members registered.",
		}),
		MembersDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gracelog",
			Name:      "members_deleted_total",
			Help:      "Members removed.",
		}),
		AttendanceToggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gracelog",
			Name:      "attendance_toggles_total",
			Help:      "Attendance toggles by resulting state.",
		}, []string{"result"}),
		AuthEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gracelog",
			Name:      "auth_events_total",
			Help:      "Authentication outcomes by event.",
		}, []string{"event"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gracelog",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.MembersAdded, m.MembersDeleted, m.AttendanceToggles, m.AuthEvents, m.RequestDuration)
	return m
}

func (m *Metrics) MemberAdded() {
	if m != nil {
		m.MembersAdded.Inc()
	}
}

func (m *Metrics) MemberDeleted() {
	if m != nil {
		m.MembersDeleted.Inc()
	}
}

// Toggled counts a toggle that left the record present or absent.
func (m *Metrics) Toggled(present bool) {
	if m == nil {
		return
	}
	result := "absent"
	if present {
		result = "present"
	}
	m.AttendanceToggles.WithLabelValues(result).Inc()
}

func (m *Metrics) Auth(event string) {
	if m != nil {
		m.AuthEvents.WithLabelValues(event).Inc()
	}
}

// GinMiddleware observes request latency labelled by the matched route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
