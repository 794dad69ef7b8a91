// Package metrics exports session lifecycle metrics to Prometheus. It is
// fed by session transition events only.
package metrics

import (
	"sync"
	"time"

	"github.com/dkeye/callbot/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "callbot"

type Collector struct {
	transitions  *prometheus.CounterVec
	failures     *prometheus.CounterVec
	sessions     *prometheus.GaugeVec
	joinDuration prometheus.Histogram

	mu       sync.Mutex
	states   map[domain.RoomID]domain.SessionState
	resolveT map[domain.RoomID]time.Time
}

func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Voice session state transitions.",
		}, []string{"from_state", "to_state"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "failures_total",
			Help:      "Failed joins by error code.",
		}, []string{"code"}),
		sessions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "rows",
			Help:      "Current session rows by state.",
		}, []string{"state"}),
		joinDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "join_duration_seconds",
			Help:      "Time from resolving to connected.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30},
		}),
		states:   make(map[domain.RoomID]domain.SessionState),
		resolveT: make(map[domain.RoomID]time.Time),
	}
}

// Observe is a session manager subscriber.
func (c *Collector) Observe(ev domain.SessionEvent) {
	c.transitions.WithLabelValues(string(ev.From), string(ev.To)).Inc()
	if ev.To == domain.StateFailed {
		code := ev.Code
		if code == domain.CodeNone {
			code = domain.CodeInternal
		}
		c.failures.WithLabelValues(string(code)).Inc()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.states[ev.RoomID]; ok {
		c.sessions.WithLabelValues(string(prev)).Dec()
	}
	switch ev.To {
	case domain.StateRemoved:
		delete(c.states, ev.RoomID)
		delete(c.resolveT, ev.RoomID)
		return
	case domain.StateResolving:
		c.resolveT[ev.RoomID] = ev.At
	case domain.StateConnected:
		if start, ok := c.resolveT[ev.RoomID]; ok {
			c.joinDuration.Observe(ev.At.Sub(start).Seconds())
			delete(c.resolveT, ev.RoomID)
		}
	}
	c.states[ev.RoomID] = ev.To
	c.sessions.WithLabelValues(string(ev.To)).Inc()
}
