package metrics

import (
	"testing"
	"time"

	"github.com/dkeye/callbot/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_TracksLifecycle(t *testing.T) {
	c := New(prometheus.NewRegistry())
	at := time.Unix(1700000000, 0)
	room := domain.RoomID("!a:example.org")

	steps := []domain.SessionEvent{
		{RoomID: room, From: domain.StateIdle, To: domain.StateResolving, At: at},
		{RoomID: room, From: domain.StateResolving, To: domain.StateTokenAcquired, At: at.Add(time.Second)},
		{RoomID: room, From: domain.StateTokenAcquired, To: domain.StateConnected, At: at.Add(2 * time.Second)},
	}
	for _, ev := range steps {
		c.Observe(ev)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessions.WithLabelValues("Connected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.sessions.WithLabelValues("Resolving")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("Idle", "Resolving")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.joinDuration))

	c.Observe(domain.SessionEvent{RoomID: room, From: domain.StateConnected, To: domain.StateDisconnecting, At: at})
	c.Observe(domain.SessionEvent{RoomID: room, From: domain.StateDisconnecting, To: domain.StateRemoved, At: at})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.sessions.WithLabelValues("Connected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.sessions.WithLabelValues("Disconnecting")))
}

func TestCollector_CountsFailuresByCode(t *testing.T) {
	c := New(prometheus.NewRegistry())
	c.Observe(domain.SessionEvent{RoomID: "!a:x", From: domain.StateIdle, To: domain.StateResolving})
	c.Observe(domain.SessionEvent{RoomID: "!a:x", From: domain.StateResolving, To: domain.StateFailed, Code: domain.CodeNoCallDescriptor})
	c.Observe(domain.SessionEvent{RoomID: "!b:x", From: domain.StateResolving, To: domain.StateFailed})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.failures.WithLabelValues("NoCallDescriptor")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failures.WithLabelValues("Internal")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.sessions.WithLabelValues("Failed")))
}
