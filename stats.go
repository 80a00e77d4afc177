package eventbus

import (
	"context"
	"time"
)

// Stats is a snapshot of bus counters.
type Stats struct {
	State State `json:"state"`

	QueueLen      int `json:"queue_len"`
	QueueCap      int `json:"queue_cap"`
	Subscribers   int `json:"subscribers"`
	SubscriberCap int `json:"subscriber_cap"`

	Published     uint64 `json:"published"`
	Rejected      uint64 `json:"rejected"`
	QueueFull     uint64 `json:"queue_full"`
	Dispatched    uint64 `json:"dispatched"`
	Invocations   uint64 `json:"invocations"`
	HandlerErrors uint64 `json:"handler_errors"`
	HandlerPanics uint64 `json:"handler_panics"`
	Drained       uint64 `json:"drained"`
}

// Stats returns the current counters.
func (b *Bus) Stats() Stats {
	return Stats{
		State:         b.State(),
		QueueLen:      b.queue.Len(),
		QueueCap:      b.queue.Cap(),
		Subscribers:   b.subs.Len(),
		SubscriberCap: b.subs.Cap(),
		Published:     b.stats.published.Load(),
		Rejected:      b.stats.rejected.Load(),
		QueueFull:     b.stats.queueFull.Load(),
		Dispatched:    b.stats.dispatched.Load(),
		Invocations:   b.stats.invocations.Load(),
		HandlerErrors: b.stats.handlerErrors.Load(),
		HandlerPanics: b.stats.handlerPanics.Load(),
		Drained:       b.stats.drained.Load(),
	}
}

// StatusCode represents the health state of the bus
type StatusCode string

const (
	// StatusHealthy indicates the bus is functioning normally
	StatusHealthy StatusCode = "healthy"
	// StatusDegraded indicates the bus is functioning but with issues
	StatusDegraded StatusCode = "degraded"
	// StatusUnhealthy indicates the bus is not functioning
	StatusUnhealthy StatusCode = "unhealthy"
)

// Status contains detailed status information for the bus
type Status struct {
	Code      StatusCode     `json:"status"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CheckedAt time.Time      `json:"checked_at"`
}

// IsHealthy returns true if the status code is healthy
func (s *Status) IsHealthy() bool {
	return s.Code == StatusHealthy
}

// Health reports whether the bus is working and whether its queue is
// saturated. A working bus whose queue is full is degraded, since publishers
// are being refused.
func (b *Bus) Health(ctx context.Context) *Status {
	st := b.Stats()
	result := &Status{
		CheckedAt: time.Now(),
		Details: map[string]any{
			"bus_name":    b.opts.name,
			"bus_id":      b.id,
			"state":       st.State.String(),
			"queue_len":   st.QueueLen,
			"queue_cap":   st.QueueCap,
			"subscribers": st.Subscribers,
		},
	}

	switch {
	case ctx.Err() != nil:
		result.Code = StatusUnhealthy
		result.Message = ctx.Err().Error()
	case st.State != StateWorking:
		result.Code = StatusUnhealthy
		result.Message = "bus is " + st.State.String()
	case st.QueueLen >= st.QueueCap:
		result.Code = StatusDegraded
		result.Message = "event queue is full"
	default:
		result.Code = StatusHealthy
		result.Message = "bus is healthy"
	}
	return result
}
