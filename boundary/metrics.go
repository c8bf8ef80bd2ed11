package boundary

import "go.uber.org/atomic"

// Metrics counts boundary activity. All fields are safe for concurrent use.
type Metrics struct {
	submitted          atomic.Int64
	completed          atomic.Int64
	failed             atomic.Int64
	inFlight           atomic.Int64
	abandoned          atomic.Int64
	buffersOutstanding atomic.Int64
	tempRemoveFailures atomic.Int64
	sessionOpens       atomic.Int64
	sessionReuses      atomic.Int64
	sessionFailures    atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Submitted          int64 `json:"tasks_submitted"`
	Completed          int64 `json:"tasks_completed"`
	Failed             int64 `json:"tasks_failed"`
	InFlight           int64 `json:"tasks_in_flight"`
	Abandoned          int64 `json:"tasks_abandoned"`
	BuffersOutstanding int64 `json:"buffers_outstanding"`
	TempRemoveFailures int64 `json:"temp_remove_failures"`
	SessionOpens       int64 `json:"session_opens"`
	SessionReuses      int64 `json:"session_reuses"`
	SessionFailures    int64 `json:"session_failures"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Submitted:          m.submitted.Load(),
		Completed:          m.completed.Load(),
		Failed:             m.failed.Load(),
		InFlight:           m.inFlight.Load(),
		Abandoned:          m.abandoned.Load(),
		BuffersOutstanding: m.buffersOutstanding.Load(),
		TempRemoveFailures: m.tempRemoveFailures.Load(),
		SessionOpens:       m.sessionOpens.Load(),
		SessionReuses:      m.sessionReuses.Load(),
		SessionFailures:    m.sessionFailures.Load(),
	}
}
