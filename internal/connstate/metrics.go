package connstate

import "time"

// Metrics is the in-process ConnectionMetrics record (spec.md §3). It is
// always read/written under the Manager's lock.
type Metrics struct {
	Attempts              int
	Failures              int
	CumulativeConnectTime time.Duration
	LastError             string
	LastSuccessTime       time.Time
	CurrentState          Status
}
