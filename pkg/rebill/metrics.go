package rebill

import "time"

// Metrics defines the interface for tracking billing operations.
type Metrics interface {
	// RecordChargeAttempt records one charge attempt and its outcome.
	RecordChargeAttempt(userID string, plan Plan, cycle Cycle, amount int64, success bool)

	// RecordIntegritySkip records a subscription skipped for missing
	// billing fields.
	RecordIntegritySkip(userID string)

	// RecordRunDuration records the duration of a full orchestrator sweep.
	RecordRunDuration(duration time.Duration)

	// RecordRunOutcome records the aggregate counts of a sweep.
	RecordRunOutcome(processed, succeeded, failed int, totalCharged int64)

	// RecordStorageOperation records the duration and status of a storage
	// operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordChargeAttempt(userID string, plan Plan, cycle Cycle, amount int64, success bool) {
}
func (n *NoopMetrics) RecordIntegritySkip(userID string)                                          {}
func (n *NoopMetrics) RecordRunDuration(duration time.Duration)                                   {}
func (n *NoopMetrics) RecordRunOutcome(processed, succeeded, failed int, totalCharged int64)      {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
