package platform

import "sync"

// Metric event names recorded by the platform and the HTTP handlers.
const (
	MetricSessionRefreshed       = "auth.session.refreshed"
	MetricSessionCookieDropped   = "auth.session.cookie_write_skipped"
	MetricSessionRefreshReplayed = "auth.session.refresh_replayed"
	MetricCallbackSuccess        = "auth.callback.success"
	MetricCallbackRejected       = "auth.callback.rejected"
	MetricCallbackFailure        = "auth.callback.failure"
	MetricSessionAuthenticated   = "auth.session.authenticated"
	MetricSessionAnonymous       = "auth.session.anonymous"
	MetricSignOut                = "auth.logout.success"
	MetricVoteSuccess            = "community.vote.success"
	MetricVoteFailure            = "community.vote.failure"
	MetricRequestUnauthorized    = "auth.require_user.unauthorized"
)

// MetricsRecorder increments counters for auth and community events.
type MetricsRecorder interface {
	Increment(event string)
}

// CounterMetrics implements MetricsRecorder with in-memory counts.
type CounterMetrics struct {
	mutex  sync.Mutex
	counts map[string]int64
}

// NewCounterMetrics constructs an in-memory metrics recorder.
func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{counts: make(map[string]int64)}
}

// Increment increases the counter for the given event.
func (recorder *CounterMetrics) Increment(event string) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.counts[event]++
}

// Count returns the current value for the given event.
func (recorder *CounterMetrics) Count(event string) int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return recorder.counts[event]
}

// Snapshot returns a copy of all recorded counters.
func (recorder *CounterMetrics) Snapshot() map[string]int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	clone := make(map[string]int64, len(recorder.counts))
	for key, value := range recorder.counts {
		clone[key] = value
	}
	return clone
}

type noopMetrics struct{}

func (noopMetrics) Increment(event string) {}

// NewNoopMetrics returns a recorder that discards every event.
func NewNoopMetrics() MetricsRecorder {
	return noopMetrics{}
}
