package revenuemetrics

import (
	"strings"
	"sync"
)

// Recorder accumulates revenue accounting events. Domain code records
// through the package-level functions so a disabled deployment costs a
// no-op call.
type Recorder interface {
	RecordSettlement(planID, gateway string, amountMinor, credits int64)
	RecordCreditsConsumed(actionKind string, credits int64)
	RecordProGrant()
	SetAccountsTotal(count int64)
	SetCreditsOutstanding(total int64)
	SetMemoryUsage(bytes uint64)
}

type noopRecorder struct{}

func (noopRecorder) RecordSettlement(string, string, int64, int64) {}
func (noopRecorder) RecordCreditsConsumed(string, int64)           {}
func (noopRecorder) RecordProGrant()                               {}
func (noopRecorder) SetAccountsTotal(int64)                        {}
func (noopRecorder) SetCreditsOutstanding(int64)                   {}
func (noopRecorder) SetMemoryUsage(uint64)                         {}

var (
	activeRecorder Recorder = noopRecorder{}
	recorderMu     sync.RWMutex
)

func setRecorder(rec Recorder) {
	if rec == nil {
		return
	}
	recorderMu.Lock()
	activeRecorder = rec
	recorderMu.Unlock()
}

func current() Recorder {
	recorderMu.RLock()
	defer recorderMu.RUnlock()
	return activeRecorder
}

// RecordSettlement counts an applied settlement and its granted credits.
func RecordSettlement(planID, gateway string, amountMinor, credits int64) {
	current().RecordSettlement(planID, gateway, amountMinor, credits)
}

// RecordCreditsConsumed counts credits charged for one usage record.
func RecordCreditsConsumed(actionKind string, credits int64) {
	current().RecordCreditsConsumed(actionKind, credits)
}

// RecordProGrant counts a pro window grant or extension.
func RecordProGrant() {
	current().RecordProGrant()
}

type recorder struct {
	metrics *metrics
}

func (r *recorder) RecordSettlement(planID, gateway string, amountMinor, credits int64) {
	if r == nil || r.metrics == nil {
		return
	}
	plan := normalizeLabel(planID)
	r.metrics.settledMinor.WithLabelValues(plan).Add(float64(amountMinor))
	r.metrics.creditsGranted.WithLabelValues(plan).Add(float64(credits))
	r.metrics.settlements.WithLabelValues(normalizeLabel(gateway)).Inc()
}

func (r *recorder) RecordCreditsConsumed(actionKind string, credits int64) {
	if r == nil || r.metrics == nil {
		return
	}
	r.metrics.creditsConsumed.WithLabelValues(normalizeLabel(actionKind)).Add(float64(credits))
}

func (r *recorder) RecordProGrant() {
	if r == nil || r.metrics == nil {
		return
	}
	r.metrics.proGrants.Inc()
}

func (r *recorder) SetAccountsTotal(count int64) {
	if r == nil || r.metrics == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	r.metrics.accountsTotal.Set(float64(count))
}

func (r *recorder) SetCreditsOutstanding(total int64) {
	if r == nil || r.metrics == nil {
		return
	}
	if total < 0 {
		total = 0
	}
	r.metrics.creditsOutstanding.Set(float64(total))
}

func (r *recorder) SetMemoryUsage(bytes uint64) {
	if r == nil || r.metrics == nil {
		return
	}
	r.metrics.memoryBytes.Set(float64(bytes))
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
