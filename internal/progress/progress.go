// Package progress computes completion percentages and time remaining for
// long running transfers and reports them through a callback.
package progress

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Func receives the percentage complete (0-100) and the estimated seconds remaining.
type Func func(percent int, etaSeconds int)

// Percent returns done/total as a whole percentage clamped to 0..100.
// It returns 0 when total is unknown.
func Percent(done, total int64) int {
	if total <= 0 || done <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	return int(done * 100 / total)
}

// CalculateETA estimates the time remaining from the elapsed time and the
// percentage complete. It never returns a negative or non-finite value.
func CalculateETA(percent float64, elapsed time.Duration) time.Duration {
	if percent <= 0 || percent >= 100 || math.IsNaN(percent) {
		return 0
	}

	eta := float64(elapsed) * (100 - percent) / percent
	if math.IsNaN(eta) || math.IsInf(eta, 0) || eta < 0 {
		return 0
	}
	if eta > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(eta)
}

// SecondsRemaining rounds eta to whole seconds for display
func SecondsRemaining(eta time.Duration) int {
	if eta <= 0 {
		return 0
	}
	return int(math.Round(eta.Seconds()))
}

// Tracker turns byte counts into throttled progress reports.
// It is safe for concurrent use.
type Tracker struct {
	clock    clockwork.Clock
	throttle time.Duration
	total    int64
	fn       Func

	mu         sync.Mutex
	start      time.Time
	lastReport time.Time
	reported   bool
}

// NewTracker creates a tracker for a transfer of total units. fn may be nil.
func NewTracker(clock clockwork.Clock, throttle time.Duration, total int64, fn Func) *Tracker {
	return &Tracker{
		clock:    clock,
		throttle: throttle,
		total:    total,
		fn:       fn,
	}
}

// Start marks the beginning of the transfer. It is called implicitly by the
// first Update or Report.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startLocked()
}

func (t *Tracker) startLocked() {
	if t.start.IsZero() {
		t.start = t.clock.Now()
	}
}

// Total returns the expected number of units, or 0 when unknown
func (t *Tracker) Total() int64 {
	return t.total
}

// Update reports progress unless a report was sent within the throttle interval.
func (t *Tracker) Update(done int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startLocked()

	now := t.clock.Now()
	if t.reported && now.Sub(t.lastReport) < t.throttle {
		return
	}
	t.reportLocked(done, now)
}

// Report reports progress regardless of the throttle interval.
func (t *Tracker) Report(done int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startLocked()
	t.reportLocked(done, t.clock.Now())
}

func (t *Tracker) reportLocked(done int64, now time.Time) {
	if t.fn == nil || t.total <= 0 {
		return
	}

	percent := Percent(done, t.total)
	eta := CalculateETA(float64(done)*100/float64(t.total), now.Sub(t.start))

	t.lastReport = now
	t.reported = true
	t.fn(percent, SecondsRemaining(eta))
}
