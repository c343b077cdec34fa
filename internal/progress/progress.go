// Package progress computes import progress from operation counts.
package progress

import (
	"sync"
	"time"
)

// Report is one progress observation.
type Report struct {
	Completed    int
	Total        int
	Percent      float64
	OpsPerSecond float64
	Elapsed      time.Duration
}

// Sink receives progress reports. A nil Sink discards them.
type Sink func(Report)

// Compute derives percentage and throughput. Percent is clamped to [0,100]
// and is 0 when total is 0.
func Compute(completed, total int, elapsed time.Duration) Report {
	r := Report{Completed: completed, Total: total, Elapsed: elapsed}
	if total > 0 {
		r.Percent = float64(completed) / float64(total) * 100
	}
	if r.Percent > 100 {
		r.Percent = 100
	}
	if r.Percent < 0 {
		r.Percent = 0
	}
	if secs := elapsed.Seconds(); secs > 0 {
		r.OpsPerSecond = float64(completed) / secs
	}
	return r
}

// Tracker counts completed operations for one import and forwards reports
// to a sink. It is safe for concurrent use; reports reach the sink in
// non-decreasing Completed order.
type Tracker struct {
	sink    Sink
	now     func() time.Time
	started time.Time

	mu        sync.Mutex
	total     int
	completed int
}

func NewTracker(sink Sink) *Tracker {
	return newTracker(sink, time.Now)
}

func newTracker(sink Sink, now func() time.Time) *Tracker {
	return &Tracker{sink: sink, now: now, started: now()}
}

// SetTotal fixes the number of operations expected.
func (t *Tracker) SetTotal(total int) {
	t.mu.Lock()
	t.total = total
	t.mu.Unlock()
}

// Add records n completed operations and emits a report.
func (t *Tracker) Add(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed += n
	t.emit(Compute(t.completed, t.total, t.now().Sub(t.started)))
}

// Finish emits the final report, which always reads 100%.
func (t *Tracker) Finish() Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completed < t.total {
		t.completed = t.total
	}
	r := Compute(t.completed, t.total, t.now().Sub(t.started))
	r.Percent = 100
	t.emit(r)
	return r
}

func (t *Tracker) Completed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

func (t *Tracker) emit(r Report) {
	if t.sink == nil {
		return
	}
	t.sink(r)
}
