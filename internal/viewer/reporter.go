package viewer

import (
	"sync"
	"time"
)

// TimeReporter ships incremental viewing time on a fixed interval and flushes
// the remainder on teardown. Each report carries only the seconds since the
// previous report; the server owns the cumulative total.
type TimeReporter struct {
	interval time.Duration
	report   func(seconds int)

	mu       sync.Mutex
	last     time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewTimeReporter creates a reporter. report is called with each increment;
// wire it to Client.TrackTime.
func NewTimeReporter(interval time.Duration, report func(seconds int)) *TimeReporter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &TimeReporter{
		interval: interval,
		report:   report,
		stopCh:   make(chan struct{}),
	}
}

// Start begins interval reporting. Call Stop on page unload.
func (t *TimeReporter) Start() {
	t.mu.Lock()
	t.last = time.Now()
	t.mu.Unlock()

	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Flush()
			case <-t.stopCh:
				return
			}
		}
	}()
}

// Flush reports the seconds accumulated since the last flush. Sub-second
// remainders stay in the accumulator for the next flush.
func (t *TimeReporter) Flush() {
	t.mu.Lock()
	now := time.Now()
	elapsed := int(now.Sub(t.last).Seconds())
	if elapsed > 0 {
		t.last = t.last.Add(time.Duration(elapsed) * time.Second)
	}
	t.mu.Unlock()

	if elapsed > 0 && t.report != nil {
		t.report(elapsed)
	}
}

// Stop halts the ticker and flushes a final best-effort report.
func (t *TimeReporter) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		t.Flush()
	})
}
