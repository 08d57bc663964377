package viewer

import "sync"

// visibleThreshold is the fraction of a section that must be inside the
// viewport before it counts as viewed.
const visibleThreshold = 0.5

// EventSink receives tracking events. *Client satisfies it.
type EventSink interface {
	TrackEvent(eventType string, eventData map[string]interface{})
}

// Dedup is the per-visit set of tracking keys already fired. Shared between
// the region observer and the signature canvas so signature_started and
// section_viewed draw from one source of truth.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

// NewDedup creates an empty dedup set.
func NewDedup() *Dedup {
	return &Dedup{seen: make(map[string]bool)}
}

// MarkOnce records key and reports whether this call was the first.
func (d *Dedup) MarkOnce(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[key] {
		return false
	}
	d.seen[key] = true
	return true
}

// Seen reports whether key has been marked.
func (d *Dedup) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[key]
}

// RegionObserver watches named proposal sections and reports each one viewed
// exactly once per visit, on the first time at least half of it is visible.
type RegionObserver struct {
	sink  EventSink
	dedup *Dedup

	mu       sync.Mutex
	observed map[string]bool
	disposed bool
}

// NewRegionObserver creates an observer emitting into sink with the shared
// dedup set.
func NewRegionObserver(sink EventSink, dedup *Dedup) *RegionObserver {
	return &RegionObserver{
		sink:     sink,
		dedup:    dedup,
		observed: make(map[string]bool),
	}
}

// Observe registers a section for visibility tracking. Regions without an id
// are ignored.
func (o *RegionObserver) Observe(sectionID string) {
	if sectionID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.disposed {
		return
	}
	o.observed[sectionID] = true
}

// ReportVisibility feeds one intersection measurement for a section. The
// section_viewed event fires on the first measurement at or above the
// threshold; later measurements, including scroll-away-and-back, are silent.
func (o *RegionObserver) ReportVisibility(sectionID string, visibleRatio float64) {
	if sectionID == "" || visibleRatio < visibleThreshold {
		return
	}

	o.mu.Lock()
	if o.disposed || !o.observed[sectionID] {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	if !o.dedup.MarkOnce("section:" + sectionID) {
		return
	}

	o.sink.TrackEvent("section_viewed", map[string]interface{}{
		"sectionId": sectionID,
	})
}

// DisposeAll tears down observation. No events are emitted after disposal.
func (o *RegionObserver) DisposeAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.disposed = true
	o.observed = make(map[string]bool)
}
