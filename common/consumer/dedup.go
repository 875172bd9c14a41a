package consumer

import "sync"

const (
	defaultDedupCapacity = 1000
	defaultDedupTrimTo   = 500
)

// Dedup is the window of recently processed correlation ids. Delivery is
// at-least-once, so a redelivered envelope must be recognised and dropped
// instead of invoking the handler twice. The window is bounded by count;
// when full, the oldest entries are evicted in insertion order down to the
// trim mark.
type Dedup struct {
	mu       sync.Mutex
	capacity int
	trimTo   int
	seen     map[string]struct{}
	order    []string
}

// NewDedup builds a window holding up to capacity ids, trimmed to trimTo
// when full. Zero or inverted values fall back to the defaults.
func NewDedup(capacity, trimTo int) *Dedup {
	if capacity <= 0 {
		capacity = defaultDedupCapacity
	}
	if trimTo <= 0 || trimTo > capacity {
		trimTo = capacity / 2
		if trimTo == 0 {
			trimTo = capacity
		}
	}
	return &Dedup{
		capacity: capacity,
		trimTo:   trimTo,
		seen:     make(map[string]struct{}, capacity),
	}
}

// Seen reports whether the id is inside the window.
func (d *Dedup) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[id]
	return ok
}

// Record adds the id to the window, trimming the oldest entries when the
// capacity is exceeded. Empty ids and ids already present are no-ops: an
// envelope that arrived without a correlation id must never suppress the
// reply to the next one.
func (d *Dedup) Record(id string) {
	if id == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)

	if len(d.order) > d.capacity {
		evict := len(d.order) - d.trimTo
		for _, old := range d.order[:evict] {
			delete(d.seen, old)
		}
		d.order = append(d.order[:0], d.order[evict:]...)
	}
}

// Len reports the number of ids currently held.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}
