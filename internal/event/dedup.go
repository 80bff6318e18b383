package event

import "sync"

// Deduper tracks recently processed event ids so at-least-once webhook
// redelivery stays idempotent. The cache is bounded: once capacity is
// reached the oldest id is evicted, so a very late redelivery of an ancient
// event may slip through, which is acceptable.
type Deduper struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	head  int
	cap   int
}

func NewDeduper(capacity int) *Deduper {
	if capacity <= 0 {
		capacity = 1
	}
	return &Deduper{
		seen:  make(map[string]struct{}, capacity),
		order: make([]string, 0, capacity),
		cap:   capacity,
	}
}

// Seen records id and reports whether it had been recorded before.
func (d *Deduper) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}

	if len(d.order) < d.cap {
		d.order = append(d.order, id)
	} else {
		delete(d.seen, d.order[d.head])
		d.order[d.head] = id
		d.head = (d.head + 1) % d.cap
	}
	d.seen[id] = struct{}{}
	return false
}

// Len reports the number of ids currently tracked.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
