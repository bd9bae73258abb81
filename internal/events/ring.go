package events

import (
	"time"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
)

type record struct {
	event       domain.Event
	processedAt time.Time
}

// ring is a fixed-size circular buffer of records. Callers hold the
// manager's lock.
type ring struct {
	records []record
	size    int
	head    int
	count   int
}

func newRing(size int) *ring {
	if size <= 0 {
		size = 1000
	}
	return &ring{
		records: make([]record, size),
		size:    size,
	}
}

func (r *ring) push(rec record) {
	r.records[r.head] = rec
	r.head = (r.head + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

// each visits records oldest first until fn returns false.
func (r *ring) each(fn func(record) bool) {
	start := (r.head - r.count + r.size) % r.size
	for i := 0; i < r.count; i++ {
		if !fn(r.records[(start+i)%r.size]) {
			return
		}
	}
}

// recent returns up to n records, oldest first.
func (r *ring) recent(n int) []record {
	if n <= 0 || r.count == 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}
	out := make([]record, 0, n)
	skip := r.count - n
	r.each(func(rec record) bool {
		if skip > 0 {
			skip--
			return true
		}
		out = append(out, rec)
		return true
	})
	return out
}

func (r *ring) len() int {
	return r.count
}

func (r *ring) clear() {
	r.records = make([]record, r.size)
	r.head = 0
	r.count = 0
}
