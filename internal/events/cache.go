package events

import (
	"sync"
	"time"
)

// Event is one cached NotificationMessage fragment.
type Event struct {
	XML      string
	Received time.Time
}

// eventCache is a thread-safe bounded FIFO. Appending to a full cache
// overwrites the oldest entry; the poller never blocks on it.
type eventCache struct {
	mu      sync.Mutex
	entries []Event // ring storage, len == capacity
	head    int     // index of the oldest entry
	size    int
}

func newEventCache(capacity int) *eventCache {
	if capacity < 1 {
		capacity = 1
	}
	return &eventCache{entries: make([]Event, capacity)}
}

// Append adds ev and reports whether the oldest entry was dropped to make room.
//
// Complexity: O(1)
func (c *eventCache) Append(ev Event) (dropped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	capN := len(c.entries)
	if c.size == capN {
		// full: the write slot is the oldest entry
		c.entries[c.head] = ev
		c.head = (c.head + 1) % capN
		return true
	}
	c.entries[(c.head+c.size)%capN] = ev
	c.size++
	return false
}

// Drain removes and returns up to n entries, oldest first.
// Returns nil when n <= 0 or the cache is empty.
func (c *eventCache) Drain(n int) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n <= 0 || c.size == 0 {
		return nil
	}
	if n > c.size {
		n = c.size
	}

	capN := len(c.entries)
	out := make([]Event, n)
	for i := 0; i < n; i++ {
		idx := (c.head + i) % capN
		out[i] = c.entries[idx]
		c.entries[idx] = Event{}
	}
	c.head = (c.head + n) % capN
	c.size -= n
	return out
}

func (c *eventCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}
