package events

import (
	"context"
	"sync"
	"time"
)

// Subscription is one emulated pull point. Ref, CameraID and CameraURL are
// fixed at creation; the rest is guarded by mu or by the cache's own lock.
type Subscription struct {
	Ref       string
	CameraID  string
	CameraURL string // the camera's own subscription address
	Created   time.Time

	mu       sync.RWMutex
	expires  time.Time
	lastPoll time.Time

	cache *eventCache

	ctx    context.Context // poller lifetime
	cancel context.CancelFunc
	done   chan struct{} // closed when the poller has returned
}

// Info is a point-in-time view of a subscription.
type Info struct {
	Ref       string    `json:"ref"`
	CameraID  string    `json:"camera_id"`
	CameraURL string    `json:"camera_url"`
	Created   time.Time `json:"created"`
	Expires   time.Time `json:"expires"`
	LastPoll  time.Time `json:"last_poll,omitempty"`
	Cached    int       `json:"cached_events"`
}

func (s *Subscription) Expires() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expires
}

func (s *Subscription) setExpires(t time.Time) {
	s.mu.Lock()
	s.expires = t
	s.mu.Unlock()
}

func (s *Subscription) markPolled(t time.Time) {
	s.mu.Lock()
	s.lastPoll = t
	s.mu.Unlock()
}

func (s *Subscription) info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		Ref:       s.Ref,
		CameraID:  s.CameraID,
		CameraURL: s.CameraURL,
		Created:   s.Created,
		Expires:   s.expires,
		LastPoll:  s.lastPoll,
		Cached:    s.cache.Len(),
	}
}
