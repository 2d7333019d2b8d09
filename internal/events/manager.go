// Package events emulates ONVIF pull-point subscriptions on top of cameras
// whose own event service is unreliable: one motion-state poller per
// subscription feeds a bounded cache that PullMessages reads from.
package events

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anthonyacole/onvif-proxy/internal/camera"
	"github.com/anthonyacole/onvif-proxy/internal/xmltree"
	"github.com/beevik/etree"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotFound         = errors.New("subscription not found")
	ErrClosed           = errors.New("subscription manager closed")
	ErrUpstreamResponse = errors.New("unusable camera event response")
)

// Upstream is the camera side of a subscription. *camera.Client implements it.
type Upstream interface {
	Endpoint() camera.Endpoint
	SendSOAP(ctx context.Context, path, body string) (string, error)
	MotionState(ctx context.Context) (bool, error)
}

type Options struct {
	PollInterval  time.Duration `yaml:"poll_interval"`  // motion-state query period
	Lifetime      time.Duration `yaml:"lifetime"`       // initial lifetime and Renew extension
	CacheSize     int           `yaml:"cache_size"`     // events kept per subscription
	SweepInterval time.Duration `yaml:"sweep_interval"` // expiry check period for Run
	WaitStep      time.Duration `yaml:"wait_step"`      // PullMessages cache re-check period
}

func DefaultOptions() Options {
	return Options{
		PollInterval:  500 * time.Millisecond,
		Lifetime:      600 * time.Second,
		CacheSize:     100,
		SweepInterval: 30 * time.Second,
		WaitStep:      100 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.Lifetime <= 0 {
		o.Lifetime = d.Lifetime
	}
	if o.CacheSize <= 0 {
		o.CacheSize = d.CacheSize
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = d.SweepInterval
	}
	if o.WaitStep <= 0 {
		o.WaitStep = d.WaitStep
	}
	return o
}

// Camera subscription address element, most specific prefix first.
var addressPrefixes = []string{"wsa5", "wsa", "wsa2", ""}

// Manager owns every live subscription. It is safe for concurrent use.
//
// Subscription Lifecycle:
//   - Create: camera call, then the record and its poller are registered.
//   - Renew: camera call, then the expiry is pushed back by Lifetime.
//   - Unsubscribe: camera call, then the record is removed and its poller cancelled.
//   - Sweep (via Run): records past their expiry are removed and cancelled.
//
// The table lock is never held across a camera call or a PullMessages wait.
type Manager struct {
	opts Options
	log  *zap.Logger

	mu       sync.RWMutex
	subs     map[string]*Subscription // Protected by mu
	expiries *expiryQueue             // Protected by mu

	ctx    context.Context // parent of every poller
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(opts Options, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:     opts.withDefaults(),
		log:      log.Named("events"),
		subs:     make(map[string]*Subscription),
		expiries: newExpiryQueue(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Create issues CreatePullPointSubscription to the camera, registers a
// subscription with its poller and returns the new reference together with
// the camera response whose Address now points at
// {proxyBaseURL}/onvif/{cameraID}/subscription/{ref}.
func (m *Manager) Create(ctx context.Context, up Upstream, proxyBaseURL string) (string, string, error) {
	if m.ctx.Err() != nil {
		return "", "", ErrClosed
	}
	ep := up.Endpoint()

	raw, err := up.SendSOAP(ctx, camera.PathEvents, camera.CreatePullPointSubscriptionBody())
	if err != nil {
		return "", "", err
	}

	doc, err := xmltree.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("%w: CreatePullPointSubscription: %v", ErrUpstreamResponse, err)
	}

	ref := uuid.NewString()
	proxyURL := fmt.Sprintf("%s/onvif/%s/subscription/%s", strings.TrimRight(proxyBaseURL, "/"), ep.ID, ref)

	cameraURL := ep.BaseURL() + camera.PathEvents
	if addr := findAddress(doc.Root()); addr != nil {
		if text := strings.TrimSpace(xmltree.Text(addr)); text != "" {
			cameraURL = text
		}
		addr.SetText(proxyURL)
	} else {
		m.log.Warn("no subscription address in camera response, using default path",
			zap.String("camera_id", ep.ID), zap.String("camera_url", cameraURL))
	}

	out, err := xmltree.String(doc)
	if err != nil {
		return "", "", fmt.Errorf("%w: CreatePullPointSubscription: %v", ErrUpstreamResponse, err)
	}

	now := time.Now()
	pctx, cancel := context.WithCancel(m.ctx)
	sub := &Subscription{
		Ref:       ref,
		CameraID:  ep.ID,
		CameraURL: cameraURL,
		Created:   now,
		expires:   now.Add(m.opts.Lifetime),
		cache:     newEventCache(m.opts.CacheSize),
		ctx:       pctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	// Checked under the lock so wg.Add cannot land after Close's Wait.
	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		cancel()
		m.log.Warn("manager closed while creating subscription, camera side left to expire",
			zap.String("camera_id", ep.ID), zap.String("camera_url", cameraURL))
		return "", "", ErrClosed
	}
	m.subs[ref] = sub
	m.expiries.push(ref, sub.expires)
	m.wg.Add(1)
	m.mu.Unlock()

	go m.poll(sub, up)

	m.log.Info("subscription created",
		zap.String("ref", ref),
		zap.String("camera_id", ep.ID),
		zap.String("camera_url", cameraURL),
	)
	return ref, out, nil
}

// findAddress returns the Address element of the camera response, trying
// the known prefix variants in order.
func findAddress(root *etree.Element) *etree.Element {
	if root == nil {
		return nil
	}
	var candidates []*etree.Element
	xmltree.Walk(root, func(e *etree.Element) {
		if e.Tag == "Address" {
			candidates = append(candidates, e)
		}
	})
	for _, prefix := range addressPrefixes {
		for _, c := range candidates {
			if c.Space == prefix {
				return c
			}
		}
	}
	return nil
}

// Pull waits up to timeout for cached events and returns a PullMessagesResponse
// envelope with at most limit of them, oldest first. The wait ends as soon as
// at least one event is collected, limit is reached or the deadline passes.
func (m *Manager) Pull(ctx context.Context, ref string, timeout time.Duration, limit int) (string, error) {
	sub, ok := m.lookup(ref)
	if !ok {
		return "", ErrNotFound
	}
	if limit < 1 {
		limit = 1
	}

	deadline := time.Now().Add(timeout)
	var collected []Event

wait:
	for {
		collected = append(collected, sub.cache.Drain(limit-len(collected))...)
		if len(collected) > 0 {
			break
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		step := m.opts.WaitStep
		if remaining < step {
			step = remaining
		}
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			break wait
		case <-sub.ctx.Done():
			timer.Stop()
			break wait
		case <-timer.C:
		}
	}

	return pullMessagesResponse(time.Now(), sub.Expires(), collected), nil
}

// Renew forwards Renew to the camera's own subscription path and, when ref is
// known, extends its expiry by the configured lifetime. An unknown ref is
// forwarded to the default event service path and otherwise ignored.
func (m *Manager) Renew(ctx context.Context, up Upstream, ref string) (string, error) {
	path := camera.PathEvents
	sub, known := m.lookup(ref)
	if known {
		path = subscriptionPath(sub.CameraURL)
	}

	resp, err := up.SendSOAP(ctx, path, camera.RenewBody())
	if err != nil {
		return "", err
	}

	if known {
		expires := time.Now().Add(m.opts.Lifetime)
		m.mu.Lock()
		if _, still := m.subs[ref]; still {
			sub.setExpires(expires)
			m.expiries.push(ref, expires)
		}
		m.mu.Unlock()
		m.log.Debug("subscription renewed", zap.String("ref", ref), zap.Time("expires", expires))
	}
	return resp, nil
}

// Unsubscribe forwards Unsubscribe to the camera, then removes the local
// record and stops its poller.
//
// Idempotent locally: an unknown ref is forwarded to the default path.
func (m *Manager) Unsubscribe(ctx context.Context, up Upstream, ref string) (string, error) {
	path := camera.PathEvents
	if sub, ok := m.lookup(ref); ok {
		path = subscriptionPath(sub.CameraURL)
	}

	resp, err := up.SendSOAP(ctx, path, camera.UnsubscribeBody())
	if err != nil {
		return "", err
	}

	if m.remove(ref) {
		m.log.Info("subscription removed", zap.String("ref", ref))
	}
	return resp, nil
}

// Run sweeps expired subscriptions every SweepInterval until ctx is done,
// then stops every poller.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Close()
			return nil
		case now := <-ticker.C:
			if n := m.Sweep(now); n > 0 {
				m.log.Info("expired subscriptions removed", zap.Int("count", n))
			}
		}
	}
}

// Sweep removes every subscription whose expiry is not after now and cancels
// its poller. Returns the number removed.
func (m *Manager) Sweep(now time.Time) int {
	var expired []*Subscription

	m.mu.Lock()
	for _, ref := range m.expiries.due(now) {
		if sub, found := m.subs[ref]; found {
			delete(m.subs, ref)
			expired = append(expired, sub)
		}
	}
	m.mu.Unlock()

	for _, sub := range expired {
		sub.cancel()
		m.log.Debug("subscription expired", zap.String("ref", sub.Ref), zap.String("camera_id", sub.CameraID))
	}
	return len(expired)
}

// DropCamera removes every subscription of cameraID without contacting the
// camera. Used when a camera is removed or its connection details replaced.
func (m *Manager) DropCamera(cameraID string) int {
	var dropped []*Subscription

	m.mu.Lock()
	for ref, sub := range m.subs {
		if sub.CameraID != cameraID {
			continue
		}
		delete(m.subs, ref)
		m.expiries.remove(ref)
		dropped = append(dropped, sub)
	}
	m.mu.Unlock()

	for _, sub := range dropped {
		sub.cancel()
	}
	if len(dropped) > 0 {
		m.log.Info("camera subscriptions dropped", zap.String("camera_id", cameraID), zap.Int("count", len(dropped)))
	}
	return len(dropped)
}

// Close cancels every poller and waits for them to return. Further Create
// calls fail with ErrClosed.
func (m *Manager) Close() {
	m.cancel()

	m.mu.Lock()
	m.subs = make(map[string]*Subscription)
	m.expiries = newExpiryQueue()
	m.mu.Unlock()

	m.wg.Wait()
}

// Lookup returns a snapshot of one subscription.
func (m *Manager) Lookup(ref string) (Info, bool) {
	sub, ok := m.lookup(ref)
	if !ok {
		return Info{}, false
	}
	return sub.info(), true
}

// List returns snapshots of every live subscription, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

func (m *Manager) lookup(ref string) (*Subscription, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[ref]
	return sub, ok
}

func (m *Manager) remove(ref string) bool {
	m.mu.Lock()
	sub, ok := m.subs[ref]
	if ok {
		delete(m.subs, ref)
		m.expiries.remove(ref)
	}
	m.mu.Unlock()

	if ok {
		sub.cancel()
	}
	return ok
}

// poll queries the camera's motion state every PollInterval and caches one
// notification per state change. The last state starts out false.
func (m *Manager) poll(sub *Subscription, up Upstream) {
	defer m.wg.Done()
	defer close(sub.done)

	log := m.log.With(zap.String("ref", sub.Ref), zap.String("camera_id", sub.CameraID))
	log.Debug("poller started")
	defer log.Debug("poller stopped")

	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	last := false
	for {
		select {
		case <-sub.ctx.Done():
			return
		case <-ticker.C:
		}

		motion, err := up.MotionState(sub.ctx)
		now := time.Now()
		sub.markPolled(now)
		if err != nil {
			if sub.ctx.Err() != nil {
				return
			}
			log.Debug("motion state query failed", zap.Error(err))
			continue
		}
		if motion == last {
			continue
		}
		last = motion

		xml, err := motionNotification(motion, now)
		if err != nil {
			log.Error("render notification", zap.Error(err))
			continue
		}
		if dropped := sub.cache.Append(Event{XML: xml, Received: now}); dropped {
			log.Debug("event cache full, oldest event dropped")
		}
		log.Debug("motion state changed", zap.Bool("motion", motion))
	}
}

// subscriptionPath turns the camera's subscription URL into a request path
// on the configured camera address.
func subscriptionPath(cameraURL string) string {
	u, err := url.Parse(cameraURL)
	if err != nil || u.Path == "" {
		return camera.PathEvents
	}
	if u.RawQuery != "" {
		return u.Path + "?" + u.RawQuery
	}
	return u.Path
}
