package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anthonyacole/onvif-proxy/internal/camera"
	"github.com/anthonyacole/onvif-proxy/internal/soap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const createResponse = `<?xml version="1.0" encoding="UTF-8"?>
<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://www.w3.org/2003/05/soap-envelope" xmlns:tev="http://www.onvif.org/ver10/events/wsdl" xmlns:wsa5="http://www.w3.org/2005/08/addressing">
<SOAP-ENV:Body><tev:CreatePullPointSubscriptionResponse><tev:SubscriptionReference><wsa5:Address>http://192.168.1.10:8000/onvif/Subscription?Idx=7</wsa5:Address></tev:SubscriptionReference><tev:CurrentTime>2024-01-01T00:00:00Z</tev:CurrentTime><tev:TerminationTime>2024-01-01T00:10:00Z</tev:TerminationTime></tev:CreatePullPointSubscriptionResponse></SOAP-ENV:Body>
</SOAP-ENV:Envelope>`

type call struct{ path, body string }

// fakeCamera answers SOAP calls with canned responses and reports a fixed
// motion sequence; the last value repeats.
type fakeCamera struct {
	id     string
	create string

	// entered and release, when set, hold CreatePullPointSubscription open.
	entered chan struct{}
	release chan struct{}

	mu     sync.Mutex
	states []bool
	polls  int
	calls  []call
	err    error
}

func (f *fakeCamera) Endpoint() camera.Endpoint {
	id := f.id
	if id == "" {
		id = "cam1"
	}
	return camera.Endpoint{ID: id, Address: "192.168.1.10:8000"}
}

func (f *fakeCamera) SendSOAP(_ context.Context, path, body string) (string, error) {
	if f.release != nil && strings.Contains(body, "CreatePullPointSubscription") {
		close(f.entered)
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{path, body})
	if f.err != nil {
		return "", f.err
	}
	if strings.Contains(body, "CreatePullPointSubscription") {
		return f.create, nil
	}
	return "<ok/>", nil
}

func (f *fakeCamera) MotionState(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	f.polls++
	if len(f.states) == 0 {
		return false, nil
	}
	if i >= len(f.states) {
		i = len(f.states) - 1
	}
	return f.states[i], nil
}

func (f *fakeCamera) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *fakeCamera) lastCall() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	m := NewManager(opts, nil)
	t.Cleanup(m.Close)
	return m
}

func fastOptions() Options {
	return Options{PollInterval: 5 * time.Millisecond, WaitStep: 5 * time.Millisecond}
}

func TestCreateRewritesAddress(t *testing.T) {
	m := newTestManager(t, fastOptions())
	cam := &fakeCamera{create: createResponse}

	ref, resp, err := m.Create(context.Background(), cam, "http://gw:8080/")
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	assert.Contains(t, resp, "<wsa5:Address>http://gw:8080/onvif/cam1/subscription/"+ref+"</wsa5:Address>")
	assert.NotContains(t, resp, "Idx=7")
	assert.Equal(t, camera.PathEvents, cam.lastCall().path)
	assert.Contains(t, cam.lastCall().body, "<tev:InitialTerminationTime>PT600S</tev:InitialTerminationTime>")

	info, ok := m.Lookup(ref)
	require.True(t, ok)
	assert.Equal(t, "cam1", info.CameraID)
	assert.Equal(t, "http://192.168.1.10:8000/onvif/Subscription?Idx=7", info.CameraURL)
	assert.WithinDuration(t, time.Now().Add(600*time.Second), info.Expires, 5*time.Second)
}

func TestCreateAddressVariants(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantURL string
	}{
		{"wsa", `<wsa:Address xmlns:wsa="http://www.w3.org/2005/08/addressing">http://cam/sub/1</wsa:Address>`, "http://cam/sub/1"},
		{"wsa2", `<wsa2:Address xmlns:wsa2="http://www.w3.org/2005/08/addressing">http://cam/sub/2</wsa2:Address>`, "http://cam/sub/2"},
		{"unprefixed", `<Address>http://cam/sub/3</Address>`, "http://cam/sub/3"},
		{"missing", ``, "http://192.168.1.10:8000/onvif/event_service"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, fastOptions())
			cam := &fakeCamera{create: `<Envelope><Body><CreatePullPointSubscriptionResponse><SubscriptionReference>` +
				tt.address + `</SubscriptionReference></CreatePullPointSubscriptionResponse></Body></Envelope>`}

			ref, _, err := m.Create(context.Background(), cam, "http://gw")
			require.NoError(t, err)

			info, ok := m.Lookup(ref)
			require.True(t, ok)
			assert.Equal(t, tt.wantURL, info.CameraURL)
		})
	}
}

func TestCreateFailures(t *testing.T) {
	m := newTestManager(t, fastOptions())

	_, _, err := m.Create(context.Background(), &fakeCamera{err: camera.ErrTransport}, "http://gw")
	assert.True(t, errors.Is(err, camera.ErrTransport))

	_, _, err = m.Create(context.Background(), &fakeCamera{create: "<broken>"}, "http://gw")
	assert.True(t, errors.Is(err, ErrUpstreamResponse))

	assert.Empty(t, m.List())
}

func TestPullWithoutMotionWaitsForTimeout(t *testing.T) {
	m := newTestManager(t, Options{})
	cam := &fakeCamera{create: createResponse}

	ref, _, err := m.Create(context.Background(), cam, "http://gw")
	require.NoError(t, err)

	start := time.Now()
	resp, err := m.Pull(context.Background(), ref, ParseTimeout("PT1S"), 10)
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
	assert.Less(t, elapsed, 1500*time.Millisecond)

	env, err := soap.Parse(resp)
	require.NoError(t, err)
	assert.Equal(t, "PullMessagesResponse", env.Body.Action)
	assert.NotContains(t, resp, "NotificationMessage")
	_, ok := env.Value("TerminationTime")
	assert.True(t, ok)
}

func TestPollerIsEdgeTriggered(t *testing.T) {
	m := newTestManager(t, fastOptions())
	cam := &fakeCamera{create: createResponse, states: []bool{true}}

	ref, _, err := m.Create(context.Background(), cam, "http://gw")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return cam.pollCount() >= 3 }, 2*time.Second, 5*time.Millisecond)

	info, ok := m.Lookup(ref)
	require.True(t, ok)
	assert.Equal(t, 1, info.Cached)
	assert.False(t, info.LastPoll.IsZero())

	resp, err := m.Pull(context.Background(), ref, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(resp, "<wsnt:NotificationMessage>"))
	assert.Contains(t, resp, `<tt:SimpleItem Name="IsMotion" Value="true"/>`)
	assert.Contains(t, resp, "tns1:RuleEngine/CellMotionDetector/Motion")

	_, err = soap.Parse(resp)
	require.NoError(t, err)
}

func TestPollerRecordsEachTransition(t *testing.T) {
	m := newTestManager(t, fastOptions())
	cam := &fakeCamera{create: createResponse, states: []bool{false, true, true, false, false}}

	ref, _, err := m.Create(context.Background(), cam, "http://gw")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return cam.pollCount() >= 6 }, 2*time.Second, 5*time.Millisecond)

	resp, err := m.Pull(context.Background(), ref, 0, 10)
	require.NoError(t, err)

	first := strings.Index(resp, `Name="IsMotion" Value="true"`)
	second := strings.Index(resp, `Name="IsMotion" Value="false"`)
	assert.Equal(t, 2, strings.Count(resp, "<wsnt:NotificationMessage>"))
	assert.True(t, first >= 0 && second > first, "events must be delivered in order")
}

func TestPullHonorsLimitAndOrder(t *testing.T) {
	m := newTestManager(t, fastOptions())
	ref, _, err := m.Create(context.Background(), &fakeCamera{create: createResponse}, "http://gw")
	require.NoError(t, err)

	m.mu.RLock()
	sub := m.subs[ref]
	m.mu.RUnlock()
	for _, n := range []string{"1", "2", "3", "4", "5"} {
		sub.cache.Append(Event{XML: `<e n="` + n + `"/>`, Received: time.Now()})
	}

	resp, err := m.Pull(context.Background(), ref, time.Second, 3)
	require.NoError(t, err)
	assert.Contains(t, resp, `<e n="1"/><e n="2"/><e n="3"/>`)
	assert.NotContains(t, resp, `n="4"`)

	resp, err = m.Pull(context.Background(), ref, time.Second, 3)
	require.NoError(t, err)
	assert.Contains(t, resp, `<e n="4"/><e n="5"/>`)
}

func TestPullUnknownRef(t *testing.T) {
	m := newTestManager(t, fastOptions())
	_, err := m.Pull(context.Background(), "nope", time.Second, 10)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPullStopsOnContextCancel(t *testing.T) {
	m := newTestManager(t, fastOptions())
	ref, _, err := m.Create(context.Background(), &fakeCamera{create: createResponse}, "http://gw")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = m.Pull(ctx, ref, time.Minute, 10)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRenewExtendsExpiry(t *testing.T) {
	m := newTestManager(t, Options{PollInterval: time.Hour, Lifetime: time.Minute})
	cam := &fakeCamera{create: createResponse}

	ref, _, err := m.Create(context.Background(), cam, "http://gw")
	require.NoError(t, err)
	before, _ := m.Lookup(ref)

	time.Sleep(10 * time.Millisecond)
	_, err = m.Renew(context.Background(), cam, ref)
	require.NoError(t, err)

	after, _ := m.Lookup(ref)
	assert.True(t, after.Expires.After(before.Expires))
	assert.Equal(t, "/onvif/Subscription?Idx=7", cam.lastCall().path)
	assert.Contains(t, cam.lastCall().body, "<wsnt:TerminationTime>PT600S</wsnt:TerminationTime>")
}

func TestRenewUnknownRefStillForwards(t *testing.T) {
	m := newTestManager(t, fastOptions())
	cam := &fakeCamera{}

	resp, err := m.Renew(context.Background(), cam, "nope")
	require.NoError(t, err)
	assert.Equal(t, "<ok/>", resp)
	assert.Equal(t, camera.PathEvents, cam.lastCall().path)
}

func TestUnsubscribeStopsPoller(t *testing.T) {
	m := newTestManager(t, fastOptions())
	cam := &fakeCamera{create: createResponse}

	ref, _, err := m.Create(context.Background(), cam, "http://gw")
	require.NoError(t, err)

	m.mu.RLock()
	sub := m.subs[ref]
	m.mu.RUnlock()

	_, err = m.Unsubscribe(context.Background(), cam, ref)
	require.NoError(t, err)
	assert.Equal(t, "/onvif/Subscription?Idx=7", cam.lastCall().path)
	assert.Contains(t, cam.lastCall().body, "Unsubscribe")

	select {
	case <-sub.done:
	case <-time.After(time.Second):
		t.Fatal("poller still running after Unsubscribe")
	}

	_, err = m.Pull(context.Background(), ref, 0, 1)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Empty(t, m.List())
}

func TestUnsubscribeKeepsRecordOnCameraFailure(t *testing.T) {
	m := newTestManager(t, fastOptions())
	cam := &fakeCamera{create: createResponse}

	ref, _, err := m.Create(context.Background(), cam, "http://gw")
	require.NoError(t, err)

	cam.mu.Lock()
	cam.err = camera.ErrTransport
	cam.mu.Unlock()

	_, err = m.Unsubscribe(context.Background(), cam, ref)
	assert.True(t, errors.Is(err, camera.ErrTransport))
	_, ok := m.Lookup(ref)
	assert.True(t, ok)
}

func TestDropCamera(t *testing.T) {
	m := newTestManager(t, fastOptions())
	cam1 := &fakeCamera{create: createResponse}
	cam2 := &fakeCamera{id: "cam2", create: createResponse}

	a, _, err := m.Create(context.Background(), cam1, "http://gw")
	require.NoError(t, err)
	b, _, err := m.Create(context.Background(), cam1, "http://gw")
	require.NoError(t, err)
	other, _, err := m.Create(context.Background(), cam2, "http://gw")
	require.NoError(t, err)
	cam1.mu.Lock()
	calls := len(cam1.calls)
	cam1.mu.Unlock()

	assert.Equal(t, 2, m.DropCamera("cam1"))
	assert.Equal(t, 0, m.DropCamera("cam1"))

	for _, ref := range []string{a, b} {
		_, ok := m.Lookup(ref)
		assert.False(t, ok)
	}
	_, ok := m.Lookup(other)
	assert.True(t, ok)

	cam1.mu.Lock()
	defer cam1.mu.Unlock()
	assert.Len(t, cam1.calls, calls, "camera is not contacted")
}

func TestSweepRemovesExpired(t *testing.T) {
	m := newTestManager(t, Options{PollInterval: 5 * time.Millisecond, Lifetime: time.Minute})
	cam := &fakeCamera{create: createResponse}

	old, _, err := m.Create(context.Background(), cam, "http://gw")
	require.NoError(t, err)

	m.mu.RLock()
	sub := m.subs[old]
	m.mu.RUnlock()

	assert.Equal(t, 0, m.Sweep(time.Now()))
	assert.Equal(t, 1, m.Sweep(time.Now().Add(2*time.Minute)))

	_, ok := m.Lookup(old)
	assert.False(t, ok)
	select {
	case <-sub.done:
	case <-time.After(time.Second):
		t.Fatal("poller still running after expiry")
	}
}

func TestRunClosesOnCancel(t *testing.T) {
	m := NewManager(Options{PollInterval: 5 * time.Millisecond, SweepInterval: 5 * time.Millisecond}, nil)
	cam := &fakeCamera{create: createResponse}

	_, _, err := m.Create(context.Background(), cam, "http://gw")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	assert.Empty(t, m.List())
	_, _, err = m.Create(context.Background(), cam, "http://gw")
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestCreateRacingCloseRegistersNothing(t *testing.T) {
	m := NewManager(Options{PollInterval: time.Millisecond}, nil)
	cam := &fakeCamera{
		create:  createResponse,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}

	type result struct {
		ref string
		err error
	}
	done := make(chan result, 1)
	go func() {
		ref, _, err := m.Create(context.Background(), cam, "http://gw")
		done <- result{ref, err}
	}()

	<-cam.entered
	m.Close()
	close(cam.release)

	select {
	case r := <-done:
		assert.ErrorIs(t, r.err, ErrClosed)
		assert.Empty(t, r.ref)
	case <-time.After(2 * time.Second):
		t.Fatal("Create did not return")
	}
	assert.Empty(t, m.List())
	assert.Zero(t, cam.pollCount())
}

func TestParseTimeout(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"PT1S", time.Second},
		{"PT30S", 30 * time.Second},
		{"PT2M", 2 * time.Minute},
		{" pt5s ", 5 * time.Second},
		{"PT0S", 0},
		{"PT1.5S", time.Second},
		{"PT1M30S", time.Second},
		{"P1D", time.Second},
		{"", time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseTimeout(tt.in))
		})
	}
}
