package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"transcript-core/internal/models"
	"transcript-core/internal/observer"
)

type fakeTimer struct {
	clock   *fakeClock
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fakeClock records scheduled callbacks; tests fire them explicitly.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) pending() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fireNext runs the oldest pending callback and returns its delay.
func (c *fakeClock) fireNext() (time.Duration, bool) {
	c.mu.Lock()
	var next *fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			next = t
			break
		}
	}
	if next == nil {
		c.mu.Unlock()
		return 0, false
	}
	next.fired = true
	c.now = c.now.Add(next.delay)
	c.mu.Unlock()

	next.fn()
	return next.delay, true
}

type fakeConn struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  [][]byte
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 256), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.written = append(c.written, raw)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) frames() []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(c.written))
	for _, raw := range c.written {
		var m map[string]interface{}
		_ = json.Unmarshal(raw, &m)
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) push(raw string) {
	c.inbound <- []byte(raw)
}

// fakeDialer hands out queued connections and fails once the queue is empty.
type fakeDialer struct {
	mu      sync.Mutex
	queue   []*fakeConn
	dials   int
	hold    chan struct{}
	holding chan struct{}
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	hold, holding := d.hold, d.holding
	d.hold, d.holding = nil, nil
	d.mu.Unlock()

	if hold != nil {
		close(holding)
		<-hold
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return nil, fmt.Errorf("connection refused")
	}
	conn := d.queue[0]
	d.queue = d.queue[1:]
	return conn, nil
}

func (d *fakeDialer) succeedNext() *fakeConn {
	conn := newFakeConn()
	d.mu.Lock()
	d.queue = append(d.queue, conn)
	d.mu.Unlock()
	return conn
}

// holdNext blocks the next Dial until release is called. entered is closed
// once that Dial has started.
func (d *fakeDialer) holdNext() (entered <-chan struct{}, release func()) {
	hold, holding := make(chan struct{}), make(chan struct{})
	d.mu.Lock()
	d.hold, d.holding = hold, holding
	d.mu.Unlock()
	var once sync.Once
	return holding, func() { once.Do(func() { close(hold) }) }
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeSessions struct {
	mu        sync.Mutex
	session   *models.Session
	listeners *observer.Registry[*models.Session]
}

func newFakeSessions(s *models.Session) *fakeSessions {
	return &fakeSessions{session: s, listeners: observer.New[*models.Session]()}
}

func (f *fakeSessions) CurrentSession() *models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session.Clone()
}

func (f *fakeSessions) OnSessionChange(fn func(*models.Session)) func() {
	return f.listeners.Add(fn)
}

func (f *fakeSessions) set(s *models.Session) {
	f.mu.Lock()
	f.session = s.Clone()
	f.mu.Unlock()
	f.listeners.Notify(s.Clone())
}

type fakeAlerter struct {
	mu         sync.Mutex
	permission Permission
	grantOnAsk bool
	requests   int
	shown      []Alert
	showErr    error
}

func (a *fakeAlerter) PermissionStatus(context.Context) (Permission, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.permission, nil
}

func (a *fakeAlerter) RequestPermission(context.Context) (Permission, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests++
	if a.grantOnAsk {
		a.permission = PermissionGranted
	} else {
		a.permission = PermissionDenied
	}
	return a.permission, nil
}

func (a *fakeAlerter) Show(_ context.Context, alert Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.showErr != nil {
		return a.showErr
	}
	a.shown = append(a.shown, alert)
	return nil
}

func (a *fakeAlerter) snapshot() (int, []Alert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests, append([]Alert{}, a.shown...)
}

type connRecorder struct {
	mu     sync.Mutex
	values []bool
}

func (r *connRecorder) record(v bool) {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.mu.Unlock()
}

func (r *connRecorder) calls() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool{}, r.values...)
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("frame-%d", n)
	}
}
