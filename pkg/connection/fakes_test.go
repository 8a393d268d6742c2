package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTransport = errors.New("transport failure")

type fakeTimer struct {
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

// fakeClock records scheduled calls; tests fire them explicitly.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, 0, len(c.timers))
	for _, t := range c.timers {
		out = append(out, t.delay)
	}
	return out
}

func (c *fakeClock) last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

// fireLast runs the most recently scheduled call unless it was stopped.
func (c *fakeClock) fireLast(t *testing.T) {
	t.Helper()
	timer := c.last()
	if timer == nil {
		t.Fatal("Expected a scheduled reconnect, got none")
	}
	c.mu.Lock()
	c.now = c.now.Add(timer.delay)
	c.mu.Unlock()
	if timer.stopped || timer.fired {
		return
	}
	timer.fired = true
	timer.f()
}

type fakeFrame struct {
	kind MessageKind
	data []byte
}

// fakeTransport delivers pushed frames to ReadMessage. Closing it does not
// unblock reads; fail does.
type fakeTransport struct {
	inbound chan fakeFrame
	errs    chan error

	mu       sync.Mutex
	written  []fakeFrame
	closed   bool
	writeErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan fakeFrame, 16),
		errs:    make(chan error, 1),
	}
}

func (t *fakeTransport) ReadMessage() (MessageKind, []byte, error) {
	select {
	case f := <-t.inbound:
		return f.kind, f.data, nil
	case err := <-t.errs:
		return 0, nil, err
	}
}

func (t *fakeTransport) WriteMessage(kind MessageKind, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return t.writeErr
	}
	t.written = append(t.written, fakeFrame{kind: kind, data: append([]byte(nil), data...)})
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) push(kind MessageKind, data string) {
	t.inbound <- fakeFrame{kind: kind, data: []byte(data)}
}

func (t *fakeTransport) fail() {
	t.errs <- errTransport
}

func (t *fakeTransport) writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.written))
	for _, f := range t.written {
		out = append(out, string(f.data))
	}
	return out
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// fakeDialer fails while failing is set, otherwise hands out new transports.
type fakeDialer struct {
	mu         sync.Mutex
	failing    bool
	dials      int
	urls       []string
	transports []*fakeTransport
	gate       chan struct{}
	entered    chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Transport, error) {
	d.mu.Lock()
	d.dials++
	d.urls = append(d.urls, url)
	gate := d.gate
	entered := d.entered
	d.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failing {
		return nil, errTransport
	}
	t := newFakeTransport()
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) setFailing(v bool) {
	d.mu.Lock()
	d.failing = v
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) transport(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[i]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
