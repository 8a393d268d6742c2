// Package connection keeps one logically continuous duplex connection to a
// robot endpoint. Transports come and go; the Client reconnects with bounded
// exponential backoff and dispatches inbound envelopes to topic handlers.
package connection

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	customlog "github.com/marchandivan/pirobot/pkg/log"
	"github.com/marchandivan/pirobot/pkg/protocol"
)

// Common errors
var (
	ErrNotConnected = errors.New("not connected")
	ErrQueueFull    = errors.New("send queue is full")
	ErrClientClosed = errors.New("client closed")
)

// State is the lifecycle state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SendPolicy decides what happens to outbound messages while not open.
type SendPolicy string

const (
	// SendDrop discards the message and returns ErrNotConnected.
	SendDrop SendPolicy = "drop"
	// SendQueue keeps it in a bounded FIFO flushed on the next open.
	SendQueue SendPolicy = "queue"
)

const defaultQueueLimit = 64

// Stats is a point-in-time view of the client counters.
type Stats struct {
	State          State
	Reconnects     int64
	DroppedUnknown int64
	Malformed      int64
	Queued         int
	Topics         map[string]map[string]interface{}
}

type outbound struct {
	kind MessageKind
	data []byte
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithClock replaces the wall clock used for reconnect timers.
func WithClock(clock Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithBackoff sets the initial and maximum reconnect delays.
func WithBackoff(initial, max time.Duration) Option {
	return func(c *Client) {
		c.backoff = NewBackoff(initial, max)
	}
}

// WithMaxRetries bounds consecutive failed attempts. 0 retries forever.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithSendPolicy sets the policy for sends while not open. limit bounds the
// queue of SendQueue.
func WithSendPolicy(policy SendPolicy, limit int) Option {
	return func(c *Client) {
		if policy == SendQueue {
			c.policy = SendQueue
		} else {
			c.policy = SendDrop
		}
		if limit > 0 {
			c.queueLimit = limit
		}
	}
}

// WithSessionQuery appends the client session id to the endpoint URL under
// the given query parameter.
func WithSessionQuery(param string) Option {
	return func(c *Client) {
		c.sessionParam = param
	}
}

// Client owns at most one live transport at a time.
type Client struct {
	url          string
	sessionID    string
	sessionParam string
	logger       customlog.Logger
	dialer       Dialer
	clock        Clock
	backoff      *Backoff
	maxRetries   int
	policy       SendPolicy
	queueLimit   int
	registry     *TopicRegistry

	// Lifetime of the client, used by reconnect attempts.
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          State
	transport      Transport
	generation     uint64
	failures       int
	timer          Timer
	queue          []outbound
	openHooks      []func()
	binaryHandlers []func([]byte)
	reconnects     int64
	malformed      int64

	writeMu sync.Mutex
}

// NewClient creates a disconnected client for endpoint. Nothing is dialed
// until Connect.
func NewClient(endpoint string, logger customlog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	sessionID := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		url:        endpoint,
		sessionID:  sessionID,
		logger:     logger.WithField("endpoint", endpoint),
		dialer:     WebsocketDialer{},
		clock:      SystemClock,
		backoff:    NewBackoff(DefaultInitialBackoff, DefaultMaxBackoff),
		policy:     SendDrop,
		queueLimit: defaultQueueLimit,
		ctx:        ctx,
		cancel:     cancel,
		state:      StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.registry = NewTopicRegistry(c.logger)
	return c
}

// URL returns the endpoint this client connects to.
func (c *Client) URL() string { return c.url }

// SessionID identifies this client for its whole lifetime.
func (c *Client) SessionID() string { return c.sessionID }

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Backoff returns the delay that the next failure will wait for.
func (c *Client) Backoff() time.Duration {
	return c.backoff.Current()
}

// Stats returns dispatch and reconnect counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	s := Stats{
		State:      c.state,
		Reconnects: c.reconnects,
		Malformed:  c.malformed,
		Queued:     len(c.queue),
	}
	c.mu.Unlock()
	s.DroppedUnknown = c.registry.Dropped()
	s.Topics = c.registry.GetTopicStats()
	return s
}

// On registers handler for envelopes published on topic.
func (c *Client) On(topic string, handler Handler) {
	c.registry.Register(topic, handler)
}

// OnBinary registers handler for binary messages.
func (c *Client) OnBinary(handler func(data []byte)) {
	c.mu.Lock()
	c.binaryHandlers = append(c.binaryHandlers, handler)
	c.mu.Unlock()
}

// OnOpen registers hook to run after every successful open, before any
// inbound message of that transport is dispatched.
func (c *Client) OnOpen(hook func()) {
	c.mu.Lock()
	c.openHooks = append(c.openHooks, hook)
	c.mu.Unlock()
}

// Connect opens a transport. It is a no-op while connecting or open. A dial
// failure schedules a reconnect like any other transport failure.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrClientClosed
	case StateConnecting, StateOpen:
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	c.logger.Debugf("Connecting")
	t, err := c.dialer.Dial(ctx, c.dialURL())
	if err != nil {
		c.logger.Warnf("Connection failed: %v", err)
		c.handleFailure(gen, err)
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.state == StateClosed || gen != c.generation {
		c.mu.Unlock()
		t.Close()
		return ErrClientClosed
	}
	c.transport = t
	c.state = StateOpen
	c.failures = 0
	c.backoff.Reset()
	queued := c.queue
	c.queue = nil
	hooks := make([]func(), len(c.openHooks))
	copy(hooks, c.openHooks)
	c.mu.Unlock()

	c.logger.Infof("Connection open")

	for _, hook := range hooks {
		hook()
	}
	for i, msg := range queued {
		if !c.isCurrent(gen) {
			c.requeue(queued[i:])
			return nil
		}
		if err := c.writeTo(gen, t, msg.kind, msg.data); err != nil {
			c.logger.Warnf("Failed to flush queued message: %v", err)
			c.requeue(queued[i:])
			return nil
		}
	}
	if len(queued) > 0 {
		c.logger.Debugf("Flushed %d queued messages", len(queued))
	}
	if !c.isCurrent(gen) {
		return nil
	}

	go c.readLoop(gen, t)
	return nil
}

// requeue puts the unsent tail of a flush back in front of anything queued
// since, keeping the oldest messages within the queue limit.
func (c *Client) requeue(tail []outbound) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	queue := append(append([]outbound(nil), tail...), c.queue...)
	if len(queue) > c.queueLimit {
		c.logger.Warnf("Send queue full, dropping %d messages", len(queue)-c.queueLimit)
		queue = queue[:c.queueLimit]
	}
	c.queue = queue
	c.logger.Debugf("Requeued %d unsent messages", len(tail))
}

// Send writes env to the live transport, or applies the send policy.
func (c *Client) Send(env protocol.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	return c.write(TextMessage, data, env.Topic)
}

// SendCommand encodes cmd under the "robot" topic and sends it.
func (c *Client) SendCommand(cmd protocol.Command) error {
	env, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return c.Send(env)
}

// SendText writes a raw text token, e.g. the video channel "ready".
func (c *Client) SendText(token string) error {
	return c.write(TextMessage, []byte(token), token)
}

// Close cancels any pending reconnect, detaches handlers and closes the
// transport. The client never reconnects afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	t := c.transport
	c.transport = nil
	c.queue = nil
	c.openHooks = nil
	c.binaryHandlers = nil
	c.mu.Unlock()

	c.cancel()
	c.registry.Clear()
	c.logger.Infof("Connection closed")

	if t != nil {
		return t.Close()
	}
	return nil
}

func (c *Client) dialURL() string {
	if c.sessionParam == "" {
		return c.url
	}
	u, err := url.Parse(c.url)
	if err != nil {
		return c.url
	}
	q := u.Query()
	q.Set(c.sessionParam, c.sessionID)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) write(kind MessageKind, data []byte, label string) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrClientClosed
	case StateOpen:
		t := c.transport
		gen := c.generation
		c.mu.Unlock()
		if err := c.writeTo(gen, t, kind, data); err != nil {
			return fmt.Errorf("failed to send %s: %w", label, err)
		}
		return nil
	}

	if c.policy == SendQueue {
		if len(c.queue) >= c.queueLimit {
			c.mu.Unlock()
			c.logger.Warnf("Send queue full, dropping %s", label)
			return ErrQueueFull
		}
		c.queue = append(c.queue, outbound{kind: kind, data: data})
		c.mu.Unlock()
		c.logger.Debugf("Not connected, queued %s", label)
		return nil
	}
	c.mu.Unlock()
	c.logger.Warnf("Not connected, dropping %s", label)
	return ErrNotConnected
}

// writeTo serializes writes on t. A write error is a transport failure.
func (c *Client) writeTo(gen uint64, t Transport, kind MessageKind, data []byte) error {
	c.writeMu.Lock()
	err := t.WriteMessage(kind, data)
	c.writeMu.Unlock()
	if err != nil {
		c.handleFailure(gen, err)
	}
	return err
}

func (c *Client) readLoop(gen uint64, t Transport) {
	for {
		kind, data, err := t.ReadMessage()
		if err != nil {
			c.handleFailure(gen, err)
			return
		}
		if !c.isCurrent(gen) {
			return
		}
		c.dispatch(kind, data)
	}
}

func (c *Client) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateOpen && c.generation == gen
}

func (c *Client) dispatch(kind MessageKind, data []byte) {
	switch kind {
	case BinaryMessage:
		c.mu.Lock()
		handlers := make([]func([]byte), len(c.binaryHandlers))
		copy(handlers, c.binaryHandlers)
		c.mu.Unlock()
		for _, h := range handlers {
			h(data)
		}
	case TextMessage:
		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			c.mu.Lock()
			c.malformed++
			c.mu.Unlock()
			c.logger.Warnf("Dropping malformed message: %v", err)
			return
		}
		c.registry.Dispatch(env, c.clock.Now().UnixNano())
	default:
		c.logger.Debugf("Ignoring %s message", kind)
	}
}

// handleFailure tears down the transport of generation gen once and
// schedules a reconnect check. Callbacks of superseded transports are
// ignored.
func (c *Client) handleFailure(gen uint64, cause error) {
	c.mu.Lock()
	if c.state == StateClosed || gen != c.generation {
		c.mu.Unlock()
		return
	}
	t := c.transport
	c.transport = nil
	c.state = StateDisconnected
	c.generation++
	c.failures++

	if c.maxRetries > 0 && c.failures > c.maxRetries {
		failures := c.failures
		c.mu.Unlock()
		c.logger.Errorf("Giving up after %d failed attempts: %v", failures, cause)
		if t != nil {
			t.Close()
		}
		return
	}

	delay := c.backoff.Next()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = c.clock.AfterFunc(delay, c.reconnectCheck)
	c.mu.Unlock()

	if t != nil {
		c.logger.Warnf("Connection lost: %v", cause)
		t.Close()
	}
	c.logger.Infof("Reconnecting in %v", delay)
}

func (c *Client) reconnectCheck() {
	c.mu.Lock()
	c.timer = nil
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.reconnects++
	c.mu.Unlock()

	if err := c.Connect(c.ctx); err != nil {
		c.logger.Debugf("Reconnect attempt failed: %v", err)
	}
}
