// Package video receives the robot camera stream. Frames are paced with a
// credit of one: the robot sends a frame, then waits for "ready".
package video

import (
	"context"
	"errors"
	"sync"
	"time"

	customlog "github.com/marchandivan/pirobot/pkg/log"
	"github.com/marchandivan/pirobot/pkg/protocol"
)

// ErrChannelClosed is returned by Next once the channel is closed.
var ErrChannelClosed = errors.New("frame channel closed")

// Credit is the flow-control state of the channel.
type Credit int

const (
	// CreditAwaitingFrame: the robot may send the next frame.
	CreditAwaitingFrame Credit = iota
	// CreditFramePendingAck: a frame arrived and "ready" has not been sent.
	CreditFramePendingAck
)

func (c Credit) String() string {
	if c == CreditFramePendingAck {
		return "frame_pending_ack"
	}
	return "awaiting_frame"
}

// Conn is the part of connection.Client the channel needs.
type Conn interface {
	Connect(ctx context.Context) error
	OnOpen(hook func())
	OnBinary(handler func(data []byte))
	SendText(token string) error
	Close() error
}

// Frame is one received JPEG image.
type Frame struct {
	Data       []byte
	Seq        uint64
	FPS        int
	ReceivedAt time.Time
}

// FrameChannel keeps only the newest unconsumed frame.
type FrameChannel struct {
	conn   Conn
	logger customlog.Logger
	metric *FrameMetric
	now    func() time.Time

	mu      sync.Mutex
	pending *Frame
	latest  *Frame
	seq     uint64
	dropped int64
	credit  Credit
	closed  bool

	notify chan struct{}
	done   chan struct{}
}

// Option configures a FrameChannel.
type Option func(*FrameChannel)

// WithNow replaces the clock used for timestamps and FPS.
func WithNow(now func() time.Time) Option {
	return func(f *FrameChannel) {
		if now != nil {
			f.now = now
		}
	}
}

// WithFPSWindow sets the FPS sampling window.
func WithFPSWindow(window time.Duration) Option {
	return func(f *FrameChannel) {
		f.metric = NewFrameMetric(window)
	}
}

// NewFrameChannel hooks into conn. "start" is sent on every open.
func NewFrameChannel(conn Conn, logger customlog.Logger, opts ...Option) *FrameChannel {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	f := &FrameChannel{
		conn:   conn,
		logger: logger,
		metric: NewFrameMetric(DefaultFPSWindow),
		now:    time.Now,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	conn.OnOpen(f.onOpen)
	conn.OnBinary(f.onFrame)
	return f
}

// Start connects the underlying client.
func (f *FrameChannel) Start(ctx context.Context) error {
	return f.conn.Connect(ctx)
}

// onOpen starts a fresh credit cycle. A frame left over from the previous
// transport is dropped; acking it would grant the new stream a second credit.
func (f *FrameChannel) onOpen() {
	f.mu.Lock()
	if f.pending != nil {
		f.pending = nil
		f.dropped++
	}
	f.credit = CreditAwaitingFrame
	f.mu.Unlock()
	f.metric.Reset()

	if err := f.conn.SendText(protocol.TokenStart); err != nil {
		f.logger.Warnf("Failed to start video stream: %v", err)
		return
	}
	f.logger.Debugf("Video stream started")
}

func (f *FrameChannel) onFrame(data []byte) {
	now := f.now()
	fps := f.metric.Observe(now)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.seq++
	if f.pending != nil {
		f.dropped++
	}
	frame := &Frame{Data: data, Seq: f.seq, FPS: fps, ReceivedAt: now}
	f.pending = frame
	f.latest = frame
	f.credit = CreditFramePendingAck
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a frame is pending, takes it and sends "ready" so the
// robot can send the next one.
func (f *FrameChannel) Next(ctx context.Context) (Frame, error) {
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return Frame{}, ErrChannelClosed
		}
		if f.pending != nil {
			frame := *f.pending
			f.pending = nil
			f.credit = CreditAwaitingFrame
			f.mu.Unlock()

			if err := f.conn.SendText(protocol.TokenReady); err != nil {
				f.logger.Debugf("Failed to ack frame %d: %v", frame.Seq, err)
			}
			return frame, nil
		}
		f.mu.Unlock()

		select {
		case <-f.notify:
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-f.done:
			return Frame{}, ErrChannelClosed
		}
	}
}

// Latest returns the newest frame received, consumed or not, without acking.
func (f *FrameChannel) Latest() (Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latest == nil {
		return Frame{}, false
	}
	return *f.latest, true
}

// Credit returns the current flow-control state.
func (f *FrameChannel) Credit() Credit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credit
}

// Dropped returns how many frames were replaced before being consumed.
func (f *FrameChannel) Dropped() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// FPS returns the current frame rate.
func (f *FrameChannel) FPS() int {
	return f.metric.FPS()
}

// Close stops the channel and closes the connection.
func (f *FrameChannel) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.pending = nil
	close(f.done)
	f.mu.Unlock()
	return f.conn.Close()
}
