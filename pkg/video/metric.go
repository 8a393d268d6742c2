package video

import (
	"math"
	"sync"
	"time"
)

// DefaultFPSWindow is the sampling window of FrameMetric.
const DefaultFPSWindow = time.Second

// FrameMetric computes a rolling frames-per-second figure. The count is
// turned into a rate once per window, then reset.
type FrameMetric struct {
	window      time.Duration
	counter     int
	windowStart time.Time
	fps         int
	mu          sync.Mutex
}

// NewFrameMetric creates a metric sampled every window. A non-positive
// window falls back to one second.
func NewFrameMetric(window time.Duration) *FrameMetric {
	if window <= 0 {
		window = DefaultFPSWindow
	}
	return &FrameMetric{window: window}
}

// Observe records a frame received at now and returns the current FPS.
// The first frame only opens the window.
func (m *FrameMetric) Observe(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.windowStart.IsZero() {
		m.windowStart = now
		return m.fps
	}

	m.counter++
	elapsed := now.Sub(m.windowStart)
	// window is positive, so elapsed is too past this point
	if elapsed <= m.window {
		return m.fps
	}
	m.fps = int(math.Round(float64(m.counter) / elapsed.Seconds()))
	m.counter = 0
	m.windowStart = now
	return m.fps
}

// FPS returns the last computed rate.
func (m *FrameMetric) FPS() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps
}

// Reset forgets the current window; the next frame opens a new one.
func (m *FrameMetric) Reset() {
	m.mu.Lock()
	m.counter = 0
	m.windowStart = time.Time{}
	m.fps = 0
	m.mu.Unlock()
}
