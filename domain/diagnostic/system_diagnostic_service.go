package diagnostic

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/marchandivan/pirobot/pkg/connection"
	"github.com/marchandivan/pirobot/pkg/relay"
	"github.com/marchandivan/pirobot/pkg/status"
)

// ConnectionMetrics summarizes one robot connection.
type ConnectionMetrics struct {
	URL            string `json:"url"`
	State          string `json:"state"`
	Reconnects     int64  `json:"reconnects"`
	DroppedUnknown int64  `json:"dropped_unknown"`
	Malformed      int64  `json:"malformed"`
	Queued         int    `json:"queued"`
}

// StreamMetrics summarizes the video stream.
type StreamMetrics struct {
	FPS      int    `json:"fps"`
	Dropped  int64  `json:"dropped"`
	Consumed uint64 `json:"consumed"`
}

// SystemMetrics represents console diagnostics information
type SystemMetrics struct {
	Timestamp     time.Time           `json:"timestamp"`
	Uptime        string              `json:"uptime"`
	RobotName     string              `json:"robot_name"`
	StatusVersion uint64              `json:"status_version"`
	StatusAge     string              `json:"status_age,omitempty"`
	Control       ConnectionMetrics   `json:"control"`
	Video         ConnectionMetrics   `json:"video"`
	Stream        StreamMetrics       `json:"stream"`
	Relay         *relay.QueueMetrics `json:"relay,omitempty"`
}

// Connection is what the service reads from a connection.Client.
type Connection interface {
	URL() string
	Stats() connection.Stats
}

// StreamSource reports stream statistics.
type StreamSource func() StreamMetrics

// DiagnosticService gathers the console health in one place.
type DiagnosticService struct {
	mu      sync.RWMutex
	cache   *status.Cache
	control Connection
	video   Connection
	stream  StreamSource
	queue   *relay.Queue
	started time.Time
	now     func() time.Time
}

// NewDiagnosticService creates a new diagnostic service instance
func NewDiagnosticService(cache *status.Cache, control, video Connection) *DiagnosticService {
	return &DiagnosticService{
		cache:   cache,
		control: control,
		video:   video,
		started: time.Now(),
		now:     time.Now,
	}
}

// SetStreamSource registers where stream statistics come from.
func (s *DiagnosticService) SetStreamSource(src StreamSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream = src
}

// SetRelayQueue registers the relay queue to report on.
func (s *DiagnosticService) SetRelayQueue(q *relay.Queue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = q
}

// GetMetrics returns the current system metrics
func (s *DiagnosticService) GetMetrics() SystemMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	metrics := SystemMetrics{
		Timestamp: now,
		Uptime:    now.Sub(s.started).Truncate(time.Second).String(),
	}
	if s.cache != nil {
		snap := s.cache.Snapshot()
		metrics.RobotName = snap.RobotName
		metrics.StatusVersion = snap.Version
		if !snap.UpdatedAt.IsZero() {
			metrics.StatusAge = now.Sub(snap.UpdatedAt).Truncate(time.Millisecond).String()
		}
	}
	if s.control != nil {
		metrics.Control = connectionMetrics(s.control)
	}
	if s.video != nil {
		metrics.Video = connectionMetrics(s.video)
	}
	if s.stream != nil {
		metrics.Stream = s.stream()
	}
	if s.queue != nil {
		q := s.queue.GetMetrics()
		metrics.Relay = &q
	}
	return metrics
}

// GetMetricsHandler handles API requests for system metrics
func (s *DiagnosticService) GetMetricsHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "success",
		"metrics": s.GetMetrics(),
	})
}

func connectionMetrics(conn Connection) ConnectionMetrics {
	stats := conn.Stats()
	return ConnectionMetrics{
		URL:            conn.URL(),
		State:          stats.State.String(),
		Reconnects:     stats.Reconnects,
		DroppedUnknown: stats.DroppedUnknown,
		Malformed:      stats.Malformed,
		Queued:         stats.Queued,
	}
}
