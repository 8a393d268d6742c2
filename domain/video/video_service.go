package video

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	customlog "github.com/marchandivan/pirobot/pkg/log"
	"github.com/marchandivan/pirobot/pkg/video"
)

// DefaultFPSLogInterval is how often the frame rate is logged and relayed.
const DefaultFPSLogInterval = 10 * time.Second

// Frames is the consumer side of a video.FrameChannel.
type Frames interface {
	Next(ctx context.Context) (video.Frame, error)
	Latest() (video.Frame, bool)
	FPS() int
	Dropped() int64
}

// Publisher forwards stream telemetry, i.e. a relay.Relay.
type Publisher interface {
	PublishFPS(fps int, dropped int64) bool
	PublishFrame(jpeg []byte) bool
}

// Stats describes the consumed stream.
type Stats struct {
	FPS      int       `json:"fps"`
	Dropped  int64     `json:"dropped"`
	Consumed uint64    `json:"consumed"`
	LastSeq  uint64    `json:"last_seq"`
	LastAt   time.Time `json:"last_at"`
	Running  bool      `json:"running"`
}

// VideoService consumes frames from the robot camera stream
type VideoService struct {
	frames      Frames
	publisher   Publisher
	logger      customlog.Logger
	logInterval time.Duration

	mu    sync.RWMutex
	stats Stats
}

// NewVideoService creates a new video service instance. publisher may be nil.
func NewVideoService(frames Frames, publisher Publisher, logInterval time.Duration, logger customlog.Logger) *VideoService {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	if logInterval <= 0 {
		logInterval = DefaultFPSLogInterval
	}
	return &VideoService{
		frames:      frames,
		publisher:   publisher,
		logger:      logger,
		logInterval: logInterval,
	}
}

// Run consumes frames until ctx is done or the channel is closed. Every
// consumed frame acks the robot for the next one.
func (s *VideoService) Run(ctx context.Context) error {
	s.setRunning(true)
	defer s.setRunning(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.reportLoop(ctx)

	for {
		frame, err := s.frames.Next(ctx)
		if err != nil {
			if errors.Is(err, video.ErrChannelClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		s.mu.Lock()
		s.stats.Consumed++
		s.stats.LastSeq = frame.Seq
		s.stats.LastAt = frame.ReceivedAt
		s.mu.Unlock()

		if s.publisher != nil {
			s.publisher.PublishFrame(frame.Data)
		}
	}
}

func (s *VideoService) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(s.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fps, dropped := s.frames.FPS(), s.frames.Dropped()
			s.logger.Infof("Video stream: %d fps, %d dropped", fps, dropped)
			if s.publisher != nil {
				s.publisher.PublishFPS(fps, dropped)
			}
		}
	}
}

func (s *VideoService) setRunning(running bool) {
	s.mu.Lock()
	s.stats.Running = running
	s.mu.Unlock()
}

// GetStats returns the stream statistics.
func (s *VideoService) GetStats() Stats {
	s.mu.RLock()
	stats := s.stats
	s.mu.RUnlock()
	stats.FPS = s.frames.FPS()
	stats.Dropped = s.frames.Dropped()
	return stats
}

// StreamHandler serves the newest received frame as a JPEG
func (s *VideoService) StreamHandler(c *fiber.Ctx) error {
	frame, ok := s.frames.Latest()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no frame received yet",
		})
	}
	c.Set(fiber.HeaderContentType, "image/jpeg")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(frame.Data)
}
