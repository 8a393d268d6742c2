// Package relay republishes what the console learns about the robot (status
// snapshots, stream FPS, frames) to other local processes through pluggable
// sinks such as ZeroMQ or MQTT.
package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/marchandivan/pirobot/pkg/flatbuffers/pirobot/telemetry"
	customlog "github.com/marchandivan/pirobot/pkg/log"
	"github.com/marchandivan/pirobot/pkg/protocol"
	"github.com/marchandivan/pirobot/pkg/status"
)

// Relay topics
const (
	TopicStatus = "status"
	TopicFPS    = "video/fps"
	TopicFrame  = "video/frame"
)

// Message is one telemetry item handed to the sinks.
type Message struct {
	Topic       string
	ContentType telemetry.ContentType
	Payload     []byte
	Timestamp   time.Time
}

// Sink publishes relay messages somewhere.
type Sink interface {
	Name() string
	Publish(msg Message) error
	Close() error
}

// StatusPayload is the JSON published on TopicStatus.
type StatusPayload struct {
	RobotName string                           `json:"robot_name"`
	Config    map[string]interface{}           `json:"config"`
	Status    map[string]interface{}           `json:"status"`
	Settings  map[string]protocol.SettingEntry `json:"settings,omitempty"`
	Version   uint64                           `json:"version"`
	UpdatedAt time.Time                        `json:"updated_at"`
}

// FPSPayload is the JSON published on TopicFPS.
type FPSPayload struct {
	FPS     int   `json:"fps"`
	Dropped int64 `json:"dropped"`
}

// Relay turns console events into queue messages.
type Relay struct {
	queue         *Queue
	logger        customlog.Logger
	publishFrames bool
	now           func() time.Time
}

// New creates a relay feeding queue. Frames are only forwarded when
// publishFrames is set.
func New(queue *Queue, publishFrames bool, logger customlog.Logger) *Relay {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &Relay{
		queue:         queue,
		logger:        logger,
		publishFrames: publishFrames,
		now:           time.Now,
	}
}

// Attach publishes every snapshot the cache swaps in.
func (r *Relay) Attach(cache *status.Cache) {
	cache.Subscribe(func(snap *status.Snapshot) {
		r.PublishSnapshot(snap)
	})
}

// PublishSnapshot enqueues a status snapshot.
func (r *Relay) PublishSnapshot(snap *status.Snapshot) bool {
	if snap == nil {
		return false
	}
	return r.publishJSON(TopicStatus, StatusPayload{
		RobotName: snap.RobotName,
		Config:    snap.Config,
		Status:    snap.Status,
		Settings:  snap.Settings,
		Version:   snap.Version,
		UpdatedAt: snap.UpdatedAt,
	})
}

// PublishFPS enqueues the current stream rate.
func (r *Relay) PublishFPS(fps int, dropped int64) bool {
	return r.publishJSON(TopicFPS, FPSPayload{FPS: fps, Dropped: dropped})
}

// PublishFrame enqueues a JPEG frame when frame publishing is enabled.
func (r *Relay) PublishFrame(jpeg []byte) bool {
	if !r.publishFrames || len(jpeg) == 0 {
		return false
	}
	return r.queue.Enqueue(Message{
		Topic:       TopicFrame,
		ContentType: telemetry.ContentTypeJpeg,
		Payload:     jpeg,
		Timestamp:   r.now(),
	})
}

// Start starts the underlying queue.
func (r *Relay) Start() {
	r.queue.Start()
}

// Close stops the queue and closes every sink.
func (r *Relay) Close() error {
	r.queue.Stop()
	var firstErr error
	for _, sink := range r.queue.Sinks() {
		if err := sink.Close(); err != nil {
			r.logger.Warnf("Error closing %s sink: %v", sink.Name(), err)
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to close %s sink: %w", sink.Name(), err)
			}
		}
	}
	return firstErr
}

func (r *Relay) publishJSON(topic string, v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		r.logger.Errorf("Failed to marshal %s relay payload: %v", topic, err)
		return false
	}
	return r.queue.Enqueue(Message{
		Topic:       topic,
		ContentType: telemetry.ContentTypeJson,
		Payload:     data,
		Timestamp:   r.now(),
	})
}
