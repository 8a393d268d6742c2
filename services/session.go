package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marchandivan/pirobot/domain/diagnostic"
	"github.com/marchandivan/pirobot/domain/teleop"
	videosvc "github.com/marchandivan/pirobot/domain/video"
	"github.com/marchandivan/pirobot/pkg/config"
	"github.com/marchandivan/pirobot/pkg/connection"
	customlog "github.com/marchandivan/pirobot/pkg/log"
	"github.com/marchandivan/pirobot/pkg/relay"
	"github.com/marchandivan/pirobot/pkg/restapi"
	"github.com/marchandivan/pirobot/pkg/status"
	"github.com/marchandivan/pirobot/pkg/video"
	"github.com/marchandivan/pirobot/pkg/zeromq"
)

// Session wires one operator console to one robot.
type Session struct {
	cfg    *config.BootstrapConfig
	logger customlog.Logger

	Control     *connection.Client
	VideoConn   *connection.Client
	Frames      *video.FrameChannel
	Cache       *status.Cache
	API         *restapi.Client
	Settings    SettingsService
	Teleop      *teleop.TeleopService
	Video       *videosvc.VideoService
	Diagnostics *diagnostic.DiagnosticService
	Relay       *relay.Relay

	relayQueue *relay.Queue
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	cache *status.Cache
	sinks []relay.Sink
}

// WithStatusCache uses cache instead of status.Default.
func WithStatusCache(cache *status.Cache) SessionOption {
	return func(o *sessionOptions) { o.cache = cache }
}

// WithRelaySinks adds sinks to the relay, on top of the configured ones.
func WithRelaySinks(sinks ...relay.Sink) SessionOption {
	return func(o *sessionOptions) { o.sinks = append(o.sinks, sinks...) }
}

// NewSession builds every component from cfg. Nothing is connected until
// Start.
func NewSession(cfg *config.BootstrapConfig, logger customlog.Logger, opts ...SessionOption) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("session needs a bootstrap config")
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	options := sessionOptions{cache: status.Default}
	for _, opt := range opts {
		opt(&options)
	}

	s := &Session{cfg: cfg, logger: logger, Cache: options.cache}

	connOpts := []connection.Option{
		connection.WithBackoff(cfg.Connection.InitialBackoff(), cfg.Connection.MaxBackoff()),
		connection.WithMaxRetries(cfg.Connection.MaxRetries),
		connection.WithSendPolicy(connection.SendPolicy(cfg.Connection.SendPolicy), cfg.Connection.QueueLimit),
	}
	if cfg.Connection.SessionQuery != "" {
		connOpts = append(connOpts, connection.WithSessionQuery(cfg.Connection.SessionQuery))
	}

	s.Control = connection.NewClient(cfg.Robot.ControlURL, logger.WithField("conn", "control"), connOpts...)
	s.Cache.Attach(s.Control)
	s.VideoConn = connection.NewClient(cfg.Robot.VideoURL, logger.WithField("conn", "video"), connOpts...)
	s.Frames = video.NewFrameChannel(s.VideoConn, logger.WithField("component", "frames"))
	s.API = restapi.NewClient(cfg.Robot.APIURL, cfg.Robot.HTTPTimeout(), logger.WithField("component", "api"))

	settings, err := NewSettingsService(s.Control, s.Cache, logger.WithField("component", "settings"))
	if err != nil {
		return nil, err
	}
	s.Settings = settings
	s.Control.OnOpen(func() {
		if err := s.Settings.Refresh(); err != nil {
			logger.Warnf("Failed to request robot configuration: %v", err)
		}
	})
	s.Teleop = teleop.NewTeleopService(s.Control, cfg.Drive, logger.WithField("component", "teleop"))

	var publisher videosvc.Publisher
	if cfg.Relay.Enabled() || len(options.sinks) > 0 {
		if err := s.buildRelay(options.sinks); err != nil {
			return nil, err
		}
		publisher = s.Relay
	}
	s.Video = videosvc.NewVideoService(s.Frames, publisher, time.Duration(cfg.Console.FPSLogInterval)*time.Second, logger.WithField("component", "video"))

	s.Diagnostics = diagnostic.NewDiagnosticService(s.Cache, s.Control, s.VideoConn)
	s.Diagnostics.SetStreamSource(func() diagnostic.StreamMetrics {
		stats := s.Video.GetStats()
		return diagnostic.StreamMetrics{FPS: stats.FPS, Dropped: stats.Dropped, Consumed: stats.Consumed}
	})
	if s.relayQueue != nil {
		s.Diagnostics.SetRelayQueue(s.relayQueue)
	}
	return s, nil
}

func (s *Session) buildRelay(extra []relay.Sink) error {
	rc := s.cfg.Relay
	queue := relay.NewQueue("telemetry", rc.Workers, rc.QueueSize, s.logger.WithField("component", "relay"))

	if rc.ZeroMQ.Enabled {
		publisher, err := zeromq.NewTelemetryPublisher(rc.ZeroMQ.PublishAddress, s.logger.WithFields(map[string]interface{}{
			customlog.ComponentField: "relay",
			"sink":                   "zeromq",
		}))
		if err != nil {
			return fmt.Errorf("failed to start ZeroMQ relay: %w", err)
		}
		queue.AddSink(publisher)
	}
	if rc.MQTT.Enabled {
		sink := relay.NewMQTTSink(rc.MQTT, s.logger)
		if err := sink.Connect(); err != nil {
			// paho keeps retrying in the background
			s.logger.Warnf("MQTT relay not connected yet: %v", err)
		}
		queue.AddSink(sink)
	}
	for _, sink := range extra {
		queue.AddSink(sink)
	}

	s.relayQueue = queue
	s.Relay = relay.New(queue, rc.PublishFrames, s.logger.WithField("component", "relay"))
	s.Relay.Attach(s.Cache)
	return nil
}

// Start connects both robot connections and starts consuming frames. A
// failed first dial is not an error: the clients keep reconnecting.
func (s *Session) Start(ctx context.Context) error {
	if s.Relay != nil {
		s.Relay.Start()
	}

	if err := s.Control.Connect(ctx); err != nil {
		if errors.Is(err, connection.ErrClientClosed) {
			return err
		}
		s.logger.Warnf("Robot control not reachable yet: %v", err)
	}
	if err := s.Frames.Start(ctx); err != nil {
		if errors.Is(err, connection.ErrClientClosed) {
			return err
		}
		s.logger.Warnf("Robot video not reachable yet: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Video.Run(runCtx); err != nil {
			s.logger.Errorf("Video consumer stopped: %v", err)
		}
	}()
	return nil
}

// Close disconnects from the robot and stops the relay.
func (s *Session) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if err := s.Frames.Close(); err != nil {
			errs = append(errs, err)
		}
		s.wg.Wait()
		if err := s.Control.Close(); err != nil {
			errs = append(errs, err)
		}
		if s.Relay != nil {
			if err := s.Relay.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.logger.Infof("Session closed")
	})
	return errors.Join(errs...)
}
