package sim

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	customlog "github.com/marchandivan/pirobot/pkg/log"
	"github.com/marchandivan/pirobot/pkg/protocol"
)

// Server routes
const (
	ControlPath = "/ws/robot"
	VideoPath   = "/ws/video"
)

// SessionParam is the query parameter carrying the client session id.
const SessionParam = "session_id"

// Defaults
const (
	DefaultFrameInterval = 50 * time.Millisecond
	DefaultFrameTimeout  = 2 * time.Second
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("simulator closed")

// Server serves the robot control and video WebSockets and the REST API.
type Server struct {
	robot  *Robot
	frames FrameSource
	logger customlog.Logger
	app    *fiber.App

	statusInterval time.Duration
	frameInterval  time.Duration
	frameTimeout   time.Duration

	mu       sync.Mutex
	controls map[*controlConn]struct{}
	videos   map[*websocket.Conn]struct{}
	closed   bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithStatusInterval pushes the robot status to every control client
// periodically. Zero disables it.
func WithStatusInterval(d time.Duration) ServerOption {
	return func(s *Server) { s.statusInterval = d }
}

// WithFrameInterval sets the pace at which the video loop checks for credit.
func WithFrameInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.frameInterval = d
		}
	}
}

// WithFrameTimeout sets how long the video loop waits for "ready" before
// sending the next frame anyway.
func WithFrameTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.frameTimeout = d
		}
	}
}

// WithFrameSource replaces the generated test pattern.
func WithFrameSource(src FrameSource) ServerOption {
	return func(s *Server) {
		if src != nil {
			s.frames = src
		}
	}
}

type controlConn struct {
	conn    *websocket.Conn
	session string
	writeMu sync.Mutex
}

func (c *controlConn) send(env protocol.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// NewServer builds the simulator around robot.
func NewServer(robot *Robot, logger customlog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	s := &Server{
		robot:         robot,
		frames:        NewTestPattern(robot.Profile().Video),
		logger:        logger,
		frameInterval: DefaultFrameInterval,
		frameTimeout:  DefaultFrameTimeout,
		controls:      make(map[*controlConn]struct{}),
		videos:        make(map[*websocket.Conn]struct{}),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "PiRobot Simulator",
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})
	s.app.Use(recover.New())
	s.app.Use(requestLogger(logger))

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get(ControlPath, websocket.New(s.handleControl))
	s.app.Get(VideoPath, websocket.New(s.handleVideo))

	s.registerRoutes(s.app.Group("/api"))
	return s
}

// App exposes the fiber application, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Robot returns the simulated robot.
func (s *Server) Robot() *Robot { return s.robot }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.mu.Unlock()

	if s.statusInterval > 0 {
		s.wg.Add(1)
		go s.statusLoop()
	}
	s.logger.Infof("Simulator %s listening on %s", s.robot.Name(), ln.Addr())
	return s.app.Listener(ln)
}

// Shutdown closes every WebSocket and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })

	s.mu.Lock()
	s.closed = true
	for cc := range s.controls {
		cc.conn.Close()
	}
	for conn := range s.videos {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return s.app.ShutdownWithContext(ctx)
}

// ControlClients returns the number of connected control clients.
func (s *Server) ControlClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.controls)
}

// BroadcastStatus pushes the robot status to every control client.
func (s *Server) BroadcastStatus() {
	env, err := s.robot.StatusEnvelope()
	if err != nil {
		s.logger.Errorf("Failed to build status: %v", err)
		return
	}
	s.mu.Lock()
	conns := make([]*controlConn, 0, len(s.controls))
	for cc := range s.controls {
		conns = append(conns, cc)
	}
	s.mu.Unlock()

	for _, cc := range conns {
		if err := cc.send(env); err != nil {
			s.logger.Warnf("Failed to push status to %s: %v", cc.session, err)
		}
	}
}

func (s *Server) statusLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.BroadcastStatus()
		}
	}
}

func (s *Server) register(cc *controlConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.controls[cc] = struct{}{}
	return true
}

func (s *Server) unregister(cc *controlConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.controls, cc)
	if len(s.controls) == 0 {
		s.robot.ConnectionLost()
	}
}

func (s *Server) handleControl(conn *websocket.Conn) {
	cc := &controlConn{conn: conn, session: conn.Query(SessionParam)}
	logger := s.logger.WithField("session", cc.session)
	if !s.register(cc) {
		return
	}
	defer s.unregister(cc)
	logger.Infof("Control WebSocket connected: %s", conn.RemoteAddr())

	if env, err := s.robot.StatusEnvelope(); err == nil {
		if err := cc.send(env); err != nil {
			logger.Warnf("Failed to send initial status: %v", err)
		}
	}

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Errorf("Control WS read error: %v", err)
			}
			break
		}
		if mt != websocket.TextMessage {
			logger.Infof("Ignoring non-text Control WS message type: %d", mt)
			continue
		}
		s.handleEnvelope(cc, logger, msg)
	}
	logger.Infof("Control WebSocket disconnected: %s", conn.RemoteAddr())
}

func (s *Server) handleEnvelope(cc *controlConn, logger customlog.Logger, msg []byte) {
	env, err := protocol.ParseEnvelope(msg)
	if err != nil {
		logger.Warnf("Dropping malformed message: %v", err)
		return
	}
	if env.Topic != protocol.TopicRobot {
		logger.Warnf("Dropping message on unknown topic %q", env.Topic)
		return
	}
	cmd, err := protocol.DecodeCommand(env.Message)
	if err != nil {
		logger.Warnf("Dropping robot message: %v", err)
		return
	}
	logger.Debugf("Applying %s/%s", cmd.Subsystem(), cmd.Action())

	result := s.robot.Apply(cmd)
	for _, reply := range result.Replies {
		if err := cc.send(reply); err != nil {
			logger.Warnf("Failed to send %s reply: %v", reply.Topic, err)
		}
	}
	if result.PushStatus {
		s.BroadcastStatus()
	}
}

// videoState tracks the credit of one video client.
type videoState struct {
	mu        sync.Mutex
	started   bool
	ready     bool
	lastFrame time.Time
}

func (v *videoState) start() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.started = true
	v.ready = true
}

func (v *videoState) markReady() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ready = true
}

// take reports whether a frame may be sent now and consumes the credit.
func (v *videoState) take(now time.Time, timeout time.Duration) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.started {
		return false
	}
	if !v.ready && now.Sub(v.lastFrame) <= timeout {
		return false
	}
	v.ready = false
	v.lastFrame = now
	return true
}

func (s *Server) handleVideo(conn *websocket.Conn) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.videos[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.videos, conn)
		s.mu.Unlock()
	}()

	logger := s.logger.WithField("session", conn.Query(SessionParam))
	logger.Infof("Video WebSocket connected: %s", conn.RemoteAddr())

	state := &videoState{}
	done := make(chan struct{})
	var streamer sync.WaitGroup
	streamer.Add(1)
	go func() {
		defer streamer.Done()
		s.streamFrames(conn, state, logger, done)
	}()

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if mt != websocket.TextMessage {
			continue
		}
		switch string(msg) {
		case protocol.TokenStart:
			state.start()
		case protocol.TokenReady:
			state.markReady()
		default:
			logger.Warnf("Ignoring video token %q", string(msg))
		}
	}

	close(done)
	streamer.Wait()
	logger.Infof("Video WebSocket disconnected: %s", conn.RemoteAddr())
}

func (s *Server) streamFrames(conn *websocket.Conn, state *videoState, logger customlog.Logger, done <-chan struct{}) {
	ticker := time.NewTicker(s.frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-s.stop:
			return
		case now := <-ticker.C:
			if !state.take(now, s.frameTimeout) {
				continue
			}
			frame, err := s.frames.Frame()
			if err != nil {
				logger.Errorf("Failed to render frame: %v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				logger.Warnf("Failed to send frame: %v", err)
				return
			}
		}
	}
}

func requestLogger(logger customlog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Debugf("%s %s %d %s", c.Method(), c.Path(), c.Response().StatusCode(), time.Since(start))
		return err
	}
}

// Custom error handler
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
