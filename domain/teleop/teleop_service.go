package teleop

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/marchandivan/pirobot/pkg/config"
	"github.com/marchandivan/pirobot/pkg/drive"
	customlog "github.com/marchandivan/pirobot/pkg/log"
	"github.com/marchandivan/pirobot/pkg/protocol"
)

// ErrInvalidCommand is returned for operator input outside of its range.
var ErrInvalidCommand = errors.New("invalid teleop command")

// Sender sends robot commands, i.e. a connection.Client.
type Sender interface {
	SendCommand(cmd protocol.Command) error
}

// Command is an operator input received over HTTP or the operator WebSocket.
// Exactly one of its parts is applied, checked in field order.
type Command struct {
	Stop   bool     `json:"stop,omitempty"`
	Keys   []string `json:"keys,omitempty"`
	Intent string   `json:"intent,omitempty"`
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
	Camera *float64 `json:"camera,omitempty"`
}

// State is the operator driving state.
type State struct {
	Speed       float64 `json:"speed"`
	Duration    float64 `json:"duration"`
	SlowMode    bool    `json:"slow_mode"`
	LastCommand string  `json:"last_command"`
}

// TeleopService turns operator input into drive and camera commands.
type TeleopService struct {
	sender Sender
	logger customlog.Logger

	mu   sync.Mutex
	keys *drive.KeyState
	opts drive.Options
	last string
}

// NewTeleopService creates a new teleop service instance
func NewTeleopService(sender Sender, cfg config.DriveConfig, logger customlog.Logger) *TeleopService {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	keys := drive.NewKeyState()
	if cfg.Speed > 0 {
		keys.Speed = cfg.Speed
	}
	if cfg.Duration > 0 {
		keys.Duration = cfg.Duration
	}
	opts := drive.DefaultOptions()
	opts.SlowMode = cfg.SlowMode
	if cfg.SlowFactor > 0 {
		opts.SlowFactor = cfg.SlowFactor
	}
	if cfg.VectorDuration > 0 {
		opts.Duration = cfg.VectorDuration
	}
	return &TeleopService{sender: sender, logger: logger, keys: keys, opts: opts}
}

// State returns the current speed, duration and slow mode.
func (s *TeleopService) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{Speed: s.keys.Speed, Duration: s.keys.Duration, SlowMode: s.opts.SlowMode, LastCommand: s.last}
}

// PressKey applies one key press. Arrow keys chord with the keys still held.
func (s *TeleopService) PressKey(name string) error {
	s.mu.Lock()
	key := drive.ParseKey(name)
	action, intent := s.keys.Press(key)
	if action == drive.KeyActionStop {
		s.keys.ReleaseAll()
	}
	speed, duration := s.keys.Speed, s.keys.Duration
	s.mu.Unlock()

	switch action {
	case drive.KeyActionMove:
		return s.send(drive.IntentCommand(intent, speed, duration))
	case drive.KeyActionStop:
		return s.send(protocol.DriveStop{})
	}
	s.logger.Debugf("Key %s: speed=%v duration=%v", key, speed, duration)
	return nil
}

// ReleaseKey releases a key. Releasing an arrow sends the remaining chord,
// or a stop once no arrow is held.
func (s *TeleopService) ReleaseKey(name string) error {
	key := drive.ParseKey(name)
	s.mu.Lock()
	s.keys.Release(key)
	intent := s.keys.Intent()
	speed, duration := s.keys.Speed, s.keys.Duration
	s.mu.Unlock()

	switch key {
	case drive.KeyUp, drive.KeyDown, drive.KeyLeft, drive.KeyRight:
		return s.send(drive.IntentCommand(intent, speed, duration))
	}
	return nil
}

// Keys replaces the held arrow keys with names and sends their chord.
func (s *TeleopService) Keys(names ...string) error {
	s.mu.Lock()
	s.keys.ReleaseAll()
	for _, name := range names {
		key := drive.ParseKey(name)
		switch key {
		case drive.KeyUp, drive.KeyDown, drive.KeyLeft, drive.KeyRight:
			s.keys.Press(key)
		default:
			s.mu.Unlock()
			return fmt.Errorf("%w: %q is not an arrow key", ErrInvalidCommand, name)
		}
	}
	intent := s.keys.Intent()
	speed, duration := s.keys.Speed, s.keys.Duration
	s.mu.Unlock()
	return s.send(drive.IntentCommand(intent, speed, duration))
}

// DriveIntent sends a named intent at the current speed and duration.
func (s *TeleopService) DriveIntent(name string) error {
	intent, err := drive.ParseIntent(name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	s.mu.Lock()
	speed, duration := s.keys.Speed, s.keys.Duration
	s.mu.Unlock()
	return s.send(drive.IntentCommand(intent, speed, duration))
}

// Joystick maps a stick deflection, x and y in [-1, 1].
func (s *TeleopService) Joystick(x, y float64) error {
	if err := checkAxis("x", x); err != nil {
		return err
	}
	if err := checkAxis("y", y); err != nil {
		return err
	}
	s.mu.Lock()
	opts := s.opts
	s.mu.Unlock()
	return s.send(drive.FromVector(x, y, opts))
}

// CameraStick maps the vertical deflection of the camera stick.
func (s *TeleopService) CameraStick(y float64) error {
	if err := checkAxis("camera", y); err != nil {
		return err
	}
	return s.send(drive.CameraFromStick(y))
}

// CameraPosition moves the camera servo to position in [0, 100].
func (s *TeleopService) CameraPosition(position int) error {
	if position < 0 || position > 100 {
		return fmt.Errorf("%w: camera position %d out of [0, 100]", ErrInvalidCommand, position)
	}
	return s.send(protocol.CameraSetPosition{Position: position})
}

// Stop stops the drive and releases every key.
func (s *TeleopService) Stop() error {
	s.mu.Lock()
	s.keys.ReleaseAll()
	s.mu.Unlock()
	return s.send(protocol.DriveStop{})
}

// SetSpeed sets the key speed in [0, 100].
func (s *TeleopService) SetSpeed(speed float64) error {
	if speed < 0 || speed > drive.MaxSpeed {
		return fmt.Errorf("%w: speed %v out of [0, 100]", ErrInvalidCommand, speed)
	}
	s.mu.Lock()
	s.keys.Speed = speed
	s.mu.Unlock()
	return nil
}

// ToggleSlowMode flips joystick slow mode and returns the new value.
func (s *TeleopService) ToggleSlowMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.SlowMode = !s.opts.SlowMode
	return s.opts.SlowMode
}

// ValidateCommand checks if a command is within safe limits
func (s *TeleopService) ValidateCommand(cmd Command) error {
	switch {
	case cmd.Stop:
		return nil
	case len(cmd.Keys) > 0:
		return nil
	case cmd.Intent != "":
		if _, err := drive.ParseIntent(cmd.Intent); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
		return nil
	case cmd.X != nil || cmd.Y != nil:
		if cmd.X == nil || cmd.Y == nil {
			return fmt.Errorf("%w: joystick needs both x and y", ErrInvalidCommand)
		}
		if err := checkAxis("x", *cmd.X); err != nil {
			return err
		}
		return checkAxis("y", *cmd.Y)
	case cmd.Camera != nil:
		return checkAxis("camera", *cmd.Camera)
	}
	return fmt.Errorf("%w: empty command", ErrInvalidCommand)
}

// Apply validates cmd and sends what it maps to.
func (s *TeleopService) Apply(cmd Command) error {
	if err := s.ValidateCommand(cmd); err != nil {
		return err
	}
	switch {
	case cmd.Stop:
		return s.Stop()
	case len(cmd.Keys) > 0:
		return s.Keys(cmd.Keys...)
	case cmd.Intent != "":
		return s.DriveIntent(cmd.Intent)
	case cmd.X != nil:
		return s.Joystick(*cmd.X, *cmd.Y)
	default:
		return s.CameraStick(*cmd.Camera)
	}
}

// CommandHandler processes incoming teleop commands
func (s *TeleopService) CommandHandler(c *fiber.Ctx) error {
	var cmd Command
	if err := c.BodyParser(&cmd); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if err := s.Apply(cmd); err != nil {
		code := fiber.StatusServiceUnavailable
		if errors.Is(err, ErrInvalidCommand) {
			code = fiber.StatusBadRequest
		}
		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"status": "command sent",
		"state":  s.State(),
	})
}

func (s *TeleopService) send(cmd protocol.Command) error {
	s.mu.Lock()
	s.last = string(cmd.Subsystem()) + "/" + cmd.Action()
	s.mu.Unlock()

	if err := s.sender.SendCommand(cmd); err != nil {
		s.logger.Warnf("Failed to send %s/%s: %v", cmd.Subsystem(), cmd.Action(), err)
		return err
	}
	s.logger.Debugf("Sent %s/%s", cmd.Subsystem(), cmd.Action())
	return nil
}

func checkAxis(name string, v float64) error {
	if v < -1 || v > 1 {
		return fmt.Errorf("%w: %s=%v out of [-1, 1]", ErrInvalidCommand, name, v)
	}
	return nil
}
