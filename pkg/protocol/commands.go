package protocol

import (
	"encoding/json"
	"fmt"
)

// Subsystem names the robot component a command is addressed to.
type Subsystem string

const (
	SubsystemDrive         Subsystem = "drive"
	SubsystemCamera        Subsystem = "camera"
	SubsystemFaceDetection Subsystem = "face_detection"
	SubsystemConfiguration Subsystem = "configuration"
	SubsystemLight         Subsystem = "light"
	SubsystemSFX           Subsystem = "sfx"
	SubsystemLCD           Subsystem = "lcd"
	SubsystemMessage       Subsystem = "message"
)

// Orientation is the direction a wheel turns.
type Orientation string

const (
	Forward  Orientation = "F"
	Backward Orientation = "B"
)

// DriveCommand is a differential-drive move. Speeds are magnitudes; the
// direction of each side is carried by its orientation only.
type DriveCommand struct {
	LeftOrientation  Orientation `json:"left_orientation"`
	LeftSpeed        float64     `json:"left_speed"`
	RightOrientation Orientation `json:"right_orientation"`
	RightSpeed       float64     `json:"right_speed"`
	Duration         float64     `json:"duration"`
	Distance         *float64    `json:"distance"`
	Rotation         *float64    `json:"rotation"`
	AutoStop         bool        `json:"auto_stop"`
}

// IsStop reports whether both sides are at rest.
func (c DriveCommand) IsStop() bool {
	return c.LeftSpeed == 0 && c.RightSpeed == 0
}

// Command is one known (type, action) pair sent under the "robot" topic.
type Command interface {
	Subsystem() Subsystem
	Action() string
	Args() interface{}
}

// RobotMessage is the message body of a "robot" envelope.
type RobotMessage struct {
	Type   Subsystem       `json:"type"`
	Action string          `json:"action"`
	Args   json.RawMessage `json:"args,omitempty"`
}

type noArgs struct{}

// --- drive ---

type DriveMove struct{ DriveCommand }

func (DriveMove) Subsystem() Subsystem { return SubsystemDrive }
func (DriveMove) Action() string       { return "move" }
func (c DriveMove) Args() interface{}  { return c.DriveCommand }

type DriveStop struct{}

func (DriveStop) Subsystem() Subsystem { return SubsystemDrive }
func (DriveStop) Action() string       { return "stop" }
func (DriveStop) Args() interface{}    { return noArgs{} }

type DrivePatrol struct{}

func (DrivePatrol) Subsystem() Subsystem { return SubsystemDrive }
func (DrivePatrol) Action() string       { return "patrol" }
func (DrivePatrol) Args() interface{}    { return noArgs{} }

// --- camera ---

type CameraSetPosition struct {
	Position int `json:"position"`
}

func (CameraSetPosition) Subsystem() Subsystem { return SubsystemCamera }
func (CameraSetPosition) Action() string       { return "set_position" }
func (c CameraSetPosition) Args() interface{}  { return c }

type CameraCenterPosition struct{}

func (CameraCenterPosition) Subsystem() Subsystem { return SubsystemCamera }
func (CameraCenterPosition) Action() string       { return "center_position" }
func (CameraCenterPosition) Args() interface{}    { return noArgs{} }

type CameraSelect struct {
	Camera string `json:"camera"`
}

func (CameraSelect) Subsystem() Subsystem { return SubsystemCamera }
func (CameraSelect) Action() string       { return "select_camera" }
func (c CameraSelect) Args() interface{}  { return c }

type CameraToggleOverlay struct{}

func (CameraToggleOverlay) Subsystem() Subsystem { return SubsystemCamera }
func (CameraToggleOverlay) Action() string       { return "toggle_overlay" }
func (CameraToggleOverlay) Args() interface{}    { return noArgs{} }

type CameraStartVideo struct{}

func (CameraStartVideo) Subsystem() Subsystem { return SubsystemCamera }
func (CameraStartVideo) Action() string       { return "start_video" }
func (CameraStartVideo) Args() interface{}    { return noArgs{} }

type CameraStopVideo struct{}

func (CameraStopVideo) Subsystem() Subsystem { return SubsystemCamera }
func (CameraStopVideo) Action() string       { return "stop_video" }
func (CameraStopVideo) Args() interface{}    { return noArgs{} }

type CameraCapturePicture struct{}

func (CameraCapturePicture) Subsystem() Subsystem { return SubsystemCamera }
func (CameraCapturePicture) Action() string       { return "capture_picture" }
func (CameraCapturePicture) Args() interface{}    { return noArgs{} }

// --- face detection ---

type FaceDetectionToggle struct{}

func (FaceDetectionToggle) Subsystem() Subsystem { return SubsystemFaceDetection }
func (FaceDetectionToggle) Action() string       { return "toggle" }
func (FaceDetectionToggle) Args() interface{}    { return noArgs{} }

// --- configuration ---

type ConfigurationGet struct{}

func (ConfigurationGet) Subsystem() Subsystem { return SubsystemConfiguration }
func (ConfigurationGet) Action() string       { return "get" }
func (ConfigurationGet) Args() interface{}    { return noArgs{} }

type ConfigurationUpdate struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

func (ConfigurationUpdate) Subsystem() Subsystem { return SubsystemConfiguration }
func (ConfigurationUpdate) Action() string       { return "update" }
func (c ConfigurationUpdate) Args() interface{}  { return c }

type ConfigurationDelete struct {
	Key string `json:"key"`
}

func (ConfigurationDelete) Subsystem() Subsystem { return SubsystemConfiguration }
func (ConfigurationDelete) Action() string       { return "delete" }
func (c ConfigurationDelete) Args() interface{}  { return c }

// --- light, sfx, lcd, message ---

type LightToggle struct{}

func (LightToggle) Subsystem() Subsystem { return SubsystemLight }
func (LightToggle) Action() string       { return "toggle" }
func (LightToggle) Args() interface{}    { return noArgs{} }

type LightBlink struct {
	LeftOn  bool `json:"left_on"`
	RightOn bool `json:"right_on"`
}

func (LightBlink) Subsystem() Subsystem { return SubsystemLight }
func (LightBlink) Action() string       { return "blink" }
func (c LightBlink) Args() interface{}  { return c }

type SFXPlay struct {
	Name string `json:"name"`
}

func (SFXPlay) Subsystem() Subsystem { return SubsystemSFX }
func (SFXPlay) Action() string       { return "play" }
func (c SFXPlay) Args() interface{}  { return c }

type LCDDisplayPicture struct {
	Name string `json:"name"`
}

func (LCDDisplayPicture) Subsystem() Subsystem { return SubsystemLCD }
func (LCDDisplayPicture) Action() string       { return "display_picture" }
func (c LCDDisplayPicture) Args() interface{}  { return c }

type MessagePlay struct {
	Destination string `json:"destination"`
	Message     string `json:"message"`
}

func (MessagePlay) Subsystem() Subsystem { return SubsystemMessage }
func (MessagePlay) Action() string       { return "play" }
func (c MessagePlay) Args() interface{}  { return c }

// UnknownCommand is any (type, action) pair this package does not model.
// It is decoded so it can be logged, never acted upon.
type UnknownCommand struct {
	Type    Subsystem
	Verb    string
	RawArgs json.RawMessage
}

func (c UnknownCommand) Subsystem() Subsystem { return c.Type }
func (c UnknownCommand) Action() string       { return c.Verb }
func (c UnknownCommand) Args() interface{}    { return c.RawArgs }

// EncodeCommand wraps cmd into a "robot" envelope.
func EncodeCommand(cmd Command) (Envelope, error) {
	if _, unknown := cmd.(UnknownCommand); unknown {
		return Envelope{}, fmt.Errorf("%w: %s/%s", ErrUnknownCommand, cmd.Subsystem(), cmd.Action())
	}
	args, err := json.Marshal(cmd.Args())
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s/%s args: %w", cmd.Subsystem(), cmd.Action(), err)
	}
	return NewEnvelope(TopicRobot, RobotMessage{
		Type:   cmd.Subsystem(),
		Action: cmd.Action(),
		Args:   args,
	})
}

// DecodeCommand turns the message of a "robot" envelope into a typed command.
// Unmodelled pairs come back as UnknownCommand together with ErrUnknownCommand.
func DecodeCommand(message json.RawMessage) (Command, error) {
	var msg RobotMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	var cmd Command
	switch msg.Type {
	case SubsystemDrive:
		switch msg.Action {
		case "move":
			var c DriveMove
			if err := decodeArgs(msg, &c.DriveCommand); err != nil {
				return nil, err
			}
			cmd = c
		case "stop":
			cmd = DriveStop{}
		case "patrol":
			cmd = DrivePatrol{}
		}
	case SubsystemCamera:
		switch msg.Action {
		case "set_position":
			var c CameraSetPosition
			if err := decodeArgs(msg, &c); err != nil {
				return nil, err
			}
			cmd = c
		case "center_position":
			cmd = CameraCenterPosition{}
		case "select_camera":
			var c CameraSelect
			if err := decodeArgs(msg, &c); err != nil {
				return nil, err
			}
			cmd = c
		case "toggle_overlay":
			cmd = CameraToggleOverlay{}
		case "start_video":
			cmd = CameraStartVideo{}
		case "stop_video":
			cmd = CameraStopVideo{}
		case "capture_picture":
			cmd = CameraCapturePicture{}
		}
	case SubsystemFaceDetection:
		if msg.Action == "toggle" {
			cmd = FaceDetectionToggle{}
		}
	case SubsystemConfiguration:
		switch msg.Action {
		case "get":
			cmd = ConfigurationGet{}
		case "update":
			var c ConfigurationUpdate
			if err := decodeArgs(msg, &c); err != nil {
				return nil, err
			}
			cmd = c
		case "delete":
			var c ConfigurationDelete
			if err := decodeArgs(msg, &c); err != nil {
				return nil, err
			}
			cmd = c
		}
	case SubsystemLight:
		switch msg.Action {
		case "toggle":
			cmd = LightToggle{}
		case "blink":
			c := LightBlink{LeftOn: true, RightOn: true}
			if err := decodeArgs(msg, &c); err != nil {
				return nil, err
			}
			cmd = c
		}
	case SubsystemSFX:
		if msg.Action == "play" {
			var c SFXPlay
			if err := decodeArgs(msg, &c); err != nil {
				return nil, err
			}
			cmd = c
		}
	case SubsystemLCD:
		if msg.Action == "display_picture" {
			var c LCDDisplayPicture
			if err := decodeArgs(msg, &c); err != nil {
				return nil, err
			}
			cmd = c
		}
	case SubsystemMessage:
		if msg.Action == "play" {
			c := MessagePlay{Destination: "lcd"}
			if err := decodeArgs(msg, &c); err != nil {
				return nil, err
			}
			cmd = c
		}
	}

	if cmd == nil {
		return UnknownCommand{Type: msg.Type, Verb: msg.Action, RawArgs: msg.Args},
			fmt.Errorf("%w: %s/%s", ErrUnknownCommand, msg.Type, msg.Action)
	}
	return cmd, nil
}

func decodeArgs(msg RobotMessage, v interface{}) error {
	if len(msg.Args) == 0 || string(msg.Args) == "null" {
		return nil
	}
	if err := json.Unmarshal(msg.Args, v); err != nil {
		return fmt.Errorf("invalid args for %s/%s: %w", msg.Type, msg.Action, err)
	}
	return nil
}
