// Package sim is an in-process robot: it serves the control and video
// WebSockets and the REST API the console talks to, backed by a robot
// profile instead of hardware.
package sim

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marchandivan/pirobot/pkg/config"
	customlog "github.com/marchandivan/pirobot/pkg/log"
	"github.com/marchandivan/pirobot/pkg/protocol"
	"github.com/marchandivan/pirobot/pkg/restapi"
)

// Camera servo range
const (
	CameraMinPosition    = 0
	CameraMaxPosition    = 100
	CameraCenterPosition = 50
)

// Result is the outcome of one command: envelopes to send back to the
// sender and whether every client should get a fresh status.
type Result struct {
	Replies    []protocol.Envelope
	PushStatus bool
}

type motorState struct {
	status     string
	drive      protocol.DriveCommand
	patrolling bool
	distance   float64
}

type cameraState struct {
	streaming      bool
	overlay        bool
	selectedCamera string
	position       int
	faceDetection  bool
}

type lightState struct {
	leftOn   bool
	rightOn  bool
	blinking bool
}

// Robot is the simulated robot state. It is safe for concurrent use.
type Robot struct {
	mu      sync.Mutex
	profile *config.RobotProfile
	values  map[string]interface{}
	logger  customlog.Logger
	now     func() time.Time

	motor  motorState
	camera cameraState
	light  lightState

	lastSound   string
	lastPicture string
	lastMessage string
	lastSpeech  string
	setups      map[string]int

	pictures []restapi.Media
	videos   []restapi.Media
	wifi     wifiState
}

// NewRobot creates a robot from profile.
func NewRobot(profile *config.RobotProfile, logger customlog.Logger) *Robot {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &Robot{
		profile: profile,
		values:  make(map[string]interface{}),
		logger:  logger,
		now:     time.Now,
		motor:   motorState{status: "OK"},
		camera: cameraState{
			selectedCamera: "front",
			position:       CameraCenterPosition,
		},
		setups: make(map[string]int),
		wifi:   newWifiState(),
	}
}

// Profile returns the profile the robot was built from.
func (r *Robot) Profile() *config.RobotProfile { return r.profile }

// Name returns the robot_name setting, or the profile name.
func (r *Robot) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name()
}

func (r *Robot) name() string {
	if v, err := r.get("robot_name"); err == nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return r.profile.Name
}

// Get returns the stored value of key converted to its type, or its default.
func (r *Robot) Get(key string) (interface{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(key)
}

func (r *Robot) get(key string) (interface{}, error) {
	entry, ok := r.profile.Settings[key]
	if !ok {
		return nil, fmt.Errorf("unknown setting %q", key)
	}
	if v, stored := r.values[key]; stored {
		return v, nil
	}
	if entry.Default == nil {
		return nil, nil
	}
	return config.ConvertValue(entry.Type, entry.Default)
}

// hasCapability reports robot_has_<name>. Undeclared capabilities are
// considered present.
func (r *Robot) hasCapability(name string) bool {
	v, err := r.get("robot_has_" + name)
	if err != nil {
		return true
	}
	b, ok := v.(bool)
	return ok && b
}

// Save validates and stores a setting value.
func (r *Robot) Save(key string, value interface{}) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save(key, value)
}

func (r *Robot) save(key string, value interface{}) bool {
	entry, ok := r.profile.Settings[key]
	if !ok {
		r.logger.Warnf("Unknown setting %s", key)
		return false
	}
	converted, err := config.ConvertValue(entry.Type, value)
	if err != nil {
		r.logger.Warnf("Rejected value for %s: %v", key, err)
		return false
	}
	r.values[key] = converted
	return true
}

// Delete resets a setting to its default. It reports false when the setting
// had no stored value.
func (r *Robot) Delete(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delete(key)
}

func (r *Robot) delete(key string) bool {
	if _, stored := r.values[key]; !stored {
		return false
	}
	delete(r.values, key)
	return true
}

// Settings returns every setting entry with its current value.
func (r *Robot) Settings() map[string]protocol.SettingEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings()
}

func (r *Robot) settings() map[string]protocol.SettingEntry {
	out := make(map[string]protocol.SettingEntry, len(r.profile.Settings))
	for key, entry := range r.profile.Settings {
		entry.Value, _ = r.get(key)
		out[key] = entry
	}
	return out
}

// ExportConfig returns the values of the settings flagged for export, sent
// as the config of every status push.
func (r *Robot) ExportConfig() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exportConfig()
}

func (r *Robot) exportConfig() map[string]interface{} {
	out := make(map[string]interface{})
	for key, entry := range r.profile.Settings {
		if entry.Export {
			out[key], _ = r.get(key)
		}
	}
	return out
}

// SetupCount returns how many times a subsystem was set up again after a
// setting change.
func (r *Robot) SetupCount(subsystem string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setups[subsystem]
}

// StatusUpdate builds the message of a status push.
func (r *Robot) StatusUpdate() protocol.StatusUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return protocol.StatusUpdate{
		Config:    r.exportConfig(),
		Status:    r.status(),
		RobotName: r.name(),
	}
}

// StatusEnvelope wraps StatusUpdate into a status envelope.
func (r *Robot) StatusEnvelope() (protocol.Envelope, error) {
	return protocol.NewEnvelope(protocol.TopicStatus, r.StatusUpdate())
}

// Serialize is the "robot" object of REST replies.
func (r *Robot) Serialize() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.status()
	out["name"] = r.name()
	return out
}

func (r *Robot) status() map[string]interface{} {
	return map[string]interface{}{
		"motor": map[string]interface{}{
			"status":     r.motor.status,
			"left":       sideStatus(r.motor.drive.LeftOrientation, r.motor.drive.LeftSpeed),
			"right":      sideStatus(r.motor.drive.RightOrientation, r.motor.drive.RightSpeed),
			"distance":   r.motor.distance,
			"patrolling": r.motor.patrolling,
		},
		"camera": map[string]interface{}{
			"status":          "OK",
			"streaming":       r.camera.streaming,
			"overlay":         r.camera.overlay,
			"selected_camera": r.camera.selectedCamera,
			"position":        r.camera.position,
			"center_position": CameraCenterPosition,
			"face_detection":  r.camera.faceDetection,
		},
		"light": map[string]interface{}{
			"status":   "OK",
			"left_on":  r.light.leftOn,
			"right_on": r.light.rightOn,
			"blinking": r.light.blinking,
		},
	}
}

func sideStatus(orientation protocol.Orientation, speed float64) map[string]interface{} {
	if orientation == "" {
		orientation = protocol.Forward
	}
	return map[string]interface{}{"orientation": string(orientation), "speed": speed}
}

// Apply executes a robot command.
func (r *Robot) Apply(cmd protocol.Command) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch c := cmd.(type) {
	case protocol.DriveMove:
		r.motor.drive = c.DriveCommand
		r.motor.patrolling = false
		if c.Distance != nil {
			r.motor.distance += *c.Distance
		}
		r.motor.status = "moving"
	case protocol.DriveStop:
		r.stop()
	case protocol.DrivePatrol:
		r.motor.patrolling = true
		r.motor.status = "patrolling"
	case protocol.CameraSetPosition:
		r.camera.position = clampPosition(c.Position)
	case protocol.CameraCenterPosition:
		r.camera.position = CameraCenterPosition
	case protocol.CameraSelect:
		r.camera.selectedCamera = c.Camera
	case protocol.CameraToggleOverlay:
		r.camera.overlay = !r.camera.overlay
	case protocol.CameraStartVideo:
		r.camera.streaming = true
	case protocol.CameraStopVideo:
		if r.camera.streaming {
			r.videos = append(r.videos, r.media("video", "mp4"))
		}
		r.camera.streaming = false
	case protocol.CameraCapturePicture:
		r.pictures = append(r.pictures, r.media("picture", "jpg"))
	case protocol.FaceDetectionToggle:
		r.camera.faceDetection = !r.camera.faceDetection
	case protocol.LightToggle:
		if !r.hasCapability("light") {
			return Result{}
		}
		on := !(r.light.leftOn && r.light.rightOn)
		r.light.leftOn, r.light.rightOn = on, on
		r.light.blinking = false
	case protocol.LightBlink:
		if !r.hasCapability("light") {
			return Result{}
		}
		r.light.leftOn, r.light.rightOn = c.LeftOn, c.RightOn
		r.light.blinking = true
	case protocol.SFXPlay:
		if !r.hasCapability("speaker") {
			return Result{}
		}
		r.lastSound = c.Name
	case protocol.LCDDisplayPicture:
		if !r.hasCapability("screen") {
			return Result{}
		}
		r.lastPicture = c.Name
	case protocol.MessagePlay:
		r.lastMessage = c.Destination + ":" + c.Message
	case protocol.ConfigurationGet:
		return r.configurationReply("get", true, nil)
	case protocol.ConfigurationUpdate:
		ok := r.save(c.Key, c.Value)
		return r.configurationReply("update", ok, r.needSetup(c.Key))
	case protocol.ConfigurationDelete:
		ok := r.delete(c.Key)
		return r.configurationReply("delete", ok, r.needSetup(c.Key))
	default:
		r.logger.Warnf("Ignoring command %s/%s", cmd.Subsystem(), cmd.Action())
		return Result{}
	}
	return Result{PushStatus: true}
}

func (r *Robot) configurationReply(action string, success bool, needSetup []string) Result {
	env, err := protocol.NewEnvelope(protocol.TopicConfiguration, protocol.ConfigurationReply{
		Type:    protocol.SubsystemConfiguration,
		Action:  action,
		Config:  r.settings(),
		Success: success,
	})
	if err != nil {
		r.logger.Errorf("Failed to build configuration reply: %v", err)
		return Result{}
	}
	if success {
		for _, subsystem := range needSetup {
			r.setups[subsystem]++
			r.logger.Infof("Setting up %s again", subsystem)
		}
	}
	return Result{
		Replies:    []protocol.Envelope{env},
		PushStatus: success && action != "get",
	}
}

func (r *Robot) needSetup(key string) []string {
	entry, ok := r.profile.Settings[key]
	if !ok {
		return nil
	}
	return entry.NeedSetup
}

func (r *Robot) stop() {
	r.motor.drive = protocol.DriveCommand{}
	r.motor.patrolling = false
	r.motor.status = "OK"
}

// ConnectionLost stops the motors once the last control client is gone.
func (r *Robot) ConnectionLost() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger.Warnf("Client connection lost, stopping robot")
	r.stop()
}

// Say records text as spoken.
func (r *Robot) Say(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSpeech = text
}

// MoveArm checks the arm capability. The simulated arm has no state.
func (r *Robot) MoveArm(req restapi.MoveArmRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasCapability("arm") {
		return fmt.Errorf("robot has no arm")
	}
	if req.Angle < -180 || req.Angle > 180 {
		return fmt.Errorf("invalid angle %v for %s", req.Angle, req.ID)
	}
	return nil
}

// Moving reports whether the motors are running.
func (r *Robot) Moving() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.motor.drive.IsStop() || r.motor.patrolling
}

// CameraPosition returns the camera servo position.
func (r *Robot) CameraPosition() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.camera.position
}

// CapturePicture adds a picture to the gallery.
func (r *Robot) CapturePicture() restapi.Media {
	r.mu.Lock()
	defer r.mu.Unlock()
	media := r.media("picture", "jpg")
	r.pictures = append(r.pictures, media)
	return media
}

func (r *Robot) media(kind, ext string) restapi.Media {
	now := r.now()
	return restapi.Media{
		Filename:  fmt.Sprintf("%s_%s.%s", kind, now.Format("20060102_150405.000"), ext),
		RobotName: r.name(),
		Source:    r.camera.selectedCamera,
		Date:      now.Format("2006-01-02"),
		Time:      now.Format("15:04:05"),
	}
}

// SetLight switches both head lights and stops blinking.
func (r *Robot) SetLight(leftOn, rightOn bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasCapability("light") {
		return fmt.Errorf("robot has no light")
	}
	r.light = lightState{leftOn: leftOn, rightOn: rightOn}
	return nil
}

// MoveToTarget starts driving towards a point of the camera frame given in
// percent of its width and height.
func (r *Robot) MoveToTarget(req restapi.MoveToTargetRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req.X < 0 || req.X > 100 || req.Y < 0 || req.Y > 100 {
		return fmt.Errorf("target (%v, %v) outside of the frame", req.X, req.Y)
	}
	speed := req.Speed
	if speed <= 0 || speed > 100 {
		speed = 50
	}
	r.motor.drive = protocol.DriveCommand{
		LeftOrientation:  protocol.Forward,
		LeftSpeed:        speed,
		RightOrientation: protocol.Forward,
		RightSpeed:       speed,
		Duration:         req.Timeout,
	}
	r.motor.patrolling = false
	r.motor.status = "moving"
	return nil
}

// Outputs is what the robot last played, displayed or said.
type Outputs struct {
	Sound   string
	Picture string
	Message string
	Speech  string
}

// Outputs returns the last sound, picture, message and speech.
func (r *Robot) Outputs() Outputs {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Outputs{Sound: r.lastSound, Picture: r.lastPicture, Message: r.lastMessage, Speech: r.lastSpeech}
}

// Pictures lists captured pictures, newest first.
func (r *Robot) Pictures() []restapi.Media {
	r.mu.Lock()
	defer r.mu.Unlock()
	return newestFirst(r.pictures)
}

// Videos lists recorded videos, newest first.
func (r *Robot) Videos() []restapi.Media {
	r.mu.Lock()
	defer r.mu.Unlock()
	return newestFirst(r.videos)
}

func newestFirst(medias []restapi.Media) []restapi.Media {
	out := make([]restapi.Media, len(medias))
	copy(out, medias)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Filename > out[j].Filename })
	return out
}

func clampPosition(p int) int {
	if p < CameraMinPosition {
		return CameraMinPosition
	}
	if p > CameraMaxPosition {
		return CameraMaxPosition
	}
	return p
}
