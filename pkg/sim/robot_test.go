package sim

import (
	"bytes"
	"encoding/json"
	"image/jpeg"
	"testing"
	"time"

	"github.com/marchandivan/pirobot/pkg/config"
	"github.com/marchandivan/pirobot/pkg/protocol"
	"github.com/marchandivan/pirobot/pkg/restapi"
)

func testProfile() *config.RobotProfile {
	return &config.RobotProfile{
		Name:  "SimBot",
		Video: config.VideoProfile{Width: 64, Height: 48, Quality: 60},
		Settings: map[string]protocol.SettingEntry{
			"robot_name":       {Type: config.TypeStr, Category: "general", Default: "SimBot", Export: true},
			"robot_has_light":  {Type: config.TypeBool, Category: "hardware", Default: true, Export: true},
			"robot_has_screen": {Type: config.TypeBool, Category: "hardware", Default: false, Export: true},
			"robot_has_arm":    {Type: config.TypeBool, Category: "hardware", Default: false},
			"motor_max_speed":  {Type: config.TypeInt, Category: "motor", Default: 100, NeedSetup: []string{"motor"}},
		},
	}
}

func decodeReply(t *testing.T, env protocol.Envelope) protocol.ConfigurationReply {
	t.Helper()
	if env.Topic != protocol.TopicConfiguration {
		t.Fatalf("Expected configuration reply, got topic %s", env.Topic)
	}
	var reply protocol.ConfigurationReply
	if err := json.Unmarshal(env.Message, &reply); err != nil {
		t.Fatalf("Failed to decode reply: %v", err)
	}
	return reply
}

func TestApplyDriveAndStop(t *testing.T) {
	robot := NewRobot(testProfile(), nil)
	distance := 1.5

	result := robot.Apply(protocol.DriveMove{DriveCommand: protocol.DriveCommand{
		LeftOrientation:  protocol.Forward,
		LeftSpeed:        40,
		RightOrientation: protocol.Backward,
		RightSpeed:       40,
		Distance:         &distance,
	}})
	if !result.PushStatus || len(result.Replies) != 0 {
		t.Errorf("Expected a status push and no reply, got %+v", result)
	}
	if !robot.Moving() {
		t.Error("Expected robot to be moving")
	}

	motor := robot.StatusUpdate().Status["motor"].(map[string]interface{})
	right := motor["right"].(map[string]interface{})
	if right["orientation"] != "B" || right["speed"] != 40.0 {
		t.Errorf("Unexpected right side %v", right)
	}
	if motor["distance"] != 1.5 {
		t.Errorf("Expected distance 1.5, got %v", motor["distance"])
	}

	robot.Apply(protocol.DrivePatrol{})
	robot.Apply(protocol.DriveStop{})
	if robot.Moving() {
		t.Error("Expected robot to be stopped")
	}
}

func TestConnectionLostStopsMotors(t *testing.T) {
	robot := NewRobot(testProfile(), nil)
	robot.Apply(protocol.DrivePatrol{})
	robot.ConnectionLost()
	if robot.Moving() {
		t.Error("Expected motors stopped after connection loss")
	}
}

func TestCameraPosition(t *testing.T) {
	robot := NewRobot(testProfile(), nil)

	robot.Apply(protocol.CameraSetPosition{Position: 140})
	if got := robot.CameraPosition(); got != CameraMaxPosition {
		t.Errorf("Expected position clamped to %d, got %d", CameraMaxPosition, got)
	}
	robot.Apply(protocol.CameraSetPosition{Position: -3})
	if got := robot.CameraPosition(); got != CameraMinPosition {
		t.Errorf("Expected position clamped to %d, got %d", CameraMinPosition, got)
	}
	robot.Apply(protocol.CameraCenterPosition{})
	if got := robot.CameraPosition(); got != CameraCenterPosition {
		t.Errorf("Expected centered camera, got %d", got)
	}
}

func TestConfigurationUpdate(t *testing.T) {
	robot := NewRobot(testProfile(), nil)

	result := robot.Apply(protocol.ConfigurationUpdate{Key: "motor_max_speed", Value: "80"})
	if !result.PushStatus || len(result.Replies) != 1 {
		t.Fatalf("Expected one reply and a status push, got %+v", result)
	}
	reply := decodeReply(t, result.Replies[0])
	if !reply.Success || reply.Action != "update" {
		t.Errorf("Unexpected reply %+v", reply)
	}
	if got := reply.Config["motor_max_speed"].Value; got != 80.0 {
		t.Errorf("Expected value 80 in reply, got %v", got)
	}
	if got := robot.SetupCount("motor"); got != 1 {
		t.Errorf("Expected motor set up again once, got %d", got)
	}

	result = robot.Apply(protocol.ConfigurationUpdate{Key: "motor_max_speed", Value: "fast"})
	reply = decodeReply(t, result.Replies[0])
	if reply.Success || result.PushStatus {
		t.Errorf("Expected rejected update without status push, got %+v", result)
	}
	if got := robot.SetupCount("motor"); got != 1 {
		t.Errorf("Expected no new setup, got %d", got)
	}

	result = robot.Apply(protocol.ConfigurationUpdate{Key: "unknown", Value: 1})
	if decodeReply(t, result.Replies[0]).Success {
		t.Error("Expected unknown key to be rejected")
	}
}

func TestConfigurationGetAndDelete(t *testing.T) {
	robot := NewRobot(testProfile(), nil)

	result := robot.Apply(protocol.ConfigurationGet{})
	if result.PushStatus {
		t.Error("Expected no status push on get")
	}
	reply := decodeReply(t, result.Replies[0])
	if len(reply.Config) != 5 || reply.Config["robot_name"].Value != "SimBot" {
		t.Errorf("Unexpected config %+v", reply.Config)
	}

	if robot.Delete("robot_name") {
		t.Error("Expected delete of a default value to fail")
	}
	robot.Save("robot_name", "Rover")
	if got := robot.Name(); got != "Rover" {
		t.Errorf("Expected name Rover, got %s", got)
	}

	result = robot.Apply(protocol.ConfigurationDelete{Key: "robot_name"})
	if reply := decodeReply(t, result.Replies[0]); !reply.Success || reply.Action != "delete" {
		t.Errorf("Unexpected reply %+v", reply)
	}
	if got := robot.Name(); got != "SimBot" {
		t.Errorf("Expected default name back, got %s", got)
	}
}

func TestCapabilityGates(t *testing.T) {
	robot := NewRobot(testProfile(), nil)

	if result := robot.Apply(protocol.LCDDisplayPicture{Name: "smile"}); result.PushStatus {
		t.Error("Expected display ignored without screen")
	}
	if result := robot.Apply(protocol.SFXPlay{Name: "horn"}); !result.PushStatus {
		t.Error("Expected undeclared speaker to be present")
	}
	if result := robot.Apply(protocol.LightToggle{}); !result.PushStatus {
		t.Error("Expected light toggle")
	}

	light := robot.StatusUpdate().Status["light"].(map[string]interface{})
	if light["left_on"] != true || light["right_on"] != true {
		t.Errorf("Expected both lights on, got %v", light)
	}
	outputs := robot.Outputs()
	if outputs.Sound != "horn" || outputs.Picture != "" {
		t.Errorf("Unexpected outputs %+v", outputs)
	}

	if err := robot.MoveArm(restapi.MoveArmRequest{ID: "wrist", Angle: 10}); err == nil {
		t.Error("Expected arm move to fail without an arm")
	}
}

func TestStatusExportsFlaggedSettings(t *testing.T) {
	robot := NewRobot(testProfile(), nil)
	update := robot.StatusUpdate()

	if update.RobotName != "SimBot" {
		t.Errorf("Expected robot name SimBot, got %s", update.RobotName)
	}
	if len(update.Config) != 3 {
		t.Errorf("Expected 3 exported settings, got %v", update.Config)
	}
	if _, exported := update.Config["motor_max_speed"]; exported {
		t.Error("Expected motor_max_speed not to be exported")
	}
}

func TestGallery(t *testing.T) {
	robot := NewRobot(testProfile(), nil)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	robot.now = func() time.Time { return now }

	robot.CapturePicture()
	now = now.Add(time.Second)
	robot.Apply(protocol.CameraCapturePicture{})
	robot.Apply(protocol.CameraStartVideo{})
	robot.Apply(protocol.CameraStopVideo{})

	pictures := robot.Pictures()
	if len(pictures) != 2 || pictures[0].Time != "10:00:01" {
		t.Errorf("Expected newest picture first, got %+v", pictures)
	}
	if pictures[0].RobotName != "SimBot" || pictures[0].Source != "front" {
		t.Errorf("Unexpected picture %+v", pictures[0])
	}
	if videos := robot.Videos(); len(videos) != 1 {
		t.Errorf("Expected one video, got %+v", videos)
	}
}

func TestWifi(t *testing.T) {
	robot := NewRobot(testProfile(), nil)

	state := robot.Wifi()
	if state.Status.Connection == nil || *state.Status.Connection != "pirobot-home" {
		t.Fatalf("Unexpected initial status %+v", state.Status)
	}

	if err := robot.ConnectWifi("pirobot-lab", nil); err == nil {
		t.Error("Expected password to be required")
	}
	password := "secret"
	if err := robot.ConnectWifi("pirobot-lab", &password); err != nil {
		t.Fatalf("ConnectWifi failed: %v", err)
	}
	state = robot.Wifi()
	if *state.Status.Connection != "pirobot-lab" || state.Status.Signal != 42 {
		t.Errorf("Unexpected status %+v", state.Status)
	}

	robot.StartHotspot()
	if state = robot.Wifi(); !state.Status.Hotspot {
		t.Errorf("Expected hotspot, got %+v", state.Status)
	}

	if err := robot.ForgetWifi("pirobot-home"); err != nil {
		t.Fatalf("ForgetWifi failed: %v", err)
	}
	robot.StartWifi()
	if state = robot.Wifi(); *state.Status.Connection != "pirobot-lab" {
		t.Errorf("Expected to rejoin pirobot-lab, got %+v", state.Status)
	}
	if err := robot.ForgetWifi("guest"); err == nil {
		t.Error("Expected forgetting an unsaved network to fail")
	}
}

func TestVideoCredit(t *testing.T) {
	var v videoState
	start := time.Now()

	if v.take(start, time.Second) {
		t.Error("Expected no frame before start")
	}
	v.start()
	if !v.take(start, time.Second) {
		t.Error("Expected a frame after start")
	}
	if v.take(start.Add(500*time.Millisecond), time.Second) {
		t.Error("Expected no frame without ready")
	}
	v.markReady()
	if !v.take(start.Add(600*time.Millisecond), time.Second) {
		t.Error("Expected a frame after ready")
	}
	if !v.take(start.Add(1700*time.Millisecond), time.Second) {
		t.Error("Expected a frame after the timeout")
	}
}

func TestTestPatternFrame(t *testing.T) {
	pattern := NewTestPattern(config.VideoProfile{Width: 64, Height: 48, Quality: 60})

	first, err := pattern.Frame()
	if err != nil {
		t.Fatalf("Frame failed: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(first))
	if err != nil {
		t.Fatalf("Frame is not a JPEG: %v", err)
	}
	if cfg.Width != 64 || cfg.Height != 48 {
		t.Errorf("Expected 64x48, got %dx%d", cfg.Width, cfg.Height)
	}

	second, _ := pattern.Frame()
	if bytes.Equal(first, second) {
		t.Error("Expected consecutive frames to differ")
	}
}
