package teleop

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/marchandivan/pirobot/pkg/config"
	"github.com/marchandivan/pirobot/pkg/protocol"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []protocol.Command
	err  error
}

func (r *recordingSender) SendCommand(cmd protocol.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, cmd)
	return nil
}

func (r *recordingSender) fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *recordingSender) last() protocol.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return nil
	}
	return r.sent[len(r.sent)-1]
}

func newService(t *testing.T) (*TeleopService, *recordingSender) {
	t.Helper()
	sender := &recordingSender{}
	return NewTeleopService(sender, config.DriveConfig{Speed: 50, Duration: 5}, nil), sender
}

func floatPtr(v float64) *float64 { return &v }

func TestKeysChord(t *testing.T) {
	svc, sender := newService(t)

	if err := svc.Keys("up", "left"); err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	move, ok := sender.last().(protocol.DriveMove)
	if !ok {
		t.Fatalf("Expected DriveMove, got %T", sender.last())
	}
	if move.LeftSpeed != 0 || move.RightSpeed != 50 {
		t.Errorf("Expected speeds 0/50, got %v/%v", move.LeftSpeed, move.RightSpeed)
	}
	if move.Duration != 5 {
		t.Errorf("Expected duration 5, got %v", move.Duration)
	}

	if err := svc.Keys("up", "tab"); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Expected ErrInvalidCommand for a non-arrow key, got %v", err)
	}
}

func TestPressAndReleaseKey(t *testing.T) {
	svc, sender := newService(t)

	if err := svc.PressKey("up"); err != nil {
		t.Fatalf("PressKey failed: %v", err)
	}
	if _, ok := sender.last().(protocol.DriveMove); !ok {
		t.Fatalf("Expected DriveMove after pressing up, got %T", sender.last())
	}

	if err := svc.ReleaseKey("up"); err != nil {
		t.Fatalf("ReleaseKey failed: %v", err)
	}
	if _, ok := sender.last().(protocol.DriveStop); !ok {
		t.Errorf("Expected DriveStop after releasing the last arrow, got %T", sender.last())
	}

	if err := svc.PressKey("esc"); err != nil {
		t.Fatalf("PressKey(esc) failed: %v", err)
	}
	if _, ok := sender.last().(protocol.DriveStop); !ok {
		t.Errorf("Expected DriveStop for esc, got %T", sender.last())
	}
	if got := svc.State().LastCommand; got != "drive/stop" {
		t.Errorf("Expected last command drive/stop, got %q", got)
	}
}

func TestReleaseKeyResendsRemainingChord(t *testing.T) {
	svc, sender := newService(t)

	for _, key := range []string{"up", "left"} {
		if err := svc.PressKey(key); err != nil {
			t.Fatalf("PressKey(%s) failed: %v", key, err)
		}
	}
	if err := svc.ReleaseKey("up"); err != nil {
		t.Fatalf("ReleaseKey failed: %v", err)
	}
	move, ok := sender.last().(protocol.DriveMove)
	if !ok {
		t.Fatalf("Expected DriveMove for the held left arrow, got %T", sender.last())
	}
	if move.LeftOrientation != protocol.Backward || move.RightOrientation != protocol.Forward {
		t.Errorf("Expected a left pivot, got %+v", move.DriveCommand)
	}

	if err := svc.ReleaseKey("left"); err != nil {
		t.Fatalf("ReleaseKey failed: %v", err)
	}
	if _, ok := sender.last().(protocol.DriveStop); !ok {
		t.Errorf("Expected DriveStop once no arrow is held, got %T", sender.last())
	}
}

func TestJoystickAndSlowMode(t *testing.T) {
	svc, sender := newService(t)

	if err := svc.Joystick(0, -1); err != nil {
		t.Fatalf("Joystick failed: %v", err)
	}
	move := sender.last().(protocol.DriveMove)
	if move.LeftSpeed != 100 || move.LeftOrientation != protocol.Forward {
		t.Errorf("Expected full forward, got %+v", move.DriveCommand)
	}

	if !svc.ToggleSlowMode() {
		t.Fatalf("Expected slow mode on after toggle")
	}
	if err := svc.Joystick(0, -1); err != nil {
		t.Fatalf("Joystick failed: %v", err)
	}
	move = sender.last().(protocol.DriveMove)
	if move.LeftSpeed != 30 {
		t.Errorf("Expected slow speed 30, got %v", move.LeftSpeed)
	}

	if err := svc.Joystick(1.5, 0); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Expected ErrInvalidCommand for x out of range, got %v", err)
	}
}

func TestCameraCommands(t *testing.T) {
	svc, sender := newService(t)

	if err := svc.CameraStick(0); err != nil {
		t.Fatalf("CameraStick failed: %v", err)
	}
	if _, ok := sender.last().(protocol.CameraCenterPosition); !ok {
		t.Errorf("Expected CameraCenterPosition, got %T", sender.last())
	}

	if err := svc.CameraPosition(80); err != nil {
		t.Fatalf("CameraPosition failed: %v", err)
	}
	if pos := sender.last().(protocol.CameraSetPosition); pos.Position != 80 {
		t.Errorf("Expected position 80, got %d", pos.Position)
	}
	if err := svc.CameraPosition(101); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Expected ErrInvalidCommand, got %v", err)
	}
}

func TestSetSpeed(t *testing.T) {
	svc, sender := newService(t)

	if err := svc.SetSpeed(20); err != nil {
		t.Fatalf("SetSpeed failed: %v", err)
	}
	if err := svc.DriveIntent("forward"); err != nil {
		t.Fatalf("DriveIntent failed: %v", err)
	}
	if move := sender.last().(protocol.DriveMove); move.RightSpeed != 20 {
		t.Errorf("Expected speed 20, got %v", move.RightSpeed)
	}
	if err := svc.SetSpeed(120); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Expected ErrInvalidCommand, got %v", err)
	}
	if err := svc.DriveIntent("sideways"); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Expected ErrInvalidCommand for unknown intent, got %v", err)
	}
}

func TestValidateCommand(t *testing.T) {
	svc, _ := newService(t)

	tests := []struct {
		name    string
		cmd     Command
		wantErr bool
	}{
		{"stop", Command{Stop: true}, false},
		{"keys", Command{Keys: []string{"up"}}, false},
		{"intent", Command{Intent: "backward_left"}, false},
		{"unknown intent", Command{Intent: "spin"}, true},
		{"joystick", Command{X: floatPtr(0.2), Y: floatPtr(-0.4)}, false},
		{"joystick missing y", Command{X: floatPtr(0.2)}, true},
		{"joystick out of range", Command{X: floatPtr(0.2), Y: floatPtr(-2)}, true},
		{"camera", Command{Camera: floatPtr(0.5)}, false},
		{"empty", Command{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.ValidateCommand(tt.cmd)
			if tt.wantErr && !errors.Is(err, ErrInvalidCommand) {
				t.Errorf("Expected ErrInvalidCommand, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestCommandHandler(t *testing.T) {
	svc, sender := newService(t)
	app := fiber.New()
	app.Post("/command", svc.CommandHandler)

	post := func(body string) (int, map[string]interface{}) {
		req := httptest.NewRequest("POST", "/command", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		var out map[string]interface{}
		_ = json.Unmarshal(data, &out)
		return resp.StatusCode, out
	}

	code, out := post(`{"intent":"forward"}`)
	if code != fiber.StatusOK {
		t.Fatalf("Expected 200, got %d (%v)", code, out)
	}
	if out["status"] != "command sent" {
		t.Errorf("Expected status 'command sent', got %v", out["status"])
	}
	if _, ok := sender.last().(protocol.DriveMove); !ok {
		t.Errorf("Expected DriveMove, got %T", sender.last())
	}

	if code, _ := post(`{"intent":"spin"}`); code != fiber.StatusBadRequest {
		t.Errorf("Expected 400 for an invalid intent, got %d", code)
	}

	sender.fail(errors.New("not connected"))
	if code, _ := post(`{"stop":true}`); code != fiber.StatusServiceUnavailable {
		t.Errorf("Expected 503 when the robot is unreachable, got %d", code)
	}
}
