package sim

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/marchandivan/pirobot/pkg/connection"
	"github.com/marchandivan/pirobot/pkg/protocol"
	"github.com/marchandivan/pirobot/pkg/restapi"
	"github.com/marchandivan/pirobot/pkg/status"
	"github.com/marchandivan/pirobot/pkg/video"
)

func startSim(t *testing.T, opts ...ServerOption) (*Server, string) {
	t.Helper()

	server := NewServer(NewRobot(testProfile(), nil), nil, opts...)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	go server.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	})
	return server, ln.Addr().String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestControlConnection(t *testing.T) {
	server, addr := startSim(t)

	client := connection.NewClient("ws://"+addr+ControlPath, nil, connection.WithSessionQuery(SessionParam))
	cache := status.New(nil)
	cache.Attach(client)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	waitFor(t, "initial status", func() bool { return cache.Snapshot().RobotName == "SimBot" })
	if !cache.Snapshot().Capability("robot_has_light") {
		t.Error("Expected robot_has_light capability")
	}

	if err := client.SendCommand(protocol.ConfigurationUpdate{Key: "robot_name", Value: "Rover"}); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	waitFor(t, "configuration reply", func() bool {
		snap := cache.Snapshot()
		return snap.Settings["robot_name"].Value == "Rover" && snap.RobotName == "Rover"
	})

	err := client.SendCommand(protocol.DriveMove{DriveCommand: protocol.DriveCommand{
		LeftOrientation:  protocol.Forward,
		LeftSpeed:        30,
		RightOrientation: protocol.Forward,
		RightSpeed:       30,
		Duration:         5,
	}})
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	waitFor(t, "robot moving", server.Robot().Moving)

	client.Close()
	waitFor(t, "client gone", func() bool { return server.ControlClients() == 0 })
	if server.Robot().Moving() {
		t.Error("Expected motors stopped once the last client left")
	}
}

func TestVideoStream(t *testing.T) {
	_, addr := startSim(t, WithFrameInterval(10*time.Millisecond))

	conn := connection.NewClient("ws://"+addr+VideoPath, nil)
	frames := video.NewFrameChannel(conn, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := frames.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer frames.Close()

	var last uint64
	for i := 0; i < 3; i++ {
		frame, err := frames.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if len(frame.Data) < 2 || frame.Data[0] != 0xFF || frame.Data[1] != 0xD8 {
			t.Errorf("Expected JPEG data, got %d bytes", len(frame.Data))
		}
		if frame.Seq <= last {
			t.Errorf("Expected increasing sequence, got %d after %d", frame.Seq, last)
		}
		last = frame.Seq
	}
}

func TestRESTEndpoints(t *testing.T) {
	server, addr := startSim(t)
	api := restapi.NewClient("http://"+addr, time.Second, nil)
	ctx := context.Background()

	reply, err := api.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if reply.Status != restapi.StatusOK || reply.Robot["name"] != "SimBot" {
		t.Errorf("Unexpected status reply %+v", reply)
	}

	_, err = api.Move(ctx, protocol.DriveCommand{LeftOrientation: "X", RightOrientation: protocol.Forward})
	if !errors.Is(err, restapi.ErrHTTPStatus) {
		t.Errorf("Expected ErrHTTPStatus for a bad orientation, got %v", err)
	}
	_, err = api.Move(ctx, protocol.DriveCommand{
		LeftOrientation:  protocol.Forward,
		LeftSpeed:        60,
		RightOrientation: protocol.Forward,
		RightSpeed:       60,
		Duration:         1,
	})
	if err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if !server.Robot().Moving() {
		t.Error("Expected robot moving")
	}
	if _, err := api.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	reply, err = api.SetLight(ctx, true, false)
	if err != nil {
		t.Fatalf("SetLight failed: %v", err)
	}
	light, _ := reply.Robot["light"].(map[string]interface{})
	if light["left_on"] != true || light["right_on"] != false {
		t.Errorf("Unexpected light status %v", light)
	}

	if _, err := api.MoveArm(ctx, restapi.MoveArmRequest{ID: "wrist", Angle: 20}); !errors.Is(err, restapi.ErrRobotRejected) {
		t.Errorf("Expected ErrRobotRejected, got %v", err)
	}

	if _, err := api.CaptureImage(ctx); err != nil {
		t.Fatalf("CaptureImage failed: %v", err)
	}
	pictures, err := api.Pictures(ctx)
	if err != nil || len(pictures) != 1 {
		t.Errorf("Expected one picture, got %v (%v)", pictures, err)
	}

	if _, err := api.Say(ctx, ""); !errors.Is(err, restapi.ErrHTTPStatus) {
		t.Errorf("Expected ErrHTTPStatus for blank text, got %v", err)
	}
	if _, err := api.Say(ctx, "hello"); err != nil {
		t.Fatalf("Say failed: %v", err)
	}
	if got := server.Robot().Outputs().Speech; got != "hello" {
		t.Errorf("Expected speech hello, got %q", got)
	}
}

func TestRESTWifi(t *testing.T) {
	_, addr := startSim(t)
	api := restapi.NewClient("http://"+addr, time.Second, nil)
	ctx := context.Background()

	state, err := api.Wifi(ctx)
	if err != nil {
		t.Fatalf("Wifi failed: %v", err)
	}
	if len(state.Networks) != 3 {
		t.Errorf("Expected 3 networks, got %d", len(state.Networks))
	}

	if err := api.ConnectWifi(ctx, "guest", nil); err != nil {
		t.Fatalf("ConnectWifi failed: %v", err)
	}
	state, _ = api.Wifi(ctx)
	if state.Status.Connection == nil || *state.Status.Connection != "guest" {
		t.Errorf("Expected guest connection, got %+v", state.Status)
	}

	if err := api.StartHotspot(ctx); err != nil {
		t.Fatalf("StartHotspot failed: %v", err)
	}
	if err := api.ForgetWifi(ctx, "nowhere"); !errors.Is(err, restapi.ErrHTTPStatus) {
		t.Errorf("Expected ErrHTTPStatus, got %v", err)
	}
}
