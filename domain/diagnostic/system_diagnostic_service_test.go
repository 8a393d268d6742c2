package diagnostic

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/marchandivan/pirobot/pkg/connection"
	"github.com/marchandivan/pirobot/pkg/protocol"
	"github.com/marchandivan/pirobot/pkg/relay"
	"github.com/marchandivan/pirobot/pkg/status"
)

type fakeConnection struct {
	url   string
	stats connection.Stats
}

func (f fakeConnection) URL() string             { return f.url }
func (f fakeConnection) Stats() connection.Stats { return f.stats }

func TestGetMetrics(t *testing.T) {
	cache := status.New(nil)
	cache.Update(protocol.Envelope{
		Topic:   protocol.TopicStatus,
		Message: json.RawMessage(`{"config":{},"status":{},"robot_name":"pi"}`),
	})

	control := fakeConnection{
		url:   "ws://pi:8000/ws/robot",
		stats: connection.Stats{State: connection.StateOpen, Reconnects: 2, DroppedUnknown: 1},
	}
	video := fakeConnection{
		url:   "ws://pi:8000/ws/video",
		stats: connection.Stats{State: connection.StateConnecting},
	}

	svc := NewDiagnosticService(cache, control, video)
	start := svc.started
	svc.now = func() time.Time { return start.Add(90 * time.Second) }
	svc.SetStreamSource(func() StreamMetrics { return StreamMetrics{FPS: 15, Consumed: 40} })

	metrics := svc.GetMetrics()
	if metrics.Uptime != "1m30s" {
		t.Errorf("Expected uptime 1m30s, got %s", metrics.Uptime)
	}
	if metrics.RobotName != "pi" {
		t.Errorf("Expected robot name pi, got %q", metrics.RobotName)
	}
	if metrics.StatusVersion == 0 || metrics.StatusAge == "" {
		t.Errorf("Expected status version and age, got %d and %q", metrics.StatusVersion, metrics.StatusAge)
	}
	if metrics.Control.State != "open" || metrics.Control.Reconnects != 2 || metrics.Control.DroppedUnknown != 1 {
		t.Errorf("Unexpected control metrics %+v", metrics.Control)
	}
	if metrics.Video.State != "connecting" || metrics.Video.URL != video.url {
		t.Errorf("Unexpected video metrics %+v", metrics.Video)
	}
	if metrics.Stream.FPS != 15 || metrics.Stream.Consumed != 40 {
		t.Errorf("Unexpected stream metrics %+v", metrics.Stream)
	}
	if metrics.Relay != nil {
		t.Errorf("Expected no relay metrics without a queue")
	}

	svc.SetRelayQueue(relay.NewQueue("telemetry", 1, 4, nil))
	if svc.GetMetrics().Relay == nil {
		t.Errorf("Expected relay metrics once a queue is set")
	}
}

func TestGetMetricsWithoutStatus(t *testing.T) {
	svc := NewDiagnosticService(status.New(nil), nil, nil)
	metrics := svc.GetMetrics()
	if metrics.StatusAge != "" {
		t.Errorf("Expected no status age before the first status, got %q", metrics.StatusAge)
	}
	if metrics.Control.State != "" {
		t.Errorf("Expected empty control metrics, got %+v", metrics.Control)
	}
}

func TestGetMetricsHandler(t *testing.T) {
	svc := NewDiagnosticService(status.New(nil), nil, nil)
	app := fiber.New()
	app.Get("/api/diagnostics", svc.GetMetricsHandler)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/diagnostics", nil))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var out struct {
		Status  string        `json:"status"`
		Metrics SystemMetrics `json:"metrics"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if out.Status != "success" {
		t.Errorf("Expected status success, got %q", out.Status)
	}
	if out.Metrics.Timestamp.IsZero() {
		t.Errorf("Expected a timestamp")
	}
}
