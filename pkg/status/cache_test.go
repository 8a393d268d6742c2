package status

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/marchandivan/pirobot/pkg/protocol"
)

func envelope(topic, message string) protocol.Envelope {
	return protocol.Envelope{Topic: topic, Message: json.RawMessage(message)}
}

func TestStatusReplacesWholesale(t *testing.T) {
	c := New(nil)

	if !c.Update(envelope("status", `{"config":{"robot_has_arm":true,"robot_has_back_camera":true},"status":{"camera":{"position":40}},"robot_name":"pi"}`)) {
		t.Fatal("Expected first status to update the cache")
	}
	first := c.Snapshot()
	if first.RobotName != "pi" || !first.Capability("robot_has_arm") {
		t.Errorf("Unexpected snapshot %+v", first)
	}

	c.Update(envelope("status", `{"config":{"robot_has_back_camera":false},"status":{},"robot_name":"pi2"}`))
	second := c.Snapshot()
	if second.Capability("robot_has_arm") {
		t.Error("Expected config to be replaced, not merged")
	}
	if _, ok := second.Status["camera"]; ok {
		t.Error("Expected status to be replaced, not merged")
	}
	if second.Version != first.Version+1 {
		t.Errorf("Expected version to increase, got %d then %d", first.Version, second.Version)
	}

	// Earlier snapshots are never mutated.
	if first.RobotName != "pi" || !first.Capability("robot_has_arm") {
		t.Errorf("Expected previous snapshot untouched, got %+v", first)
	}
}

func TestUnknownTopicLeavesCacheUnchanged(t *testing.T) {
	c := New(nil)
	c.Update(envelope("status", `{"config":{},"status":{"x":1},"robot_name":"pi"}`))
	before := c.Snapshot()

	if c.Update(envelope("unknown", `{}`)) {
		t.Error("Expected unknown topic not to change the cache")
	}
	if c.Snapshot() != before {
		t.Error("Expected the same snapshot after an unknown envelope")
	}
	if c.Update(envelope("status", `[1,2]`)) {
		t.Error("Expected malformed status to be ignored")
	}
	if c.Snapshot() != before {
		t.Error("Expected the same snapshot after a malformed envelope")
	}
}

func TestConfigurationReplacesSettings(t *testing.T) {
	c := New(nil)
	c.Update(envelope("status", `{"config":{},"status":{},"robot_name":"pi"}`))
	c.Update(envelope("configuration", `{"type":"configuration","action":"get","success":true,"config":{
		"robot_name":{"type":"str","category":"general","default":"PiRobot","value":"pi"},
		"robot_has_arm":{"type":"bool","category":"arm","default":false},
		"arm_speed":{"type":"int","category":"arm","default":50}}}`))

	snap := c.Snapshot()
	if snap.RobotName != "pi" {
		t.Error("Expected configuration push to keep the status fields")
	}
	if len(snap.Settings) != 3 {
		t.Fatalf("Expected 3 settings, got %d", len(snap.Settings))
	}
	groups := snap.SettingsByCategory()
	if len(groups["arm"]) != 2 || groups["arm"][0] != "arm_speed" {
		t.Errorf("Unexpected grouping %v", groups)
	}

	if c.Update(envelope("configuration", `{"type":"configuration","action":"update","success":false,"config":{}}`)) {
		t.Error("Expected failed reply without settings to be ignored")
	}
	if len(c.Snapshot().Settings) != 3 {
		t.Error("Expected settings kept after a failed reply")
	}

	// A rejected update still carries the robot's current settings.
	if !c.Update(envelope("configuration", `{"type":"configuration","action":"update","success":false,"config":{
		"robot_name":{"type":"str","category":"general","default":"PiRobot","value":"pi"}}}`)) {
		t.Error("Expected settings of a rejected update to be applied")
	}
	if len(c.Snapshot().Settings) != 1 {
		t.Errorf("Expected 1 setting, got %d", len(c.Snapshot().Settings))
	}
}

type fakeSource struct {
	handlers map[string][]func(protocol.Envelope)
}

func (s *fakeSource) On(topic string, handler func(protocol.Envelope)) {
	if s.handlers == nil {
		s.handlers = make(map[string][]func(protocol.Envelope))
	}
	s.handlers[topic] = append(s.handlers[topic], handler)
}

func TestAttachAndSubscribe(t *testing.T) {
	c := New(nil)
	src := &fakeSource{}
	c.Attach(src)

	if len(src.handlers["status"]) != 1 || len(src.handlers["configuration"]) != 1 {
		t.Fatalf("Expected handlers on status and configuration, got %v", src.handlers)
	}

	var mu sync.Mutex
	var names []string
	c.Subscribe(func(snap *Snapshot) {
		mu.Lock()
		names = append(names, snap.RobotName)
		mu.Unlock()
	})

	src.handlers["status"][0](envelope("status", `{"config":{},"status":{},"robot_name":"r1"}`))
	src.handlers["status"][0](envelope("status", `{"config":{},"status":{},"robot_name":"r2"}`))

	mu.Lock()
	defer mu.Unlock()
	if len(names) != 2 || names[0] != "r1" || names[1] != "r2" {
		t.Errorf("Expected subscribers notified in order, got %v", names)
	}
}

func TestConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	c := New(nil)
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap := c.Snapshot()
			name, _ := snap.Status["name"].(string)
			if snap.RobotName != "" && name != snap.RobotName {
				t.Errorf("Torn snapshot: robot_name=%s status.name=%s", snap.RobotName, name)
				return
			}
		}
	}()

	for _, n := range []string{"a", "b", "c", "d", "e"} {
		c.Update(envelope("status", `{"config":{},"status":{"name":"`+n+`"},"robot_name":"`+n+`"}`))
	}
	close(stop)
	wg.Wait()
}
