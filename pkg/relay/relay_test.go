package relay

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/marchandivan/pirobot/pkg/flatbuffers/pirobot/telemetry"
	"github.com/marchandivan/pirobot/pkg/protocol"
	"github.com/marchandivan/pirobot/pkg/status"
)

type recordingSink struct {
	name   string
	mu     sync.Mutex
	msgs   []Message
	err    error
	closed bool
	gate   chan struct{}
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(msg Message) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) received() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.msgs...)
}

func TestQueueFansOutToSinks(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b", err: errors.New("broker down")}

	q := NewQueue("test", 1, 8, nil)
	q.AddSink(a)
	q.AddSink(b)
	q.Start()

	for i := 0; i < 3; i++ {
		if !q.Enqueue(Message{Topic: TopicFPS}) {
			t.Fatalf("Enqueue %d rejected", i)
		}
	}
	q.Stop()

	if len(a.received()) != 3 || len(b.received()) != 3 {
		t.Fatalf("Expected 3 messages per sink, got %d and %d", len(a.received()), len(b.received()))
	}
	metrics := q.GetMetrics()
	if metrics.PublishedCount != 6 {
		t.Errorf("Expected 6 publishes, got %d", metrics.PublishedCount)
	}
	if metrics.ErrorCount != 3 {
		t.Errorf("Expected 3 errors, got %d", metrics.ErrorCount)
	}
}

func TestQueueRejectsWhenStoppedOrFull(t *testing.T) {
	sink := &recordingSink{name: "slow", gate: make(chan struct{})}
	q := NewQueue("test", 1, 1, nil)
	q.AddSink(sink)

	if q.Enqueue(Message{Topic: TopicStatus}) {
		t.Error("Expected Enqueue to fail before Start")
	}

	q.Start()
	// The worker takes the first message and blocks in the sink, the second
	// fills the buffer.
	if !q.Enqueue(Message{Topic: "1"}) {
		t.Fatal("Expected first Enqueue to succeed")
	}
	deadline := time.Now().Add(time.Second)
	for q.GetQueueLength() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !q.Enqueue(Message{Topic: "2"}) {
		t.Fatal("Expected second Enqueue to be buffered")
	}
	if q.Enqueue(Message{Topic: "3"}) {
		t.Error("Expected third Enqueue to be dropped")
	}
	if q.GetMetrics().DroppedCount != 1 {
		t.Errorf("Expected 1 dropped message, got %d", q.GetMetrics().DroppedCount)
	}

	close(sink.gate)
	q.Stop()

	if got := sink.received(); len(got) != 2 || got[0].Topic != "1" || got[1].Topic != "2" {
		t.Errorf("Unexpected delivered messages %+v", got)
	}
	if q.Enqueue(Message{Topic: TopicStatus}) {
		t.Error("Expected Enqueue to fail after Stop")
	}
}

func TestRelayPublishesSnapshots(t *testing.T) {
	sink := &recordingSink{name: "rec"}
	q := NewQueue("test", 1, 8, nil)
	q.AddSink(sink)
	r := New(q, false, nil)
	r.Start()

	cache := status.New(nil)
	r.Attach(cache)

	env, err := protocol.NewEnvelope(protocol.TopicStatus, protocol.StatusUpdate{
		Config:    map[string]interface{}{"robot_has_arm": true},
		Status:    map[string]interface{}{"distance": 42.0},
		RobotName: "PiRobot",
	})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	if !cache.Update(env) {
		t.Fatal("Expected cache update")
	}

	if !r.PublishFPS(25, 3) {
		t.Error("Expected PublishFPS to be queued")
	}
	if r.PublishFrame([]byte{0xff, 0xd8}) {
		t.Error("Expected frames to be skipped when disabled")
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !sink.closed {
		t.Error("Expected Close to close sinks")
	}

	msgs := sink.received()
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Topic != TopicStatus || msgs[0].ContentType != telemetry.ContentTypeJson {
		t.Errorf("Unexpected status message %+v", msgs[0])
	}
	var payload StatusPayload
	if err := json.Unmarshal(msgs[0].Payload, &payload); err != nil {
		t.Fatalf("Invalid status payload: %v", err)
	}
	if payload.RobotName != "PiRobot" || payload.Version != 1 || payload.Config["robot_has_arm"] != true {
		t.Errorf("Unexpected status payload %+v", payload)
	}

	var fps FPSPayload
	if err := json.Unmarshal(msgs[1].Payload, &fps); err != nil {
		t.Fatalf("Invalid fps payload: %v", err)
	}
	if fps.FPS != 25 || fps.Dropped != 3 {
		t.Errorf("Unexpected fps payload %+v", fps)
	}
}

func TestRelayPublishesFramesWhenEnabled(t *testing.T) {
	sink := &recordingSink{name: "rec"}
	q := NewQueue("test", 1, 8, nil)
	q.AddSink(sink)
	r := New(q, true, nil)
	r.Start()

	if !r.PublishFrame([]byte{0xff, 0xd8, 0xff}) {
		t.Error("Expected frame to be queued")
	}
	r.Close()

	msgs := sink.received()
	if len(msgs) != 1 || msgs[0].Topic != TopicFrame || msgs[0].ContentType != telemetry.ContentTypeJpeg {
		t.Errorf("Unexpected frame messages %+v", msgs)
	}
}

type fakeToken struct{ err error }

func (fakeToken) Wait() bool                     { return true }
func (fakeToken) WaitTimeout(time.Duration) bool { return true }
func (fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeMQTTClient struct {
	mqtt.Client
	mu           sync.Mutex
	connected    bool
	disconnected bool
	msgs         []published
}

func (f *fakeMQTTClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return fakeToken{}
}

func (f *fakeMQTTClient) Disconnect(quiesce uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnected = true
}

func TestMQTTSinkPublish(t *testing.T) {
	client := &fakeMQTTClient{connected: true}
	sink := newMQTTSinkWithClient(client, "pirobot/", 1, time.Second)

	if err := sink.Publish(Message{Topic: TopicStatus, Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := sink.Publish(Message{Topic: TopicFPS, Payload: []byte(`{"fps":1}`)}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(client.msgs) != 2 {
		t.Fatalf("Expected 2 published messages, got %d", len(client.msgs))
	}
	if client.msgs[0].topic != "pirobot/status" || !client.msgs[0].retained || client.msgs[0].qos != 1 {
		t.Errorf("Unexpected status publish %+v", client.msgs[0])
	}
	if client.msgs[1].topic != "pirobot/video/fps" || client.msgs[1].retained {
		t.Errorf("Unexpected fps publish %+v", client.msgs[1])
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !client.disconnected || sink.GetConnectionStatus() != Disconnected {
		t.Error("Expected Close to disconnect the client")
	}
	if err := sink.Publish(Message{Topic: TopicStatus}); !errors.Is(err, ErrSinkNotConnected) {
		t.Errorf("Expected ErrSinkNotConnected, got %v", err)
	}
}
