package zeromq

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"

	customlog "github.com/marchandivan/pirobot/pkg/log"
	"github.com/marchandivan/pirobot/pkg/relay"
)

// TelemetrySubscriber receives messages from a TelemetryPublisher.
type TelemetrySubscriber struct {
	socket  *zmq4.Socket
	logger  customlog.Logger
	running bool
	mu      sync.Mutex
	wg      sync.WaitGroup
}

// NewTelemetrySubscriber connects a SUB socket to address and subscribes to
// the given topic prefixes, or to everything when none is given.
func NewTelemetrySubscriber(address string, logger customlog.Logger, topics ...string) (*TelemetrySubscriber, error) {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}

	socket, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create SUB socket: %w", err)
	}
	if len(topics) == 0 {
		topics = []string{""}
	}
	for _, topic := range topics {
		if err := socket.SetSubscribe(topic); err != nil {
			socket.Close()
			return nil, fmt.Errorf("failed to subscribe to %q: %w", topic, err)
		}
	}
	// Bounded receives let the loop notice Stop.
	if err := socket.SetRcvtimeo(500 * time.Millisecond); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set receive timeout: %w", err)
	}
	if err := socket.Connect(address); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	return &TelemetrySubscriber{socket: socket, logger: logger}, nil
}

// Receive waits for one message, up to the socket receive timeout.
func (s *TelemetrySubscriber) Receive() (relay.Message, error) {
	frames, err := s.socket.RecvMessageBytes(0)
	if err != nil {
		return relay.Message{}, err
	}
	if len(frames) != 2 {
		return relay.Message{}, fmt.Errorf("%w: expected 2 frames, got %d", ErrInvalidMessage, len(frames))
	}
	msg, err := DecodeTelemetry(frames[1])
	if err != nil {
		return relay.Message{}, err
	}
	if msg.Topic != string(frames[0]) {
		return relay.Message{}, fmt.Errorf("%w: envelope topic %q does not match %q", ErrInvalidMessage, frames[0], msg.Topic)
	}
	return msg, nil
}

// Start delivers every received message to handler from a goroutine until
// Stop is called.
func (s *TelemetrySubscriber) Start(handler func(relay.Message)) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.receiveLoop(handler)
}

func (s *TelemetrySubscriber) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *TelemetrySubscriber) receiveLoop(handler func(relay.Message)) {
	defer s.wg.Done()
	for s.isRunning() {
		msg, err := s.Receive()
		if err != nil {
			if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
				continue
			}
			if s.isRunning() {
				s.logger.Warnf("Error receiving telemetry: %v", err)
			}
			continue
		}
		handler(msg)
	}
}

// Stop ends the receive loop and closes the socket.
func (s *TelemetrySubscriber) Stop() {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	if wasRunning {
		s.wg.Wait()
	}
	s.socket.Close()
}
