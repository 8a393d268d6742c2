// Package zeromq publishes console telemetry on a ZeroMQ PUB socket. Each
// message is sent as two frames: the relay topic, then a TelemetryMessage
// flatbuffer.
package zeromq

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pebbe/zmq4"

	customlog "github.com/marchandivan/pirobot/pkg/log"
	"github.com/marchandivan/pirobot/pkg/relay"
)

// Common errors
var (
	ErrServiceClosed  = errors.New("zeromq publisher is closed")
	ErrInvalidMessage = errors.New("invalid telemetry message")
)

// Ensure TelemetryPublisher implements relay.Sink
var _ relay.Sink = (*TelemetryPublisher)(nil)

// TelemetryPublisher owns a ZMQ context and a bound PUB socket.
type TelemetryPublisher struct {
	ctx      *zmq4.Context
	socket   *zmq4.Socket
	endpoint string
	logger   customlog.Logger
	running  bool
	mu       sync.Mutex
}

// NewTelemetryPublisher binds a PUB socket on address. Wildcard ports such
// as "tcp://127.0.0.1:*" are resolved, see Endpoint.
func NewTelemetryPublisher(address string, logger customlog.Logger) (*TelemetryPublisher, error) {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}

	ctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ context: %w", err)
	}

	socket, err := ctx.NewSocket(zmq4.PUB)
	if err != nil {
		ctx.Term()
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}

	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		ctx.Term()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}

	if err := socket.Bind(address); err != nil {
		socket.Close()
		ctx.Term()
		return nil, fmt.Errorf("failed to bind to %s: %w", address, err)
	}

	endpoint, err := socket.GetLastEndpoint()
	if err != nil {
		endpoint = address
	}

	logger.Infof("Telemetry publisher bound on %s", endpoint)

	return &TelemetryPublisher{
		ctx:      ctx,
		socket:   socket,
		endpoint: endpoint,
		logger:   logger.WithField("sink", "zeromq"),
		running:  true,
	}, nil
}

// Endpoint returns the address the socket is bound to.
func (p *TelemetryPublisher) Endpoint() string {
	return p.endpoint
}

// Name implements relay.Sink.
func (p *TelemetryPublisher) Name() string { return "zeromq" }

// Publish implements relay.Sink.
func (p *TelemetryPublisher) Publish(msg relay.Message) error {
	return p.PublishMessage(msg.Topic, EncodeTelemetry(msg))
}

// PublishMessage sends a message with the given topic
func (p *TelemetryPublisher) PublishMessage(topic string, message []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return ErrServiceClosed
	}

	// Send two messages in sequence (topic first, then message)
	if _, err := p.socket.Send(topic, zmq4.SNDMORE); err != nil {
		return fmt.Errorf("failed to send topic: %w", err)
	}
	if _, err := p.socket.SendBytes(message, 0); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Close closes the socket and terminates the context.
func (p *TelemetryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.running = false

	var firstErr error
	if err := p.socket.Close(); err != nil {
		firstErr = fmt.Errorf("failed to close PUB socket: %w", err)
	}
	if err := p.ctx.Term(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to terminate ZMQ context: %w", err)
	}
	p.logger.Infof("Telemetry publisher on %s stopped", p.endpoint)
	return firstErr
}
