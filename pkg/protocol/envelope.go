// Package protocol defines the wire shapes exchanged with the robot over the
// control connection: the {topic, message} envelope, the robot commands sent
// under the "robot" topic and the status/configuration pushes received back.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Topics used on the control connection
const (
	TopicRobot         = "robot"
	TopicStatus        = "status"
	TopicConfiguration = "configuration"
)

// Video channel tokens
const (
	TokenStart = "start"
	TokenReady = "ready"
)

// Common errors
var (
	ErrInvalidEnvelope = errors.New("invalid envelope")
	ErrUnknownCommand  = errors.New("unknown robot command")
)

// Envelope is the only message shape carried by the control connection.
type Envelope struct {
	Topic   string          `json:"topic"`
	Message json.RawMessage `json:"message"`
}

// NewEnvelope marshals v as the message of a new envelope.
func NewEnvelope(topic string, v interface{}) (Envelope, error) {
	if topic == "" {
		return Envelope{}, fmt.Errorf("%w: empty topic", ErrInvalidEnvelope)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s message: %w", topic, err)
	}
	return Envelope{Topic: topic, Message: data}, nil
}

// Marshal serializes the envelope. A nil message is sent as {}.
func (e Envelope) Marshal() ([]byte, error) {
	if e.Topic == "" {
		return nil, fmt.Errorf("%w: empty topic", ErrInvalidEnvelope)
	}
	if len(e.Message) == 0 {
		e.Message = json.RawMessage("{}")
	}
	return json.Marshal(e)
}

// ParseEnvelope decodes raw bytes into an envelope. The message is kept raw.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Topic == "" {
		return Envelope{}, fmt.Errorf("%w: missing topic", ErrInvalidEnvelope)
	}
	return env, nil
}
