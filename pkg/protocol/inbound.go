package protocol

import (
	"encoding/json"
	"fmt"
)

// Inbound is a decoded push received on the control connection.
type Inbound interface {
	Topic() string
}

// StatusUpdate is the message of a "status" envelope.
type StatusUpdate struct {
	Config    map[string]interface{} `json:"config"`
	Status    map[string]interface{} `json:"status"`
	RobotName string                 `json:"robot_name"`
}

func (StatusUpdate) Topic() string { return TopicStatus }

// SettingEntry describes one editable robot setting as reported by the
// "configuration" topic.
type SettingEntry struct {
	Type        string        `json:"type" yaml:"type"`
	Category    string        `json:"category" yaml:"category"`
	Default     interface{}   `json:"default" yaml:"default"`
	Value       interface{}   `json:"value" yaml:"value,omitempty"`
	Choices     []interface{} `json:"choices,omitempty" yaml:"choices,omitempty"`
	NeedSetup   []string      `json:"need_setup,omitempty" yaml:"need_setup,omitempty"`
	Export      bool          `json:"export,omitempty" yaml:"export,omitempty"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
}

// ConfigurationReply is the message of a "configuration" envelope, the reply
// to configuration get/update/delete.
type ConfigurationReply struct {
	Type    Subsystem               `json:"type"`
	Action  string                  `json:"action"`
	Config  map[string]SettingEntry `json:"config"`
	Success bool                    `json:"success"`
}

func (ConfigurationReply) Topic() string { return TopicConfiguration }

// UnknownInbound carries an envelope whose topic is not modelled.
type UnknownInbound struct {
	Envelope Envelope
}

func (u UnknownInbound) Topic() string { return u.Envelope.Topic }

// DecodeInbound turns an envelope into its typed variant. Unknown topics are
// returned as UnknownInbound without error.
func DecodeInbound(env Envelope) (Inbound, error) {
	switch env.Topic {
	case TopicStatus:
		var s StatusUpdate
		if err := json.Unmarshal(env.Message, &s); err != nil {
			return nil, fmt.Errorf("invalid status message: %w", err)
		}
		return s, nil
	case TopicConfiguration:
		var c ConfigurationReply
		if err := json.Unmarshal(env.Message, &c); err != nil {
			return nil, fmt.Errorf("invalid configuration message: %w", err)
		}
		return c, nil
	default:
		return UnknownInbound{Envelope: env}, nil
	}
}
