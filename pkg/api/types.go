package api

import (
	"time"

	"github.com/marchandivan/pirobot/domain/teleop"
	"github.com/marchandivan/pirobot/pkg/status"
)

// --- Data Structures for operator WebSocket messages ---

// Operator message types.
const (
	MessageCommand = "command"
	MessageKey     = "key"
	MessageSpeed   = "speed"
	MessageSlow    = "slow_mode"

	EventStatus = "status"
	EventAck    = "ack"
	EventError  = "error"
)

// OperatorMessage is sent by a browser or gamepad bridge on /ws/operator.
type OperatorMessage struct {
	Type    string          `json:"type"`
	Command *teleop.Command `json:"command,omitempty"`
	Key     string          `json:"key,omitempty"`
	Pressed bool            `json:"pressed,omitempty"`
	Speed   float64         `json:"speed,omitempty"`
}

// OperatorEvent is pushed back to the operator.
type OperatorEvent struct {
	Type   string        `json:"type"`
	Error  string        `json:"error,omitempty"`
	State  *teleop.State `json:"state,omitempty"`
	Status *RobotStatus  `json:"status,omitempty"`
}

// RobotStatus is the JSON form of a status.Snapshot.
type RobotStatus struct {
	RobotName string                 `json:"robot_name"`
	Config    map[string]interface{} `json:"config"`
	Status    map[string]interface{} `json:"status"`
	Version   uint64                 `json:"version"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// NewRobotStatus converts a snapshot.
func NewRobotStatus(snap *status.Snapshot) *RobotStatus {
	return &RobotStatus{
		RobotName: snap.RobotName,
		Config:    snap.Config,
		Status:    snap.Status,
		Version:   snap.Version,
		UpdatedAt: snap.UpdatedAt,
	}
}

// SettingUpdate is the body of PUT /api/v1/settings/:key.
type SettingUpdate struct {
	Value interface{} `json:"value"`
}
