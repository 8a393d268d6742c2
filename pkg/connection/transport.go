package connection

import (
	"context"
	"time"
)

// MessageKind distinguishes text frames from binary frames.
type MessageKind int

// Values match the WebSocket opcodes.
const (
	TextMessage   MessageKind = 1
	BinaryMessage MessageKind = 2
)

func (k MessageKind) String() string {
	switch k {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return "unknown"
	}
}

// Transport is one live duplex connection. ReadMessage is only called from a
// single goroutine; WriteMessage calls are serialized by the client.
type Transport interface {
	ReadMessage() (MessageKind, []byte, error)
	WriteMessage(kind MessageKind, data []byte) error
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Clock schedules the reconnect checks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}
