// Package drive translates operator intent into differential-drive commands.
// Everything here is pure: no I/O, and the only state is the KeyState the
// caller owns.
package drive

import (
	"math"

	"github.com/marchandivan/pirobot/pkg/protocol"
)

const (
	MaxSpeed = 100.0

	// DeadZone is in percent units on each axis.
	DeadZone = 2.0

	DefaultSlowFactor = 0.3
	// DefaultVectorDuration is the move duration used for joystick input, in
	// seconds. Joystick moves are superseded by the next event or a stop.
	DefaultVectorDuration = 30.0
)

// Options tune vector mapping.
type Options struct {
	SlowMode   bool
	SlowFactor float64
	Duration   float64
}

// DefaultOptions returns slow mode off, a 0.3 slow factor and 30 s moves.
func DefaultOptions() Options {
	return Options{
		SlowFactor: DefaultSlowFactor,
		Duration:   DefaultVectorDuration,
	}
}

// FromVector maps a joystick deflection to a command. x and y are in [-1, 1];
// y grows downwards, so (0, -1) is full forward. Inside the dead zone the
// result is a stop, whatever the slow mode.
func FromVector(x, y float64, opts Options) protocol.Command {
	xPos := x * 100
	yPos := y * 100
	if math.Abs(xPos) < DeadZone && math.Abs(yPos) < DeadZone {
		return protocol.DriveStop{}
	}

	right := clamp(-yPos-xPos, -MaxSpeed, MaxSpeed)
	left := clamp(-yPos+xPos, -MaxSpeed, MaxSpeed)

	if opts.SlowMode {
		factor := opts.SlowFactor
		if factor <= 0 || factor > 1 {
			factor = DefaultSlowFactor
		}
		right = roundHalfUp(factor * right)
		left = roundHalfUp(factor * left)
	}

	duration := opts.Duration
	if duration <= 0 {
		duration = DefaultVectorDuration
	}

	return protocol.DriveMove{DriveCommand: protocol.DriveCommand{
		LeftOrientation:  orientation(left),
		LeftSpeed:        math.Abs(left),
		RightOrientation: orientation(right),
		RightSpeed:       math.Abs(right),
		Duration:         duration,
	}}
}

// CameraFromStick maps the vertical deflection of the second stick to the
// camera servo. y is in [-1, 1]; inside the dead zone the camera recenters.
func CameraFromStick(y float64) protocol.Command {
	yPos := y * 100
	if math.Abs(yPos) < DeadZone {
		return protocol.CameraCenterPosition{}
	}
	position := clamp(100-(100+yPos)/2, 0, 100)
	return protocol.CameraSetPosition{Position: int(position)}
}

func orientation(v float64) protocol.Orientation {
	if v < 0 {
		return protocol.Backward
	}
	return protocol.Forward
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// roundHalfUp rounds .5 towards positive infinity, so -4.5 becomes -4.
func roundHalfUp(v float64) float64 {
	return math.Floor(v + 0.5)
}
