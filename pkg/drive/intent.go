package drive

import (
	"fmt"
	"strings"

	"github.com/marchandivan/pirobot/pkg/protocol"
)

// Intent is a discrete driving direction.
type Intent int

const (
	IntentStop Intent = iota
	IntentForward
	IntentForwardSlightLeft
	IntentForwardLeft
	IntentForwardSlightRight
	IntentForwardRight
	IntentLeft
	IntentRight
	IntentBackward
	IntentBackwardSlightLeft
	IntentBackwardLeft
	IntentBackwardSlightRight
	IntentBackwardRight
)

type side struct {
	orientation protocol.Orientation
	fraction    float64
}

type intentEntry struct {
	name        string
	left, right side
}

var (
	fwd = func(f float64) side { return side{protocol.Forward, f} }
	bwd = func(f float64) side { return side{protocol.Backward, f} }
)

var intentTable = map[Intent]intentEntry{
	IntentStop:                {"stop", fwd(0), fwd(0)},
	IntentForward:             {"forward", fwd(1), fwd(1)},
	IntentForwardSlightLeft:   {"forward_slight_left", fwd(0.5), fwd(1)},
	IntentForwardLeft:         {"forward_left", fwd(0), fwd(1)},
	IntentForwardSlightRight:  {"forward_slight_right", fwd(1), fwd(0.5)},
	IntentForwardRight:        {"forward_right", fwd(1), fwd(0)},
	IntentLeft:                {"left", bwd(1), fwd(1)},
	IntentRight:               {"right", fwd(1), bwd(1)},
	IntentBackward:            {"backward", bwd(1), bwd(1)},
	IntentBackwardSlightLeft:  {"backward_slight_left", bwd(0.5), bwd(1)},
	IntentBackwardLeft:        {"backward_left", bwd(0), bwd(1)},
	IntentBackwardSlightRight: {"backward_slight_right", bwd(1), bwd(0.5)},
	IntentBackwardRight:       {"backward_right", bwd(1), bwd(0)},
}

func (i Intent) String() string {
	if e, ok := intentTable[i]; ok {
		return e.name
	}
	return fmt.Sprintf("intent(%d)", int(i))
}

// ParseIntent resolves an intent by name, e.g. "forward_left".
func ParseIntent(name string) (Intent, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for intent, e := range intentTable {
		if e.name == name {
			return intent, nil
		}
	}
	return IntentStop, fmt.Errorf("unknown drive intent %q", name)
}

// FromIntent looks the intent up and scales both sides by speed. Unknown
// intents behave like IntentStop.
func FromIntent(intent Intent, speed, duration float64) protocol.DriveCommand {
	e, ok := intentTable[intent]
	if !ok {
		e = intentTable[IntentStop]
	}
	speed = clamp(speed, 0, MaxSpeed)
	return protocol.DriveCommand{
		LeftOrientation:  e.left.orientation,
		LeftSpeed:        e.left.fraction * speed,
		RightOrientation: e.right.orientation,
		RightSpeed:       e.right.fraction * speed,
		Duration:         duration,
	}
}

// IntentCommand is FromIntent wrapped as a sendable command; a stop intent
// becomes a drive stop.
func IntentCommand(intent Intent, speed, duration float64) protocol.Command {
	cmd := FromIntent(intent, speed, duration)
	if cmd.IsStop() {
		return protocol.DriveStop{}
	}
	return protocol.DriveMove{DriveCommand: cmd}
}
