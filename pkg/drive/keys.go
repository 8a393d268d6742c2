package drive

import (
	"math"
	"strings"
)

// Key is a keyboard key relevant to driving.
type Key string

const (
	KeyUp    Key = "up"
	KeyDown  Key = "down"
	KeyLeft  Key = "left"
	KeyRight Key = "right"
	KeyEsc   Key = "esc"
	KeySpace Key = "space"
	KeyPlus  Key = "+"
	KeyMinus Key = "-"
)

const (
	DefaultKeySpeed    = 100.0
	DefaultKeyDuration = 10.0
	MinDuration        = 0.2
	MaxDuration        = 30.0
	DurationStep       = 0.2
)

// KeyAction tells the caller what to send after a key press.
type KeyAction int

const (
	KeyActionNone KeyAction = iota
	KeyActionMove
	KeyActionStop
)

// KeyState tracks held keys plus the speed and duration settings changed
// from the keyboard.
type KeyState struct {
	Speed    float64
	Duration float64
	held     map[Key]bool
}

// NewKeyState starts at full speed with 10 s moves.
func NewKeyState() *KeyState {
	return &KeyState{
		Speed:    DefaultKeySpeed,
		Duration: DefaultKeyDuration,
		held:     make(map[Key]bool),
	}
}

// ParseKey normalizes a key name. Digits are returned as-is.
func ParseKey(name string) Key {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "escape":
		return KeyEsc
	case " ":
		return KeySpace
	case "plus", "=":
		return KeyPlus
	case "minus":
		return KeyMinus
	}
	return Key(name)
}

// Press marks k as held and applies it. Arrow keys yield a move with the
// chorded intent, Esc and Space a stop, digits set the speed and +/- the
// duration.
func (s *KeyState) Press(k Key) (KeyAction, Intent) {
	s.held[k] = true

	switch k {
	case KeyEsc, KeySpace:
		return KeyActionStop, IntentStop
	case KeyUp, KeyDown, KeyLeft, KeyRight:
		return KeyActionMove, s.Intent()
	case KeyPlus:
		s.Duration = roundTenth(math.Min(MaxDuration, s.Duration+DurationStep))
	case KeyMinus:
		s.Duration = roundTenth(math.Max(MinDuration, s.Duration-DurationStep))
	default:
		if len(k) == 1 && k[0] >= '0' && k[0] <= '9' {
			if k == "0" {
				s.Speed = 100
			} else {
				s.Speed = float64(k[0]-'0') * 10
			}
		}
	}
	return KeyActionNone, IntentStop
}

// Release marks k as no longer held.
func (s *KeyState) Release(k Key) {
	delete(s.held, k)
}

// ReleaseAll clears every held key.
func (s *KeyState) ReleaseAll() {
	s.held = make(map[Key]bool)
}

// Intent chords the held arrow keys. Up or down win over a pure pivot; with
// nothing held the intent is stop.
func (s *KeyState) Intent() Intent {
	switch {
	case s.held[KeyUp]:
		switch {
		case s.held[KeyLeft]:
			return IntentForwardLeft
		case s.held[KeyRight]:
			return IntentForwardRight
		}
		return IntentForward
	case s.held[KeyDown]:
		switch {
		case s.held[KeyLeft]:
			return IntentBackwardLeft
		case s.held[KeyRight]:
			return IntentBackwardRight
		}
		return IntentBackward
	case s.held[KeyLeft]:
		return IntentLeft
	case s.held[KeyRight]:
		return IntentRight
	}
	return IntentStop
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
