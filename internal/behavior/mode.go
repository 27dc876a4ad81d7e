package behavior

import (
	"fmt"
	"strings"
)

type Mode uint8

const (
	Takeoff Mode = iota
	Follow
	Leave
	Return
	Land
	Ride
	Hover
)

var modeNames = [...]string{"TAKEOFF", "FOLLOW", "LEAVE", "RETURN", "LAND", "RIDE", "HOVER"}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("MODE(%d)", uint8(m))
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMode accepts the mode names case-insensitively.
func ParseMode(s string) (Mode, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range modeNames {
		if n == v {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// ReturnStage is the RETURN sub-state. It only has meaning while the mode is
// RETURN.
type ReturnStage uint8

const (
	StageUp ReturnStage = iota
	StageOver
	StageSettle
	StageDown
)

func (s ReturnStage) String() string {
	switch s {
	case StageUp:
		return "UP"
	case StageOver:
		return "OVER"
	case StageSettle:
		return "SETTLE"
	case StageDown:
		return "DOWN"
	}
	return fmt.Sprintf("STAGE(%d)", uint8(s))
}

func (s ReturnStage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *ReturnStage) UnmarshalText(b []byte) error {
	for v := StageUp; v <= StageDown; v++ {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown return stage %q", b)
}

// Reason says what caused a mode transition.
type Reason uint8

const (
	ReasonStart Reason = iota
	ReasonExternal
	ReasonPropulsionStarted
	ReasonSettled
	ReasonTagLost
	ReasonLanded
)

func (r Reason) String() string {
	switch r {
	case ReasonStart:
		return "start"
	case ReasonExternal:
		return "external"
	case ReasonPropulsionStarted:
		return "propulsion_started"
	case ReasonSettled:
		return "settled"
	case ReasonTagLost:
		return "tag_lost"
	case ReasonLanded:
		return "landed"
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

func (r Reason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Reason) UnmarshalText(b []byte) error {
	for v := ReasonStart; v <= ReasonLanded; v++ {
		if v.String() == string(b) {
			*r = v
			return nil
		}
	}
	return fmt.Errorf("unknown transition reason %q", b)
}

// Transition is recorded on every mode change and consumed exactly once by
// the entered mode's handler.
type Transition struct {
	From   Mode   `json:"from"`
	To     Mode   `json:"to"`
	Reason Reason `json:"reason"`
}
