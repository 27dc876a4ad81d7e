// Package command defines the contract between the behaviors and the command
// arbiter: an axis-intent command tagged with a small flag describing how the
// four axes are to be interpreted.
package command

import (
	"fmt"
	"strings"
	"time"
)

// Flag packs the command class, frame and yaw mode of an Axis command.
//
//	bits 0-1  class: 0 angle, 1 velocity, 2 position
//	bit  2    body frame (clear: world/ground frame, x=east y=north z=up)
//	bit  3    yaw rate (clear: yaw angle)
type Flag uint8

const (
	ClassAngle    Flag = 0b00
	ClassVelocity Flag = 0b01
	ClassPosition Flag = 0b10
	classMask     Flag = 0b11

	BodyFrame Flag = 1 << 2
	YawRate   Flag = 1 << 3

	WorldFrame Flag = 0
	YawAngle   Flag = 0
)

func (f Flag) Class() Flag { return f & classMask }

func (f Flag) Body() bool { return f&BodyFrame != 0 }

func (f Flag) YawIsRate() bool { return f&YawRate != 0 }

func (f Flag) String() string {
	var parts []string
	switch f.Class() {
	case ClassVelocity:
		parts = append(parts, "velocity")
	case ClassPosition:
		parts = append(parts, "position")
	default:
		parts = append(parts, "angle")
	}
	if f.Body() {
		parts = append(parts, "body")
	} else {
		parts = append(parts, "world")
	}
	if f.YawIsRate() {
		parts = append(parts, "yaw_rate")
	} else {
		parts = append(parts, "yaw_angle")
	}
	return strings.Join(parts, "|")
}

// ParseFlag parses the String form, e.g. "velocity|body|yaw_rate". Omitted
// parts default to angle, world and yaw angle.
func ParseFlag(s string) (Flag, error) {
	var f Flag
	for _, part := range strings.Split(s, "|") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "angle", "world", "yaw_angle", "":
		case "velocity":
			f = f&^classMask | ClassVelocity
		case "position":
			f = f&^classMask | ClassPosition
		case "body":
			f |= BodyFrame
		case "yaw_rate":
			f |= YawRate
		default:
			return 0, fmt.Errorf("unknown flag part %q", part)
		}
	}
	return f, nil
}

func (f Flag) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *Flag) UnmarshalText(b []byte) error {
	v, err := ParseFlag(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Kind is a coarse intent used by external command producers that do not
// build a full Flag.
type Kind uint8

const (
	KindShortRange Kind = 0b00 // body-frame attitude commands ("LQR")
	KindWorldRate  Kind = 0b01
	KindWorldPos   Kind = 0b10
)

func (k Kind) String() string {
	switch k {
	case KindWorldPos:
		return "world_pos"
	case KindWorldRate:
		return "world_rate"
	case KindShortRange:
		return "lqr"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "world_pos", "world_position":
		return KindWorldPos, nil
	case "world_rate", "world_velocity":
		return KindWorldRate, nil
	case "lqr", "short_range", "body_rate":
		return KindShortRange, nil
	}
	return 0, fmt.Errorf("unknown command kind %q", s)
}

// Axis is the axis-intent command emitted by the behaviors.
type Axis struct {
	X    float64 `json:"x" yaml:"x"`
	Y    float64 `json:"y" yaml:"y"`
	Z    float64 `json:"z" yaml:"z"`
	Yaw  float64 `json:"yaw" yaml:"yaw"`
	Flag Flag    `json:"flag" yaml:"flag"`
}

// Hold is a zero-velocity body-frame command with yaw rate.
func Hold() Axis {
	return Axis{Flag: ClassVelocity | BodyFrame | YawRate}
}

// Source says who produced an arbitrated command.
type Source string

const (
	SourceAuto     Source = "auto"
	SourceOperator Source = "rc"
)

// Arbitrated is the clipped, platform-legal command sent to the vehicle.
// Flag holds platform bits (see arbiter.PlatformFlag).
type Arbitrated struct {
	X      float64   `json:"x"`
	Y      float64   `json:"y"`
	Z      float64   `json:"z"`
	Yaw    float64   `json:"yaw"`
	Flag   uint8     `json:"flag"`
	Stamp  time.Time `json:"stamp"`
	Source Source    `json:"source"`
}
