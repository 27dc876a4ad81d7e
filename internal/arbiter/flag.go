package arbiter

import (
	"skyferry/internal/command"
)

// PlatformFlag is the flight controller's control-mode byte.
//
//	bits 6-7 horizontal: angle, velocity, position, angular rate
//	bits 4-5 vertical:   velocity, position, thrust
//	bit  3   yaw:        angle or rate
//	bit  1   horizontal frame: ground or body
//	bit  0   stable mode
type PlatformFlag uint8

const (
	HorizontalAngle       PlatformFlag = 0x00
	HorizontalVelocity    PlatformFlag = 0x40
	HorizontalPosition    PlatformFlag = 0x80
	HorizontalAngularRate PlatformFlag = 0xC0

	VerticalVelocity PlatformFlag = 0x00
	VerticalPosition PlatformFlag = 0x10
	VerticalThrust   PlatformFlag = 0x20

	YawAngle PlatformFlag = 0x00
	YawRate  PlatformFlag = 0x08

	HorizontalGround PlatformFlag = 0x00
	HorizontalBody   PlatformFlag = 0x02

	StableDisable PlatformFlag = 0x00
	StableEnable  PlatformFlag = 0x01
)

func (f PlatformFlag) has(bits PlatformFlag) bool { return f&bits == bits }

// BuildFlag maps a coarse intent to the full platform flag.
func BuildFlag(kind command.Kind) PlatformFlag {
	switch kind {
	case command.KindWorldPos:
		return HorizontalPosition | VerticalPosition | YawAngle | HorizontalGround | StableEnable
	case command.KindWorldRate:
		return HorizontalVelocity | VerticalVelocity | YawRate | HorizontalGround | StableDisable
	default:
		return HorizontalAngle | VerticalVelocity | YawRate | HorizontalBody | StableDisable
	}
}

// TranslateFlag maps a behavior's axis-intent flag to platform bits.
func TranslateFlag(f command.Flag) PlatformFlag {
	var out PlatformFlag
	switch f.Class() {
	case command.ClassPosition:
		out = HorizontalPosition | VerticalPosition | StableEnable
	case command.ClassVelocity:
		out = HorizontalVelocity | VerticalVelocity | StableDisable
	default:
		out = HorizontalAngle | VerticalVelocity | StableDisable
	}
	if f.Body() {
		out |= HorizontalBody
	} else {
		out |= HorizontalGround
	}
	if f.YawIsRate() {
		out |= YawRate
	} else {
		out |= YawAngle
	}
	return out
}

// defaultFlag is what operator stick commands are sent with.
const defaultFlag = VerticalVelocity | HorizontalAngle | YawRate | HorizontalBody | StableDisable
