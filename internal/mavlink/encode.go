package mavlink

import (
	"math"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"skyferry/internal/arbiter"
	"skyferry/internal/command"
	"skyferry/internal/geometry"
)

const ignoreAccel = common.POSITION_TARGET_TYPEMASK_AX_IGNORE |
	common.POSITION_TARGET_TYPEMASK_AY_IGNORE |
	common.POSITION_TARGET_TYPEMASK_AZ_IGNORE

// encodeCommand converts an arbitrated command to the MAVLink setpoint for
// its platform flag. Commands are ENU (world) or FLU (body); MAVLink wants
// NED or FRD.
func encodeCommand(cmd command.Arbitrated, sys, comp uint8, bootMs uint32) message.Message {
	f := arbiter.PlatformFlag(cmd.Flag)
	switch f & arbiter.HorizontalAngularRate {
	case arbiter.HorizontalVelocity, arbiter.HorizontalPosition:
		return positionTarget(cmd, f, sys, comp, bootMs)
	default:
		return attitudeTarget(cmd, f, sys, comp, bootMs)
	}
}

func positionTarget(cmd command.Arbitrated, f arbiter.PlatformFlag, sys, comp uint8, bootMs uint32) *common.MessageSetPositionTargetLocalNed {
	body := f&arbiter.HorizontalBody != 0

	// ENU -> NED: (x, y) = (north, east). FLU -> FRD: y flips.
	fwd, right := cmd.Y, cmd.X
	frame := common.MAV_FRAME_LOCAL_NED
	if body {
		fwd, right = cmd.X, -cmd.Y
		frame = common.MAV_FRAME_BODY_OFFSET_NED
	}

	m := &common.MessageSetPositionTargetLocalNed{
		TimeBootMs:      bootMs,
		TargetSystem:    sys,
		TargetComponent: comp,
		CoordinateFrame: frame,
	}
	mask := ignoreAccel
	if f&arbiter.HorizontalAngularRate == arbiter.HorizontalPosition {
		m.X, m.Y = float32(fwd), float32(right)
		mask |= common.POSITION_TARGET_TYPEMASK_VX_IGNORE | common.POSITION_TARGET_TYPEMASK_VY_IGNORE
	} else {
		m.Vx, m.Vy = float32(fwd), float32(right)
		mask |= common.POSITION_TARGET_TYPEMASK_X_IGNORE | common.POSITION_TARGET_TYPEMASK_Y_IGNORE
	}
	if f&arbiter.VerticalPosition != 0 {
		m.Z = float32(-cmd.Z)
		mask |= common.POSITION_TARGET_TYPEMASK_VZ_IGNORE
	} else {
		m.Vz = float32(-cmd.Z)
		mask |= common.POSITION_TARGET_TYPEMASK_Z_IGNORE
	}
	if f&arbiter.YawRate != 0 {
		m.YawRate = float32(-cmd.Yaw)
		mask |= common.POSITION_TARGET_TYPEMASK_YAW_IGNORE
	} else {
		m.Yaw = float32(heading(cmd.Yaw, body))
		mask |= common.POSITION_TARGET_TYPEMASK_YAW_RATE_IGNORE
	}
	m.TypeMask = mask
	return m
}

// heading converts an ENU yaw (CCW from east) to a NED heading (CW from
// north). Body-frame yaw only flips sign.
func heading(yaw float64, body bool) float64 {
	if body {
		return -yaw
	}
	return geometry.AngularDistance(0, math.Pi/2-yaw, true)
}

// attitudeTarget encodes angle and angular-rate commands. X is roll and Y is
// pitch. Vertical velocity is sent as ArduPilot's climb-rate thrust where 0.5
// holds altitude.
func attitudeTarget(cmd command.Arbitrated, f arbiter.PlatformFlag, sys, comp uint8, bootMs uint32) *common.MessageSetAttitudeTarget {
	m := &common.MessageSetAttitudeTarget{
		TimeBootMs:      bootMs,
		TargetSystem:    sys,
		TargetComponent: comp,
	}
	var mask common.ATTITUDE_TARGET_TYPEMASK

	if f&arbiter.HorizontalAngularRate == arbiter.HorizontalAngularRate {
		m.BodyRollRate = float32(cmd.X)
		m.BodyPitchRate = float32(cmd.Y)
		mask |= common.ATTITUDE_TARGET_TYPEMASK_ATTITUDE_IGNORE
	} else {
		mask |= common.ATTITUDE_TARGET_TYPEMASK_BODY_ROLL_RATE_IGNORE |
			common.ATTITUDE_TARGET_TYPEMASK_BODY_PITCH_RATE_IGNORE
	}

	yaw := 0.0
	if f&arbiter.YawRate != 0 {
		m.BodyYawRate = float32(-cmd.Yaw)
	} else {
		yaw = heading(cmd.Yaw, f&arbiter.HorizontalBody != 0)
		mask |= common.ATTITUDE_TARGET_TYPEMASK_BODY_YAW_RATE_IGNORE
	}
	q := geometry.QuaternionFromRPY(geometry.RPY{Roll: cmd.X, Pitch: cmd.Y, Yaw: yaw})
	m.Q = [4]float32{float32(q.W), float32(q.X), float32(q.Y), float32(q.Z)}

	if f&arbiter.VerticalThrust != 0 {
		m.Thrust = float32(geometry.Clip(cmd.Z, 0, 1))
	} else {
		m.Thrust = float32(geometry.Clip(0.5+0.5*cmd.Z, 0, 1))
	}
	m.TypeMask = mask
	return m
}
