package mavlink

import (
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"skyferry/internal/arbiter"
	"skyferry/internal/geometry"
	"skyferry/internal/telemetry"
)

const (
	pwmCenter    = 1500
	pwmHalfRange = 500
	switchHigh   = 1700
)

// handleMessage routes one inbound message received at `at`.
func (l *Link) handleMessage(sysID uint8, msg message.Message, at time.Time) {
	switch m := msg.(type) {
	case *common.MessageGlobalPositionInt:
		fix := geometry.Fix{Lat: float64(m.Lat) / 1e7, Lon: float64(m.Lon) / 1e7}
		switch {
		case l.cfg.BoatSystemID != 0 && sysID == l.cfg.BoatSystemID:
			l.sink.SetBoatFix(fix, at)
		case sysID == l.cfg.TargetSystem:
			l.sink.SetVehicleFix(fix, float64(m.RelativeAlt)/1000, at)
		}

	case *common.MessageAttitudeQuaternion:
		if sysID != l.cfg.TargetSystem {
			return
		}
		q := geometry.Quaternion{W: float64(m.Q1), X: float64(m.Q2), Y: float64(m.Q3), Z: float64(m.Q4)}
		l.sink.SetAttitude(geometry.RPYFromQuaternion(q), at)

	case *common.MessageRcChannels:
		if sysID != l.cfg.TargetSystem {
			return
		}
		l.sink.HandleRC(l.rcSample(m, at))

	case *common.MessageLandingTarget:
		if m.PositionValid == 0 {
			return
		}
		l.sink.SetTag(tagPose(m, at))

	case *common.MessageCommandAck:
		if sysID != l.cfg.TargetSystem {
			return
		}
		l.ack(m.Command, m.Result)
	}
}

// tagPose reads the vehicle pose relative to the landing pad from a
// LANDING_TARGET message. The pose is stamped with the receive time.
func tagPose(m *common.MessageLandingTarget, at time.Time) geometry.Pose {
	q := geometry.Quaternion{W: float64(m.Q[0]), X: float64(m.Q[1]), Y: float64(m.Q[2]), Z: float64(m.Q[3])}
	return geometry.Pose{
		T: telemetry.Seconds(at),
		X: float64(m.X),
		Y: float64(m.Y),
		Z: float64(m.Z),
		W: geometry.YawFromQuaternion(q),
	}
}

func channel(m *common.MessageRcChannels, n int) uint16 {
	ch := [...]uint16{
		m.Chan1Raw, m.Chan2Raw, m.Chan3Raw, m.Chan4Raw, m.Chan5Raw, m.Chan6Raw,
		m.Chan7Raw, m.Chan8Raw, m.Chan9Raw, m.Chan10Raw, m.Chan11Raw, m.Chan12Raw,
		m.Chan13Raw, m.Chan14Raw, m.Chan15Raw, m.Chan16Raw, m.Chan17Raw, m.Chan18Raw,
	}
	if n < 1 || n > len(ch) {
		return 0
	}
	return ch[n-1]
}

// stick maps a PWM value to [-1, 1]. Unused channels (0 or 65535) read as
// centered.
func stick(pwm uint16) float64 {
	if pwm == 0 || pwm == 0xFFFF {
		return 0
	}
	return geometry.Clip((float64(pwm)-pwmCenter)/pwmHalfRange, -1, 1)
}

func switchValue(pwm uint16, high float64) float64 {
	if pwm == 0xFFFF || pwm < switchHigh {
		return 0
	}
	return high
}

func (l *Link) rcSample(m *common.MessageRcChannels, at time.Time) arbiter.RCSample {
	rc := l.cfg.RC
	return arbiter.RCSample{
		Roll:     stick(channel(m, rc.Roll)),
		Pitch:    stick(channel(m, rc.Pitch)),
		Yaw:      stick(channel(m, rc.Yaw)),
		Throttle: stick(channel(m, rc.Throttle)),
		Mode:     switchValue(channel(m, rc.Mode), rc.ModeValue),
		Pilot:    switchValue(channel(m, rc.Pilot), rc.PilotValue),
		At:       at,
	}
}
