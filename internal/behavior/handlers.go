package behavior

import (
	"context"
	"fmt"
	"log"
	"math"

	"skyferry/internal/command"
	"skyferry/internal/geometry"
)

const (
	followTagTimeout = 1.0
	landHoldAfter    = 0.5
	landReturnAfter  = 3.0
)

func (m *Machine) takeoff(ctx context.Context) (command.Axis, bool) {
	m.entered()
	if m.ctl.propelling {
		m.transition(Follow, ReasonPropulsionStarted)
		return command.Axis{}, false
	}
	if err := m.veh.Takeoff(ctx); err != nil {
		log.Printf("behavior: failed to start propulsion: %v", err)
		return command.Axis{}, false
	}
	log.Printf("behavior: propulsion running, switching to follow")
	m.ctl.propelling = true
	m.transition(Follow, ReasonPropulsionStarted)
	return command.Axis{}, false
}

func (m *Machine) follow(snap Snapshot) (command.Axis, bool) {
	if m.entered() {
		m.ctl.followSpotted = snap.Tag.T
		m.resetPIDs()
		m.useGains(gainsFollow)
		return command.Axis{}, false
	}

	if m.ctl.followSpotted != snap.Tag.T {
		m.ctl.followSpotted = snap.Tag.T
		return m.track(m.cfg.Follow.Goal, snap.Tag), true
	}
	if lost := snap.Now - m.ctl.followSpotted; lost > followTagTimeout {
		log.Printf("behavior: tag lost for %.2fs", lost)
		return command.Hold(), true
	}
	return command.Axis{}, false
}

func (m *Machine) leave(ctx context.Context) (command.Axis, bool) {
	if m.ctl.pending != nil {
		if m.gimbal == nil {
			m.entered()
		} else if err := m.gimbal.SetEnabled(ctx, false); err != nil {
			log.Printf("behavior: failed to disable gimbal: %v", err)
		} else {
			m.entered()
		}
	}
	return m.cfg.Leave.Command, true
}

func (m *Machine) returnHome(ctx context.Context, snap Snapshot) (command.Axis, bool) {
	rc := m.cfg.Return
	fc := m.cfg.Follow

	if m.entered() {
		log.Printf("behavior: return started, going up")
		m.resetPIDs()
		m.useGains(gainsFollowP)
		m.ctl.stage = StageUp
		m.lookDown(ctx)
	}

	east, north := geometry.EastNorth(snap.Vehicle, snap.Boat)

	tagAge := snap.Now - snap.Tag.T
	switch {
	case tagAge < rc.TagTime && snap.Height <= rc.FinalHeight:
		if m.ctl.stage != StageSettle {
			m.resetPIDs()
			m.useGains(gainsFollowP)
			m.ctl.stage = StageSettle
		}
		dx := fc.Goal.X - snap.Tag.X
		dy := fc.Goal.Y - snap.Tag.Y
		if dx*dx+dy*dy < rc.SettleRadiusSquared {
			log.Printf("behavior: settled over pad, following")
			m.transition(Follow, ReasonSettled)
			return command.Axis{}, false
		}
		cmd := m.track(fc.Goal, snap.Tag)
		// Descent stays with the DOWN stage; settling only lines up.
		cmd.Z = 0
		return cmd, true

	case m.ctl.stage == StageSettle && tagAge > rc.TagLossThresh:
		log.Printf("behavior: tag lost for %.2fs, going back up", tagAge)
		m.ctl.stage = StageUp
		m.lookDown(ctx)
		return command.Axis{}, false
	}

	worldVel := command.ClassVelocity | command.WorldFrame | command.YawRate
	switch m.ctl.stage {
	case StageUp:
		if snap.Height >= rc.GotoHeight {
			log.Printf("behavior: return stage OVER height=%.2f", snap.Height)
			m.ctl.stage = StageOver
			m.lookDown(ctx)
			return command.Axis{}, false
		}
		return command.Axis{Z: rc.GotoHeight - snap.Height, Flag: worldVel}, true

	case StageOver:
		dist := geometry.GreatCircleDistance(snap.Vehicle.Lat, snap.Vehicle.Lon, snap.Boat.Lat, snap.Boat.Lon)
		if dist < rc.DownRadius {
			log.Printf("behavior: return stage DOWN dist=%.1f heading=%.3f", dist, math.Atan2(north, east))
			m.ctl.stage = StageDown
			m.lookDown(ctx)
			return command.Axis{}, false
		}
		return command.Axis{
			X:    fc.Kp.X * east,
			Y:    fc.Kp.Y * north,
			Z:    fc.Kp.Z * (rc.GotoHeight - snap.Height),
			Flag: worldVel,
		}, true

	case StageDown:
		return returnDown(fc, rc, snap, east, north), true

	case StageSettle:
		if tagAge >= rc.TagTime {
			// Stale but not yet lost: hold until it returns or times out.
			return command.Hold(), true
		}
		// Tag is fresh but the vehicle drifted above final height.
		log.Printf("behavior: return stage DOWN height=%.2f above final=%.2f", snap.Height, rc.FinalHeight)
		m.ctl.stage = StageDown
		return returnDown(fc, rc, snap, east, north), true
	}
	panic(fmt.Sprintf("behavior: unreachable return stage %s", m.ctl.stage))
}

func returnDown(fc FollowConfig, rc ReturnConfig, snap Snapshot, east, north float64) command.Axis {
	return command.Axis{
		X:    fc.Kp.X * east,
		Y:    fc.Kp.Y * north,
		Z:    fc.Kp.Z * (rc.FinalHeight - snap.Height),
		Yaw:  snap.Tag.W,
		Flag: command.ClassVelocity | command.WorldFrame | command.YawRate,
	}
}

func (m *Machine) lookDown(ctx context.Context) {
	if m.gimbal == nil {
		return
	}
	if err := m.gimbal.LookDown(ctx); err != nil {
		log.Printf("behavior: gimbal look-down failed: %v", err)
	}
}

func (m *Machine) land(ctx context.Context, snap Snapshot) (command.Axis, bool) {
	if m.entered() {
		m.resetPIDs()
		m.useGains(gainsLand)
		m.ctl.landSpotted = snap.Tag.T
		return command.Axis{}, false
	}

	if m.ctl.landSpotted != snap.Tag.T {
		if m.cfg.Land.Ready(snap.Tag, snap.TagVel) {
			log.Printf("behavior: landing conditions met, calling land")
			if err := m.veh.Land(ctx); err != nil {
				log.Printf("behavior: land failed: %v", err)
			} else {
				m.transition(Ride, ReasonLanded)
				return command.Axis{}, false
			}
		}
		m.ctl.landSpotted = snap.Tag.T
	} else {
		lost := snap.Now - m.ctl.landSpotted
		if lost > landReturnAfter {
			log.Printf("behavior: tag lost %.2fs, switching to return", lost)
			m.transition(Return, ReasonTagLost)
			return command.Axis{}, false
		}
		if lost > landHoldAfter {
			log.Printf("behavior: no tag update for %.2fs", lost)
			return command.Hold(), true
		}
	}
	return m.track(m.cfg.Land.Goal, snap.Tag), true
}

func (m *Machine) ride(ctx context.Context) (command.Axis, bool) {
	m.entered()
	if !m.ctl.propelling {
		return command.Axis{}, false
	}
	if err := m.veh.Disarm(ctx); err != nil {
		log.Printf("behavior: failed to disarm: %v", err)
		return command.Axis{}, false
	}
	log.Printf("behavior: disarmed")
	m.ctl.propelling = false
	return command.Axis{}, false
}

func (m *Machine) hover() (command.Axis, bool) {
	m.entered()
	return command.Hold(), true
}
