// Package behavior is the mode state machine that turns tag, GPS and height
// readings into axis-intent commands for the arbiter.
package behavior

import (
	"context"
	"log"
	"sync"

	"skyferry/internal/command"
	"skyferry/internal/geometry"
	"skyferry/internal/pid"
)

// Snapshot is the sensor state a tick sees. Times are seconds; a Tag with
// T == 0 means no tag has been seen.
type Snapshot struct {
	Now     float64
	Tag     geometry.Pose
	TagVel  geometry.Velocity
	Vehicle geometry.Fix
	Boat    geometry.Fix
	// Height is the vehicle's height above the takeoff point in meters.
	Height float64
}

// Vehicle is the set of one-shot flight primitives. A nil error is success.
type Vehicle interface {
	Takeoff(ctx context.Context) error
	Land(ctx context.Context) error
	Disarm(ctx context.Context) error
}

// Gimbal controls the camera gimbal that carries the tag camera.
type Gimbal interface {
	SetEnabled(ctx context.Context, enable bool) error
	LookDown(ctx context.Context) error
}

type gainSet uint8

const (
	gainsNone gainSet = iota
	gainsFollow
	gainsFollowP
	gainsLand
)

// control is the single owned control context. Only the handlers mutate it.
type control struct {
	mode    Mode
	pending *Transition

	x, y, z, w *pid.Controller
	gains      gainSet

	propelling bool

	followSpotted float64
	landSpotted   float64

	stage ReturnStage
}

// Status is a point-in-time view for status reporting.
type Status struct {
	Mode           Mode         `json:"mode"`
	Stage          *ReturnStage `json:"return_stage,omitempty"`
	Propelling     bool         `json:"propelling"`
	LastTransition Transition   `json:"last_transition"`
	LastCommand    command.Axis `json:"last_command"`
	HaveCommand    bool         `json:"have_command"`
}

// Machine runs one mode handler per Tick. Tick, SetMode and UpdateConfig
// must be called from the control loop; Status is safe from any goroutine.
type Machine struct {
	cfg    Config
	veh    Vehicle
	gimbal Gimbal

	ctl  control
	last Transition

	mu     sync.RWMutex
	status Status
}

func New(cfg Config, initial Mode, veh Vehicle, gimbal Gimbal) *Machine {
	m := &Machine{
		cfg:    cfg,
		veh:    veh,
		gimbal: gimbal,
		ctl: control{
			x: pid.New(0, 0, 0),
			y: pid.New(0, 0, 0),
			z: pid.New(0, 0, 0),
			w: pid.New(0, 0, 0),
		},
	}
	m.ctl.mode = initial
	m.setTransition(Transition{From: initial, To: initial, Reason: ReasonStart})
	m.publish(command.Axis{}, false)
	return m
}

func (m *Machine) Mode() Mode { return m.ctl.mode }

// ReturnStage is meaningful only while Mode is Return.
func (m *Machine) ReturnStage() ReturnStage { return m.ctl.stage }

func (m *Machine) Propelling() bool { return m.ctl.propelling }

// SetMode is an external mode request. Requesting the current mode re-runs
// its entry logic.
func (m *Machine) SetMode(mode Mode) {
	m.transition(mode, ReasonExternal)
	m.publish(m.status.LastCommand, m.status.HaveCommand)
}

// LandReady evaluates the landing predicate against the current land config.
func (m *Machine) LandReady(tag geometry.Pose, vel geometry.Velocity) bool {
	return m.cfg.Land.Ready(tag, vel)
}

// UpdateConfig replaces goals and thresholds and pushes the new gains into
// the live controllers without touching their integrals.
func (m *Machine) UpdateConfig(cfg Config) {
	m.cfg = cfg
	switch m.ctl.gains {
	case gainsFollow:
		m.applyGains(cfg.Follow.Kp, cfg.Follow.Ki, cfg.Follow.Kd)
	case gainsFollowP:
		m.applyGains(cfg.Follow.Kp, Axes{}, Axes{})
	case gainsLand:
		m.applyGains(cfg.Land.Kp, cfg.Land.Ki, cfg.Land.Kd)
	}
	log.Printf("behavior: config updated mode=%s", m.ctl.mode)
}

// Tick runs the current mode's handler once. ok is false when the handler
// produced no command this tick.
func (m *Machine) Tick(ctx context.Context, snap Snapshot) (cmd command.Axis, ok bool) {
	switch m.ctl.mode {
	case Takeoff:
		cmd, ok = m.takeoff(ctx)
	case Follow:
		cmd, ok = m.follow(snap)
	case Leave:
		cmd, ok = m.leave(ctx)
	case Return:
		cmd, ok = m.returnHome(ctx, snap)
	case Land:
		cmd, ok = m.land(ctx, snap)
	case Ride:
		cmd, ok = m.ride(ctx)
	case Hover:
		cmd, ok = m.hover()
	default:
		log.Printf("behavior: unknown mode=%d, holding", m.ctl.mode)
		cmd, ok = command.Hold(), true
	}
	if ok {
		m.publish(cmd, true)
	} else {
		m.publish(m.status.LastCommand, m.status.HaveCommand)
	}
	return cmd, ok
}

func (m *Machine) transition(to Mode, reason Reason) {
	t := Transition{From: m.ctl.mode, To: to, Reason: reason}
	m.ctl.mode = to
	m.setTransition(t)
	log.Printf("behavior: mode %s -> %s reason=%s", t.From, t.To, t.Reason)
}

func (m *Machine) setTransition(t Transition) {
	m.ctl.pending = &t
	m.last = t
}

// entered consumes the pending transition event.
func (m *Machine) entered() bool {
	if m.ctl.pending == nil {
		return false
	}
	m.ctl.pending = nil
	return true
}

func (m *Machine) resetPIDs() {
	m.ctl.x.Reset()
	m.ctl.y.Reset()
	m.ctl.z.Reset()
	m.ctl.w.Reset()
}

func (m *Machine) applyGains(kp, ki, kd Axes) {
	m.ctl.x.UpdateParams(kp.X, ki.X, kd.X)
	m.ctl.y.UpdateParams(kp.Y, ki.Y, kd.Y)
	m.ctl.z.UpdateParams(kp.Z, ki.Z, kd.Z)
	m.ctl.w.UpdateParams(kp.W, ki.W, kd.W)
}

func (m *Machine) useGains(g gainSet) {
	m.ctl.gains = g
	switch g {
	case gainsFollow:
		m.applyGains(m.cfg.Follow.Kp, m.cfg.Follow.Ki, m.cfg.Follow.Kd)
	case gainsFollowP:
		m.applyGains(m.cfg.Follow.Kp, Axes{}, Axes{})
	case gainsLand:
		m.applyGains(m.cfg.Land.Kp, m.cfg.Land.Ki, m.cfg.Land.Kd)
	}
}

// track runs the four controllers against goal - tag and returns the
// corrective body-frame velocity command.
func (m *Machine) track(goal Axes, tag geometry.Pose) command.Axis {
	m.ctl.x.Update(goal.X-tag.X, tag.T)
	m.ctl.y.Update(goal.Y-tag.Y, tag.T)
	m.ctl.z.Update(goal.Z-tag.Z, tag.T)
	m.ctl.w.Update(geometry.AngularDistance(tag.W, goal.W, true), tag.T)
	return command.Axis{
		X:    -m.ctl.x.Signal(),
		Y:    -m.ctl.y.Signal(),
		Z:    -m.ctl.z.Signal(),
		Yaw:  -m.ctl.w.Signal(),
		Flag: command.ClassVelocity | command.BodyFrame | command.YawRate,
	}
}

func (m *Machine) publish(cmd command.Axis, have bool) {
	st := Status{
		Mode:           m.ctl.mode,
		Propelling:     m.ctl.propelling,
		LastTransition: m.last,
		LastCommand:    cmd,
		HaveCommand:    have,
	}
	if m.ctl.mode == Return {
		stage := m.ctl.stage
		st.Stage = &stage
	}
	m.mu.Lock()
	m.status = st
	m.mu.Unlock()
}

func (m *Machine) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}
