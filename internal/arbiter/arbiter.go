package arbiter

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"skyferry/internal/command"
	"skyferry/internal/geometry"
)

// Envelope bounds every command axis. Units follow the platform: m/s, m,
// radians and radians/s, thrust in [0, 1].
type Envelope struct {
	HVelocityMaxBody   float64
	HVelocityMaxGround float64
	HAngleRateCmdMax   float64
	HAngleCmdMax       float64

	VVelocityMaxBody   float64
	VVelocityMaxGround float64
	VPosCmdMax         float64
	VPosCmdMin         float64
	VThrustCmdMax      float64

	YawRateMax float64
	// YawAngleMax is not applied yet: yaw-angle commands are clipped to
	// YawRateMax like yaw-rate commands.
	YawAngleMax float64
}

func DefaultEnvelope() Envelope {
	return Envelope{
		HVelocityMaxBody:   1.0,
		HVelocityMaxGround: 5.0,
		HAngleRateCmdMax:   5.0 * math.Pi / 6.0,
		HAngleCmdMax:       0.611,
		VVelocityMaxBody:   1.0,
		VVelocityMaxGround: 3.0,
		VPosCmdMax:         30.0,
		VPosCmdMin:         0.0,
		VThrustCmdMax:      1.0,
		YawRateMax:         5.0 * math.Pi / 6.0,
		YawAngleMax:        math.Pi,
	}
}

// RCConfig describes how operator sticks are read.
type RCConfig struct {
	// StickThreshold is the dead zone; any stick beyond it overrides autonomy.
	StickThreshold      float64
	VelocityMultiplierH float64
	VelocityMultiplierV float64

	// ModeSwitch and PilotSwitch are the switch values that together enable
	// autonomy.
	ModeSwitch  float64
	PilotSwitch float64

	// Timeout is how old the last RC sample may be before panic.
	Timeout time.Duration
}

// SwitchPositions returns the autonomy-enable switch values for a platform.
func SwitchPositions(platform string) (mode, pilot float64) {
	if strings.EqualFold(strings.TrimSpace(platform), "m100") {
		return 8000, -10000
	}
	return 1, 1
}

type Config struct {
	Envelope Envelope
	RC       RCConfig
}

// RCSample is one RC frame: sticks in [-1, 1] plus the raw mode and pilot
// switch values. At is the receive time.
type RCSample struct {
	Roll     float64
	Pitch    float64
	Yaw      float64
	Throttle float64
	Mode     float64
	Pilot    float64
	At       time.Time
}

// Authority grants or releases the right to command the vehicle.
type Authority interface {
	RequestControl(ctx context.Context, enable bool) error
}

// Alarm is the visible/audible panic indicator.
type Alarm interface {
	Start()
	Stop()
}

// State is a point-in-time view for status reporting.
type State struct {
	AutopilotOn bool               `json:"autopilot_on"`
	Panic       bool               `json:"panic"`
	Bypass      bool               `json:"bypass"`
	RCReceived  bool               `json:"rc_received"`
	LastRC      time.Time          `json:"last_rc,omitempty"`
	Auto        command.Arbitrated `json:"auto"`
	Operator    command.Arbitrated `json:"operator"`
}

// Arbiter clips commands to the platform envelope and decides whether the
// autonomy or the operator drives the vehicle.
//
// All methods except Snapshot are meant to be called from the control loop.
type Arbiter struct {
	cfg   Config
	auth  Authority
	alarm Alarm
	now   func() time.Time

	autopilotOn bool
	panicMode   bool
	bypassPilot bool
	rcReceived  bool
	lastRC      time.Time

	auto     command.Arbitrated
	operator command.Arbitrated

	mu   sync.RWMutex
	snap State
}

func New(cfg Config, auth Authority, alarm Alarm) *Arbiter {
	if cfg.RC.Timeout <= 0 {
		cfg.RC.Timeout = 1100 * time.Millisecond
	}
	a := &Arbiter{cfg: cfg, auth: auth, alarm: alarm, now: time.Now}
	a.auto = command.Arbitrated{Flag: uint8(defaultFlag), Source: command.SourceAuto}
	a.operator = command.Arbitrated{Flag: uint8(defaultFlag), Source: command.SourceOperator}
	return a
}

func (a *Arbiter) UpdateConfig(cfg Config) {
	if cfg.RC.Timeout <= 0 {
		cfg.RC.Timeout = a.cfg.RC.Timeout
	}
	a.cfg = cfg
}

// Clip clamps cmd to the envelope selected by flag. Clip is idempotent.
func (a *Arbiter) Clip(cmd command.Axis, flag PlatformFlag) command.Axis {
	return clip(a.cfg.Envelope, cmd, flag)
}

func clip(env Envelope, cmd command.Axis, flag PlatformFlag) command.Axis {
	out := command.Axis{Flag: cmd.Flag}

	hMax, vMax := env.HVelocityMaxGround, env.VVelocityMaxGround
	if flag.has(HorizontalBody) {
		hMax, vMax = env.HVelocityMaxBody, env.VVelocityMaxBody
	}

	switch {
	case flag.has(HorizontalAngularRate):
		out.X = geometry.Clip(cmd.X, -env.HAngleRateCmdMax, env.HAngleRateCmdMax)
		out.Y = geometry.Clip(cmd.Y, -env.HAngleRateCmdMax, env.HAngleRateCmdMax)
	case flag.has(HorizontalPosition):
		out.X = cmd.X
		out.Y = cmd.Y
	case flag.has(HorizontalVelocity):
		out.X = geometry.Clip(cmd.X, -hMax, hMax)
		out.Y = geometry.Clip(cmd.Y, -hMax, hMax)
	default:
		out.X = geometry.Clip(cmd.X, -env.HAngleCmdMax, env.HAngleCmdMax)
		out.Y = geometry.Clip(cmd.Y, -env.HAngleCmdMax, env.HAngleCmdMax)
	}

	switch {
	case flag.has(VerticalThrust):
		out.Z = geometry.Clip(cmd.Z, 0, env.VThrustCmdMax)
	case flag.has(VerticalPosition):
		out.Z = geometry.Clip(cmd.Z, env.VPosCmdMin, env.VPosCmdMax)
	default:
		out.Z = geometry.Clip(cmd.Z, -vMax, vMax)
	}

	if flag.has(YawRate) {
		out.Yaw = geometry.Clip(cmd.Yaw, -env.YawRateMax, env.YawRateMax)
	} else {
		// Same bound as the rate branch until yaw-angle limits are confirmed.
		out.Yaw = geometry.Clip(cmd.Yaw, -env.YawRateMax, env.YawRateMax)
	}
	return out
}

func (a *Arbiter) arbitrated(cmd command.Axis, flag PlatformFlag, src command.Source) command.Arbitrated {
	c := a.Clip(cmd, flag)
	return command.Arbitrated{X: c.X, Y: c.Y, Z: c.Z, Yaw: c.Yaw, Flag: uint8(flag), Source: src}
}

// SetCommand stores the latest autonomous command.
func (a *Arbiter) SetCommand(cmd command.Axis) {
	a.auto = a.arbitrated(cmd, TranslateFlag(cmd.Flag), command.SourceAuto)
	a.publishState()
}

// SetKindCommand stores an external autonomous command expressed as a coarse
// intent.
func (a *Arbiter) SetKindCommand(cmd command.Axis, kind command.Kind) {
	flag := BuildFlag(kind)
	log.Printf("arbiter: external command kind=%s flag=%s", kind, FlagString(uint8(flag)))
	a.auto = a.arbitrated(cmd, flag, command.SourceAuto)
	a.publishState()
}

func (a *Arbiter) enableSwitches(s RCSample) (modeOK, pilotOK bool) {
	return s.Mode == a.cfg.RC.ModeSwitch, s.Pilot == a.cfg.RC.PilotSwitch
}

// HandleRC processes one RC sample: it takes or releases control depending on
// the switches and records an operator override when sticks are deflected.
func (a *Arbiter) HandleRC(ctx context.Context, s RCSample) {
	if !a.rcReceived {
		a.rcReceived = true
		log.Printf("arbiter: rc msg received")
	}
	at := s.At
	if at.IsZero() {
		at = a.now()
	}
	a.lastRC = at

	modeOK, pilotOK := a.enableSwitches(s)
	switch {
	case modeOK && pilotOK && !a.autopilotOn && !a.panicMode:
		if a.requestControl(ctx, true) {
			a.autopilotOn = true
		}
	case (!modeOK || !pilotOK) && a.autopilotOn:
		if a.requestControl(ctx, false) {
			a.autopilotOn = false
		}
	}

	if modeOK && a.autopilotOn {
		th := a.cfg.RC.StickThreshold
		if math.Abs(s.Roll) > th || math.Abs(s.Pitch) > th || math.Abs(s.Yaw) > th || math.Abs(s.Throttle) > th {
			op := command.Axis{
				X:   s.Roll * a.cfg.RC.VelocityMultiplierH,
				Y:   s.Pitch * a.cfg.RC.VelocityMultiplierH,
				Z:   s.Throttle * a.cfg.RC.VelocityMultiplierV,
				Yaw: -s.Yaw,
			}
			a.operator = a.arbitrated(op, defaultFlag, command.SourceOperator)
			a.bypassPilot = true
		}
	}
	a.publishState()
}

func (a *Arbiter) requestControl(ctx context.Context, enable bool) bool {
	if a.auth == nil {
		return false
	}
	if err := a.auth.RequestControl(ctx, enable); err != nil {
		log.Printf("arbiter: could not switch control enable=%t: %v", enable, err)
		return false
	}
	if enable {
		log.Printf("arbiter: control of vehicle obtained")
	} else {
		log.Printf("arbiter: released vehicle control")
	}
	return true
}

// CheckRC is the link watchdog. It returns true when commands may be
// published. Once panic is entered it stays entered.
func (a *Arbiter) CheckRC(ctx context.Context) bool {
	defer a.publishState()
	if a.panicMode {
		a.releaseOnPanic(ctx)
		return false
	}
	if !a.rcReceived {
		return false
	}
	if age := a.now().Sub(a.lastRC); age > a.cfg.RC.Timeout {
		a.panicMode = true
		log.Printf("arbiter: lost connection to rc age=%s: PANIC", age)
		a.releaseOnPanic(ctx)
		if a.alarm != nil {
			a.alarm.Start()
		}
		return false
	}
	return true
}

func (a *Arbiter) releaseOnPanic(ctx context.Context) {
	if a.autopilotOn && a.requestControl(ctx, false) {
		a.autopilotOn = false
	}
}

// Publish returns the command to send this cycle, if any.
func (a *Arbiter) Publish() (command.Arbitrated, bool) {
	if !a.autopilotOn {
		return command.Arbitrated{}, false
	}
	out := a.auto
	if a.bypassPilot {
		out = a.operator
		a.bypassPilot = false
	}
	out.Stamp = a.now()
	a.publishState()
	return out, true
}

// Tick runs one fixed-rate step: watchdog, then publish.
func (a *Arbiter) Tick(ctx context.Context) (command.Arbitrated, bool) {
	if !a.CheckRC(ctx) {
		return command.Arbitrated{}, false
	}
	return a.Publish()
}

// Close hands control back to the operator and silences the alarm.
func (a *Arbiter) Close(ctx context.Context) {
	if a.autopilotOn && a.requestControl(ctx, false) {
		a.autopilotOn = false
	}
	if a.alarm != nil {
		a.alarm.Stop()
	}
	a.publishState()
}

func (a *Arbiter) publishState() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snap = State{
		AutopilotOn: a.autopilotOn,
		Panic:       a.panicMode,
		Bypass:      a.bypassPilot,
		RCReceived:  a.rcReceived,
		LastRC:      a.lastRC,
		Auto:        a.auto,
		Operator:    a.operator,
	}
}

// Snapshot is safe to call from any goroutine.
func (a *Arbiter) Snapshot() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap
}

// FlagString renders platform bits for logs.
func FlagString(f uint8) string {
	return fmt.Sprintf("0b%08b", f)
}
