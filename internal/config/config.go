package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"skyferry/internal/arbiter"
	"skyferry/internal/behavior"
	"skyferry/internal/command"
)

type Config struct {
	Loop      LoopConfig      `yaml:"loop"`
	MAVLink   MAVLinkConfig   `yaml:"mavlink"`
	Platform  PlatformConfig  `yaml:"platform"`
	Behavior  BehaviorConfig  `yaml:"behavior"`
	Alarm     AlarmConfig     `yaml:"alarm"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Web       WebConfig       `yaml:"web"`
}

type LoopConfig struct {
	RateHz    float64       `yaml:"rate_hz"`
	RCTimeout time.Duration `yaml:"rc_timeout"`
	// Realtime requests SCHED_FIFO and locked memory for the control loop.
	Realtime bool `yaml:"realtime"`
}

type MAVLinkConfig struct {
	Endpoint        string           `yaml:"endpoint"`
	SystemID        uint8            `yaml:"system_id"`
	TargetSystem    uint8            `yaml:"target_system"`
	TargetComponent uint8            `yaml:"target_component"`
	BoatSystemID    uint8            `yaml:"boat_system_id"`
	AckTimeout      time.Duration    `yaml:"ack_timeout"`
	TakeoffAltitude float64          `yaml:"takeoff_altitude"`
	RCChannels      RCChannelsConfig `yaml:"rc_channels"`
}

type RCChannelsConfig struct {
	Roll     int `yaml:"roll"`
	Pitch    int `yaml:"pitch"`
	Throttle int `yaml:"throttle"`
	Yaw      int `yaml:"yaw"`
	Mode     int `yaml:"mode"`
	Pilot    int `yaml:"pilot"`
}

type PlatformConfig struct {
	// Name selects switch presets: "m100" or "a3".
	Name     string         `yaml:"name"`
	Envelope EnvelopeConfig `yaml:"envelope"`
	RC       RCConfig       `yaml:"rc"`
}

type EnvelopeConfig struct {
	HVelocityMaxBody   float64 `yaml:"h_velocity_max_body"`
	HVelocityMaxGround float64 `yaml:"h_velocity_max_ground"`
	HAngleRateCmdMax   float64 `yaml:"h_angle_rate_cmd_max"`
	HAngleCmdMax       float64 `yaml:"h_angle_cmd_max"`
	VVelocityMaxBody   float64 `yaml:"v_velocity_max_body"`
	VVelocityMaxGround float64 `yaml:"v_velocity_max_ground"`
	VPosCmdMax         float64 `yaml:"v_pos_cmd_max"`
	VPosCmdMin         float64 `yaml:"v_pos_cmd_min"`
	VThrustCmdMax      float64 `yaml:"v_thrust_cmd_max"`
	YawRateMax         float64 `yaml:"yaw_rate_max"`
	YawAngleMax        float64 `yaml:"yaw_angle_max"`
}

type RCConfig struct {
	StickThreshold      float64 `yaml:"stick_threshold"`
	VelocityMultiplierH float64 `yaml:"velocity_multiplier_h"`
	VelocityMultiplierV float64 `yaml:"velocity_multiplier_v"`
	// ModeSwitch and PilotSwitch override the platform's switch values.
	ModeSwitch  float64 `yaml:"mode_switch"`
	PilotSwitch float64 `yaml:"pilot_switch"`
}

type AxesConfig struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
	W float64 `yaml:"w"`
}

type GainsConfig struct {
	Kp   AxesConfig `yaml:"kp"`
	Ki   AxesConfig `yaml:"ki"`
	Kd   AxesConfig `yaml:"kd"`
	Goal AxesConfig `yaml:"goal"`
}

type BoxConfig struct {
	LowX  float64 `yaml:"low_x"`
	HighX float64 `yaml:"high_x"`
	LowY  float64 `yaml:"low_y"`
	HighY float64 `yaml:"high_y"`
	LowZ  float64 `yaml:"low_z"`
	HighZ float64 `yaml:"high_z"`
}

type LandConfig struct {
	GainsConfig  `yaml:",inline"`
	Box          BoxConfig `yaml:"box"`
	VelThreshSqr float64   `yaml:"vel_thresh_sqr"`
	AngleThresh  float64   `yaml:"angle_thresh"`
}

type ReturnConfig struct {
	GotoHeight          float64 `yaml:"goto_height"`
	FinalHeight         float64 `yaml:"final_height"`
	DownRadius          float64 `yaml:"down_radius"`
	SettleRadiusSquared float64 `yaml:"settle_radius_squared"`
	TagTime             float64 `yaml:"tag_time"`
	TagLossThresh       float64 `yaml:"tag_loss_thresh"`
}

type LeaveConfig struct {
	Command command.Axis `yaml:"command"`
}

type BehaviorConfig struct {
	InitialMode string       `yaml:"initial_mode"`
	Follow      GainsConfig  `yaml:"follow"`
	Land        LandConfig   `yaml:"land"`
	Return      ReturnConfig `yaml:"return"`
	Leave       LeaveConfig  `yaml:"leave"`
}

type AlarmConfig struct {
	Enable  bool          `yaml:"enable"`
	GPIOPin int           `yaml:"gpio_pin"`
	Period  time.Duration `yaml:"period"`
}

type TelemetryConfig struct {
	// Dest is the UDP downlink address; empty disables the downlink.
	Dest      string  `yaml:"dest"`
	Smoothing float64 `yaml:"smoothing"`
}

type WebConfig struct {
	Listen string `yaml:"listen"`
}

var linePrefixRe = regexp.MustCompile(`^line \d+: `)

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML, rejects unknown fields and applies defaults.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) && allUnknownFields(te.Errors) {
			msgs := make([]string, 0, len(te.Errors))
			for _, e := range te.Errors {
				msgs = append(msgs, linePrefixRe.ReplaceAllString(e, ""))
			}
			return Config{}, fmt.Errorf("config contains unknown fields: %s", strings.Join(msgs, "; "))
		}
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func allUnknownFields(errs []string) bool {
	for _, e := range errs {
		if !strings.Contains(e, "not found in type") {
			return false
		}
	}
	return len(errs) > 0
}

// DefaultAndValidate fills defaults in place and validates the result.
func DefaultAndValidate(cfg *Config) error {
	if cfg.Loop.RateHz == 0 {
		cfg.Loop.RateHz = 25
	}
	if cfg.Loop.RateHz < 0 {
		return fmt.Errorf("loop.rate_hz must be > 0")
	}
	if cfg.Loop.RCTimeout <= 0 {
		cfg.Loop.RCTimeout = 1100 * time.Millisecond
	}

	if err := defaultMAVLink(&cfg.MAVLink); err != nil {
		return err
	}
	if err := defaultPlatform(&cfg.Platform); err != nil {
		return err
	}
	if err := defaultBehavior(&cfg.Behavior); err != nil {
		return err
	}

	if cfg.Alarm.GPIOPin == 0 {
		cfg.Alarm.GPIOPin = 17
	}
	if cfg.Alarm.Enable && cfg.Alarm.GPIOPin < 0 {
		return fmt.Errorf("alarm.gpio_pin must be > 0")
	}
	if cfg.Alarm.Period <= 0 {
		cfg.Alarm.Period = 250 * time.Millisecond
	}

	if cfg.Telemetry.Smoothing == 0 {
		cfg.Telemetry.Smoothing = 0.5
	}
	if cfg.Telemetry.Smoothing < 0 || cfg.Telemetry.Smoothing > 1 {
		return fmt.Errorf("telemetry.smoothing must be in (0, 1]")
	}

	if strings.TrimSpace(cfg.Web.Listen) == "" {
		cfg.Web.Listen = ":8080"
	}
	return nil
}

func defaultMAVLink(m *MAVLinkConfig) error {
	if strings.TrimSpace(m.Endpoint) == "" {
		return fmt.Errorf("mavlink.endpoint is required")
	}
	if m.SystemID == 0 {
		m.SystemID = 254
	}
	if m.TargetSystem == 0 {
		m.TargetSystem = 1
	}
	if m.BoatSystemID != 0 && m.BoatSystemID == m.TargetSystem {
		return fmt.Errorf("mavlink.boat_system_id must differ from mavlink.target_system")
	}
	if m.AckTimeout <= 0 {
		m.AckTimeout = time.Second
	}
	if m.TakeoffAltitude <= 0 {
		m.TakeoffAltitude = 2.5
	}
	ch := &m.RCChannels
	for _, c := range []struct {
		v   *int
		def int
	}{{&ch.Roll, 1}, {&ch.Pitch, 2}, {&ch.Throttle, 3}, {&ch.Yaw, 4}, {&ch.Mode, 5}, {&ch.Pilot, 6}} {
		if *c.v == 0 {
			*c.v = c.def
		}
		if *c.v < 1 || *c.v > 18 {
			return fmt.Errorf("mavlink.rc_channels must be in 1..18")
		}
	}
	return nil
}

func defaultPlatform(p *PlatformConfig) error {
	p.Name = strings.ToLower(strings.TrimSpace(p.Name))
	switch p.Name {
	case "":
		p.Name = "a3"
	case "a3", "m100":
	default:
		return fmt.Errorf("platform.name must be 'm100' or 'a3'")
	}

	d := arbiter.DefaultEnvelope()
	e := &p.Envelope
	for _, f := range []struct {
		v   *float64
		def float64
	}{
		{&e.HVelocityMaxBody, d.HVelocityMaxBody},
		{&e.HVelocityMaxGround, d.HVelocityMaxGround},
		{&e.HAngleRateCmdMax, d.HAngleRateCmdMax},
		{&e.HAngleCmdMax, d.HAngleCmdMax},
		{&e.VVelocityMaxBody, d.VVelocityMaxBody},
		{&e.VVelocityMaxGround, d.VVelocityMaxGround},
		{&e.VPosCmdMax, d.VPosCmdMax},
		{&e.VThrustCmdMax, d.VThrustCmdMax},
		{&e.YawRateMax, d.YawRateMax},
		{&e.YawAngleMax, d.YawAngleMax},
	} {
		if *f.v == 0 {
			*f.v = f.def
		}
		if *f.v < 0 {
			return fmt.Errorf("platform.envelope limits must be >= 0")
		}
	}
	if e.VPosCmdMin > e.VPosCmdMax {
		return fmt.Errorf("platform.envelope.v_pos_cmd_min must be <= v_pos_cmd_max")
	}

	if p.RC.StickThreshold < 0 {
		return fmt.Errorf("platform.rc.stick_threshold must be >= 0")
	}
	if p.RC.VelocityMultiplierH == 0 {
		p.RC.VelocityMultiplierH = 1
	}
	if p.RC.VelocityMultiplierV == 0 {
		p.RC.VelocityMultiplierV = 1
	}
	mode, pilot := arbiter.SwitchPositions(p.Name)
	if p.RC.ModeSwitch == 0 {
		p.RC.ModeSwitch = mode
	}
	if p.RC.PilotSwitch == 0 {
		p.RC.PilotSwitch = pilot
	}
	return nil
}

func defaultBehavior(b *BehaviorConfig) error {
	if strings.TrimSpace(b.InitialMode) == "" {
		b.InitialMode = behavior.Ride.String()
	}
	if _, err := behavior.ParseMode(b.InitialMode); err != nil {
		return fmt.Errorf("behavior.initial_mode: %w", err)
	}

	if b.Follow.Kp == (AxesConfig{}) {
		b.Follow.Kp = AxesConfig{X: 0.5, Y: 0.5, Z: 0.5, W: 0.5}
	}
	if b.Land.Kp == (AxesConfig{}) {
		b.Land.Kp = AxesConfig{X: 0.5, Y: 0.5, Z: 0.3, W: 0.5}
	}

	box := &b.Land.Box
	if *box == (BoxConfig{}) {
		*box = BoxConfig{LowX: -0.1, HighX: 0.1, LowY: -0.1, HighY: 0.1, LowZ: -0.1, HighZ: 0.1}
	}
	if box.LowX >= box.HighX || box.LowY >= box.HighY || box.LowZ >= box.HighZ {
		return fmt.Errorf("behavior.land.box low bounds must be < high bounds")
	}
	if b.Land.VelThreshSqr <= 0 {
		b.Land.VelThreshSqr = 0.01
	}
	if b.Land.AngleThresh <= 0 {
		b.Land.AngleThresh = 0.1
	}

	r := &b.Return
	if r.GotoHeight <= 0 {
		r.GotoHeight = 10
	}
	if r.FinalHeight <= 0 {
		r.FinalHeight = 3
	}
	if r.FinalHeight > r.GotoHeight {
		return fmt.Errorf("behavior.return.final_height must be <= goto_height")
	}
	if r.DownRadius <= 0 {
		r.DownRadius = 5
	}
	if r.SettleRadiusSquared <= 0 {
		r.SettleRadiusSquared = 0.25
	}
	if r.TagTime <= 0 {
		r.TagTime = 1
	}
	if r.TagLossThresh <= 0 {
		r.TagLossThresh = 2
	}
	return nil
}

// MachineConfig converts the behavior section for the state machine.
func (c Config) MachineConfig() behavior.Config {
	b := c.Behavior
	return behavior.Config{
		Follow: behavior.FollowConfig{
			Kp:   axes(b.Follow.Kp),
			Ki:   axes(b.Follow.Ki),
			Kd:   axes(b.Follow.Kd),
			Goal: axes(b.Follow.Goal),
		},
		Land: behavior.LandConfig{
			Kp:           axes(b.Land.Kp),
			Ki:           axes(b.Land.Ki),
			Kd:           axes(b.Land.Kd),
			Goal:         axes(b.Land.Goal),
			LowX:         b.Land.Box.LowX,
			HighX:        b.Land.Box.HighX,
			LowY:         b.Land.Box.LowY,
			HighY:        b.Land.Box.HighY,
			LowZ:         b.Land.Box.LowZ,
			HighZ:        b.Land.Box.HighZ,
			VelThreshSqr: b.Land.VelThreshSqr,
			AngleThresh:  b.Land.AngleThresh,
		},
		Return: behavior.ReturnConfig{
			GotoHeight:          b.Return.GotoHeight,
			FinalHeight:         b.Return.FinalHeight,
			DownRadius:          b.Return.DownRadius,
			SettleRadiusSquared: b.Return.SettleRadiusSquared,
			TagTime:             b.Return.TagTime,
			TagLossThresh:       b.Return.TagLossThresh,
		},
		Leave: behavior.LeaveConfig{Command: b.Leave.Command},
	}
}

// ArbiterConfig converts the platform section and loop watchdog.
func (c Config) ArbiterConfig() arbiter.Config {
	e := c.Platform.Envelope
	rc := c.Platform.RC
	return arbiter.Config{
		Envelope: arbiter.Envelope{
			HVelocityMaxBody:   e.HVelocityMaxBody,
			HVelocityMaxGround: e.HVelocityMaxGround,
			HAngleRateCmdMax:   e.HAngleRateCmdMax,
			HAngleCmdMax:       e.HAngleCmdMax,
			VVelocityMaxBody:   e.VVelocityMaxBody,
			VVelocityMaxGround: e.VVelocityMaxGround,
			VPosCmdMax:         e.VPosCmdMax,
			VPosCmdMin:         e.VPosCmdMin,
			VThrustCmdMax:      e.VThrustCmdMax,
			YawRateMax:         e.YawRateMax,
			YawAngleMax:        e.YawAngleMax,
		},
		RC: arbiter.RCConfig{
			StickThreshold:      rc.StickThreshold,
			VelocityMultiplierH: rc.VelocityMultiplierH,
			VelocityMultiplierV: rc.VelocityMultiplierV,
			ModeSwitch:          rc.ModeSwitch,
			PilotSwitch:         rc.PilotSwitch,
			Timeout:             c.Loop.RCTimeout,
		},
	}
}

// InitialMode is validated by DefaultAndValidate.
func (c Config) InitialMode() behavior.Mode {
	m, _ := behavior.ParseMode(c.Behavior.InitialMode)
	return m
}

func axes(a AxesConfig) behavior.Axes {
	return behavior.Axes{X: a.X, Y: a.Y, Z: a.Z, W: a.W}
}
