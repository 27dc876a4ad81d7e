package main

import (
	"context"
	"fmt"
	"log"
	goruntime "runtime"
	"strings"
	"time"

	"skyferry/internal/alarm"
	"skyferry/internal/arbiter"
	"skyferry/internal/behavior"
	"skyferry/internal/command"
	"skyferry/internal/config"
	"skyferry/internal/mavlink"
	"skyferry/internal/telemetry"
	"skyferry/internal/udp"
	"skyferry/internal/web"
)

// vehicleLink is everything the loop needs from the flight controller link.
type vehicleLink interface {
	behavior.Vehicle
	behavior.Gimbal
	arbiter.Authority
	Send(cmd command.Arbitrated) error
	Run(ctx context.Context)
	Close()
}

var openLinkFn = func(cfg mavlink.Config, sink mavlink.Sink) (vehicleLink, error) {
	l, err := mavlink.Open(cfg, sink)
	if err != nil {
		return nil, err
	}
	return l, nil
}

var setRealtimeFn = setRealtime

const (
	queueDepth      = 16
	rcQueueDepth    = 64
	shutdownTimeout = 3 * time.Second
)

type kindCommand struct {
	cmd  command.Axis
	kind command.Kind
}

// linkSink stores sensor readings directly and hands RC samples to the
// control loop. Control requests block on acks that arrive on the link
// goroutine, so they must not run there.
type linkSink struct {
	*telemetry.Store
	rc chan arbiter.RCSample
}

func (s linkSink) HandleRC(sample arbiter.RCSample) {
	select {
	case s.rc <- sample:
	default:
		// Drop the oldest; the loop only needs recent samples.
		select {
		case <-s.rc:
		default:
		}
		select {
		case s.rc <- sample:
		default:
		}
	}
}

type runtime struct {
	configPath string
	runID      string

	// boot is the config the process started with; fields that need a
	// restart are compared against it.
	boot config.Config

	status   *web.Status
	store    *telemetry.Store
	link     vehicleLink
	arb      *arbiter.Arbiter
	machine  *behavior.Machine
	flasher  *alarm.Flasher
	downlink *udp.Downlink

	rc       chan arbiter.RCSample
	modes    chan behavior.Mode
	commands chan kindCommand
	reloads  chan config.Config

	now func() time.Time
}

func linkConfig(c config.Config) mavlink.Config {
	ch := c.MAVLink.RCChannels
	return mavlink.Config{
		Endpoint:        c.MAVLink.Endpoint,
		SystemID:        c.MAVLink.SystemID,
		TargetSystem:    c.MAVLink.TargetSystem,
		TargetComponent: c.MAVLink.TargetComponent,
		BoatSystemID:    c.MAVLink.BoatSystemID,
		AckTimeout:      c.MAVLink.AckTimeout,
		TakeoffAltitude: c.MAVLink.TakeoffAltitude,
		RC: mavlink.RCMap{
			Roll:       ch.Roll,
			Pitch:      ch.Pitch,
			Throttle:   ch.Throttle,
			Yaw:        ch.Yaw,
			Mode:       ch.Mode,
			Pilot:      ch.Pilot,
			ModeValue:  c.Platform.RC.ModeSwitch,
			PilotValue: c.Platform.RC.PilotSwitch,
		},
	}
}

func newRuntime(cfg config.Config, configPath, runID string, status *web.Status) (*runtime, error) {
	c := cfg
	if err := config.DefaultAndValidate(&c); err != nil {
		return nil, err
	}
	if status == nil {
		return nil, fmt.Errorf("status is nil")
	}

	r := &runtime{
		configPath: configPath,
		runID:      runID,
		boot:       c,
		status:     status,
		store:      telemetry.New(c.Telemetry.Smoothing),
		rc:         make(chan arbiter.RCSample, rcQueueDepth),
		modes:      make(chan behavior.Mode, queueDepth),
		commands:   make(chan kindCommand, queueDepth),
		reloads:    make(chan config.Config, queueDepth),
		now:        time.Now,
	}

	link, err := openLinkFn(linkConfig(c), linkSink{Store: r.store, rc: r.rc})
	if err != nil {
		return nil, err
	}
	r.link = link

	if dest := strings.TrimSpace(c.Telemetry.Dest); dest != "" {
		d, err := udp.NewDownlink(dest)
		if err != nil {
			link.Close()
			return nil, fmt.Errorf("udp downlink init failed: %w", err)
		}
		r.downlink = d
	}

	r.flasher = alarm.New(alarm.Config{
		Enable:  c.Alarm.Enable,
		GPIOPin: c.Alarm.GPIOPin,
		Period:  c.Alarm.Period,
	})
	r.arb = arbiter.New(c.ArbiterConfig(), link, r.flasher)
	r.machine = behavior.New(c.MachineConfig(), c.InitialMode(), link, link)
	return r, nil
}

// RequestMode implements web.Controller.
func (r *runtime) RequestMode(m behavior.Mode) error {
	select {
	case r.modes <- m:
		return nil
	default:
		return web.ErrBusy
	}
}

func (r *runtime) RequestCommand(cmd command.Axis, kind command.Kind) error {
	select {
	case r.commands <- kindCommand{cmd: cmd, kind: kind}:
		return nil
	default:
		return web.ErrBusy
	}
}

// Reload re-reads the config file and queues the live sections for the
// loop.
func (r *runtime) Reload() error {
	next, err := config.Load(r.configPath)
	if err != nil {
		return err
	}
	if err := checkRestart(r.boot, next); err != nil {
		return err
	}
	select {
	case r.reloads <- next:
		return nil
	default:
		return web.ErrBusy
	}
}

func checkRestart(cur, next config.Config) error {
	if next.Loop.RateHz != cur.Loop.RateHz || next.Loop.Realtime != cur.Loop.Realtime {
		return fmt.Errorf("loop.rate_hz and loop.realtime require restart")
	}
	if next.MAVLink != cur.MAVLink {
		return fmt.Errorf("mavlink settings require restart")
	}
	if next.Platform.Name != cur.Platform.Name ||
		next.Platform.RC.ModeSwitch != cur.Platform.RC.ModeSwitch ||
		next.Platform.RC.PilotSwitch != cur.Platform.RC.PilotSwitch {
		return fmt.Errorf("platform switch settings require restart")
	}
	if next.Alarm != cur.Alarm {
		return fmt.Errorf("alarm settings require restart")
	}
	if next.Telemetry != cur.Telemetry {
		return fmt.Errorf("telemetry settings require restart")
	}
	if next.Web != cur.Web {
		return fmt.Errorf("web.listen requires restart")
	}
	return nil
}

func (r *runtime) apply(next config.Config) {
	r.arb.UpdateConfig(next.ArbiterConfig())
	r.machine.UpdateConfig(next.MachineConfig())
	log.Printf("config: reloaded path=%s", r.configPath)
}

// drain applies queued reloads, mode requests and RC samples.
func (r *runtime) drain(ctx context.Context) {
	for {
		select {
		case next := <-r.reloads:
			r.apply(next)
		case m := <-r.modes:
			r.machine.SetMode(m)
		case s := <-r.rc:
			r.arb.HandleRC(ctx, s)
		default:
			return
		}
	}
}

// drainRC hands queued RC samples to the arbiter. It runs again right
// before the watchdog so samples that arrived while a primitive blocked the
// behavior still count as link activity.
func (r *runtime) drainRC(ctx context.Context) {
	for {
		select {
		case s := <-r.rc:
			r.arb.HandleRC(ctx, s)
		default:
			return
		}
	}
}

// drainCommands runs after the behavior so an external command overrides
// the behavior's command for the tick it arrives in.
func (r *runtime) drainCommands() {
	for {
		select {
		case c := <-r.commands:
			r.arb.SetKindCommand(c.cmd, c.kind)
		default:
			return
		}
	}
}

func (r *runtime) tick(ctx context.Context) {
	r.drain(ctx)
	now := r.now()

	if cmd, ok := r.machine.Tick(ctx, r.store.Snapshot(now)); ok {
		r.arb.SetCommand(cmd)
	}
	r.drainCommands()
	r.drainRC(ctx)

	var sent *command.Arbitrated
	out, ok := r.arb.Tick(ctx)
	if ok {
		if err := r.link.Send(out); err != nil {
			log.Printf("mavlink: send failed: %v", err)
		}
		sent = &out
	}

	st := r.machine.Status()
	arb := r.arb.Snapshot()
	if ok && r.downlink != nil {
		stage := ""
		if st.Stage != nil {
			stage = st.Stage.String()
		}
		if err := r.downlink.SendFrame(udp.NewFrame(r.runID, st.Mode.String(), stage, out, arb.Panic)); err != nil {
			log.Printf("udp: downlink send failed: %v", err)
		}
	}

	ls := web.LoopStatus{
		Behavior: st,
		Arbiter:  arb,
		Sensors:  r.store.Ages(now),
		Alarm:    r.flasher.Snapshot(),
		Sent:     sent,
	}
	if att, ok := r.store.Attitude(); ok {
		ls.Attitude = &att
	}
	if r.downlink != nil {
		ls.Downlink = r.downlink.Dest()
	}
	r.status.Publish(now.UTC(), ls)
}

// Run drives the control loop at loop.rate_hz until ctx is done, then hands
// control back to the operator.
func (r *runtime) Run(ctx context.Context) {
	if r.boot.Loop.Realtime {
		goruntime.LockOSThread()
		defer goruntime.UnlockOSThread()
		if err := setRealtimeFn(); err != nil {
			log.Printf("loop: realtime scheduling unavailable: %v", err)
		}
	}

	// The link outlives ctx so the release request can still be acked.
	linkCtx, cancelLink := context.WithCancel(context.Background())
	defer cancelLink()
	go r.link.Run(linkCtx)

	period := time.Duration(float64(time.Second) / r.boot.Loop.RateHz)
	t := time.NewTicker(period)
	defer t.Stop()
	log.Printf("loop: started rate_hz=%v mode=%s run_id=%s", r.boot.Loop.RateHz, r.machine.Mode(), r.runID)

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		case <-t.C:
			r.tick(ctx)
		}
	}
}

func (r *runtime) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	r.arb.Close(ctx)
	if err := r.flasher.Close(); err != nil {
		log.Printf("alarm: close failed: %v", err)
	}
	r.Close()
	log.Printf("loop: stopped")
}

// Close releases the link and downlink. It does not talk to the vehicle.
func (r *runtime) Close() {
	if r.downlink != nil {
		_ = r.downlink.Close()
		r.downlink = nil
	}
	if r.link != nil {
		r.link.Close()
		r.link = nil
	}
	r.status.Close()
}
