// Package mavlink is the vehicle link: it decodes sensor and RC messages from
// the flight controller and the boat, and encodes commands and one-shot
// primitives back to the flight controller.
package mavlink

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"skyferry/internal/arbiter"
	"skyferry/internal/command"
	"skyferry/internal/geometry"
)

var (
	ErrNoAck    = errors.New("mavlink: no command ack")
	ErrRejected = errors.New("mavlink: command rejected")
)

// Sink receives decoded inbound readings. It is called from the link
// goroutine.
type Sink interface {
	SetTag(p geometry.Pose)
	SetVehicleFix(fix geometry.Fix, height float64, at time.Time)
	SetBoatFix(fix geometry.Fix, at time.Time)
	SetAttitude(rpy geometry.RPY, at time.Time)
	HandleRC(s arbiter.RCSample)
}

// RCMap says which RC channels carry the sticks and switches (1-based) and
// which values the switches report in their high position.
type RCMap struct {
	Roll, Pitch, Throttle, Yaw int
	Mode, Pilot                int

	ModeValue  float64
	PilotValue float64
}

func DefaultRCMap() RCMap {
	return RCMap{Roll: 1, Pitch: 2, Throttle: 3, Yaw: 4, Mode: 5, Pilot: 6, ModeValue: 1, PilotValue: 1}
}

type Config struct {
	// Endpoint is "udp-server:<addr>", "udp-client:<addr>" or
	// "serial:<device>[:<baud>]".
	Endpoint string
	SystemID uint8

	TargetSystem    uint8
	TargetComponent uint8
	BoatSystemID    uint8

	AckTimeout      time.Duration
	TakeoffAltitude float64

	RC RCMap
}

type writer interface {
	write(m message.Message) error
}

type nodeWriter struct{ n *gomavlib.Node }

func (w nodeWriter) write(m message.Message) error {
	w.n.WriteMessageAll(m)
	return nil
}

// Link owns one gomavlib node.
type Link struct {
	cfg   Config
	sink  Sink
	node  *gomavlib.Node
	out   writer
	start time.Time
	now   func() time.Time

	mu      sync.Mutex
	pending map[common.MAV_CMD]chan common.MAV_RESULT

	closeOnce sync.Once
}

func Open(cfg Config, sink Sink) (*Link, error) {
	ep, err := parseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	if cfg.SystemID == 0 {
		cfg.SystemID = 254
	}
	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:   []gomavlib.EndpointConf{ep},
		Dialect:     common.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: cfg.SystemID,
	})
	if err != nil {
		return nil, fmt.Errorf("mavlink: open %s: %w", cfg.Endpoint, err)
	}
	l := newLink(cfg, sink, nodeWriter{n: node})
	l.node = node
	return l, nil
}

func newLink(cfg Config, sink Sink, out writer) *Link {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = time.Second
	}
	if cfg.TakeoffAltitude <= 0 {
		cfg.TakeoffAltitude = 2.5
	}
	if cfg.TargetSystem == 0 {
		cfg.TargetSystem = 1
	}
	if cfg.RC == (RCMap{}) {
		cfg.RC = DefaultRCMap()
	}
	return &Link{
		cfg:     cfg,
		sink:    sink,
		out:     out,
		start:   time.Now(),
		now:     time.Now,
		pending: make(map[common.MAV_CMD]chan common.MAV_RESULT),
	}
}

// Run dispatches inbound frames until ctx is done.
func (l *Link) Run(ctx context.Context) {
	if l.node == nil {
		<-ctx.Done()
		return
	}
	events := l.node.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			switch e := evt.(type) {
			case *gomavlib.EventFrame:
				l.handleMessage(e.SystemID(), e.Message(), l.now())
			case *gomavlib.EventChannelOpen:
				log.Printf("mavlink: channel open %v", e.Channel)
			case *gomavlib.EventChannelClose:
				log.Printf("mavlink: channel closed %v", e.Channel)
			case *gomavlib.EventParseError:
				log.Printf("mavlink: parse error: %v", e.Error)
			}
		}
	}
}

func (l *Link) Close() {
	l.closeOnce.Do(func() {
		if l.node != nil {
			l.node.Close()
		}
	})
}

func (l *Link) bootMs() uint32 {
	return uint32(l.now().Sub(l.start) / time.Millisecond)
}

// commandLong sends a COMMAND_LONG and waits for its COMMAND_ACK.
func (l *Link) commandLong(ctx context.Context, cmd common.MAV_CMD, params [7]float32) error {
	ch := make(chan common.MAV_RESULT, 1)
	l.mu.Lock()
	l.pending[cmd] = ch
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		if l.pending[cmd] == ch {
			delete(l.pending, cmd)
		}
		l.mu.Unlock()
	}()

	msg := &common.MessageCommandLong{
		TargetSystem:    l.cfg.TargetSystem,
		TargetComponent: l.cfg.TargetComponent,
		Command:         cmd,
		Param1:          params[0],
		Param2:          params[1],
		Param3:          params[2],
		Param4:          params[3],
		Param5:          params[4],
		Param6:          params[5],
		Param7:          params[6],
	}
	if err := l.out.write(msg); err != nil {
		return fmt.Errorf("mavlink: send command=%v: %w", cmd, err)
	}

	timer := time.NewTimer(l.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res != common.MAV_RESULT_ACCEPTED {
			return fmt.Errorf("%w: command=%v result=%v", ErrRejected, cmd, res)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: command=%v after %s", ErrNoAck, cmd, l.cfg.AckTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Link) ack(cmd common.MAV_CMD, res common.MAV_RESULT) {
	// In-progress acks are followed by a final one.
	if res == common.MAV_RESULT_IN_PROGRESS {
		return
	}
	l.mu.Lock()
	ch := l.pending[cmd]
	l.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- res:
	default:
	}
}

// Takeoff arms the vehicle and climbs to the takeoff altitude.
func (l *Link) Takeoff(ctx context.Context) error {
	if err := l.commandLong(ctx, common.MAV_CMD_COMPONENT_ARM_DISARM, [7]float32{1}); err != nil {
		return err
	}
	return l.commandLong(ctx, common.MAV_CMD_NAV_TAKEOFF, [7]float32{6: float32(l.cfg.TakeoffAltitude)})
}

func (l *Link) Land(ctx context.Context) error {
	return l.commandLong(ctx, common.MAV_CMD_NAV_LAND, [7]float32{})
}

func (l *Link) Disarm(ctx context.Context) error {
	return l.commandLong(ctx, common.MAV_CMD_COMPONENT_ARM_DISARM, [7]float32{0})
}

// RequestControl asks the flight controller to accept (or stop accepting)
// offboard commands.
func (l *Link) RequestControl(ctx context.Context, enable bool) error {
	var p float32
	if enable {
		p = 1
	}
	return l.commandLong(ctx, common.MAV_CMD_NAV_GUIDED_ENABLE, [7]float32{p})
}

// SetEnabled takes (-2) or releases (-3) primary control of the gimbal.
func (l *Link) SetEnabled(ctx context.Context, enable bool) error {
	p := float32(-3)
	if enable {
		p = -2
	}
	return l.commandLong(ctx, common.MAV_CMD_DO_GIMBAL_MANAGER_CONFIGURE, [7]float32{p, -1, -1, -1})
}

// LookDown points the tag camera straight down.
func (l *Link) LookDown(ctx context.Context) error {
	nan := float32(math.NaN())
	return l.commandLong(ctx, common.MAV_CMD_DO_GIMBAL_MANAGER_PITCHYAW, [7]float32{-90, 0, nan, nan, 0, 0, 0})
}

// Send encodes one arbitrated command for the flight controller.
func (l *Link) Send(cmd command.Arbitrated) error {
	msg := encodeCommand(cmd, l.cfg.TargetSystem, l.cfg.TargetComponent, l.bootMs())
	if err := l.out.write(msg); err != nil {
		return fmt.Errorf("mavlink: send command: %w", err)
	}
	return nil
}
