package arbiter

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"skyferry/internal/command"
)

type fakeAuthority struct {
	calls []bool
	err   error
}

func (f *fakeAuthority) RequestControl(_ context.Context, enable bool) error {
	f.calls = append(f.calls, enable)
	return f.err
}

type fakeAlarm struct {
	starts int
	stops  int
}

func (f *fakeAlarm) Start() { f.starts++ }
func (f *fakeAlarm) Stop()  { f.stops++ }

func testConfig() Config {
	return Config{
		Envelope: DefaultEnvelope(),
		RC: RCConfig{
			StickThreshold:      0.05,
			VelocityMultiplierH: 1,
			VelocityMultiplierV: 1,
			ModeSwitch:          1,
			PilotSwitch:         1,
			Timeout:             1100 * time.Millisecond,
		},
	}
}

func newTestArbiter(t *testing.T) (*Arbiter, *fakeAuthority, *fakeAlarm, *time.Time) {
	t.Helper()
	auth := &fakeAuthority{}
	alarm := &fakeAlarm{}
	a := New(testConfig(), auth, alarm)
	now := time.Unix(1000, 0)
	a.now = func() time.Time { return now }
	return a, auth, alarm, &now
}

func allFlags() []PlatformFlag {
	var out []PlatformFlag
	for _, h := range []PlatformFlag{HorizontalAngle, HorizontalVelocity, HorizontalPosition, HorizontalAngularRate} {
		for _, v := range []PlatformFlag{VerticalVelocity, VerticalPosition, VerticalThrust} {
			for _, y := range []PlatformFlag{YawAngle, YawRate} {
				for _, f := range []PlatformFlag{HorizontalGround, HorizontalBody} {
					for _, s := range []PlatformFlag{StableDisable, StableEnable} {
						out = append(out, h|v|y|f|s)
					}
				}
			}
		}
	}
	return out
}

func TestClip_Idempotent(t *testing.T) {
	a, _, _, _ := newTestArbiter(t)
	inputs := []command.Axis{
		{X: 100, Y: -100, Z: 100, Yaw: 100},
		{X: -0.3, Y: 0.2, Z: -50, Yaw: -9},
		{X: 0, Y: 0, Z: 0, Yaw: 0},
		{X: 4.9, Y: -0.7, Z: 0.5, Yaw: 2.6},
	}
	for _, flag := range allFlags() {
		for _, in := range inputs {
			once := a.Clip(in, flag)
			twice := a.Clip(once, flag)
			if once != twice {
				t.Fatalf("flag=%s clip not idempotent: %+v then %+v", FlagString(uint8(flag)), once, twice)
			}
		}
	}
}

func TestClip_Bounds(t *testing.T) {
	a, _, _, _ := newTestArbiter(t)
	env := DefaultEnvelope()
	big := command.Axis{X: 100, Y: -100, Z: 100, Yaw: 100}

	cases := []struct {
		name       string
		flag       PlatformFlag
		wantX      float64
		wantZ      float64
		wantAbsYaw float64
	}{
		{name: "AngleBody", flag: defaultFlag, wantX: env.HAngleCmdMax, wantZ: env.VVelocityMaxBody, wantAbsYaw: env.YawRateMax},
		{name: "VelocityGround", flag: HorizontalVelocity | VerticalVelocity | YawRate, wantX: env.HVelocityMaxGround, wantZ: env.VVelocityMaxGround, wantAbsYaw: env.YawRateMax},
		{name: "VelocityBody", flag: HorizontalVelocity | VerticalVelocity | HorizontalBody, wantX: env.HVelocityMaxBody, wantZ: env.VVelocityMaxBody, wantAbsYaw: env.YawRateMax},
		{name: "PositionPassesHorizontal", flag: HorizontalPosition | VerticalPosition | StableEnable, wantX: 100, wantZ: env.VPosCmdMax, wantAbsYaw: env.YawRateMax},
		{name: "AngularRate", flag: HorizontalAngularRate | VerticalThrust, wantX: env.HAngleRateCmdMax, wantZ: env.VThrustCmdMax, wantAbsYaw: env.YawRateMax},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := a.Clip(big, tc.flag)
			if math.Abs(got.X-tc.wantX) > 1e-12 {
				t.Fatalf("x=%v want %v", got.X, tc.wantX)
			}
			if math.Abs(got.Y+tc.wantX) > 1e-12 {
				t.Fatalf("y=%v want %v", got.Y, -tc.wantX)
			}
			if math.Abs(got.Z-tc.wantZ) > 1e-12 {
				t.Fatalf("z=%v want %v", got.Z, tc.wantZ)
			}
			if math.Abs(math.Abs(got.Yaw)-tc.wantAbsYaw) > 1e-12 {
				t.Fatalf("yaw=%v want ±%v", got.Yaw, tc.wantAbsYaw)
			}
		})
	}
}

func TestClip_VerticalPositionFloor(t *testing.T) {
	a, _, _, _ := newTestArbiter(t)
	got := a.Clip(command.Axis{Z: -3}, HorizontalPosition|VerticalPosition)
	if got.Z != 0 {
		t.Fatalf("z=%v want 0", got.Z)
	}
	got = a.Clip(command.Axis{Z: -3}, HorizontalAngularRate|VerticalThrust)
	if got.Z != 0 {
		t.Fatalf("thrust=%v want 0", got.Z)
	}
}

func TestBuildFlag(t *testing.T) {
	if got := BuildFlag(command.KindWorldPos); got != 0x91 {
		t.Fatalf("world_pos=%#x want 0x91", uint8(got))
	}
	if got := BuildFlag(command.KindWorldRate); got != 0x48 {
		t.Fatalf("world_rate=%#x want 0x48", uint8(got))
	}
	if got := BuildFlag(command.KindShortRange); got != 0x0A {
		t.Fatalf("lqr=%#x want 0x0a", uint8(got))
	}
}

func TestTranslateFlag(t *testing.T) {
	got := TranslateFlag(command.ClassVelocity | command.BodyFrame | command.YawRate)
	want := HorizontalVelocity | VerticalVelocity | HorizontalBody | YawRate
	if got != want {
		t.Fatalf("flag=%s want %s", FlagString(uint8(got)), FlagString(uint8(want)))
	}
	got = TranslateFlag(command.ClassPosition)
	want = HorizontalPosition | VerticalPosition | StableEnable
	if got != want {
		t.Fatalf("flag=%s want %s", FlagString(uint8(got)), FlagString(uint8(want)))
	}
}

func TestHandleRC_RequestsAndReleasesControl(t *testing.T) {
	a, auth, _, now := newTestArbiter(t)
	ctx := context.Background()

	a.HandleRC(ctx, RCSample{Mode: 1, Pilot: 1, At: *now})
	if !a.Snapshot().AutopilotOn {
		t.Fatalf("expected autopilot on")
	}
	// Repeated samples with switches on do not re-request.
	a.HandleRC(ctx, RCSample{Mode: 1, Pilot: 1, At: *now})
	if len(auth.calls) != 1 || !auth.calls[0] {
		t.Fatalf("calls=%v want [true]", auth.calls)
	}

	a.HandleRC(ctx, RCSample{Mode: 1, Pilot: 0, At: *now})
	if a.Snapshot().AutopilotOn {
		t.Fatalf("expected autopilot off")
	}
	if len(auth.calls) != 2 || auth.calls[1] {
		t.Fatalf("calls=%v want [true false]", auth.calls)
	}
}

func TestHandleRC_FailedRequestLeavesAutopilotOff(t *testing.T) {
	a, auth, _, now := newTestArbiter(t)
	auth.err = errors.New("denied")
	a.HandleRC(context.Background(), RCSample{Mode: 1, Pilot: 1, At: *now})
	if a.Snapshot().AutopilotOn {
		t.Fatalf("expected autopilot off after failed request")
	}
}

func TestPublish_OperatorBypassIsOneShot(t *testing.T) {
	a, _, _, now := newTestArbiter(t)
	ctx := context.Background()
	a.HandleRC(ctx, RCSample{Mode: 1, Pilot: 1, At: *now})
	a.SetCommand(command.Axis{X: 0.5, Flag: command.ClassVelocity | command.BodyFrame | command.YawRate})

	a.HandleRC(ctx, RCSample{Roll: 0.3, Pitch: -0.2, Yaw: 0.4, Throttle: 0.1, Mode: 1, Pilot: 1, At: *now})
	out, ok := a.Tick(ctx)
	if !ok {
		t.Fatalf("expected publish")
	}
	if out.Source != command.SourceOperator {
		t.Fatalf("source=%s want rc", out.Source)
	}
	if out.X != 0.3 || out.Y != -0.2 || out.Z != 0.1 || out.Yaw != -0.4 {
		t.Fatalf("operator cmd=%+v", out)
	}
	if out.Flag != uint8(defaultFlag) {
		t.Fatalf("flag=%s want default", FlagString(out.Flag))
	}

	out, ok = a.Tick(ctx)
	if !ok || out.Source != command.SourceAuto || out.X != 0.5 {
		t.Fatalf("second tick=%+v ok=%v want auto x=0.5", out, ok)
	}
}

func TestPublish_SticksInsideDeadZoneDoNotBypass(t *testing.T) {
	a, _, _, now := newTestArbiter(t)
	ctx := context.Background()
	a.HandleRC(ctx, RCSample{Mode: 1, Pilot: 1, At: *now})
	a.HandleRC(ctx, RCSample{Roll: 0.01, Mode: 1, Pilot: 1, At: *now})
	out, ok := a.Tick(ctx)
	if !ok || out.Source != command.SourceAuto {
		t.Fatalf("tick=%+v ok=%v want auto", out, ok)
	}
}

func TestTick_NoPublishWithoutControl(t *testing.T) {
	a, _, _, _ := newTestArbiter(t)
	if _, ok := a.Tick(context.Background()); ok {
		t.Fatalf("published before any rc")
	}
}

func TestCheckRC_Watchdog(t *testing.T) {
	a, auth, alarm, now := newTestArbiter(t)
	ctx := context.Background()
	a.HandleRC(ctx, RCSample{Mode: 1, Pilot: 1, At: *now})

	*now = now.Add(1100 * time.Millisecond)
	if !a.CheckRC(ctx) {
		t.Fatalf("age exactly at timeout must not panic")
	}

	*now = now.Add(time.Millisecond)
	if a.CheckRC(ctx) {
		t.Fatalf("expected panic past timeout")
	}
	st := a.Snapshot()
	if !st.Panic || st.AutopilotOn {
		t.Fatalf("state=%+v want panic and autopilot off", st)
	}
	if alarm.starts != 1 {
		t.Fatalf("alarm starts=%d want 1", alarm.starts)
	}
	if len(auth.calls) != 2 || auth.calls[1] {
		t.Fatalf("calls=%v want release", auth.calls)
	}

	// Panic is sticky: fresh RC does not re-arm.
	a.HandleRC(ctx, RCSample{Mode: 1, Pilot: 1, At: *now})
	if a.CheckRC(ctx) {
		t.Fatalf("panic must be sticky")
	}
	if a.Snapshot().AutopilotOn {
		t.Fatalf("autopilot re-enabled during panic")
	}
	if alarm.starts != 1 {
		t.Fatalf("alarm restarted: starts=%d", alarm.starts)
	}
}

func TestSwitchPositions(t *testing.T) {
	mode, pilot := SwitchPositions("M100")
	if mode != 8000 || pilot != -10000 {
		t.Fatalf("m100=(%v,%v)", mode, pilot)
	}
	mode, pilot = SwitchPositions("a3")
	if mode != 1 || pilot != 1 {
		t.Fatalf("default=(%v,%v)", mode, pilot)
	}
}

func TestClose_ReleasesAndStopsAlarm(t *testing.T) {
	a, auth, alarm, now := newTestArbiter(t)
	ctx := context.Background()
	a.HandleRC(ctx, RCSample{Mode: 1, Pilot: 1, At: *now})
	a.Close(ctx)
	if a.Snapshot().AutopilotOn {
		t.Fatalf("expected released")
	}
	if auth.calls[len(auth.calls)-1] {
		t.Fatalf("last call=%v want false", auth.calls)
	}
	if alarm.stops != 1 {
		t.Fatalf("alarm stops=%d want 1", alarm.stops)
	}
}
