package command

import (
	"encoding/json"
	"testing"
)

func TestFlag_StringParse(t *testing.T) {
	cases := []struct {
		in   string
		want Flag
	}{
		{"", ClassAngle},
		{"velocity|body|yaw_rate", ClassVelocity | BodyFrame | YawRate},
		{"position|world|yaw_angle", ClassPosition},
		{" Velocity | Body ", ClassVelocity | BodyFrame},
		{"position|velocity", ClassVelocity},
	}
	for _, tc := range cases {
		got, err := ParseFlag(tc.in)
		if err != nil {
			t.Fatalf("ParseFlag(%q) err=%v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseFlag(%q)=%s want %s", tc.in, got, tc.want)
		}
	}

	if _, err := ParseFlag("velocity|sideways"); err == nil {
		t.Fatalf("expected error for unknown part")
	}
	if s := (ClassVelocity | YawRate).String(); s != "velocity|world|yaw_rate" {
		t.Fatalf("String=%q", s)
	}
}

func TestFlag_JSONText(t *testing.T) {
	b, err := json.Marshal(Axis{X: 1, Flag: ClassPosition | BodyFrame})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Axis
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal %s: %v", b, err)
	}
	if got.Flag != ClassPosition|BodyFrame || got.X != 1 {
		t.Fatalf("got=%+v", got)
	}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{
		"world_pos":  KindWorldPos,
		"WORLD_RATE": KindWorldRate,
		"lqr":        KindShortRange,
		"body_rate":  KindShortRange,
	} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Fatalf("ParseKind(%q)=%v,%v want %v", in, got, err, want)
		}
	}
	if _, err := ParseKind("orbit"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestHold(t *testing.T) {
	h := Hold()
	if h.X != 0 || h.Y != 0 || h.Z != 0 || h.Yaw != 0 {
		t.Fatalf("hold=%+v want zero axes", h)
	}
	if h.Flag.Class() != ClassVelocity || !h.Flag.Body() || !h.Flag.YawIsRate() {
		t.Fatalf("hold flag=%s", h.Flag)
	}
}
