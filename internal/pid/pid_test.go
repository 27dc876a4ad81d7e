package pid

import (
	"math"
	"testing"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestController_SignalBeforeUpdateIsZero(t *testing.T) {
	p := New(1, 2, 3)
	if got := p.Signal(); got != 0 {
		t.Fatalf("signal=%v want 0", got)
	}
}

func TestController_FirstUpdateIsProportionalOnly(t *testing.T) {
	p := New(0.7, 5, 9)
	p.Update(2, 100)
	if got := p.Signal(); got != 0.7*2 {
		t.Fatalf("signal=%v want %v", got, 0.7*2)
	}
	if got := p.Integral(); got != 0 {
		t.Fatalf("integral=%v want 0", got)
	}
}

func TestController_ResetMakesNextUpdateFirst(t *testing.T) {
	p := New(1.5, 1, 1)
	p.Update(1, 0)
	p.Update(3, 1)
	p.Update(-2, 2)

	p.Reset()
	p.Update(4, 10)
	if got := p.Signal(); got != 1.5*4 {
		t.Fatalf("signal=%v want %v", got, 1.5*4)
	}
	if got := p.Integral(); got != 0 {
		t.Fatalf("integral=%v want 0", got)
	}
}

func TestController_IntegralAndDerivative(t *testing.T) {
	p := New(1, 0.5, 0.25)
	p.Update(1, 0)
	p.Update(3, 0.5)

	// integral = 3*0.5, derivative = (3-1)/0.5
	wantI := 1.5
	wantD := 4.0
	if got := p.Integral(); !near(got, wantI) {
		t.Fatalf("integral=%v want %v", got, wantI)
	}
	want := 1*3 + 0.5*wantI + 0.25*wantD
	if got := p.Signal(); !near(got, want) {
		t.Fatalf("signal=%v want %v", got, want)
	}
}

func TestController_SameTimestampKeepsIntegral(t *testing.T) {
	p := New(1, 1, 1)
	p.Update(2, 0)
	p.Update(2, 1)
	before := p.Integral()

	p.Update(5, 1)
	if got := p.Integral(); got != before {
		t.Fatalf("integral=%v want %v", got, before)
	}
	if got := p.Signal(); !near(got, 5+before) {
		t.Fatalf("signal=%v want %v", got, 5+before)
	}
}

func TestController_NegativeDTContributesNothing(t *testing.T) {
	p := New(2, 1, 1)
	p.Update(1, 10)
	p.Update(1, 9)
	if got := p.Integral(); got != 0 {
		t.Fatalf("integral=%v want 0", got)
	}
	if got := p.Signal(); got != 2 {
		t.Fatalf("signal=%v want 2", got)
	}
}

func TestController_SubNanosecondDTContributesNothing(t *testing.T) {
	p := New(1, 1, 1)
	p.Update(1, 10)
	p.Update(2, 10+1e-10)
	if got := p.Signal(); math.IsInf(got, 0) || math.IsNaN(got) || got != 2 {
		t.Fatalf("signal=%v want 2", got)
	}
	if got := p.Integral(); got != 0 {
		t.Fatalf("integral=%v want 0", got)
	}
}

func TestController_UpdateParamsKeepsIntegral(t *testing.T) {
	p := New(1, 1, 0)
	p.Update(2, 0)
	p.Update(2, 1)
	p.Update(2, 2)
	before := p.Integral()
	if !near(before, 4) {
		t.Fatalf("integral=%v want 4", before)
	}

	p.UpdateParams(3, 0.5, 0)
	if got := p.Integral(); got != before {
		t.Fatalf("integral after UpdateParams=%v want %v", got, before)
	}
	kp, ki, kd := p.Gains()
	if kp != 3 || ki != 0.5 || kd != 0 {
		t.Fatalf("gains=(%v,%v,%v) want (3,0.5,0)", kp, ki, kd)
	}

	p.Update(2, 3)
	want := 3*2 + 0.5*(before+2)
	if got := p.Signal(); !near(got, want) {
		t.Fatalf("signal=%v want %v", got, want)
	}
}
