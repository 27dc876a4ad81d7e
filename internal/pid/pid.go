package pid

import (
	"math"
	"time"

	"go.einride.tech/pid"
)

// Controller is a single-axis PID controller driven by sample timestamps
// (seconds). The P+I+D arithmetic is go.einride.tech/pid; this type adds the
// timestamp bookkeeping the behaviors rely on:
//
//   - the first Update after New or Reset has dt=0 and contributes no integral
//     or derivative term, so the signal is exactly kp*error
//   - a repeated or older timestamp (dt<=0) is handled the same way, but keeps
//     the integral accumulated so far
//   - UpdateParams swaps gains without discarding the integral
//
// There is no integral clamping; callers Reset before each control episode.
//
// Not safe for concurrent use.
type Controller struct {
	c pid.Controller

	prevAt   float64
	havePrev bool
}

func New(kp, ki, kd float64) *Controller {
	p := &Controller{}
	p.UpdateParams(kp, ki, kd)
	return p
}

// Update feeds one error sample taken at time at.
func (p *Controller) Update(err, at float64) {
	dt := 0.0
	if p.havePrev {
		dt = at - p.prevAt
	}
	p.prevAt = at
	p.havePrev = true

	interval := time.Duration(dt * float64(time.Second))
	if interval <= 0 || math.IsNaN(dt) {
		st := &p.c.State
		st.ControlError = err
		st.ControlErrorDerivative = 0
		st.ControlSignal = p.c.Config.ProportionalGain*err + p.c.Config.IntegralGain*st.ControlErrorIntegral
		return
	}

	p.c.Update(pid.ControllerInput{
		ReferenceSignal:  err,
		ActualSignal:     0,
		SamplingInterval: interval,
	})
}

// Signal returns the output computed by the last Update, or 0 before any.
func (p *Controller) Signal() float64 {
	return p.c.State.ControlSignal
}

// Integral returns the accumulated error integral.
func (p *Controller) Integral() float64 {
	return p.c.State.ControlErrorIntegral
}

// Reset clears the integral and the previous error/time so the next Update
// behaves as a first sample.
func (p *Controller) Reset() {
	p.c.State = pid.ControllerState{}
	p.prevAt = 0
	p.havePrev = false
}

func (p *Controller) UpdateParams(kp, ki, kd float64) {
	p.c.Config.ProportionalGain = kp
	p.c.Config.IntegralGain = ki
	p.c.Config.DerivativeGain = kd
}

func (p *Controller) Gains() (kp, ki, kd float64) {
	return p.c.Config.ProportionalGain, p.c.Config.IntegralGain, p.c.Config.DerivativeGain
}
