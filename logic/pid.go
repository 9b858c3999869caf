package logic

import (
	"time"

	"github.com/coilworks/bms/state"
)

// PIDGains parameterises one PID loop. Output is clamped to [Min, Max]
// and the integral term is anti-windup limited to the same range.
type PIDGains struct {
	Kp, Ki, Kd float64
	Min, Max   float64
}

// StepPID advances one PID loop by a single sample. The previous
// accumulators come from durable unit state so loops survive restarts.
func StepPID(prev state.PIDState, g PIDGains, err float64, now time.Time) (float64, state.PIDState) {
	dt := 1.0
	if !prev.LastUpdate.IsZero() {
		dt = now.Sub(prev.LastUpdate).Seconds()
		if dt <= 0 {
			dt = 1.0
		}
		// A long gap means the loop was idle; stale accumulators would
		// slam the actuator on resume.
		if dt > 600 {
			prev = state.PIDState{}
			dt = 1.0
		}
	}

	integral := prev.Integral + err*dt
	if g.Ki != 0 {
		limit := g.Max / g.Ki
		integral = clamp(integral, -limit, limit)
	}
	derivative := 0.0
	if !prev.LastUpdate.IsZero() {
		derivative = (err - prev.LastError) / dt
	}

	out := clamp(g.Kp*err+g.Ki*integral+g.Kd*derivative, g.Min, g.Max)
	return out, state.PIDState{
		Integral:   integral,
		LastError:  err,
		Derivative: derivative,
		LastUpdate: now,
	}
}
