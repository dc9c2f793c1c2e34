package power

// PID is a clamped-output, clamped-integral PID step, tuned once at
// construction. Timestamps are expected to be non-decreasing; a zero or
// negative dt skips the derivative and integral update for that step so
// repeated timestamps cannot corrupt the state.
type PID struct {
	kp, ki, kd     float64
	minOut, maxOut float64
	minInt, maxInt float64

	integral float64
	lastErr  float64
	lastTime float64
	primed   bool
}

func NewPID(kp, ki, kd, minOut, maxOut float64) *PID {
	return &PID{kp: kp, ki: ki, kd: kd, minOut: minOut, maxOut: maxOut}
}

// SetIntegralLimits bounds the accumulated error term to prevent windup
// after prolonged saturation.
func (p *PID) SetIntegralLimits(min, max float64) {
	p.minInt = min
	p.maxInt = max
}

// Calculate runs one controller step. now is seconds on any monotonic
// scale; only differences are used.
func (p *PID) Calculate(measured, setpoint, now float64) float64 {
	err := setpoint - measured

	if !p.primed {
		p.primed = true
		p.lastErr = err
		p.lastTime = now
	}

	dt := now - p.lastTime

	derivative := 0.0
	if dt > 0 {
		p.integral += err * dt * p.ki
		p.integral = clamp(p.integral, p.minInt, p.maxInt)
		derivative = (err - p.lastErr) / dt * p.kd
		p.lastErr = err
		p.lastTime = now
	}

	return clamp(p.kp*err+p.integral+derivative, p.minOut, p.maxOut)
}

// Integral exposes the accumulator for telemetry.
func (p *PID) Integral() float64 { return p.integral }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
