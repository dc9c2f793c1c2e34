// Package power regulates the high-voltage DC-DC step-up converter that
// feeds the nixie anodes. A PID loop holds the output at a soft-started
// setpoint using the feedback divider sampled through an ADS1115.
package power

import (
	"time"

	logger "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"

	"github.com/F33RNI/in17clock/buffer"
	"github.com/F33RNI/in17clock/env"
)

// Sense samples the converter output voltage in Volts.
type Sense interface {
	Volts() (float64, error)
}

// Drive applies a PWM duty fraction in [0, 1).
type Drive interface {
	SetDuty(duty float64) error
}

// Converter runs the feedback loop. Regulate must be called every main
// loop iteration without delays in between; it never blocks and never
// fails, degrading to the last good measurement on a bad sample.
type Converter struct {
	sense Sense
	drive Drive
	pid   *PID

	setpoint int
	started  time.Time

	measured float64
	ramped   float64
	duty     float64
	average  *buffer.Ring
}

func NewConverter(sense Sense, drive Drive) *Converter {
	pid := NewPID(env.PIDPGain, env.PIDIGain, env.PIDDGain, env.PIDMinOut, env.PIDMaxOut)
	pid.SetIntegralLimits(env.PIDMinIntegral, env.PIDMaxIntegral)
	return &Converter{
		sense:   sense,
		drive:   drive,
		pid:     pid,
		average: buffer.NewRing(100),
	}
}

// SetTarget sets the desired steady-state output in Volts. Callers clamp
// to the configured margins; the converter itself does not.
func (c *Converter) SetTarget(volts int) { c.setpoint = volts }

// Target returns the last value passed to SetTarget.
func (c *Converter) Target() int { return c.setpoint }

// Regulate measures the output, advances the soft-start ramp, runs one
// PID step and writes the resulting duty cycle.
func (c *Converter) Regulate(now time.Time) {
	if v, err := c.sense.Volts(); err != nil {
		logger.Debugf("voltage sense failed, keeping %0.1fV: %v", c.measured, err)
	} else {
		c.measured = v
		c.average.Add(v)
	}

	// The ramp origin is captured lazily on the first call so a long gap
	// between construction and first regulation does not truncate it.
	if c.started.IsZero() {
		c.started = now
	}

	elapsed := now.Sub(c.started)
	if elapsed < 0 {
		c.started = now
		elapsed = 0
	}
	if elapsed >= env.ConverterSoftStartTime {
		c.ramped = float64(c.setpoint)
	} else {
		c.ramped = float64(elapsed) / float64(env.ConverterSoftStartTime) * float64(c.setpoint)
	}

	out := c.pid.Calculate(c.measured, c.ramped, float64(now.UnixNano())/1e9)
	c.duty = out / env.ConverterDutyRange
	if err := c.drive.SetDuty(c.duty); err != nil {
		logger.Debugf("duty write failed: %v", err)
	}
}

// Measured returns the last sampled output voltage.
func (c *Converter) Measured() float64 { return c.measured }

// MeasuredAverage returns the rolling average of recent samples, for
// telemetry smoothing only.
func (c *Converter) MeasuredAverage() float64 { return c.average.Average() }

// Ramped returns the current soft-started setpoint.
func (c *Converter) Ramped() float64 { return c.ramped }

// Duty returns the last written duty fraction.
func (c *Converter) Duty() float64 { return c.duty }

// ADCSense reads the feedback divider through an ADS1115 channel and
// scales the sample back to converter output volts.
type ADCSense struct {
	pin   ads1x15.PinADC
	scale float64
}

func NewADCSense(adc *ads1x15.Dev) (*ADCSense, error) {
	pin, err := adc.PinForChannel(ads1x15.Channel0, 2*physic.Volt, 128*physic.Hertz, ads1x15.BestQuality)
	if err != nil {
		return nil, err
	}
	ratio := (env.ConverterRHigh + env.ConverterRLow) / env.ConverterRLow
	return &ADCSense{pin: pin, scale: ratio * env.ConverterSenseTrim}, nil
}

func (s *ADCSense) Volts() (float64, error) {
	sample, err := s.pin.Read()
	if err != nil {
		return 0, err
	}
	return float64(sample.V) / float64(physic.Volt) * s.scale, nil
}

// PWMDrive writes the duty cycle onto the converter's PWM pin at the
// configured switching frequency.
type PWMDrive struct {
	pin gpio.PinOut
}

func NewPWMDrive(pin gpio.PinOut) *PWMDrive {
	return &PWMDrive{pin: pin}
}

func (d *PWMDrive) SetDuty(duty float64) error {
	if duty < 0 {
		duty = 0
	}
	if duty > 1 {
		duty = 1
	}
	return d.pin.PWM(gpio.Duty(duty*float64(gpio.DutyMax)), env.ConverterFrequency)
}
