// Package digits time-multiplexes the four nixie tubes and the separator
// lamp through two chained HC595 shift registers on the SPI bus.
package digits

import (
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"

	"github.com/F33RNI/in17clock/env"
)

// Blank is the digit value that keeps a tube dark (no cathode selected,
// anode still strobed so the cycle timing stays uniform).
const Blank uint8 = 255

// Frame is what the four tubes and the separator should show. Published
// by the main loop, consumed one position per tick by the scheduler.
type Frame struct {
	Digits    [4]uint8
	Separator bool
}

// timeFrame builds the usual HH:MM frame.
func timeFrame(hours, minutes int, separator bool) Frame {
	return Frame{
		Digits:    [4]uint8{uint8(hours / 10), uint8(hours % 10), uint8(minutes / 10), uint8(minutes % 10)},
		Separator: separator,
	}
}

// BlankFrame keeps every tube dark.
func BlankFrame() Frame {
	return Frame{Digits: [4]uint8{Blank, Blank, Blank, Blank}}
}

// Polarity describes the drive polarity of each output group.
type Polarity struct {
	AnodesActiveLow    bool
	CathodesActiveLow  bool
	SeparatorActiveLow bool
}

// BoardPolarity is the polarity of the reference board.
func BoardPolarity() Polarity {
	return Polarity{
		AnodesActiveLow:    env.AnodesInverted,
		CathodesActiveLow:  env.NumbersInverted,
		SeparatorActiveLow: env.SeparatorInverted,
	}
}

// ComputeMask builds the 16-bit shift register pattern for one tick:
// anode select for the position, cathode select for the digit (none if
// the digit is blank), plus the separator bit. Polarity inversion is
// applied per group; for the separator, ON always means bit set after
// the inversion.
func ComputeMask(position int, digit uint8, separator bool, pol Polarity) uint16 {
	var mask uint16

	if pol.AnodesActiveLow {
		for _, a := range env.PinsAnodes {
			mask |= a
		}
		if position >= 0 && position < len(env.PinsAnodes) {
			mask &^= env.PinsAnodes[position]
		}
	} else if position >= 0 && position < len(env.PinsAnodes) {
		mask |= env.PinsAnodes[position]
	}

	if pol.CathodesActiveLow {
		for _, n := range env.PinsNumbers {
			mask |= n
		}
		if int(digit) < len(env.PinsNumbers) {
			mask &^= env.PinsNumbers[digit]
		}
	} else if int(digit) < len(env.PinsNumbers) {
		mask |= env.PinsNumbers[digit]
	}

	on := separator != pol.SeparatorActiveLow
	if on {
		mask |= env.PinSeparator
	} else {
		mask &^= env.PinSeparator
	}

	return mask
}

// Bus is the byte transport to the shift registers. Satisfied by
// periph.io spi.Conn.
type Bus interface {
	Tx(w, r []byte) error
}

// Display renders published frames, one digit per tick.
type Display struct {
	bus   Bus
	latch gpio.PinOut
	pol   Polarity

	mu    sync.Mutex
	frame Frame

	position int
}

func New(bus Bus, latch gpio.PinOut, pol Polarity) *Display {
	d := &Display{bus: bus, latch: latch, pol: pol, frame: BlankFrame()}
	// Everything dark until the first frame arrives
	for i := 0; i < len(d.frame.Digits); i++ {
		d.Tick()
	}
	return d
}

// SetFrame publishes a new frame. The assignment is the only critical
// section shared with the ticker, so a tick observes either the old or
// the new frame in full.
func (d *Display) SetFrame(f Frame) {
	d.mu.Lock()
	d.frame = f
	d.mu.Unlock()
}

// SetDigits replaces the digit values, leaving the separator line alone.
func (d *Display) SetDigits(values [4]uint8) {
	d.mu.Lock()
	d.frame.Digits = values
	d.mu.Unlock()
}

// SetSeparator updates only the separator line of the current frame.
func (d *Display) SetSeparator(on bool) {
	d.mu.Lock()
	d.frame.Separator = on
	d.mu.Unlock()
}

// Frame returns the currently published frame.
func (d *Display) Frame() Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frame
}

// Tick renders exactly one position and advances the 0..3 counter.
func (d *Display) Tick() {
	d.mu.Lock()
	f := d.frame
	d.mu.Unlock()

	d.write(d.position, f.Digits[d.position], f.Separator)
	d.position++
	if d.position == len(f.Digits) {
		d.position = 0
	}
}

// Run drives Tick at the multiplex rate until stop is closed.
func (d *Display) Run(stop <-chan struct{}) {
	logger.Infof("Starting digit multiplexing every %v", env.MultiplexPeriod)
	ticker := time.NewTicker(env.MultiplexPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.Tick()
		case <-stop:
			blank := BlankFrame()
			d.SetFrame(blank)
			for range blank.Digits {
				d.Tick()
			}
			return
		}
	}
}

// write transfers the mask as two bytes inside a latch-low/latch-high
// bracket so no intermediate bit pattern ever reaches the output lines.
func (d *Display) write(position int, digit uint8, separator bool) {
	mask := ComputeMask(position, digit, separator, d.pol)

	if err := d.latch.Out(gpio.Low); err != nil {
		logger.Debugf("latch low failed: %v", err)
		return
	}
	if err := d.bus.Tx([]byte{byte(mask & 0xFF), byte(mask >> 8)}, nil); err != nil {
		logger.Debugf("shift register write failed: %v", err)
	}
	if err := d.latch.Out(gpio.High); err != nil {
		logger.Debugf("latch high failed: %v", err)
	}
}
