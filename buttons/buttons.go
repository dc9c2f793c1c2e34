// Package buttons debounces the front-panel buttons and the alarm switch.
// Raw samples arrive asynchronously from per-pin edge monitors; the
// debounced state is read by the main loop.
package buttons

import (
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
)

// Line identifies one monitored input.
type Line uint8

const (
	Up Line = iota
	Down
	Weather
	Set
	Alarm

	numLines
)

func (l Line) String() string {
	switch l {
	case Up:
		return "up"
	case Down:
		return "down"
	case Weather:
		return "weather"
	case Set:
		return "set"
	case Alarm:
		return "alarm"
	}
	return "unknown"
}

// debounceWindow is the shift register width: a raw change is trusted only
// after this many consecutive identical samples.
const debounceWindow = 16

// samplePeriod bounds how long an edge monitor waits before taking another
// sample when no edge arrives, so held buttons keep feeding the registers.
const samplePeriod = time.Millisecond

// Buttons holds one 16-sample shift register and latch per line. All
// inputs are wired active-low (pullup, button shorts to ground), the
// inversion happens when the raw level is sampled.
type Buttons struct {
	mu      sync.Mutex
	state   [numLines]uint16
	latched [numLines]bool
}

func New() *Buttons {
	return &Buttons{}
}

// Poll shifts one raw electrical level into a line's register. The latch
// only flips once the register saturates: any register content with mixed
// bits leaves the previous value unchanged.
func (b *Buttons) Poll(line Line, level bool) {
	pressed := !level // active-low

	b.mu.Lock()
	defer b.mu.Unlock()
	b.state[line] <<= 1
	if pressed {
		b.state[line] |= 1
	}
	switch b.state[line] {
	case 0xFFFF:
		b.latched[line] = true
	case 0x0000:
		b.latched[line] = false
	}
}

// PollAll force-samples every line. Called once at startup so the first
// IsPressed calls reflect real hardware state rather than the registers'
// zero default; the register is saturated with the observed level.
func (b *Buttons) PollAll(read func(Line) bool) {
	for line := Line(0); line < numLines; line++ {
		for i := 0; i < debounceWindow; i++ {
			b.Poll(line, read(line))
		}
	}
}

// IsPressed returns the debounced, polarity-corrected state of a line.
func (b *Buttons) IsPressed(line Line) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latched[line]
}

// Watch monitors one pin and feeds its samples into Poll. Edges wake the
// monitor immediately; otherwise it samples at the steady rate, so the
// debounce window is one millisecond per register bit.
func (b *Buttons) Watch(line Line, pin gpio.PinIn) {
	logger.Infof("Watching %v button on %s", line, pin)
	go func() {
		for {
			pin.WaitForEdge(samplePeriod)
			b.Poll(line, pin.Read() == gpio.High)
		}
	}()
}
