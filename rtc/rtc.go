// Package rtc drives the DS3231 real-time clock: cached time registers
// over I2C plus the 1Hz square-wave tick latched from its SQW pin.
package rtc

import (
	"sync"
	"sync/atomic"

	logger "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
)

const (
	registerTime    = 0x00
	registerControl = 0x0E
)

type RTC struct {
	dev i2c.Dev

	mu      sync.Mutex
	hours   byte // raw BCD
	minutes byte
	seconds byte

	tick atomic.Bool
}

// New configures the control register for 1Hz SQW output.
func New(bus i2c.Bus, addr uint16) (*RTC, error) {
	r := &RTC{dev: i2c.Dev{Bus: bus, Addr: addr}}
	// Enable 1Hz SQW output (see "SQUARE-WAVE OUTPUT FREQUENCY" in the
	// DS3231 datasheet)
	if err := r.dev.Tx([]byte{registerControl, 0x00}, nil); err != nil {
		return nil, err
	}
	return r, nil
}

// Read refreshes the cached hours/minutes/seconds. A bus error keeps the
// previous cache; the next scheduled read retries.
func (r *RTC) Read() {
	var buf [3]byte
	if err := r.dev.Tx([]byte{registerTime}, buf[:]); err != nil {
		logger.Debugf("RTC read failed, keeping cached time: %v", err)
		return
	}
	r.mu.Lock()
	r.seconds = buf[0]
	r.minutes = buf[1]
	r.hours = buf[2]
	r.mu.Unlock()
}

// Set writes a new time (24-hour format) and resets the date registers.
func (r *RTC) Set(hours, minutes, seconds int) {
	err := r.dev.Tx([]byte{
		registerTime,
		decToBCD(seconds),
		decToBCD(minutes),
		decToBCD(hours),
		0x00, 0x00, 0x00, 0x00, // DOW, DOM, month, year
	}, nil)
	if err != nil {
		logger.Errorf("RTC set failed: %v", err)
	}
}

// Hours returns the cached hours (24-hour format). Call Read first.
func (r *RTC) Hours() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return bcdToDec(r.hours & 0x3F)
}

// Minutes returns the cached minutes.
func (r *RTC) Minutes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return bcdToDec(r.minutes & 0x7F)
}

// Seconds returns the cached seconds.
func (r *RTC) Seconds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return bcdToDec(r.seconds & 0x7F)
}

// WatchSQW latches the tick flag from falling edges on the SQW pin.
func (r *RTC) WatchSQW(pin gpio.PinIn) {
	logger.Infof("Watching RTC SQW on %s", pin)
	go func() {
		for {
			if !pin.WaitForEdge(-1) {
				continue
			}
			if pin.Read() == gpio.Low {
				r.tick.Store(true)
			}
		}
	}()
}

// Interrupt reports whether a 1Hz tick has arrived since the last
// ClearInterrupt.
func (r *RTC) Interrupt() bool { return r.tick.Load() }

// ClearInterrupt consumes the tick flag. A tick arriving between
// Interrupt and ClearInterrupt is not lost: the swap only clears a flag
// that was observed set.
func (r *RTC) ClearInterrupt() { r.tick.CompareAndSwap(true, false) }

func bcdToDec(bcd byte) int { return int(bcd&0x0F) + 10*int((bcd&0xF0)>>4) }

func decToBCD(dec int) byte { return byte((dec%10)&0x0F) | byte(((dec/10)<<4)&0xF0) }
