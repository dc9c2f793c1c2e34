// Package sht3x reads the SHT31 temperature and humidity sensor. Reads
// are non-blocking and internally rate-limited: one call issues the
// single-shot measurement command, a later call fetches the result once
// the conversion has had time to finish.
package sht3x

import (
	"math"
	"time"

	logger "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
)

const (
	// Single shot, high repeatability, no clock stretching
	measureCmd0 = 0x24
	measureCmd1 = 0x00

	crcPolynomial = 0x31

	// Minimum time between measurement requests
	readInterval = 20 * time.Millisecond

	// High repeatability conversion time
	conversionTime = 16 * time.Millisecond

	// Low-pass filter coefficient
	filterK = 0.994
)

type Sensor struct {
	dev i2c.Dev
	now func() time.Time

	readTimer time.Time
	pending   bool

	temperatureLast     float64
	temperatureFiltered float64
	humidityLast        float64
	humidityFiltered    float64
}

func New(bus i2c.Bus, addr uint16) *Sensor {
	return &Sensor{
		dev: i2c.Dev{Bus: bus, Addr: addr},
		now: time.Now,
		// Sentinels make the first good reading seed the filter
		temperatureLast:     math.Inf(1),
		temperatureFiltered: math.Inf(1),
		humidityLast:        math.Inf(1),
		humidityFiltered:    math.Inf(1),
	}
}

// Read advances the measurement cycle. Must be called from the main loop
// without delays; it rate-limits itself and never blocks on the sensor.
func (s *Sensor) Read() {
	now := s.now()
	if s.readTimer.IsZero() || s.readTimer.After(now) {
		s.readTimer = now.Add(-readInterval)
	}

	if !s.pending {
		if now.Sub(s.readTimer) < readInterval {
			return
		}
		s.readTimer = now
		if err := s.dev.Tx([]byte{measureCmd0, measureCmd1}, nil); err != nil {
			logger.Debugf("SHT31 measure request failed: %v", err)
			return
		}
		s.pending = true
		return
	}

	if now.Sub(s.readTimer) < conversionTime {
		return
	}
	s.pending = false

	var buf [6]byte
	if err := s.dev.Tx(nil, buf[:]); err != nil {
		logger.Debugf("SHT31 fetch failed: %v", err)
		return
	}

	// Checksum mismatch discards the read, the previous value stands
	if crc8(buf[0], buf[1]) != buf[2] || crc8(buf[3], buf[4]) != buf[5] {
		logger.Debug("SHT31 checksum mismatch, sample discarded")
		return
	}

	tempRaw := int32(uint32(buf[0])<<8 | uint32(buf[1]))
	tempRaw = ((4375 * tempRaw) >> 14) - 4500
	s.temperatureFiltered, s.temperatureLast = filter(s.temperatureFiltered, s.temperatureLast, float64(tempRaw)/100)

	humidRaw := uint32(buf[3])<<8 | uint32(buf[4])
	humidRaw = (625 * humidRaw) >> 12
	s.humidityFiltered, s.humidityLast = filter(s.humidityFiltered, s.humidityLast, float64(humidRaw)/100)
}

// Temperature returns the filtered temperature in degrees Celsius.
func (s *Sensor) Temperature() float64 {
	if math.IsInf(s.temperatureFiltered, 1) {
		return 0
	}
	return s.temperatureFiltered
}

// Humidity returns the filtered relative humidity in percent.
func (s *Sensor) Humidity() float64 {
	if math.IsInf(s.humidityFiltered, 1) {
		return 0
	}
	return s.humidityFiltered
}

// filter applies the two-tap low-pass used by the original board: the new
// and previous samples share the pass-through weight.
func filter(filtered, last, sample float64) (float64, float64) {
	if math.IsInf(last, 1) {
		last = sample
	}
	if math.IsInf(filtered, 1) {
		filtered = sample
	} else {
		filtered = filtered*filterK + sample*(1-filterK)/2 + last*(1-filterK)/2
	}
	return filtered, sample
}

// crc8 covers one two-byte word, per "4.12 Checksum Calculation" in the
// SHT3x datasheet.
func crc8(byte1, byte2 byte) byte {
	crc := byte(0xFF)
	for _, b := range []byte{byte1, byte2} {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
