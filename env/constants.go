package env

import (
	"time"

	"periph.io/x/conn/v3/physic"
)

// Pin names follow the periph.io gpioreg convention.
const (
	GPIO05 = "GPIO05"
	GPIO06 = "GPIO06"
	GPIO12 = "GPIO12"
	GPIO13 = "GPIO13"
	GPIO22 = "GPIO22"
	GPIO23 = "GPIO23"
	GPIO24 = "GPIO24"
	GPIO25 = "GPIO25"
	GPIO27 = "GPIO27"

	ButtonUpPin      = GPIO05
	ButtonDownPin    = GPIO06
	ButtonWeatherPin = GPIO22
	ButtonSetPin     = GPIO23
	AlarmSwitchPin   = GPIO24

	LatchPin   = GPIO25 // HC595 chain latch
	SQWPin     = GPIO27 // DS3231 1Hz square wave output
	BuzzerPin  = GPIO13 // hardware PWM capable
	ConvPWMPin = GPIO12 // hardware PWM capable

	// I2C addresses
	RTCAddress = 0x68
	SHTAddress = 0x44
)

// DC-DC step-up converter
const (
	ConverterFrequency = 40 * physic.KiloHertz

	// Edited with the buttons within these margins (Volts)
	ConverterSetpointMin = 140
	ConverterSetpointMax = 180

	// 0 to setpoint ramp time
	ConverterSoftStartTime = 1000 * time.Millisecond

	// Measured resistances of the feedback divider (Ohms)
	ConverterRHigh = 986000.0
	ConverterRLow  = 4270.0

	// Correction for the real measured ADC reference
	ConverterSenseTrim = 1.0055

	// PID-controller gains
	PIDPGain = 85.0
	PIDIGain = 11.4
	PIDDGain = 0.0

	// Limit PID output to 0% - 50% power
	PIDMinOut = 0.0
	PIDMaxOut = 512.0

	// Limit to prevent integral windup
	PIDMinIntegral = -1000.0
	PIDMaxIntegral = 1000.0

	// PID output maps onto the duty register as out/ConverterDutyRange
	ConverterDutyRange = 1024
)

// Scheduling
const (
	// Single digit show time. 4 digits per cycle must stay well under the
	// ~10ms persistence-of-vision bound.
	MultiplexPeriod = time.Millisecond

	// Main loop iteration period
	LoopPeriod = 2 * time.Millisecond
)

// Digits
const (
	// How long to keep separator ON after a new second
	SeparatorTime = 250 * time.Millisecond

	// How long to show alarm preview after turning the switch ON
	AlarmPreviewTime = 1000 * time.Millisecond

	// Hours and minutes blink with this rate if the alarm is ringing
	AlarmBlinkRate = 100 * time.Millisecond

	// Hours or minutes blink in set mode with this rate
	SetBlinkRate = 250 * time.Millisecond

	// Wave animation step (2s / (10 numbers * 2 cycles))
	WaveStepTime = 100 * time.Millisecond

	// Wave stops after this many steps
	WaveCycles = 21
)

// Buttons
const (
	// Time between increments / decrements
	BtnIncDecDelaySlow = 250 * time.Millisecond
	BtnIncDecDelayFast = 70 * time.Millisecond

	// Transition time from BtnIncDecDelaySlow to BtnIncDecDelayFast
	BtnIncDecDelayTransTime = 2000 * time.Millisecond
)

// Buzzer
const (
	// Base initial PWM value (attack) (velocity)
	BuzzerPWMStart = 50

	// How much the attack velocity can deviate from BuzzerPWMStart (+/-)
	BuzzerPWMDeviation = 40

	// Note decay to 0 time
	DecayTime = 400 * time.Millisecond

	// Tuning frequency (Hz)
	ABase = 440.0

	// Main BPM (length of a 1/4 note)
	AlarmChimeBPM = 90.0

	// Button sounds velocity
	ButtonNotePWM = 10

	// Button sounds (MIDI notes)
	NoteIncrement   = 91
	NoteDecrement   = 88
	NoteTimeMode    = 86
	NoteSetMode     = 81
	NoteWeatherMode = 93
	NoteAlarmOn     = 81
)

// 1/4, 1/8, 1/16, 1/32 (selected randomly)
var NoteDurationDividers = []int{1, 2, 2, 2, 4, 8}

// All chime notes are played randomly. D Minor.
var AlarmChimeNotes = []int{0, 0, 62, 65, 69, 62, 65, 69, 86, 88, 89, 91, 93, 94, 96, 98}

// Common pins (anodes) of the nixies as HC595 chain bits (MSBFIRST, big
// endian, bits look the same as on the board)
var PinsAnodes = [4]uint16{0b0010000000000000, 0b0000100000000000, 0b0000000010000000, 0b0000000000000100}

// Number pins (cathodes) of the nixies
var PinsNumbers = [10]uint16{
	0b0100000000000000, 0b0000000000000001, 0b1000000000000000, 0b0001000000000000,
	0b0000010000000000, 0b0000001000000000, 0b0000000001000000, 0b0000000000001000,
	0b0000000000100000, 0b0000000000000010,
}

// Hours : minutes separator lamp
const PinSeparator uint16 = 0b0000000000010000

// HIGH on an anode pin means the nixie is OFF
const AnodesInverted = true

// Cathodes and separator are driven active-high on this board
const (
	NumbersInverted   = false
	SeparatorInverted = false
)

// Numbers from bottom to the top of the tube (for the wave effect)
var PositionToNumber = [10]uint8{1, 7, 2, 8, 0, 6, 3, 9, 4, 5}
var NumberToPosition = [10]uint8{4, 0, 2, 6, 8, 9, 5, 1, 3, 7}
