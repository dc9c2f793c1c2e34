// Package buzzer plays short confirmation notes and the random alarm
// chime on a PWM-driven piezo.
package buzzer

import (
	"math"
	"math/rand"
	"time"

	logger "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/F33RNI/in17clock/env"
)

// PWM is the drive surface the buzzer needs. Satisfied by gpio.PinOut.
type PWM interface {
	PWM(gpio.Duty, physic.Frequency) error
}

type Buzzer struct {
	pin PWM
	rng *rand.Rand
	now func() time.Time

	frequency physic.Frequency
	noteLast  int
	attack    int

	decayAt time.Time

	chimeAt           time.Time
	chimeNoteDuration time.Duration
	noteCounter       int
	durationDivider   int
}

func New(pin PWM, rng *rand.Rand) *Buzzer {
	b := &Buzzer{pin: pin, rng: rng, now: time.Now, frequency: physic.KiloHertz}
	b.setDuty(0)
	return b
}

// NoteFrequency converts a MIDI note number to Hz (69 = 440Hz).
func NoteFrequency(note int) float64 {
	return (env.ABase / 32) * math.Pow(2, float64(note-9)/12)
}

// PlayNote starts a note at the given attack velocity (0-255) and resets
// the decay timer. Note 0 is silence.
func (b *Buzzer) PlayNote(note, velocity int) {
	if note != b.noteLast {
		if note != 0 {
			b.frequency = physic.Frequency(NoteFrequency(note) * float64(physic.Hertz))
		}
		b.noteLast = note
	}
	if note == 0 {
		velocity = 0
	}
	b.attack = velocity
	b.setDuty(velocity)
	b.decayAt = b.now()
}

// PlayChime plays the alarm melody: random notes of the configured scale
// at random velocities and durations, paced by the chime BPM. Call every
// iteration while the alarm is active; it rate-limits itself.
func (b *Buzzer) PlayChime() {
	now := b.now()
	if b.chimeAt.After(now) {
		b.chimeAt = now
	}

	if b.chimeAt.IsZero() || now.Sub(b.chimeAt) >= b.chimeNoteDuration {
		b.chimeAt = now

		velocity := env.BuzzerPWMStart + b.rng.Intn(2*env.BuzzerPWMDeviation+1) - env.BuzzerPWMDeviation
		b.PlayNote(env.AlarmChimeNotes[b.rng.Intn(len(env.AlarmChimeNotes))], velocity)

		b.noteCounter++
		if b.noteCounter > b.durationDivider {
			b.durationDivider = env.NoteDurationDividers[b.rng.Intn(len(env.NoteDurationDividers))]
			quarter := 60000.0 / env.AlarmChimeBPM
			b.chimeNoteDuration = time.Duration(quarter/float64(b.durationDivider)) * time.Millisecond
			b.noteCounter = 0
		}
	}
}

// Decay fades the most recent note's level linearly to zero over the
// decay time. Call every main loop iteration.
func (b *Buzzer) Decay() {
	now := b.now()
	if b.decayAt.After(now) {
		b.decayAt = now
	}

	if b.decayAt.IsZero() {
		return
	}
	elapsed := now.Sub(b.decayAt)
	if elapsed >= env.DecayTime {
		b.decayAt = time.Time{}
		b.setDuty(0)
		return
	}
	remaining := float64(env.DecayTime-elapsed) / float64(env.DecayTime)
	b.setDuty(int(float64(b.attack) * remaining))
}

func (b *Buzzer) setDuty(velocity int) {
	duty := gpio.Duty(int64(velocity) * int64(gpio.DutyMax) / 255)
	if err := b.pin.PWM(duty, b.frequency); err != nil {
		logger.Debugf("buzzer PWM failed: %v", err)
	}
}
