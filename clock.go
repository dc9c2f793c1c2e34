package main

import (
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/F33RNI/in17clock/buttons"
	"github.com/F33RNI/in17clock/digits"
	"github.com/F33RNI/in17clock/env"
	"github.com/F33RNI/in17clock/settings"
)

// Mode is the current front-panel mode.
type Mode uint8

const (
	ModeClock Mode = iota
	ModeVoltageEdit
	ModeSetHours
	ModeSetMinutes
	ModeWeather
)

func (m Mode) String() string {
	switch m {
	case ModeClock:
		return "clock"
	case ModeVoltageEdit:
		return "voltage"
	case ModeSetHours:
		return "set-hours"
	case ModeSetMinutes:
		return "set-minutes"
	case ModeWeather:
		return "weather"
	}
	return "unknown"
}

// Collaborator surfaces, narrowed to what the state machine touches so
// tests can run it against fakes.

type inputs interface {
	IsPressed(buttons.Line) bool
}

type display interface {
	SetDigits([4]uint8)
	SetSeparator(bool)
}

type timekeeper interface {
	Read()
	Set(hours, minutes, seconds int)
	Hours() int
	Minutes() int
	Seconds() int
	Interrupt() bool
	ClearInterrupt()
}

type weatherSensor interface {
	Read()
	Temperature() float64
	Humidity() float64
}

type tonePlayer interface {
	PlayNote(note, velocity int)
	PlayChime()
	Decay()
}

type supply interface {
	SetTarget(volts int)
	Target() int
	Regulate(now time.Time)
}

// nixieclock owns the mode state machine and every timer behind it. One
// step() per main loop iteration; nothing here blocks.
type nixieclock struct {
	buttons inputs
	digits  display
	rtc     timekeeper
	weather weatherSensor
	buzzer  tonePlayer
	power   supply
	store   settings.Store
	now     func() time.Time

	mode Mode

	separatorAt time.Time // zero while the separator is idle
	blinkAt     time.Time
	waveAt      time.Time
	btnAt       time.Time
	incDecAt    time.Time
	previewAt   time.Time // zero while no alarm preview is running

	setHours   int
	setMinutes int

	alarmHours    int
	alarmMinutes  int
	disabledHours int // suppressed minute after a manual silence, -1 = none
	disabledMins  int

	wavePositions [4]uint8
	waveCounter   int
	incDecDelay   time.Duration

	blinkState  bool
	setLast     bool
	waveStarted bool
	alarmActive bool
	clockDirty  bool
	alarmDirty  bool
}

func newNixieclock(in inputs, out display, rtc timekeeper, weather weatherSensor,
	buzzer tonePlayer, power supply, store settings.Store) *nixieclock {
	c := &nixieclock{
		buttons:       in,
		digits:        out,
		rtc:           rtc,
		weather:       weather,
		buzzer:        buzzer,
		power:         power,
		store:         store,
		now:           time.Now,
		disabledHours: -1,
		disabledMins:  -1,
		incDecDelay:   env.BtnIncDecDelaySlow,
	}
	c.restoreSettings()

	// Initiate the wave at startup
	c.rtc.Read()
	c.startWave()
	return c
}

// restoreSettings pulls the persisted configuration, substituting and
// writing back safe defaults for anything out of domain.
func (c *nixieclock) restoreSettings() {
	voltage := int(c.store.Read(settings.AddrVoltage))
	if voltage > env.ConverterSetpointMax || voltage < env.ConverterSetpointMin {
		voltage = (env.ConverterSetpointMax + env.ConverterSetpointMin) / 2
		c.store.Write(settings.AddrVoltage, byte(voltage))
	}
	c.power.SetTarget(voltage)

	c.alarmHours = int(c.store.Read(settings.AddrAlarmHours))
	if c.alarmHours > 23 {
		c.alarmHours = 0
		c.store.Write(settings.AddrAlarmHours, 0)
	}
	c.alarmMinutes = int(c.store.Read(settings.AddrAlarmMinutes))
	if c.alarmMinutes > 59 {
		c.alarmMinutes = 0
		c.store.Write(settings.AddrAlarmMinutes, 0)
	}

	// A ringing alarm survives a restart; anything but an exact flag
	// boots silent.
	c.alarmActive = c.store.Read(settings.AddrAlarmActive) == 1

	logger.Infof("Restored settings: %dV, alarm %02d:%02d (active=%v)",
		voltage, c.alarmHours, c.alarmMinutes, c.alarmActive)
}

// step runs one cooperative iteration: converter first, then sensors,
// then the mode logic that publishes the digit frame, then tone decay.
func (c *nixieclock) step() {
	now := c.now()
	c.power.Regulate(now)
	c.weather.Read()

	// Consume the 1Hz RTC tick exactly once
	tick := false
	if c.rtc.Interrupt() {
		tick = true
		c.rtc.ClearInterrupt()
		c.rtc.Read()
	}

	switch c.mode {
	case ModeClock:
		c.alarmService()
		c.modeClock(tick)
	case ModeVoltageEdit:
		c.modeVoltage()
	case ModeSetHours, ModeSetMinutes:
		c.modeSet(tick)
	case ModeWeather:
		c.modeWeather()
	}

	c.buzzer.Decay()
}

// modeClock shows hours : minutes, runs the wave animation and the
// alarm blink/preview overlays.
func (c *nixieclock) modeClock(tick bool) {
	now := c.now()

	if c.waveStarted {
		if c.waveAt.After(now) {
			c.waveAt = now
		}
		if now.Sub(c.waveAt) >= env.WaveStepTime {
			c.waveAt = now
			for i := range c.wavePositions {
				if c.wavePositions[i] == 9 {
					c.wavePositions[i] = 0
				} else {
					c.wavePositions[i]++
				}
			}
			c.digits.SetDigits([4]uint8{
				env.PositionToNumber[c.wavePositions[0]],
				env.PositionToNumber[c.wavePositions[1]],
				env.PositionToNumber[c.wavePositions[2]],
				env.PositionToNumber[c.wavePositions[3]],
			})
			c.waveCounter++

			if c.waveCounter == env.WaveCycles {
				c.waveStarted = false
				c.showTime()
			}
		}
	}

	// Blink the time while the alarm is ringing
	if c.alarmActive {
		if c.blinkAt.After(now) {
			c.blinkAt = now
		}
		if now.Sub(c.blinkAt) >= env.AlarmBlinkRate {
			c.blinkAt = now
			c.blinkState = !c.blinkState
		}
		if c.blinkState {
			c.showTime()
		} else {
			c.digits.SetDigits([4]uint8{digits.Blank, digits.Blank, digits.Blank, digits.Blank})
		}
	} else if !c.previewAt.IsZero() && now.Sub(c.previewAt) <= env.AlarmPreviewTime {
		// Briefly show the alarm setpoint
		c.digits.SetDigits(pairDigits(c.alarmHours, c.alarmMinutes))
	}

	// New second
	if tick {
		if !c.alarmActive && !c.waveStarted && !c.previewRunning(now) {
			c.showTime()
		}

		c.digits.SetSeparator(true)
		c.separatorAt = now

		// Start the wave 2 seconds before a new minute
		if c.rtc.Seconds() == 58 && !c.waveStarted {
			c.startWave()
		}
	}

	if !c.separatorAt.IsZero() && now.Sub(c.separatorAt) >= env.SeparatorTime {
		c.digits.SetSeparator(false)
		c.separatorAt = time.Time{}
	}

	// Set button pressed edge -> enter set mode
	if c.buttons.IsPressed(buttons.Set) {
		if !c.setLast {
			c.mode = ModeSetHours
			c.setLast = true
			c.clockDirty = false
			c.alarmDirty = false
			if !c.buttons.IsPressed(buttons.Alarm) {
				c.setHours = c.rtc.Hours()
				c.setMinutes = c.rtc.Minutes()
			}
			c.buzzer.PlayNote(env.NoteSetMode, env.ButtonNotePWM)
		}
	} else {
		c.setLast = false
	}

	// Up / down -> voltage select mode, reset the accelerator
	if c.buttons.IsPressed(buttons.Down) || c.buttons.IsPressed(buttons.Up) {
		c.mode = ModeVoltageEdit
		c.btnAt = now
		c.incDecAt = now
		c.incDecDelay = env.BtnIncDecDelaySlow
	} else if c.buttons.IsPressed(buttons.Weather) {
		c.mode = ModeWeather
		c.buzzer.PlayNote(env.NoteWeatherMode, env.BuzzerPWMStart)
	}
}

// modeVoltage shows the supply setpoint in Volts and lets the buttons
// edit it.
func (c *nixieclock) modeVoltage() {
	v := c.power.Target()
	c.digits.SetDigits([4]uint8{digits.Blank, uint8(v / 100), uint8(v / 10 % 10), uint8(v % 10)})
	c.digits.SetSeparator(false)

	// Back to clock once no more buttons are held
	if !c.incDec() {
		c.returnToMain()
	}
}

// modeSet edits the clock time, or the alarm time while the alarm
// switch is held. The field not being edited blinks.
func (c *nixieclock) modeSet(tick bool) {
	now := c.now()
	if c.blinkAt.After(now) {
		c.blinkAt = now
	}
	if now.Sub(c.blinkAt) >= env.SetBlinkRate {
		c.blinkAt = now
		c.blinkState = !c.blinkState
	}

	editingAlarm := c.buttons.IsPressed(buttons.Alarm)
	hours, minutes := c.setHours, c.setMinutes
	if editingAlarm {
		hours, minutes = c.alarmHours, c.alarmMinutes
	}

	hoursShown := c.blinkState || c.mode == ModeSetHours
	minutesShown := c.blinkState || c.mode == ModeSetMinutes
	frame := pairDigits(hours, minutes)
	if !hoursShown {
		frame[0], frame[1] = digits.Blank, digits.Blank
	}
	if !minutesShown {
		frame[2], frame[3] = digits.Blank, digits.Blank
	}
	c.digits.SetDigits(frame)
	c.digits.SetSeparator(editingAlarm)

	// Keep the idle editor in sync with real elapsed time
	if !c.incDec() && tick {
		c.setHours = c.rtc.Hours()
		c.setMinutes = c.rtc.Minutes()
	}

	// Set button pressed edge -> edit minutes, then commit and leave
	if c.buttons.IsPressed(buttons.Set) {
		if !c.setLast {
			c.setLast = true
			if c.mode == ModeSetHours {
				c.mode = ModeSetMinutes
				c.buzzer.PlayNote(env.NoteSetMode, env.ButtonNotePWM)
			} else {
				c.commitEdit()
				c.returnToMain()
			}
		}
	} else {
		c.setLast = false
	}
}

// modeWeather shows temperature : humidity, both clamped to 0-99. The
// temperature's sign is discarded.
func (c *nixieclock) modeWeather() {
	temperature := int(c.weather.Temperature())
	if temperature < 0 {
		temperature = -temperature
	}
	if temperature > 99 {
		temperature = 99
	}
	humidity := int(c.weather.Humidity())
	if humidity < 0 {
		humidity = 0
	}
	if humidity > 99 {
		humidity = 99
	}

	c.digits.SetDigits(pairDigits(temperature, humidity))
	c.digits.SetSeparator(true)

	if !c.buttons.IsPressed(buttons.Weather) {
		c.returnToMain()
	}
}

// incDec fires the accelerating repeat while either button is held and
// reports whether one was. The repeat interval narrows linearly from the
// slow to the fast constant over the transition time of continuous hold.
func (c *nixieclock) incDec() bool {
	now := c.now()
	if c.buttons.IsPressed(buttons.Down) || c.buttons.IsPressed(buttons.Up) {
		if c.btnAt.After(now) {
			c.btnAt = now
		}
		if now.Sub(c.btnAt) >= c.incDecDelay {
			c.btnAt = now
			held := now.Sub(c.incDecAt)
			if held <= env.BtnIncDecDelayTransTime {
				c.incDecDelay = mapDuration(held, env.BtnIncDecDelayTransTime,
					env.BtnIncDecDelaySlow, env.BtnIncDecDelayFast)
			} else {
				c.incDecDelay = env.BtnIncDecDelayFast
			}

			if c.buttons.IsPressed(buttons.Down) {
				c.decrement()
			} else {
				c.increment()
			}
		}
		return true
	}

	// Nothing held: restart the transition
	c.incDecAt = now
	c.incDecDelay = env.BtnIncDecDelaySlow
	return false
}

func (c *nixieclock) increment() {
	switch {
	case c.mode == ModeVoltageEdit:
		if c.power.Target() < env.ConverterSetpointMax {
			c.power.SetTarget(c.power.Target() + 1)
			c.store.Write(settings.AddrVoltage, byte(c.power.Target()))
		}
		c.buzzer.PlayNote(env.NoteIncrement, env.ButtonNotePWM)

	case c.mode == ModeSetHours || c.mode == ModeSetMinutes:
		if c.buttons.IsPressed(buttons.Alarm) {
			if c.mode == ModeSetHours && c.alarmHours < 23 {
				c.alarmHours++
			}
			if c.mode == ModeSetMinutes && c.alarmMinutes < 59 {
				c.alarmMinutes++
			}
			c.alarmDirty = true
			c.clearSuppression()
			c.store.Write(settings.AddrAlarmHours, byte(c.alarmHours))
			c.store.Write(settings.AddrAlarmMinutes, byte(c.alarmMinutes))
		} else {
			if c.mode == ModeSetHours && c.setHours < 23 {
				c.setHours++
			}
			if c.mode == ModeSetMinutes && c.setMinutes < 59 {
				c.setMinutes++
			}
			c.clockDirty = true
			c.rtc.Set(c.setHours, c.setMinutes, 0)
		}
		c.buzzer.PlayNote(env.NoteIncrement, env.ButtonNotePWM)
	}
}

func (c *nixieclock) decrement() {
	switch {
	case c.mode == ModeVoltageEdit:
		if c.power.Target() > env.ConverterSetpointMin {
			c.power.SetTarget(c.power.Target() - 1)
			c.store.Write(settings.AddrVoltage, byte(c.power.Target()))
		}
		c.buzzer.PlayNote(env.NoteDecrement, env.ButtonNotePWM)

	case c.mode == ModeSetHours || c.mode == ModeSetMinutes:
		if c.buttons.IsPressed(buttons.Alarm) {
			if c.mode == ModeSetHours && c.alarmHours > 0 {
				c.alarmHours--
			}
			if c.mode == ModeSetMinutes && c.alarmMinutes > 0 {
				c.alarmMinutes--
			}
			c.alarmDirty = true
			c.clearSuppression()
			c.store.Write(settings.AddrAlarmHours, byte(c.alarmHours))
			c.store.Write(settings.AddrAlarmMinutes, byte(c.alarmMinutes))
		} else {
			if c.mode == ModeSetHours && c.setHours > 0 {
				c.setHours--
			}
			if c.mode == ModeSetMinutes && c.setMinutes > 0 {
				c.setMinutes--
			}
			c.clockDirty = true
			c.rtc.Set(c.setHours, c.setMinutes, 0)
		}
		c.buzzer.PlayNote(env.NoteDecrement, env.ButtonNotePWM)
	}
}

// commitEdit writes the edited buffers out when the editor is closed.
// Each target commits only if it was actually edited, so toggling the
// alarm switch mid-session never writes the other target's untouched
// buffer.
func (c *nixieclock) commitEdit() {
	if c.alarmDirty {
		c.alarmDirty = false
		c.store.Write(settings.AddrAlarmHours, byte(c.alarmHours))
		c.store.Write(settings.AddrAlarmMinutes, byte(c.alarmMinutes))
		logger.Infof("Alarm set to %02d:%02d", c.alarmHours, c.alarmMinutes)
	}
	if c.clockDirty {
		c.clockDirty = false
		c.rtc.Set(c.setHours, c.setMinutes, 0)
		logger.Infof("Clock set to %02d:%02d", c.setHours, c.setMinutes)
	}
}

// returnToMain switches back to the clock mode.
func (c *nixieclock) returnToMain() {
	c.mode = ModeClock
	c.showTime()
	c.digits.SetSeparator(false)
	c.rtc.ClearInterrupt()
	c.buzzer.PlayNote(env.NoteTimeMode, env.ButtonNotePWM)
}

// startWave seeds the wave animation from the physical tube positions of
// the current time so the sweep ends where the real digits are.
func (c *nixieclock) startWave() {
	c.waveStarted = true
	c.waveCounter = 0
	hours, minutes := c.rtc.Hours(), c.rtc.Minutes()
	c.wavePositions[0] = env.NumberToPosition[hours/10]
	c.wavePositions[1] = env.NumberToPosition[hours%10]
	c.wavePositions[2] = env.NumberToPosition[minutes/10]
	c.wavePositions[3] = env.NumberToPosition[minutes%10]
}

func (c *nixieclock) showTime() {
	c.digits.SetDigits(pairDigits(c.rtc.Hours(), c.rtc.Minutes()))
}

func (c *nixieclock) previewRunning(now time.Time) bool {
	return !c.previewAt.IsZero() && now.Sub(c.previewAt) <= env.AlarmPreviewTime
}

func pairDigits(left, right int) [4]uint8 {
	return [4]uint8{uint8(left / 10), uint8(left % 10), uint8(right / 10), uint8(right % 10)}
}

// mapDuration interpolates linearly from `from` at 0 to `to` at `span`.
func mapDuration(v, span, from, to time.Duration) time.Duration {
	if v <= 0 {
		return from
	}
	if v >= span {
		return to
	}
	return from + time.Duration(int64(v)*int64(to-from)/int64(span))
}
