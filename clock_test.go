package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/F33RNI/in17clock/buttons"
	"github.com/F33RNI/in17clock/digits"
	"github.com/F33RNI/in17clock/env"
	"github.com/F33RNI/in17clock/settings"
)

type fakePanel struct {
	pressed map[buttons.Line]bool
}

func (f *fakePanel) IsPressed(line buttons.Line) bool { return f.pressed[line] }

type fakeDisplay struct {
	digits    [4]uint8
	separator bool
}

func (f *fakeDisplay) SetDigits(values [4]uint8) { f.digits = values }

func (f *fakeDisplay) SetSeparator(on bool) { f.separator = on }

type fakeRTC struct {
	hours, minutes, seconds int
	tick                    bool

	setCalls                            int
	lastHours, lastMinutes, lastSeconds int
}

func (f *fakeRTC) Read() {}
func (f *fakeRTC) Set(hours, minutes, seconds int) {
	f.setCalls++
	f.lastHours, f.lastMinutes, f.lastSeconds = hours, minutes, seconds
	f.hours, f.minutes, f.seconds = hours, minutes, seconds
}
func (f *fakeRTC) Hours() int { return f.hours }

func (f *fakeRTC) Minutes() int { return f.minutes }

func (f *fakeRTC) Seconds() int { return f.seconds }

func (f *fakeRTC) Interrupt() bool { return f.tick }

func (f *fakeRTC) ClearInterrupt() { f.tick = false }

type fakeWeather struct {
	temperature, humidity float64
	reads                 int
}

func (f *fakeWeather) Read() { f.reads++ }

func (f *fakeWeather) Temperature() float64 { return f.temperature }

func (f *fakeWeather) Humidity() float64 { return f.humidity }

type fakeBuzzer struct {
	notes  []int
	chimes int
	decays int
}

func (f *fakeBuzzer) PlayNote(note, velocity int) { f.notes = append(f.notes, note) }

func (f *fakeBuzzer) PlayChime() { f.chimes++ }

func (f *fakeBuzzer) Decay() { f.decays++ }

type fakeSupply struct {
	target    int
	regulates int
}

func (f *fakeSupply) SetTarget(volts int) { f.target = volts }

func (f *fakeSupply) Target() int { return f.target }

func (f *fakeSupply) Regulate(now time.Time) { f.regulates++ }

type harness struct {
	clock   *nixieclock
	panel   *fakePanel
	display *fakeDisplay
	rtc     *fakeRTC
	weather *fakeWeather
	buzzer  *fakeBuzzer
	supply  *fakeSupply
	store   *settings.Memory
	now     time.Time
}

func newHarness(prime func(rtc *fakeRTC, store *settings.Memory)) *harness {
	h := &harness{
		panel:   &fakePanel{pressed: map[buttons.Line]bool{}},
		display: &fakeDisplay{},
		rtc:     &fakeRTC{},
		weather: &fakeWeather{},
		buzzer:  &fakeBuzzer{},
		supply:  &fakeSupply{},
		store:   &settings.Memory{},
		now:     time.Unix(1700000000, 0),
	}
	if prime != nil {
		prime(h.rtc, h.store)
	}
	h.clock = newNixieclock(h.panel, h.display, h.rtc, h.weather, h.buzzer, h.supply, h.store)
	h.clock.now = func() time.Time { return h.now }
	return h
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func (h *harness) press(lines ...buttons.Line) {
	for _, line := range lines {
		h.panel.pressed[line] = true
	}
}

func (h *harness) release(lines ...buttons.Line) {
	for _, line := range lines {
		h.panel.pressed[line] = false
	}
}

func (h *harness) tick() { h.rtc.tick = true }

func TestRestoreDefaultsOnBlankStore(t *testing.T) {
	h := newHarness(nil)

	assert.Equal(t, 160, h.supply.target, "voltage defaults to the midpoint")
	assert.Equal(t, byte(160), h.store.Read(settings.AddrVoltage), "default written back")
	assert.Equal(t, 0, h.clock.alarmHours)
	assert.Equal(t, 0, h.clock.alarmMinutes)
	assert.False(t, h.clock.alarmActive)
}

func TestRestorePersistedSettings(t *testing.T) {
	h := newHarness(func(rtc *fakeRTC, store *settings.Memory) {
		store.Write(settings.AddrVoltage, 171)
		store.Write(settings.AddrAlarmHours, 7)
		store.Write(settings.AddrAlarmMinutes, 30)
		store.Write(settings.AddrAlarmActive, 1)
	})

	assert.Equal(t, 171, h.supply.target)
	assert.Equal(t, 7, h.clock.alarmHours)
	assert.Equal(t, 30, h.clock.alarmMinutes)
	assert.True(t, h.clock.alarmActive, "a ringing alarm survives a restart")
}

func TestStepDrivesConverterAndSensor(t *testing.T) {
	h := newHarness(nil)
	h.clock.step()
	h.clock.step()
	assert.Equal(t, 2, h.supply.regulates)
	assert.Equal(t, 2, h.weather.reads)
	assert.Equal(t, 2, h.buzzer.decays)
}

func TestSetButtonEntersSetMode(t *testing.T) {
	h := newHarness(func(rtc *fakeRTC, store *settings.Memory) {
		rtc.hours, rtc.minutes = 12, 34
	})
	h.clock.waveStarted = false

	h.press(buttons.Set)
	h.clock.step()

	assert.Equal(t, ModeSetHours, h.clock.mode)
	assert.Equal(t, 12, h.clock.setHours, "edit buffer seeded from the clock")
	assert.Equal(t, 34, h.clock.setMinutes)
	assert.Contains(t, h.buzzer.notes, env.NoteSetMode)
}

func TestSetButtonHoldIsSingleEdge(t *testing.T) {
	h := newHarness(nil)
	h.clock.waveStarted = false

	h.press(buttons.Set)
	h.clock.step()
	assert.Equal(t, ModeSetHours, h.clock.mode)

	// Holding must not advance to the minutes field
	h.clock.step()
	h.clock.step()
	assert.Equal(t, ModeSetHours, h.clock.mode)

	h.release(buttons.Set)
	h.clock.step()
	h.press(buttons.Set)
	h.clock.step()
	assert.Equal(t, ModeSetMinutes, h.clock.mode)
}

func TestSetMinutesCommitsAndReturns(t *testing.T) {
	h := newHarness(func(rtc *fakeRTC, store *settings.Memory) {
		rtc.hours, rtc.minutes = 12, 34
	})
	h.clock.waveStarted = false

	h.press(buttons.Set)
	h.clock.step()
	h.release(buttons.Set)
	h.clock.step()
	h.press(buttons.Set)
	h.clock.step()
	assert.Equal(t, ModeSetMinutes, h.clock.mode)
	h.release(buttons.Set)

	// Bump the minutes once
	h.press(buttons.Up)
	h.advance(env.BtnIncDecDelaySlow)
	h.clock.step()
	h.release(buttons.Up)

	h.press(buttons.Set)
	h.clock.step()

	assert.Equal(t, ModeClock, h.clock.mode)
	assert.Equal(t, 12, h.rtc.lastHours)
	assert.Equal(t, 35, h.rtc.lastMinutes)
	assert.Equal(t, 0, h.rtc.lastSeconds, "seconds restart on commit")
}

func TestIdleEditorFollowsClock(t *testing.T) {
	h := newHarness(func(rtc *fakeRTC, store *settings.Memory) {
		rtc.hours, rtc.minutes = 12, 34
	})
	h.clock.waveStarted = false

	h.press(buttons.Set)
	h.clock.step()
	h.release(buttons.Set)

	h.rtc.minutes = 35
	h.tick()
	h.clock.step()
	assert.Equal(t, 35, h.clock.setMinutes, "untouched editor tracks real time")
	assert.Equal(t, 0, h.rtc.setCalls)
}

func TestVoltageEditAndReturn(t *testing.T) {
	h := newHarness(nil)
	h.clock.waveStarted = false

	h.press(buttons.Up)
	h.clock.step()
	assert.Equal(t, ModeVoltageEdit, h.clock.mode)

	h.advance(env.BtnIncDecDelaySlow)
	h.clock.step()
	assert.Equal(t, 161, h.supply.target)
	assert.Equal(t, byte(161), h.store.Read(settings.AddrVoltage), "every change persists")

	// The frame catches up on the next iteration
	h.clock.step()
	assert.Equal(t, [4]uint8{digits.Blank, 1, 6, 1}, h.display.digits)
	assert.False(t, h.display.separator)

	h.release(buttons.Up)
	h.clock.step()
	assert.Equal(t, ModeClock, h.clock.mode)
	assert.Contains(t, h.buzzer.notes, env.NoteTimeMode)
}

func TestVoltageClampedToMargins(t *testing.T) {
	h := newHarness(nil)
	h.clock.waveStarted = false
	h.supply.target = env.ConverterSetpointMax

	h.press(buttons.Up)
	h.clock.step()
	for i := 0; i < 10; i++ {
		h.advance(env.BtnIncDecDelaySlow)
		h.clock.step()
	}
	assert.Equal(t, env.ConverterSetpointMax, h.supply.target)

	h.release(buttons.Up)
	h.clock.step()
	h.supply.target = env.ConverterSetpointMin
	h.press(buttons.Down)
	h.clock.step()
	for i := 0; i < 10; i++ {
		h.advance(env.BtnIncDecDelaySlow)
		h.clock.step()
	}
	assert.Equal(t, env.ConverterSetpointMin, h.supply.target)
}

func TestIncDecAccelerates(t *testing.T) {
	h := newHarness(nil)
	h.clock.waveStarted = false

	h.press(buttons.Up)
	h.clock.step()
	assert.Equal(t, env.BtnIncDecDelaySlow, h.clock.incDecDelay)

	// Hold well past the transition time
	for held := time.Duration(0); held < 2*env.BtnIncDecDelayTransTime; held += env.BtnIncDecDelaySlow {
		h.advance(env.BtnIncDecDelaySlow)
		h.clock.step()
	}
	assert.Equal(t, env.BtnIncDecDelayFast, h.clock.incDecDelay)

	// Releasing restarts the ramp from the slow end
	h.release(buttons.Up)
	h.clock.step()
	assert.Equal(t, env.BtnIncDecDelaySlow, h.clock.incDecDelay)
}

func TestWeatherMode(t *testing.T) {
	h := newHarness(nil)
	h.clock.waveStarted = false
	h.weather.temperature = 24.4
	h.weather.humidity = 56.0

	h.press(buttons.Weather)
	h.clock.step()
	assert.Equal(t, ModeWeather, h.clock.mode)
	assert.Contains(t, h.buzzer.notes, env.NoteWeatherMode)

	h.clock.step()
	assert.Equal(t, [4]uint8{2, 4, 5, 6}, h.display.digits)
	assert.True(t, h.display.separator)

	// Sign is discarded, values clamp into two digits
	h.weather.temperature = -5.3
	h.weather.humidity = 250
	h.clock.step()
	assert.Equal(t, [4]uint8{0, 5, 9, 9}, h.display.digits)

	h.release(buttons.Weather)
	h.clock.step()
	assert.Equal(t, ModeClock, h.clock.mode)
}

func TestUpDownWinOverWeather(t *testing.T) {
	h := newHarness(nil)
	h.clock.waveStarted = false

	h.press(buttons.Up, buttons.Weather)
	h.clock.step()
	assert.Equal(t, ModeVoltageEdit, h.clock.mode)
}

func TestTickPulsesSeparator(t *testing.T) {
	h := newHarness(func(rtc *fakeRTC, store *settings.Memory) {
		rtc.hours, rtc.minutes = 12, 34
	})
	h.clock.waveStarted = false

	h.tick()
	h.clock.step()
	assert.True(t, h.display.separator)
	assert.Equal(t, [4]uint8{1, 2, 3, 4}, h.display.digits)

	h.advance(env.SeparatorTime)
	h.clock.step()
	assert.False(t, h.display.separator)
}

func TestWaveAnimation(t *testing.T) {
	h := newHarness(nil)

	// Time 00:00 seeds every tube at the position of digit 0
	assert.True(t, h.clock.waveStarted)
	assert.Equal(t, [4]uint8{4, 4, 4, 4}, h.clock.wavePositions)

	h.clock.step()
	first := env.PositionToNumber[5]
	assert.Equal(t, [4]uint8{first, first, first, first}, h.display.digits)

	// Next step only after a full wave interval
	h.clock.step()
	assert.Equal(t, [4]uint8{first, first, first, first}, h.display.digits)
	h.advance(env.WaveStepTime)
	h.clock.step()
	second := env.PositionToNumber[6]
	assert.Equal(t, [4]uint8{second, second, second, second}, h.display.digits)

	for i := 0; i < env.WaveCycles; i++ {
		h.advance(env.WaveStepTime)
		h.clock.step()
	}
	assert.False(t, h.clock.waveStarted)
	assert.Equal(t, [4]uint8{0, 0, 0, 0}, h.display.digits, "wave lands on the real time")
}

func TestWaveStartsBeforeNewMinute(t *testing.T) {
	h := newHarness(nil)
	h.clock.waveStarted = false

	h.rtc.seconds = 58
	h.tick()
	h.clock.step()
	assert.True(t, h.clock.waveStarted)
}

func TestAlarmFiresAndBlinks(t *testing.T) {
	h := newHarness(func(rtc *fakeRTC, store *settings.Memory) {
		rtc.hours, rtc.minutes = 7, 30
		store.Write(settings.AddrAlarmHours, 7)
		store.Write(settings.AddrAlarmMinutes, 30)
	})
	h.clock.waveStarted = false

	h.press(buttons.Alarm)
	h.clock.step()
	assert.True(t, h.clock.alarmActive)
	assert.Equal(t, byte(1), h.store.Read(settings.AddrAlarmActive))
	assert.Equal(t, 1, h.buzzer.chimes)

	// First iteration toggles the blink on, the next interval blanks
	assert.Equal(t, [4]uint8{0, 7, 3, 0}, h.display.digits)
	h.advance(env.AlarmBlinkRate)
	h.clock.step()
	blank := [4]uint8{digits.Blank, digits.Blank, digits.Blank, digits.Blank}
	assert.Equal(t, blank, h.display.digits)
	h.advance(env.AlarmBlinkRate)
	h.clock.step()
	assert.Equal(t, [4]uint8{0, 7, 3, 0}, h.display.digits)
}

func TestAlarmSilenceSuppressesMinute(t *testing.T) {
	h := newHarness(func(rtc *fakeRTC, store *settings.Memory) {
		rtc.hours, rtc.minutes = 7, 30
		store.Write(settings.AddrAlarmHours, 7)
		store.Write(settings.AddrAlarmMinutes, 30)
	})
	h.clock.waveStarted = false

	h.press(buttons.Alarm)
	h.clock.step()
	assert.True(t, h.clock.alarmActive)

	h.release(buttons.Alarm)
	h.clock.step()
	assert.False(t, h.clock.alarmActive)
	assert.Equal(t, byte(0), h.store.Read(settings.AddrAlarmActive))
	assert.Contains(t, h.buzzer.notes, env.NoteTimeMode)

	// Re-arming within the same minute must stay silent
	h.press(buttons.Alarm)
	h.clock.step()
	h.clock.step()
	assert.False(t, h.clock.alarmActive)

	// Once the minute passes the suppression clears and the alarm can
	// fire again on the next match
	h.rtc.minutes = 31
	h.clock.step()
	assert.Equal(t, -1, h.clock.disabledHours)
	h.rtc.minutes = 30
	h.clock.step()
	assert.True(t, h.clock.alarmActive)
}

func TestAlarmPreview(t *testing.T) {
	h := newHarness(func(rtc *fakeRTC, store *settings.Memory) {
		rtc.hours, rtc.minutes = 12, 0
		store.Write(settings.AddrAlarmHours, 7)
		store.Write(settings.AddrAlarmMinutes, 30)
	})
	h.clock.waveStarted = false

	h.press(buttons.Alarm)
	h.clock.step()
	assert.False(t, h.clock.alarmActive)
	assert.Equal(t, [4]uint8{0, 7, 3, 0}, h.display.digits, "setpoint previewed on arm")
	assert.Contains(t, h.buzzer.notes, env.NoteAlarmOn)

	h.advance(env.AlarmPreviewTime + env.LoopPeriod)
	h.tick()
	h.clock.step()
	assert.Equal(t, [4]uint8{1, 2, 0, 0}, h.display.digits, "time returns after the preview")
}

func TestAlarmEditClearsSuppression(t *testing.T) {
	h := newHarness(func(rtc *fakeRTC, store *settings.Memory) {
		rtc.hours, rtc.minutes = 7, 30
		store.Write(settings.AddrAlarmHours, 7)
		store.Write(settings.AddrAlarmMinutes, 30)
	})
	h.clock.waveStarted = false
	h.clock.disabledHours, h.clock.disabledMins = 7, 30

	// Enter set mode with the alarm switch held and bump the hours
	h.press(buttons.Set, buttons.Alarm)
	h.clock.step()
	h.release(buttons.Set)
	assert.Equal(t, ModeSetHours, h.clock.mode)

	h.press(buttons.Up)
	h.advance(env.BtnIncDecDelaySlow)
	h.clock.step()

	assert.Equal(t, 8, h.clock.alarmHours)
	assert.Equal(t, byte(8), h.store.Read(settings.AddrAlarmHours))
	assert.Equal(t, -1, h.clock.disabledHours, "editing re-arms a silenced minute")
}

func TestAlarmOnlyEditNeverWritesRTC(t *testing.T) {
	h := newHarness(func(rtc *fakeRTC, store *settings.Memory) {
		rtc.hours, rtc.minutes, rtc.seconds = 12, 34, 56
		store.Write(settings.AddrAlarmHours, 7)
		store.Write(settings.AddrAlarmMinutes, 30)
	})
	h.clock.waveStarted = false

	// Edit only the alarm, then drop the switch before leaving set mode
	h.press(buttons.Set, buttons.Alarm)
	h.clock.step()
	h.release(buttons.Set)

	h.press(buttons.Up)
	h.advance(env.BtnIncDecDelaySlow)
	h.clock.step()
	h.release(buttons.Up, buttons.Alarm)
	h.clock.step()

	h.press(buttons.Set)
	h.clock.step()
	h.release(buttons.Set)
	h.clock.step()
	h.press(buttons.Set)
	h.clock.step()

	assert.Equal(t, ModeClock, h.clock.mode)
	assert.Equal(t, 0, h.rtc.setCalls, "untouched clock buffer must never reach the RTC")
	assert.Equal(t, 12, h.rtc.hours)
	assert.Equal(t, 34, h.rtc.minutes)
	assert.Equal(t, byte(8), h.store.Read(settings.AddrAlarmHours))
}

func TestAlarmEditBlinksAndShowsSeparator(t *testing.T) {
	h := newHarness(func(rtc *fakeRTC, store *settings.Memory) {
		store.Write(settings.AddrAlarmHours, 7)
		store.Write(settings.AddrAlarmMinutes, 30)
	})
	h.clock.waveStarted = false

	h.press(buttons.Set, buttons.Alarm)
	h.clock.step()
	h.release(buttons.Set)
	h.clock.step()

	// Editing hours: the hours pair is always lit, minutes blink
	assert.True(t, h.display.separator, "separator marks alarm editing")
	assert.Equal(t, uint8(0), h.display.digits[0])
	assert.Equal(t, uint8(7), h.display.digits[1])
}
