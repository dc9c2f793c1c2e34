package main

import (
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/F33RNI/in17clock/buttons"
	"github.com/F33RNI/in17clock/env"
	"github.com/F33RNI/in17clock/settings"
)

// alarmService tracks the alarm switch, fires and silences the alarm and
// keeps the chime going while it rings. Runs every iteration in clock
// mode.
func (c *nixieclock) alarmService() {
	now := c.now()

	// The suppressed minute only holds while the time still matches it
	if c.rtc.Hours() != c.disabledHours || c.rtc.Minutes() != c.disabledMins {
		c.clearSuppression()
	}

	if c.buttons.IsPressed(buttons.Alarm) {
		// Switch rising edge: start the preview window
		if c.previewAt.IsZero() {
			c.previewAt = now
			c.buzzer.PlayNote(env.NoteAlarmOn, env.ButtonNotePWM)
		}

		// Fire, unless this exact minute was manually silenced
		if c.rtc.Hours() == c.alarmHours && c.rtc.Minutes() == c.alarmMinutes &&
			(c.rtc.Hours() != c.disabledHours || c.rtc.Minutes() != c.disabledMins) &&
			!c.alarmActive {
			c.alarmActive = true
			c.store.Write(settings.AddrAlarmActive, 1)
			logger.Infof("Alarm fired at %02d:%02d", c.alarmHours, c.alarmMinutes)
		}
	} else {
		c.previewAt = time.Time{}

		// Switch falling edge while ringing: silence and suppress this
		// minute so re-arming does not re-fire immediately
		if c.alarmActive {
			c.alarmActive = false
			c.disabledHours = c.rtc.Hours()
			c.disabledMins = c.rtc.Minutes()
			c.store.Write(settings.AddrAlarmActive, 0)
			c.buzzer.PlayNote(env.NoteTimeMode, env.ButtonNotePWM)
			logger.Infof("Alarm silenced, suppressed for %02d:%02d", c.disabledHours, c.disabledMins)
		}
	}

	if c.alarmActive {
		c.buzzer.PlayChime()
	}
}

func (c *nixieclock) clearSuppression() {
	c.disabledHours = -1
	c.disabledMins = -1
}
