package main

import (
	"flag"
	"math/rand"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logger "github.com/sirupsen/logrus"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"

	"github.com/F33RNI/in17clock/buttons"
	"github.com/F33RNI/in17clock/buzzer"
	"github.com/F33RNI/in17clock/digits"
	"github.com/F33RNI/in17clock/env"
	"github.com/F33RNI/in17clock/power"
	"github.com/F33RNI/in17clock/rtc"
	"github.com/F33RNI/in17clock/settings"
	"github.com/F33RNI/in17clock/sht3x"
)

const version = "IN17-Clock-1.0.0"

var Prom_converterVolts = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "converter_volts",
		Help: "Measured converter output V",
	},
)

var Prom_converterSetpoint = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "converter_setpoint",
		Help: "Soft-started converter setpoint V",
	},
)

var Prom_converterDuty = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "converter_duty",
		Help: "Converter PWM duty fraction",
	},
)

var Prom_temperature = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "temperature",
		Help: "Temperature C",
	},
)

var Prom_humidity = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "relative_humidity",
		Help: "Relative Humidity",
	},
)

var Prom_mode = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "clock_mode",
		Help: "Current front panel mode",
	},
)

// called by prometheus
func init() {
	logger.Infof("%v: Initialize prometheus...", time.Now().Format(time.RFC822))
	prometheus.MustRegister(
		Prom_converterVolts,
		Prom_converterSetpoint,
		Prom_converterDuty,
		Prom_temperature,
		Prom_humidity,
		Prom_mode)
}

func main() {
	logger.Infof("Starting nixie clock [%v]", version)

	i2cBus := flag.String("i2c", "", "i2c bus for the RTC, ADC and climate sensor (empty = first available)")
	spiBus := flag.String("spi", "", "spi port for the shift register chain (empty = first available)")
	metricsAddr := flag.String("metrics", ":80", "prometheus metrics listen address")
	settingsPath := flag.String("settings", "/var/lib/in17clock/settings.bin", "persistent settings file")
	flag.Parse()

	if _, err := host.Init(); err != nil {
		logger.Errorf("Failed to initialise the host!! [%v]", err)
		logger.Exit(1)
	}

	store, err := settings.Open(*settingsPath)
	if err != nil {
		logger.Errorf("Failed to open the settings file!! [%v]", err)
		logger.Exit(1)
	}

	// Rotate the persisted chime seed so every boot chimes differently
	rng := rand.New(rand.NewSource(int64(settings.ReadSeed(store))))
	settings.WriteSeed(store, rng.Uint32())

	bus, err := i2creg.Open(*i2cBus)
	if err != nil {
		logger.Errorf("Failed to open the i2c bus!! [%v]", err)
		logger.Exit(1)
	}
	defer bus.Close()

	port, err := spireg.Open(*spiBus)
	if err != nil {
		logger.Errorf("Failed to open the spi port!! [%v]", err)
		logger.Exit(1)
	}
	defer port.Close()

	conn, err := port.Connect(2*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		logger.Errorf("Failed to connect the shift registers!! [%v]", err)
		logger.Exit(1)
	}

	adc, err := ads1x15.NewADS1115(bus, &ads1x15.DefaultOpts)
	if err != nil {
		logger.Errorf("Failed to initialise the ADC!! [%v]", err)
		logger.Exit(1)
	}
	sense, err := power.NewADCSense(adc)
	if err != nil {
		logger.Errorf("Failed to configure the feedback channel!! [%v]", err)
		logger.Exit(1)
	}
	converter := power.NewConverter(sense, power.NewPWMDrive(outPin(env.ConvPWMPin)))

	clk, err := rtc.New(bus, env.RTCAddress)
	if err != nil {
		logger.Errorf("Failed to initialise the RTC!! [%v]", err)
		logger.Exit(1)
	}
	sqw := inPin(env.SQWPin)
	clk.WatchSQW(sqw)

	climate := sht3x.New(bus, env.SHTAddress)

	tone := buzzer.New(outPin(env.BuzzerPin), rng)

	display := digits.New(conn, outPin(env.LatchPin), digits.BoardPolarity())
	stop := make(chan struct{})
	defer close(stop)
	go display.Run(stop)

	panel := buttons.New()
	pins := map[buttons.Line]gpio.PinIn{
		buttons.Up:      inPin(env.ButtonUpPin),
		buttons.Down:    inPin(env.ButtonDownPin),
		buttons.Weather: inPin(env.ButtonWeatherPin),
		buttons.Set:     inPin(env.ButtonSetPin),
		buttons.Alarm:   inPin(env.AlarmSwitchPin),
	}
	panel.PollAll(func(line buttons.Line) bool {
		return pins[line].Read() == gpio.High
	})
	for line, pin := range pins {
		panel.Watch(line, pin)
	}

	c := newNixieclock(panel, display, clk, climate, tone, converter, store)

	go func() {
		logger.Info("Starting webservice...")
		http.Handle("/metrics", promhttp.Handler())
		logger.Fatal(http.ListenAndServe(*metricsAddr, nil))
	}()

	logger.Info("Entering the control loop")
	ticker := time.NewTicker(env.LoopPeriod)
	defer ticker.Stop()
	for range ticker.C {
		c.step()

		Prom_converterVolts.Set(converter.MeasuredAverage())
		Prom_converterSetpoint.Set(converter.Ramped())
		Prom_converterDuty.Set(converter.Duty())
		Prom_temperature.Set(climate.Temperature())
		Prom_humidity.Set(climate.Humidity())
		Prom_mode.Set(float64(c.mode))
	}
}

// inPin opens a pulled-up input with edge detection, exiting on failure.
func inPin(name string) gpio.PinIn {
	pin := gpioreg.ByName(name)
	if pin == nil {
		logger.Errorf("No such pin!! [%v]", name)
		logger.Exit(1)
	}
	if err := pin.In(gpio.PullUp, gpio.BothEdges); err != nil {
		logger.Errorf("Failed to configure %v as input!! [%v]", name, err)
		logger.Exit(1)
	}
	return pin
}

func outPin(name string) gpio.PinIO {
	pin := gpioreg.ByName(name)
	if pin == nil {
		logger.Errorf("No such pin!! [%v]", name)
		logger.Exit(1)
	}
	if err := pin.Out(gpio.Low); err != nil {
		logger.Errorf("Failed to configure %v as output!! [%v]", name, err)
		logger.Exit(1)
	}
	return pin
}
