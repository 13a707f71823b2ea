//go:build linux && (arm || arm64) && !disablegpio

// This file provides the Raspberry Pi implementation of the HAL using the
// periph.io library.  The LED sits on a GPIO pin, the moisture probe on an
// ADS1115 behind I2C, and the wireless interface is driven through
// NetworkManager.  When cross-compiling for other platforms or when the
// build tag "disablegpio" is given, hal_stub.go is used instead.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"os/exec"
	"sync"

	// Use the new periph module layout.  See https://periph.io/news/2020/a_new_start/
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"
)

var adsChannels = [...]ads1x15.Channel{
	ads1x15.Channel0,
	ads1x15.Channel1,
	ads1x15.Channel2,
	ads1x15.Channel3,
}

type periphPin struct {
	p gpio.PinIO
}

func (p periphPin) Set(on bool) error {
	level := gpio.Low
	if on {
		level = gpio.High
	}
	return p.p.Out(level)
}

// adsInput reads an ADS1115 channel and rescales the voltage to the 16-bit
// range of a 3.3 V reference, so the rest of the program sees the same
// sample space on every board.
type adsInput struct {
	pin ads1x15.PinADC
}

func (a adsInput) ReadU16() (uint16, error) {
	s, err := a.pin.Read()
	if err != nil {
		return 0, err
	}
	return voltsToRaw(float64(s.V) / float64(physic.Volt)), nil
}

func voltsToRaw(v float64) uint16 {
	raw := math.Round(v / adcReference * adcFullScale)
	return uint16(math.Max(0, math.Min(adcFullScale, raw)))
}

// nmcliRadio joins a network through NetworkManager.  Connect runs nmcli in
// the background; Status reflects its progress.
type nmcliRadio struct {
	iface  string
	logger *slog.Logger

	mu   sync.Mutex
	link LinkStatus
}

func (r *nmcliRadio) Activate(country string) error {
	if country != "" {
		if out, err := exec.Command("iw", "reg", "set", country).CombinedOutput(); err != nil {
			return fmt.Errorf("set regulatory domain %s: %w: %s", country, err, out)
		}
	}
	if out, err := exec.Command("nmcli", "radio", "wifi", "on").CombinedOutput(); err != nil {
		return fmt.Errorf("enable wifi radio: %w: %s", err, out)
	}
	return nil
}

func (r *nmcliRadio) Connect(ctx context.Context, ssid, password string) error {
	args := []string{"device", "wifi", "connect", ssid}
	if password != "" {
		args = append(args, "password", password)
	}
	args = append(args, "ifname", r.iface)
	cmd := exec.CommandContext(ctx, "nmcli", args...)
	r.setLink(LinkJoin)
	if err := cmd.Start(); err != nil {
		r.setLink(LinkFail)
		return fmt.Errorf("start nmcli: %w", err)
	}
	go func() {
		err := cmd.Wait()
		var exitErr *exec.ExitError
		switch {
		case err == nil:
			r.setLink(LinkNoIP)
		case errors.As(err, &exitErr) && exitErr.ExitCode() == 10:
			// nmcli: connection, device or access point does not exist
			r.setLink(LinkNoNet)
		default:
			r.logger.Debug("nmcli connect failed", "error", err)
			r.setLink(LinkFail)
		}
	}()
	return nil
}

func (r *nmcliRadio) setLink(s LinkStatus) {
	r.mu.Lock()
	r.link = s
	r.mu.Unlock()
}

func (r *nmcliRadio) Status() LinkStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.link == LinkNoIP && r.Address() != "" {
		r.link = LinkUp
	}
	return r.link
}

func (r *nmcliRadio) Address() string {
	iface, err := net.InterfaceByName(r.iface)
	if err != nil {
		return ""
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
	}
	return ""
}

func (r *nmcliRadio) MAC() string {
	iface, err := net.InterfaceByName(r.iface)
	if err != nil {
		return ""
	}
	return iface.HardwareAddr.String()
}

// openHardware initialises periph host state and opens the LED pin, the ADC
// channel and the wireless interface.  Returning an error here prevents the
// controller from starting.
func openHardware(cfg Config, logger *slog.Logger) (*Hardware, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	p := gpioreg.ByName(cfg.Hardware.LEDPin)
	if p == nil {
		return nil, fmt.Errorf("unknown gpio pin %q", cfg.Hardware.LEDPin)
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("configure %s as output: %w", cfg.Hardware.LEDPin, err)
	}

	bus, err := i2creg.Open(cfg.Hardware.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", cfg.Hardware.I2CBus, err)
	}
	adc, err := openADS1115(bus, cfg.Hardware)
	if err != nil {
		bus.Close()
		return nil, err
	}

	return &Hardware{
		LED:   periphPin{p: p},
		ADC:   adsInput{pin: adc},
		Radio: &nmcliRadio{iface: cfg.Network.Interface, logger: logger},
		close: func() error {
			return errors.Join(adc.Halt(), bus.Close())
		},
	}, nil
}

func openADS1115(bus i2c.Bus, hw HardwareConfig) (ads1x15.PinADC, error) {
	opts := ads1x15.DefaultOpts
	if hw.ADCAddress != 0 {
		opts.I2cAddress = hw.ADCAddress
	}
	dev, err := ads1x15.NewADS1115(bus, &opts)
	if err != nil {
		return nil, fmt.Errorf("ads1115 at %#x: %w", opts.I2cAddress, err)
	}
	// The probe never exceeds the 3.3 V rail; the 4.096 V range is the
	// tightest gain that covers it.
	pin, err := dev.PinForChannel(adsChannels[hw.ADCChannel], 4096*physic.MilliVolt, 1*physic.Hertz, ads1x15.BestQuality)
	if err != nil {
		return nil, fmt.Errorf("ads1115 channel %d: %w", hw.ADCChannel, err)
	}
	return pin, nil
}
