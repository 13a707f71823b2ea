//go:build !(linux && (arm || arm64)) || disablegpio

// Stub hardware for desktop builds.  The LED only logs, the ADC returns a
// fixed mid-scale sample and the radio reports the host's own address.

package main

import (
	"context"
	"log/slog"
	"net"
)

// stubRawSample is roughly 1.65 V, a moist probe.
const stubRawSample = 32768

type stubPin struct {
	name   string
	logger *slog.Logger
}

func (p stubPin) Set(on bool) error {
	p.logger.Debug("stub pin write", "pin", p.name, "on", on)
	return nil
}

type stubADC struct{}

func (stubADC) ReadU16() (uint16, error) { return stubRawSample, nil }

type stubRadio struct {
	link LinkStatus
}

func (r *stubRadio) Activate(country string) error { return nil }

func (r *stubRadio) Connect(ctx context.Context, ssid, password string) error {
	if ssid == "" {
		r.link = LinkNoNet
		return nil
	}
	r.link = LinkUp
	return nil
}

func (r *stubRadio) Status() LinkStatus { return r.link }

func (r *stubRadio) Address() string {
	if r.link != LinkUp {
		return ""
	}
	return discoverIP()
}

func (r *stubRadio) MAC() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback == 0 && len(iface.HardwareAddr) > 0 {
			return iface.HardwareAddr.String()
		}
	}
	return ""
}

// discoverIP returns the first non-loopback IPv4 address of the host.
func discoverIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
	}
	return "127.0.0.1"
}

// openHardware returns stub handles.  It never fails.
func openHardware(cfg Config, logger *slog.Logger) (*Hardware, error) {
	logger.Warn("using stub hardware; build on linux/arm without the disablegpio tag for real GPIO")
	return &Hardware{
		LED:   stubPin{name: cfg.Hardware.LEDPin, logger: logger},
		ADC:   stubADC{},
		Radio: &stubRadio{},
	}, nil
}
