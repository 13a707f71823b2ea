package main

// This file defines the hardware abstraction layer shared by the stub build
// (hal_stub.go) and the Raspberry Pi build (hal_rpi.go).  Everything above
// the HAL talks to these interfaces only, so the dispatcher and the startup
// sequence can run on a desktop machine and in tests.

import (
	"context"
	"fmt"
)

// OutputPin drives a single digital output.
type OutputPin interface {
	Set(on bool) error
}

// AnalogInput samples one ADC channel, scaled to 16 bits.
type AnalogInput interface {
	ReadU16() (uint16, error)
}

// Radio is a wireless interface operating in station mode.
type Radio interface {
	// Activate brings the interface up under the given regulatory domain.
	Activate(country string) error
	// Connect starts association and returns without waiting for it to
	// finish; progress is observed through Status.
	Connect(ctx context.Context, ssid, password string) error
	Status() LinkStatus
	Address() string
	MAC() string
}

// Hardware bundles the handles opened at startup.  Close releases them.
type Hardware struct {
	LED   OutputPin
	ADC   AnalogInput
	Radio Radio
	close func() error
}

// Close releases any hardware resources.
func (h *Hardware) Close() error {
	if h.close == nil {
		return nil
	}
	return h.close()
}

// LED tracks the state of the output pin alongside the pin itself.  It is
// owned by a single goroutine.
type LED struct {
	pin OutputPin
	on  bool
}

// NewLED wraps pin.  The pin is assumed to start low.
func NewLED(pin OutputPin) *LED {
	return &LED{pin: pin}
}

// Set drives the pin and records the new state.
func (l *LED) Set(on bool) error {
	if err := l.pin.Set(on); err != nil {
		return fmt.Errorf("set led %t: %w", on, err)
	}
	l.on = on
	return nil
}

// On returns the last state written.
func (l *LED) On() bool {
	return l.on
}
