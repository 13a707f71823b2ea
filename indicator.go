package main

import (
	"context"
	"time"
)

// Indicator flashes the LED to report a number visually.
type Indicator struct {
	led  *LED
	half time.Duration
}

// NewIndicator blinks led with the given half-cycle.
func NewIndicator(led *LED, half time.Duration) *Indicator {
	return &Indicator{led: led, half: half}
}

// Blink turns the LED on then off n times.  The LED is left off.
func (ind *Indicator) Blink(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := ind.led.Set(true); err != nil {
			return err
		}
		if err := ind.wait(ctx); err != nil {
			_ = ind.led.Set(false)
			return err
		}
		if err := ind.led.Set(false); err != nil {
			return err
		}
		if err := ind.wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (ind *Indicator) wait(ctx context.Context) error {
	if ind.half <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(ind.half)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// blinkCount is the number of flashes used to report a link status: the
// status code itself, or none for failure codes.
func blinkCount(s LinkStatus) int {
	return max(int(s), 0)
}
