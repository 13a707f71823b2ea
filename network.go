package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrAssociationFailed is returned when the radio did not reach LinkUp.
	ErrAssociationFailed = errors.New("wifi association failed")
	// ErrAssociationTimeout is returned when the radio was still joining after
	// the last poll.  It wraps ErrAssociationFailed.
	ErrAssociationTimeout = fmt.Errorf("%w: timed out", ErrAssociationFailed)
)

// Associator joins the configured access point.
type Associator struct {
	radio    Radio
	interval time.Duration
	logger   *slog.Logger
}

// NewAssociator polls radio once per second.
func NewAssociator(radio Radio, logger *slog.Logger) *Associator {
	return &Associator{radio: radio, interval: time.Second, logger: logger}
}

// Associate activates the radio, starts association and polls the link
// status up to cfg.Timeout times.  Any final status other than LinkUp is
// reported as an error; the result is returned in both cases so the caller
// can signal the outcome.
func (a *Associator) Associate(ctx context.Context, cfg NetworkConfig) (AssociationResult, error) {
	res := AssociationResult{Status: AssociationIdle, Link: LinkDown}
	if err := a.radio.Activate(cfg.Country); err != nil {
		res.Status = AssociationFailure
		return res, fmt.Errorf("activate radio: %w", err)
	}
	res.MAC = a.radio.MAC()
	a.logger.Info("station interface active", "mac", res.MAC, "country", cfg.Country)

	if err := a.radio.Connect(ctx, cfg.SSID, cfg.Password); err != nil {
		res.Status = AssociationFailure
		return res, fmt.Errorf("connect to %q: %w", cfg.SSID, err)
	}
	res.Status = AssociationConnecting

	for remaining := cfg.Timeout; remaining > 0; remaining-- {
		if a.radio.Status().Terminal() {
			break
		}
		a.logger.Info("waiting for connection", "ssid", cfg.SSID, "remaining", remaining)
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(a.interval):
		}
	}

	res.Link = a.radio.Status()
	res.Status = statusOf(res.Link)
	switch {
	case res.Link == LinkUp:
		res.Address = a.radio.Address()
		return res, nil
	case !res.Link.Terminal():
		res.Status = AssociationFailure
		return res, fmt.Errorf("%w (link %s)", ErrAssociationTimeout, res.Link)
	default:
		return res, fmt.Errorf("%w (link %s)", ErrAssociationFailed, res.Link)
	}
}
