package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Entry point for the soil moisture controller
func main() {
	var cfgMgr ConfigManager
	if err := cfgMgr.Load(); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	cfg := cfgMgr.Get()
	if err := Validate(cfg); err != nil {
		log.Fatalf("invalid configuration in %s: %v", cfgMgr.Path(), err)
	}
	logger := newLogger(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("controller stopped", "error", err)
		stop()
		os.Exit(1)
	}
	logger.Info("controller stopped")
}

// run joins the network, reports the outcome on the LED and then serves
// requests until ctx is done.  Association failure is returned immediately
// after the indicator has finished.
func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	hw, err := openHardware(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := hw.Close(); err != nil {
			logger.Warn("hardware close", "error", err)
		}
	}()

	events := NewEventLogger(cfg.LogFile)
	led := NewLED(hw.LED)

	res, assocErr := NewAssociator(hw.Radio, logger).Associate(ctx, cfg.Network)
	events.Log("association %s link=%s address=%s", res.Status, res.Link, res.Address)
	indicator := NewIndicator(led, time.Duration(cfg.Hardware.BlinkHalfCycle)*time.Millisecond)
	if err := indicator.Blink(ctx, blinkCount(res.Link)); err != nil {
		logger.Warn("status blink interrupted", "error", err)
	}
	if assocErr != nil {
		return assocErr
	}
	logger.Info("wifi connected", "ssid", cfg.Network.SSID, "address", res.Address, "mac", res.MAC)

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	if cfg.Metrics.ListenAddr != "" {
		go func() {
			if err := serveMetrics(ctx, cfg.Metrics.ListenAddr, reg, logger); err != nil {
				logger.Error("metrics server", "error", err)
			}
		}()
	}

	notifiers := []Notifier{NewLogNotifier(events)}
	if cfg.MQTT.Broker != "" {
		n, err := NewMQTTNotifier(cfg.MQTT, logger)
		if err != nil {
			logger.Warn("mqtt disabled", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			defer n.Close()
			notifiers = append(notifiers, n)
		}
	}

	d := NewDispatcher(cfg.HTTP, led, NewSensorReader(hw.ADC), NewPageStore(cfg.HTTP.WebRoot), metrics, logger, notifiers...)
	return d.ListenAndServe(ctx)
}
