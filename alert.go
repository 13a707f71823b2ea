package main

// This file defines pluggable notifiers invoked by the dispatcher when the
// LED changes or a sample is taken.

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Notifier is told about device state changes.  Implementations must not
// block: the dispatcher calls them from the request loop.  Errors are logged
// by the caller and otherwise ignored.
type Notifier interface {
	Name() string
	LEDChanged(on bool) error
	Sampled(s SensorSample) error
}

// LogNotifier records LED changes in the event log.  Samples are too
// frequent to be worth an event line.
type LogNotifier struct {
	events *EventLogger
}

// NewLogNotifier writes to events.
func NewLogNotifier(events *EventLogger) LogNotifier {
	return LogNotifier{events: events}
}

// Name returns the type name of the notifier.
func (LogNotifier) Name() string { return "log" }

// LEDChanged writes an event line.
func (n LogNotifier) LEDChanged(on bool) error {
	if on {
		n.events.Log("led on")
	} else {
		n.events.Log("led off")
	}
	return nil
}

// Sampled is a no-op.
func (LogNotifier) Sampled(SensorSample) error { return nil }

// MQTTNotifier publishes the LED state (retained) and each moisture reading
// under a topic prefix.
type MQTTNotifier struct {
	client mqtt.Client
	prefix string
	logger *slog.Logger
}

// NewMQTTNotifier connects to cfg.Broker.
func NewMQTTNotifier(cfg MQTTConfig, logger *slog.Logger) (*MQTTNotifier, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	return newMQTTNotifier(client, cfg.TopicPrefix, logger), nil
}

func newMQTTNotifier(client mqtt.Client, prefix string, logger *slog.Logger) *MQTTNotifier {
	return &MQTTNotifier{client: client, prefix: prefix, logger: logger.With("notifier", "mqtt")}
}

// Name returns the type name of the notifier.
func (*MQTTNotifier) Name() string { return "mqtt" }

// LEDChanged publishes "1" or "0" to <prefix>/led.
func (n *MQTTNotifier) LEDChanged(on bool) error {
	payload := "0"
	if on {
		payload = "1"
	}
	return n.publish("led", true, payload)
}

// Sampled publishes the moisture percentage to <prefix>/moisture.
func (n *MQTTNotifier) Sampled(s SensorSample) error {
	return n.publish("moisture", false, formatMetric(s.Metric))
}

func (n *MQTTNotifier) publish(leaf string, retained bool, payload string) error {
	if !n.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt not connected, dropped %s", leaf)
	}
	topic := n.prefix + "/" + leaf
	token := n.client.Publish(topic, 0, retained, payload)
	// Completion is checked off the request loop.
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			n.logger.Warn("mqtt publish timeout", "topic", topic)
			return
		}
		if err := token.Error(); err != nil {
			n.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
		}
	}()
	return nil
}

// Close disconnects from the broker.
func (n *MQTTNotifier) Close() {
	n.client.Disconnect(250)
}
