package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// configNames are tried in order; the first file that exists wins.  When none
// exists the defaults are written to the last entry.
var configNames = []string{"config.yaml", "config.yml", "config.json"}

// NetworkConfig describes the access point to join in station mode.
type NetworkConfig struct {
	SSID      string `json:"ssid" yaml:"ssid"`
	Password  string `json:"password" yaml:"password"`
	Country   string `json:"country" yaml:"country"`     // regulatory domain, e.g. "GB"
	Interface string `json:"interface" yaml:"interface"` // wireless interface name
	Timeout   int    `json:"timeout" yaml:"timeout"`     // number of 1s status polls
}

// HTTPConfig configures the request dispatcher.
type HTTPConfig struct {
	ListenAddr   string `json:"listen_addr" yaml:"listen_addr"`
	Backlog      int    `json:"backlog" yaml:"backlog"`
	RequestLimit int    `json:"request_limit" yaml:"request_limit"` // bytes read per request
	WebRoot      string `json:"web_root" yaml:"web_root"`
	IndexPage    string `json:"index_page" yaml:"index_page"`
}

// HardwareConfig names the output pin and the ADC channel.
type HardwareConfig struct {
	LEDPin         string `json:"led_pin" yaml:"led_pin"` // periph pin name, e.g. "GPIO17"
	I2CBus         string `json:"i2c_bus" yaml:"i2c_bus"` // empty selects the first bus
	ADCAddress     uint16 `json:"adc_address" yaml:"adc_address"`
	ADCChannel     int    `json:"adc_channel" yaml:"adc_channel"`
	BlinkHalfCycle int    `json:"blink_half_cycle_ms" yaml:"blink_half_cycle_ms"`
}

// MetricsConfig enables the Prometheus endpoint when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
}

// MQTTConfig enables state publishing when Broker is set.
type MQTTConfig struct {
	Broker      string `json:"broker" yaml:"broker"`
	ClientID    string `json:"client_id" yaml:"client_id"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix"`
}

// Config is the top-level structure read from the configuration file.
type Config struct {
	Network  NetworkConfig  `json:"network" yaml:"network"`
	HTTP     HTTPConfig     `json:"http" yaml:"http"`
	Hardware HardwareConfig `json:"hardware" yaml:"hardware"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	MQTT     MQTTConfig     `json:"mqtt" yaml:"mqtt"`
	LogFile  string         `json:"log_file" yaml:"log_file"`
	LogLevel string         `json:"log_level" yaml:"log_level"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		Network: NetworkConfig{
			Country:   "GB",
			Interface: "wlan0",
			Timeout:   10,
		},
		HTTP: HTTPConfig{
			ListenAddr:   ":80",
			Backlog:      3,
			RequestLimit: 1024,
			WebRoot:      "www",
			IndexPage:    "index.html",
		},
		Hardware: HardwareConfig{
			LEDPin:         "GPIO17",
			ADCAddress:     0x48,
			ADCChannel:     0,
			BlinkHalfCycle: 500,
		},
		MQTT: MQTTConfig{
			ClientID:    "soilsense",
			TopicPrefix: "soilsense",
		},
		LogFile:  "events.log",
		LogLevel: "info",
	}
}

// ConfigManager owns the loaded configuration.  The configuration is never
// changed after Load, so readers only take the read lock.
type ConfigManager struct {
	// Dir is the directory searched for configuration files.  Empty means
	// the working directory.
	Dir string

	mu     sync.RWMutex
	cfg    Config
	path   string
	loaded bool
}

// Load reads configuration from disk.  If no configuration file exists, the
// defaults are persisted as config.json so they can be edited in place.
func (cm *ConfigManager) Load() error {
	cm.mu.Lock()
	if cm.loaded {
		cm.mu.Unlock()
		return nil
	}
	for _, name := range configNames {
		path := filepath.Join(cm.Dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			cm.mu.Unlock()
			return fmt.Errorf("unable to read config: %w", err)
		}
		cfg, err := decodeConfig(path, data)
		if err != nil {
			cm.mu.Unlock()
			return err
		}
		cm.cfg = cfg
		cm.path = path
		cm.loaded = true
		cm.mu.Unlock()
		return nil
	}
	cm.cfg = DefaultConfig()
	cm.path = filepath.Join(cm.Dir, configNames[len(configNames)-1])
	cm.loaded = true
	// Save takes the read lock.
	cm.mu.Unlock()
	return cm.Save()
}

// decodeConfig overlays the file contents on the defaults so that omitted
// keys keep their default values.
func decodeConfig(path string, data []byte) (Config, error) {
	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", filepath.Base(path), err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", filepath.Base(path), err)
		}
	}
	return cfg, nil
}

// Save writes the configuration to the file it was loaded from, replacing
// it atomically.
func (cm *ConfigManager) Save() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(cm.path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cm.cfg)
	default:
		data, err = json.MarshalIndent(cm.cfg, "", "  ")
	}
	if err != nil {
		return err
	}
	tmpPath := cm.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, cm.path)
}

// Get returns a copy of the current configuration.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.cfg
}

// Path returns the file the configuration was loaded from.
func (cm *ConfigManager) Path() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.path
}

// Validate checks that cfg can drive the controller.
func Validate(cfg Config) error {
	var errs []error
	if cfg.Network.SSID == "" {
		errs = append(errs, errors.New("network.ssid must be set"))
	}
	if cfg.Network.Timeout < 1 {
		errs = append(errs, fmt.Errorf("network.timeout must be >= 1, got %d", cfg.Network.Timeout))
	}
	if cfg.HTTP.ListenAddr == "" {
		errs = append(errs, errors.New("http.listen_addr must be set"))
	}
	if cfg.HTTP.Backlog < 1 {
		errs = append(errs, fmt.Errorf("http.backlog must be >= 1, got %d", cfg.HTTP.Backlog))
	}
	if cfg.HTTP.RequestLimit < 1 {
		errs = append(errs, fmt.Errorf("http.request_limit must be >= 1, got %d", cfg.HTTP.RequestLimit))
	}
	if cfg.HTTP.IndexPage == "" {
		errs = append(errs, errors.New("http.index_page must be set"))
	}
	if cfg.Hardware.ADCChannel < 0 || cfg.Hardware.ADCChannel > 3 {
		errs = append(errs, fmt.Errorf("hardware.adc_channel must be 0..3, got %d", cfg.Hardware.ADCChannel))
	}
	if cfg.Hardware.BlinkHalfCycle < 0 {
		errs = append(errs, fmt.Errorf("hardware.blink_half_cycle_ms must be >= 0, got %d", cfg.Hardware.BlinkHalfCycle))
	}
	return errors.Join(errs...)
}
