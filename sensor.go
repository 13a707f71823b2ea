package main

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	adcReference = 3.3   // volts at full scale
	adcFullScale = 65535 // largest 16-bit sample
	probeDry     = 1.1   // probe output, in volts, at 0% moisture
)

// ConvertSample derives voltage and moisture from a raw 16-bit sample.
func ConvertSample(raw uint16) SensorSample {
	voltage := float64(raw) * adcReference / adcFullScale
	return SensorSample{
		Raw:     raw,
		Voltage: voltage,
		Metric:  (voltage - probeDry) / probeDry * 100,
	}
}

// SensorReader samples the moisture probe on a single analog channel.
type SensorReader struct {
	input AnalogInput
}

// NewSensorReader wraps an analog input.
func NewSensorReader(input AnalogInput) *SensorReader {
	return &SensorReader{input: input}
}

// Sample reads the channel once and converts the result.
func (r *SensorReader) Sample() (SensorSample, error) {
	raw, err := r.input.ReadU16()
	if err != nil {
		return SensorSample{}, fmt.Errorf("read adc: %w", err)
	}
	return ConvertSample(raw), nil
}

// formatMetric renders a float the way the device firmware always has:
// shortest round-trip digits, with ".0" kept on whole numbers.
func formatMetric(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
