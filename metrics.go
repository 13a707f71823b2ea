package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes dispatcher activity and the latest readings.
type Metrics struct {
	requests *prometheus.CounterVec
	faults   prometheus.Counter
	led      prometheus.Gauge
	raw      prometheus.Gauge
	voltage  prometheus.Gauge
	moisture prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soilsense_requests_total",
			Help: "Handled requests by command.",
		}, []string{"command"}),
		faults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soilsense_connection_faults_total",
			Help: "Connections aborted by an I/O fault.",
		}),
		led: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "soilsense_led_on",
			Help: "1 when the output pin is high.",
		}),
		raw: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "soilsense_sensor_raw",
			Help: "Last raw 16-bit ADC sample.",
		}),
		voltage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "soilsense_sensor_voltage",
			Help: "Last probe voltage.",
		}),
		moisture: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "soilsense_sensor_metric",
			Help: "Last soil moisture percentage.",
		}),
	}
	reg.MustRegister(m.requests, m.faults, m.led, m.raw, m.voltage, m.moisture)
	return m
}

func (m *Metrics) observeRequest(cmd Command) {
	m.requests.WithLabelValues(cmd.Name()).Inc()
}

func (m *Metrics) observeFault() {
	m.faults.Inc()
}

func (m *Metrics) observeLED(on bool) {
	if on {
		m.led.Set(1)
	} else {
		m.led.Set(0)
	}
}

func (m *Metrics) observeSample(s SensorSample) {
	m.raw.Set(float64(s.Raw))
	m.voltage.Set(s.Voltage)
	m.moisture.Set(s.Metric)
}

// serveMetrics runs the /metrics endpoint on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
