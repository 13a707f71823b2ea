package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Query markers recognised anywhere in the raw request text.  The sensor
// marker's spelling is what deployed clients send.
const (
	markerLEDOn  = "?onboard_led=1"
	markerLEDOff = "?onboard_led=0"
	markerSensor = "?onnew_vlaue=1"
)

// responseHeader precedes every response, whatever the command.
const responseHeader = "HTTP/1.0 200 OK\r\nContent-type: text/html\r\n\r\n"

// ParseCommand tests req for each marker independently.
func ParseCommand(req string) Command {
	return Command{
		LEDOn:      strings.Contains(req, markerLEDOn),
		LEDOff:     strings.Contains(req, markerLEDOff),
		SensorRead: strings.Contains(req, markerSensor),
	}
}

// decodeRequest turns raw request bytes into text.  Invalid UTF-8 sequences
// become U+FFFD so markers around them are still found.
func decodeRequest(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

// DispatcherState is what the accept loop is doing.
type DispatcherState int32

const (
	StateListening DispatcherState = iota
	StateHandling
)

func (s DispatcherState) String() string {
	if s == StateHandling {
		return "handling"
	}
	return "listening"
}

// ConnError is the single fault category for per-connection failures.  It
// never stops the dispatcher.
type ConnError struct {
	Op  string // accept, read, sample, led, page, write
	Err error
}

func (e *ConnError) Error() string { return "connection " + e.Op + ": " + e.Err.Error() }

func (e *ConnError) Unwrap() error { return e.Err }

// Dispatcher serves one connection at a time: it reads the request, applies
// LED commands, samples the sensor and answers with the reading or the
// static page.  All device handles are owned by the dispatcher; nothing else
// touches them while it runs.
type Dispatcher struct {
	cfg       HTTPConfig
	led       *LED
	sensor    *SensorReader
	pages     PageLoader
	metrics   *Metrics
	notifiers []Notifier
	logger    *slog.Logger

	// acceptRetry paces the loop after accept failures.
	acceptRetry *rate.Limiter
	state       atomic.Int32
}

// NewDispatcher wires the request loop to its device handles.
func NewDispatcher(cfg HTTPConfig, led *LED, sensor *SensorReader, pages PageLoader, metrics *Metrics, logger *slog.Logger, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{
		cfg:         cfg,
		led:         led,
		sensor:      sensor,
		pages:       pages,
		metrics:     metrics,
		notifiers:   notifiers,
		logger:      logger,
		acceptRetry: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
}

// State reports whether a connection is currently being handled.
func (d *Dispatcher) State() DispatcherState {
	return DispatcherState(d.state.Load())
}

// ListenAndServe listens on the configured address with the configured
// backlog and serves until ctx is done.
func (d *Dispatcher) ListenAndServe(ctx context.Context) error {
	ln, err := listenTCP(d.cfg.ListenAddr, d.cfg.Backlog)
	if err != nil {
		return err
	}
	return d.Serve(ctx, ln)
}

// Serve accepts connections from ln one at a time.  It returns nil once ctx
// is done and ln has been closed.  Per-connection faults are logged and the
// loop continues.
func (d *Dispatcher) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	d.logger.Info("listening", "addr", ln.Addr().String(), "backlog", d.cfg.Backlog)
	for {
		d.state.Store(int32(StateListening))
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			d.fault(d.logger, &ConnError{Op: "accept", Err: err})
			if err := d.acceptRetry.Wait(ctx); err != nil {
				return nil
			}
			continue
		}
		d.state.Store(int32(StateHandling))
		d.handle(conn)
	}
}

func (d *Dispatcher) handle(conn net.Conn) {
	logger := d.logger.With("conn_id", uuid.NewString(), "remote", conn.RemoteAddr().String())
	logger.Info("client connection")
	defer conn.Close()
	if err := d.respond(conn, logger); err != nil {
		d.fault(logger, err)
	}
}

func (d *Dispatcher) fault(logger *slog.Logger, err error) {
	d.metrics.observeFault()
	logger.Error("connection closed", "error", err)
}

// respond runs one request/response exchange on conn.
func (d *Dispatcher) respond(conn net.Conn, logger *slog.Logger) error {
	buf := make([]byte, d.cfg.RequestLimit)
	n, err := conn.Read(buf)
	// A peer that closes without sending is treated as an empty request.
	if err != nil && !errors.Is(err, io.EOF) {
		return &ConnError{Op: "read", Err: err}
	}
	cmd := ParseCommand(decodeRequest(buf[:n]))
	d.metrics.observeRequest(cmd)
	logger.Debug("request", "bytes", n, "led_on", cmd.LEDOn, "led_off", cmd.LEDOff, "sensor", cmd.SensorRead)

	sample, err := d.sensor.Sample()
	if err != nil {
		return &ConnError{Op: "sample", Err: err}
	}
	d.metrics.observeSample(sample)
	d.notify(logger, func(n Notifier) error { return n.Sampled(sample) })

	// Both markers may be present; the off marker is applied last.
	if cmd.LEDOn {
		if err := d.setLED(logger, true); err != nil {
			return err
		}
	}
	if cmd.LEDOff {
		if err := d.setLED(logger, false); err != nil {
			return err
		}
	}

	var body []byte
	if !cmd.Toggles() {
		if cmd.SensorRead {
			body = []byte(formatMetric(sample.Metric))
		} else {
			body, err = d.pages.Load(d.cfg.IndexPage)
			if err != nil {
				return &ConnError{Op: "page", Err: err}
			}
		}
	}

	if _, err := io.WriteString(conn, responseHeader); err != nil {
		return &ConnError{Op: "write", Err: err}
	}
	// LED commands get the header only.
	if cmd.Toggles() {
		return nil
	}
	if _, err := conn.Write(body); err != nil {
		return &ConnError{Op: "write", Err: err}
	}
	if cmd.SensorRead {
		logger.Info("sent", "command", cmd.Name(), "body", string(body))
	} else {
		logger.Info("sent", "command", cmd.Name(), "bytes", len(body))
	}
	return nil
}

func (d *Dispatcher) setLED(logger *slog.Logger, on bool) error {
	if err := d.led.Set(on); err != nil {
		return &ConnError{Op: "led", Err: err}
	}
	logger.Info("led", "on", on)
	d.metrics.observeLED(on)
	d.notify(logger, func(n Notifier) error { return n.LEDChanged(on) })
	return nil
}

func (d *Dispatcher) notify(logger *slog.Logger, fn func(Notifier) error) {
	for _, n := range d.notifiers {
		if err := fn(n); err != nil {
			logger.Warn("notifier error", "notifier", n.Name(), "error", err)
		}
	}
}
