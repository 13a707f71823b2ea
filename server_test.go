package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPage = "<html><body>moisture</body></html>"

type fakePin struct {
	mu     sync.Mutex
	on     bool
	writes []bool
	err    error
}

func (p *fakePin) Set(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.on = on
	p.writes = append(p.writes, on)
	return nil
}

func (p *fakePin) State() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.on
}

func (p *fakePin) Writes() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.writes...)
}

type fakeADC struct {
	mu   sync.Mutex
	raw  uint16
	errs []error // returned, in order, before raw
}

func (a *fakeADC) ReadU16() (uint16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		return 0, err
	}
	return a.raw, nil
}

type fakePages struct {
	mu      sync.Mutex
	content string
	errs    []error
	calls   int
	release chan struct{} // when set, Load blocks until it is closed
}

func (p *fakePages) Load(name string) ([]byte, error) {
	if p.release != nil {
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return nil, err
	}
	return []byte(p.content), nil
}

func (p *fakePages) set(content string) {
	p.mu.Lock()
	p.content = content
	p.mu.Unlock()
}

func (p *fakePages) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recordingNotifier struct {
	mu      sync.Mutex
	leds    []bool
	samples int
}

func (*recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) LEDChanged(on bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.leds = append(n.leds, on)
	return nil
}

func (n *recordingNotifier) Sampled(SensorSample) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.samples++
	return nil
}

type testRig struct {
	d        *Dispatcher
	pin      *fakePin
	adc      *fakeADC
	pages    *fakePages
	notifier *recordingNotifier
	metrics  *Metrics
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	cfg := DefaultConfig().HTTP
	cfg.ListenAddr = "127.0.0.1:0"
	r := &testRig{
		pin:      &fakePin{},
		adc:      &fakeADC{raw: 0},
		pages:    &fakePages{content: testPage},
		notifier: &recordingNotifier{},
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	r.d = NewDispatcher(cfg, NewLED(r.pin), NewSensorReader(r.adc), r.pages, r.metrics, discardLogger(), r.notifier)
	return r
}

// exchange runs one request through the dispatcher over an in-memory pipe
// and returns everything written back before the connection closed.
func exchange(t *testing.T, d *Dispatcher, req string) string {
	t.Helper()
	srv, cli := net.Pipe()
	defer cli.Close()
	go func() { _, _ = cli.Write([]byte(req)) }()
	got := make(chan string, 1)
	go func() {
		b, _ := io.ReadAll(cli)
		got <- string(b)
	}()
	d.handle(srv)
	select {
	case out := <-got:
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for response")
		return ""
	}
}

func httpGet(target string) string {
	return "GET " + target + " HTTP/1.1\r\nHost: 192.168.1.50\r\nAccept: */*\r\n\r\n"
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		req  string
		want Command
	}{
		{"none", httpGet("/"), Command{}},
		{"on", httpGet("/?onboard_led=1"), Command{LEDOn: true}},
		{"off", httpGet("/?onboard_led=0"), Command{LEDOff: true}},
		{"sensor", httpGet("/?onnew_vlaue=1"), Command{SensorRead: true}},
		{"on and off", "GET /?onboard_led=1 Referer: /?onboard_led=0", Command{LEDOn: true, LEDOff: true}},
		{"all", "?onnew_vlaue=1?onboard_led=0?onboard_led=1", Command{LEDOn: true, LEDOff: true, SensorRead: true}},
		{"marker without question mark", httpGet("/onboard_led=1"), Command{}},
		{"other value", httpGet("/?onboard_led=2"), Command{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCommand(tt.req))
		})
	}
}

func TestDecodeRequest_InvalidBytesKeepMarkers(t *testing.T) {
	raw := append([]byte("GET /\xff\xfe"), []byte("?onboard_led=1 HTTP/1.1")...)
	text := decodeRequest(raw)
	assert.Contains(t, text, "\uFFFD")
	assert.True(t, ParseCommand(text).LEDOn)
}

func TestDispatcher_LEDOnSendsHeaderOnly(t *testing.T) {
	r := newRig(t)

	out := exchange(t, r.d, httpGet("/?onboard_led=1"))

	assert.Equal(t, responseHeader, out)
	assert.True(t, r.pin.State())
	assert.Equal(t, 0, r.pages.Calls())
	assert.Equal(t, []bool{true}, r.notifier.leds)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.led))
}

func TestDispatcher_LEDOffSendsHeaderOnly(t *testing.T) {
	for _, initial := range []bool{false, true} {
		r := newRig(t)
		require.NoError(t, r.d.led.Set(initial))

		out := exchange(t, r.d, httpGet("/?onboard_led=0"))

		assert.Equal(t, responseHeader, out)
		assert.False(t, r.pin.State(), "initial=%t", initial)
	}
}

func TestDispatcher_BothMarkersOffWins(t *testing.T) {
	r := newRig(t)

	out := exchange(t, r.d, "GET /?onboard_led=1&x=?onboard_led=0 HTTP/1.1\r\n\r\n")

	assert.Equal(t, responseHeader, out)
	assert.Equal(t, []bool{true, false}, r.pin.Writes())
	assert.False(t, r.pin.State())
}

func TestDispatcher_ToggleSuppressesSensorBody(t *testing.T) {
	r := newRig(t)

	out := exchange(t, r.d, httpGet("/?onnew_vlaue=1?onboard_led=1"))

	assert.Equal(t, responseHeader, out)
	assert.True(t, r.pin.State())
}

func TestDispatcher_SensorReturnsMetric(t *testing.T) {
	r := newRig(t)
	r.adc.raw = 0

	out := exchange(t, r.d, httpGet("/?onnew_vlaue=1"))

	assert.Equal(t, responseHeader+"-100.0", out)
	assert.Empty(t, r.pin.Writes())
	assert.Equal(t, 0, r.pages.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.requests.WithLabelValues("sensor")))
}

func TestDispatcher_SensorIsFreshPerRequest(t *testing.T) {
	r := newRig(t)

	r.adc.raw = 0
	first := exchange(t, r.d, httpGet("/?onnew_vlaue=1"))
	r.adc.raw = 65535
	second := exchange(t, r.d, httpGet("/?onnew_vlaue=1"))

	assert.Equal(t, responseHeader+"-100.0", first)
	assert.Equal(t, responseHeader+formatMetric(ConvertSample(65535).Metric), second)
	assert.Equal(t, 2, r.notifier.samples)
}

func TestDispatcher_NoMarkerReturnsPage(t *testing.T) {
	r := newRig(t)

	out := exchange(t, r.d, httpGet("/"))

	assert.Equal(t, responseHeader+testPage, out)
	assert.Equal(t, 1, r.notifier.samples, "sample taken even when not returned")
}

func TestDispatcher_PageReloadedEveryRequest(t *testing.T) {
	r := newRig(t)

	first := exchange(t, r.d, httpGet("/"))
	r.pages.set("<p>edited</p>")
	second := exchange(t, r.d, httpGet("/"))

	assert.Equal(t, responseHeader+testPage, first)
	assert.Equal(t, responseHeader+"<p>edited</p>", second)
	assert.Equal(t, 2, r.pages.Calls())
}

func TestDispatcher_EmptyRequestReturnsPage(t *testing.T) {
	r := newRig(t)

	out := exchange(t, r.d, "")

	assert.Equal(t, responseHeader+testPage, out)
}

func TestDispatcher_MarkerBeyondLimitIgnored(t *testing.T) {
	r := newRig(t)
	r.d.cfg.RequestLimit = 16

	out := exchange(t, r.d, "GET /padding....?onboard_led=1 HTTP/1.1\r\n\r\n")

	assert.Equal(t, responseHeader+testPage, out)
	assert.Empty(t, r.pin.Writes())
}

func TestDispatcher_PageFaultClosesWithoutResponse(t *testing.T) {
	r := newRig(t)
	r.pages.errs = []error{errors.New("no such file")}

	out := exchange(t, r.d, httpGet("/"))

	assert.Empty(t, out)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.faults))
}

func TestDispatcher_SampleFaultClosesWithoutResponse(t *testing.T) {
	r := newRig(t)
	r.adc.errs = []error{errors.New("i2c nack")}

	out := exchange(t, r.d, httpGet("/?onboard_led=1"))

	assert.Empty(t, out)
	assert.Empty(t, r.pin.Writes())
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.faults))
}

func TestDispatcher_RespondWrapsFaults(t *testing.T) {
	r := newRig(t)
	r.pages.errs = []error{io.ErrUnexpectedEOF}
	srv, cli := net.Pipe()
	defer cli.Close()
	go func() { _, _ = cli.Write([]byte(httpGet("/"))) }()

	err := r.d.respond(srv, discardLogger())
	srv.Close()

	var connErr *ConnError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "page", connErr.Op)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func dial(t *testing.T, addr, req string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = io.WriteString(conn, req)
	require.NoError(t, err)
	b, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(b)
}

func serve(t *testing.T, d *Dispatcher) (addr string, stop func()) {
	t.Helper()
	ln, err := listenTCP("127.0.0.1:0", 3)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx, ln) }()
	return ln.Addr().String(), func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after cancel")
		}
	}
}

func TestServe_HandlesSequentialConnections(t *testing.T) {
	r := newRig(t)
	addr, stop := serve(t, r.d)
	defer stop()

	assert.Equal(t, responseHeader, dial(t, addr, httpGet("/?onboard_led=1")))
	assert.True(t, r.pin.State())
	assert.Equal(t, responseHeader+"-100.0", dial(t, addr, httpGet("/?onnew_vlaue=1")))
	assert.Equal(t, responseHeader, dial(t, addr, httpGet("/?onboard_led=0")))
	assert.False(t, r.pin.State())
	assert.Equal(t, responseHeader+testPage, dial(t, addr, httpGet("/index.html")))
}

func TestServe_SurvivesConnectionFaults(t *testing.T) {
	r := newRig(t)
	r.pages.errs = []error{errors.New("storage unavailable")}
	addr, stop := serve(t, r.d)
	defer stop()

	assert.Empty(t, dial(t, addr, httpGet("/")))

	// A client that hangs up immediately must not stop the loop either.
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	conn.Close()

	assert.Equal(t, responseHeader+testPage, dial(t, addr, httpGet("/")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(r.metrics.faults), 1.0)
}

func TestServe_OneConnectionAtATime(t *testing.T) {
	r := newRig(t)
	r.pages.release = make(chan struct{})
	addr, stop := serve(t, r.d)
	defer stop()

	first := make(chan string, 1)
	go func() { first <- dial(t, addr, httpGet("/")) }()
	assert.Eventually(t, func() bool { return r.d.State() == StateHandling }, 2*time.Second, 10*time.Millisecond)

	// The second client is queued in the backlog until the first finishes.
	second, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer second.Close()
	_, err = io.WriteString(second, httpGet("/?onboard_led=1"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.False(t, r.pin.State(), "second request handled while first in progress")

	close(r.pages.release)
	assert.Equal(t, responseHeader+testPage, <-first)

	require.NoError(t, second.SetReadDeadline(time.Now().Add(5*time.Second)))
	b, err := io.ReadAll(second)
	require.NoError(t, err)
	assert.Equal(t, responseHeader, string(b))
	assert.True(t, r.pin.State())
	assert.Eventually(t, func() bool { return r.d.State() == StateListening }, 2*time.Second, 10*time.Millisecond)
}

func TestConnError(t *testing.T) {
	err := &ConnError{Op: "write", Err: errors.New("broken pipe")}
	assert.Equal(t, "connection write: broken pipe", err.Error())
	assert.True(t, strings.HasPrefix(err.Error(), "connection "))
}
