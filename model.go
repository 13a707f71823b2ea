package main

// LinkStatus is the raw status code reported by the wireless radio.  The
// values follow the radio driver: zero and positive codes are progress
// states, negative codes are failures.
type LinkStatus int

const (
	LinkDown    LinkStatus = 0  // interface idle, not associated
	LinkJoin    LinkStatus = 1  // association in progress
	LinkNoIP    LinkStatus = 2  // associated, waiting for an address
	LinkUp      LinkStatus = 3  // associated with an address
	LinkFail    LinkStatus = -1 // association failed
	LinkNoNet   LinkStatus = -2 // access point not found
	LinkBadAuth LinkStatus = -3 // credentials rejected
)

// Terminal reports whether polling can stop at this status.
func (s LinkStatus) Terminal() bool {
	return s < LinkDown || s >= LinkUp
}

func (s LinkStatus) String() string {
	switch s {
	case LinkDown:
		return "down"
	case LinkJoin:
		return "joining"
	case LinkNoIP:
		return "no-ip"
	case LinkUp:
		return "up"
	case LinkFail:
		return "fail"
	case LinkNoNet:
		return "no-net"
	case LinkBadAuth:
		return "bad-auth"
	default:
		return "unknown"
	}
}

// AssociationStatus is the coarse outcome of joining the access point.
type AssociationStatus string

const (
	AssociationIdle       AssociationStatus = "idle"
	AssociationConnecting AssociationStatus = "connecting"
	AssociationSuccess    AssociationStatus = "success"
	AssociationFailure    AssociationStatus = "failure"
)

// statusOf maps a raw link code onto the coarse association status.
func statusOf(s LinkStatus) AssociationStatus {
	switch {
	case s == LinkUp:
		return AssociationSuccess
	case s < LinkDown || s > LinkUp:
		return AssociationFailure
	case s == LinkDown:
		return AssociationIdle
	default:
		return AssociationConnecting
	}
}

// AssociationResult is produced once at startup and never modified.
type AssociationResult struct {
	Status  AssociationStatus
	Link    LinkStatus
	Address string // empty unless Status is AssociationSuccess
	MAC     string
}

// SensorSample is one ADC reading and the quantities derived from it.
type SensorSample struct {
	Raw     uint16  // 16-bit sample, 0..65535
	Voltage float64 // volts, 0..3.3
	Metric  float64 // soil moisture percentage
}

// Command holds the markers found in one request.  Markers are tested
// independently, so any combination may be set.
type Command struct {
	LEDOn      bool
	LEDOff     bool
	SensorRead bool
}

// Toggles reports whether the request carried an LED marker.  Such requests
// get the header only.
func (c Command) Toggles() bool {
	return c.LEDOn || c.LEDOff
}

// Name is a short label used for logs and metrics.
func (c Command) Name() string {
	switch {
	case c.LEDOn && c.LEDOff:
		return "led_on_off"
	case c.LEDOn:
		return "led_on"
	case c.LEDOff:
		return "led_off"
	case c.SensorRead:
		return "sensor"
	default:
		return "page"
	}
}
