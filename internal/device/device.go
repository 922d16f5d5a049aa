package device

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"camwatch/internal/gphoto"
	"camwatch/internal/logging"
)

// ID is a device's immutable identity.
type ID struct {
	Bus  int `json:"bus"`
	Port int `json:"port"`
}

// String returns the gphoto2 port path for the identity.
func (id ID) String() string {
	return gphoto.PortPath(id.Bus, id.Port)
}

// ParseID accepts "usb:BBB,PPP" or the bare "BBB,PPP" form.
func ParseID(value string) (ID, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "usb:")
	busText, portText, ok := strings.Cut(trimmed, ",")
	if !ok {
		return ID{}, fmt.Errorf("invalid device %q: want usb:BBB,PPP", value)
	}
	bus, err := strconv.Atoi(strings.TrimSpace(busText))
	if err != nil || bus < 0 {
		return ID{}, fmt.Errorf("invalid bus in %q", value)
	}
	port, err := strconv.Atoi(strings.TrimSpace(portText))
	if err != nil || port < 0 {
		return ID{}, fmt.Errorf("invalid port in %q", value)
	}
	return ID{Bus: bus, Port: port}, nil
}

// StateChange describes one published transition.
type StateChange struct {
	Device  ID
	Name    string
	State   State
	Payload Payload
	// Reset is true when the change was forced by ResetState.
	Reset bool
}

// Listener receives state changes. It is invoked synchronously on the
// goroutine that called SetState.
type Listener interface {
	DeviceStateChanged(dev *Device, change StateChange)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(dev *Device, change StateChange)

// DeviceStateChanged implements Listener.
func (f ListenerFunc) DeviceStateChanged(dev *Device, change StateChange) { f(dev, change) }

// Option configures a Device.
type Option func(*Device)

// WithListener sets the change listener.
func WithListener(listener Listener) Option {
	return func(d *Device) { d.listener = listener }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Device) { d.logger = logger }
}

// Device is one tracked camera. It is not safe for concurrent use; all
// access happens on the dispatch loop.
type Device struct {
	id          ID
	name        string
	state       State
	payload     Payload
	files       []gphoto.File
	destination string
	listener    Listener
	logger      *slog.Logger
}

// New creates a device in the Init state.
func New(name string, id ID, opts ...Option) *Device {
	d := &Device{id: id, name: name, state: Init}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logging.NewNop()
	}
	d.logger = d.logger.With(logging.String(logging.FieldDevice, id.String()), logging.String(logging.FieldDeviceName, name))
	return d
}

func (d *Device) ID() ID              { return d.id }
func (d *Device) Name() string        { return d.name }
func (d *Device) State() State        { return d.state }
func (d *Device) Payload() Payload    { return d.payload }
func (d *Device) Destination() string { return d.destination }

// SetDestination records the resolved destination directory.
func (d *Device) SetDestination(path string) {
	d.destination = path
}

// Files returns a copy of the current file inventory.
func (d *Device) Files() []gphoto.File {
	out := make([]gphoto.File, len(d.files))
	copy(out, d.files)
	return out
}

// SetFiles replaces the file inventory wholesale.
func (d *Device) SetFiles(files []gphoto.File) {
	d.files = make([]gphoto.File, len(files))
	copy(d.files, files)
}

// FileCount returns the number of listed files.
func (d *Device) FileCount() int {
	return len(d.files)
}

// TotalKB sums the listed file sizes.
func (d *Device) TotalKB() int64 {
	var total int64
	for _, f := range d.files {
		total += f.SizeKB
	}
	return total
}

// SetState transitions to state with payload and notifies the listener. It is
// a no-op when both already match, and once the device is Removed. It reports
// whether a change was published.
func (d *Device) SetState(state State, payload Payload) bool {
	if d.state == Removed {
		d.logger.Debug("ignoring transition on removed device",
			logging.String("requested_state", state.String()),
		)
		return false
	}
	if d.state == state && d.payload.Equal(payload) {
		return false
	}
	previous := d.state
	d.state = state
	d.payload = payload
	if previous != state {
		d.logger.Debug("device state changed",
			logging.String("from", previous.String()),
			logging.String("to", state.String()),
			logging.String("payload", payload.Kind.String()),
		)
	}
	d.publish(false)
	return true
}

// ResetState re-publishes the current state and payload unconditionally.
func (d *Device) ResetState() {
	if d.state == Removed {
		return
	}
	d.publish(true)
}

// MarkRemoved moves the device into the terminal Removed state.
func (d *Device) MarkRemoved() {
	if d.state == Removed {
		return
	}
	d.state = Removed
	d.payload = NoPayload()
	d.publish(false)
}

// IsBusy reports whether a transfer job may still be running.
func (d *Device) IsBusy() bool {
	return d.state == Transferring || d.state == Cancel
}

// CanRequestTransfer reports whether a transfer may be proposed to the user.
func (d *Device) CanRequestTransfer() bool {
	return d.state == Idle && len(d.files) > 0
}

// Snapshot is a read-only copy suitable for handing off the loop.
type Snapshot struct {
	ID          ID      `json:"id"`
	PortPath    string  `json:"port_path"`
	Name        string  `json:"name"`
	State       string  `json:"state"`
	Payload     Payload `json:"payload"`
	FileCount   int     `json:"file_count"`
	TotalKB     int64   `json:"total_kb"`
	Destination string  `json:"destination"`
}

// Snapshot captures the device's current view.
func (d *Device) Snapshot() Snapshot {
	return Snapshot{
		ID:          d.id,
		PortPath:    d.id.String(),
		Name:        d.name,
		State:       d.state.String(),
		Payload:     d.payload,
		FileCount:   len(d.files),
		TotalKB:     d.TotalKB(),
		Destination: d.destination,
	}
}

func (d *Device) publish(reset bool) {
	if d.listener == nil {
		return
	}
	d.listener.DeviceStateChanged(d, StateChange{
		Device:  d.id,
		Name:    d.name,
		State:   d.state,
		Payload: d.payload,
		Reset:   reset,
	})
}
