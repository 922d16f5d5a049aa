// Package registry owns the set of attached cameras and reconciles it against
// fresh gphoto2 auto-detect snapshots.
package registry

import (
	"context"
	"log/slog"
	"sync"

	"camwatch/internal/device"
	"camwatch/internal/dispatch"
	"camwatch/internal/gphoto"
	"camwatch/internal/logging"
	"camwatch/internal/services"
)

// Enumerator lists attached cameras.
type Enumerator interface {
	AutoDetect(ctx context.Context) ([]gphoto.Camera, error)
}

// Lister starts a listing job for a newly added device. It is invoked on the
// dispatch loop and must not block.
type Lister interface {
	ListFiles(dev *device.Device)
}

// Observer receives membership notifications on the dispatch loop. A device
// passed to DeviceAboutToBeRemoved must not be used after the call returns.
type Observer interface {
	DeviceAdded(dev *device.Device)
	DeviceAboutToBeRemoved(dev *device.Device)
	DevicesRemoved(remaining int)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLister sets the job starter for new devices.
func WithLister(lister Lister) Option {
	return func(r *Registry) { r.lister = lister }
}

// WithObserver sets the membership observer.
func WithObserver(observer Observer) Option {
	return func(r *Registry) { r.observer = observer }
}

// WithDeviceListener sets the state listener attached to every new device.
func WithDeviceListener(listener device.Listener) Option {
	return func(r *Registry) { r.listener = listener }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// Registry tracks devices keyed by (bus, port). Device, Devices, Count and
// the observer callbacks all run on the dispatch loop.
type Registry struct {
	enumerator Enumerator
	loop       *dispatch.Loop
	lister     Lister
	observer   Observer
	listener   device.Listener
	logger     *slog.Logger

	refreshMu sync.Mutex
	devices   []*device.Device
}

// New constructs a registry bound to loop.
func New(enumerator Enumerator, loop *dispatch.Loop, opts ...Option) *Registry {
	r := &Registry{enumerator: enumerator, loop: loop}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "registry")
	return r
}

// SetLister replaces the job starter. Used to break the construction cycle
// between the registry and the transfer orchestrator.
func (r *Registry) SetLister(lister Lister) {
	r.lister = lister
}

// Refresh enumerates cameras and reconciles the tracked set. New devices are
// added (and a listing job started) before vanished devices are removed.
// Devices present in both snapshots are left untouched. An enumeration failure
// leaves the registry as it was and returns an error marked with
// services.ErrExternalTool or services.ErrTimeout.
//
// Refresh must not be called from the dispatch loop itself.
func (r *Registry) Refresh(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	cameras, err := r.enumerator.AutoDetect(ctx)
	if err != nil {
		wrapped := services.Wrap(services.ErrExternalTool, "registry", "auto-detect", "enumeration failed", err)
		logging.ErrorWithContext(logging.WithContext(ctx, r.logger), "camera enumeration failed", "enumeration_failed",
			logging.Error(err),
			logging.Alert("fatal"),
			logging.String(logging.FieldErrorHint, services.ErrorHint(err)),
			logging.String(logging.FieldImpact, "device list may be stale"),
		)
		return wrapped
	}

	return r.loop.Call(ctx, func() {
		r.reconcile(cameras)
	})
}

func (r *Registry) reconcile(cameras []gphoto.Camera) {
	seen := make(map[device.ID]struct{}, len(cameras))
	added := 0
	for _, camera := range cameras {
		id := device.ID{Bus: camera.Bus, Port: camera.Port}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := r.Device(id); ok {
			continue
		}

		dev := device.New(camera.Name, id, device.WithListener(r.listener), device.WithLogger(r.logger))
		r.devices = append(r.devices, dev)
		added++
		r.logger.Info("camera attached",
			logging.String(logging.FieldEventType, "device_added"),
			logging.String(logging.FieldDevice, id.String()),
			logging.String(logging.FieldDeviceName, camera.Name),
		)
		if r.observer != nil {
			r.observer.DeviceAdded(dev)
		}
		if r.lister != nil {
			r.lister.ListFiles(dev)
		}
	}

	removed := 0
	for i := len(r.devices) - 1; i >= 0; i-- {
		dev := r.devices[i]
		if _, ok := seen[dev.ID()]; ok {
			continue
		}
		if r.observer != nil {
			r.observer.DeviceAboutToBeRemoved(dev)
		}
		dev.MarkRemoved()
		r.devices = append(r.devices[:i], r.devices[i+1:]...)
		removed++
		r.logger.Info("camera detached",
			logging.String(logging.FieldEventType, "device_removed"),
			logging.String(logging.FieldDevice, dev.ID().String()),
			logging.String(logging.FieldDeviceName, dev.Name()),
		)
		if r.observer != nil {
			r.observer.DevicesRemoved(len(r.devices))
		}
	}

	if added > 0 || removed > 0 {
		r.logger.Debug("registry reconciled",
			logging.Int("added", added),
			logging.Int("removed", removed),
			logging.Int("tracked", len(r.devices)),
		)
	}
}

// Device looks up a tracked device. Absence is reported explicitly.
func (r *Registry) Device(id device.ID) (*device.Device, bool) {
	for _, dev := range r.devices {
		if dev.ID() == id {
			return dev, true
		}
	}
	return nil, false
}

// Devices returns the tracked devices in insertion order.
func (r *Registry) Devices() []*device.Device {
	out := make([]*device.Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// Count returns the number of tracked devices.
func (r *Registry) Count() int {
	return len(r.devices)
}

// Snapshots captures every device's view. Loop-only.
func (r *Registry) Snapshots() []device.Snapshot {
	out := make([]device.Snapshot, 0, len(r.devices))
	for _, dev := range r.devices {
		out = append(out, dev.Snapshot())
	}
	return out
}
