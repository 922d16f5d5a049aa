package daemon

import (
	"context"
	"fmt"
	"strings"

	"camwatch/internal/device"
	"camwatch/internal/gphoto"
	"camwatch/internal/logging"
	"camwatch/internal/presentation"
	"camwatch/internal/services"
)

// DeviceView is a device snapshot together with its rendered presentation.
type DeviceView struct {
	device.Snapshot
	View  presentation.View `json:"view"`
	JobID string            `json:"job_id,omitempty"`
}

// Devices returns every tracked camera in attach order.
func (d *Daemon) Devices(ctx context.Context) ([]DeviceView, error) {
	if !d.running.Load() {
		return nil, errNotRunning("devices")
	}
	var views []DeviceView
	err := d.loop.Call(ctx, func() {
		for _, dev := range d.registry.Devices() {
			views = append(views, d.viewOf(dev))
		}
	})
	return views, err
}

// Device returns a single camera's view.
func (d *Daemon) Device(ctx context.Context, id device.ID) (DeviceView, error) {
	var view DeviceView
	err := d.withDevice(ctx, id, "describe", func(dev *device.Device) error {
		view = d.viewOf(dev)
		return nil
	})
	return view, err
}

// Files returns the transferable files last listed for a camera.
func (d *Daemon) Files(ctx context.Context, id device.ID) ([]gphoto.File, error) {
	var files []gphoto.File
	err := d.withDevice(ctx, id, "files", func(dev *device.Device) error {
		files = dev.Files()
		return nil
	})
	return files, err
}

// RequestTransfer proposes copying (or moving) every listed file and waits
// for Confirm or Decline.
func (d *Daemon) RequestTransfer(ctx context.Context, id device.ID, move bool) error {
	return d.withDevice(ctx, id, "request transfer", func(dev *device.Device) error {
		if !dev.CanRequestTransfer() {
			if dev.State() == device.Idle {
				return services.Wrap(services.ErrValidation, "daemon", "request transfer", "no files to transfer", nil)
			}
			return invalidState("request transfer", dev)
		}
		dev.SetState(device.VerifyTransfer, device.RemoveOriginalsPayload(move))
		return nil
	})
}

// Confirm starts the transfer proposed by RequestTransfer and returns its
// job ID.
func (d *Daemon) Confirm(ctx context.Context, id device.ID) (string, error) {
	var move bool
	err := d.withDevice(ctx, id, "confirm", func(dev *device.Device) error {
		if dev.State() != device.VerifyTransfer {
			return invalidState("confirm", dev)
		}
		move = proposedMove(dev)
		return nil
	})
	if err != nil {
		return "", err
	}
	// A decline or a new request may land between the two loop steps.
	stillProposed := func(dev *device.Device) error {
		if dev.State() != device.VerifyTransfer || proposedMove(dev) != move {
			return invalidState("confirm", dev)
		}
		return nil
	}
	jobID, err := d.transfers.DownloadFiles(ctx, id, move, stillProposed)
	if err != nil {
		return "", err
	}
	d.logger.Info("transfer confirmed",
		logging.String(logging.FieldEventType, "transfer_confirmed"),
		logging.String(logging.FieldDevice, id.String()),
		logging.String(logging.FieldJobID, jobID),
		logging.Bool("move", move),
	)
	return jobID, nil
}

// Decline abandons a proposed transfer.
func (d *Daemon) Decline(ctx context.Context, id device.ID) error {
	return d.withDevice(ctx, id, "decline", func(dev *device.Device) error {
		if dev.State() != device.VerifyTransfer {
			return invalidState("decline", dev)
		}
		dev.SetState(device.Idle, device.MessagePayload(fmt.Sprintf("Files on device: %d", dev.FileCount())))
		return nil
	})
}

// Cancel asks a running transfer to stop before its next file.
func (d *Daemon) Cancel(ctx context.Context, id device.ID) error {
	err := d.withDevice(ctx, id, "cancel", func(dev *device.Device) error {
		if dev.State() != device.Transferring {
			return invalidState("cancel", dev)
		}
		return nil
	})
	if err != nil {
		return err
	}
	d.transfers.CancelDownload(id)
	return nil
}

// Ack dismisses a Done or Error state and re-lists the camera, so files
// moved off it disappear from the inventory.
func (d *Daemon) Ack(ctx context.Context, id device.ID) error {
	return d.withDevice(ctx, id, "ack", func(dev *device.Device) error {
		switch dev.State() {
		case device.Done, device.Error:
			d.transfers.ListFiles(dev)
			return nil
		default:
			return invalidState("ack", dev)
		}
	})
}

// Destination returns the directory the camera's files are copied into.
func (d *Daemon) Destination(ctx context.Context, id device.ID) (string, error) {
	var destination string
	err := d.withDevice(ctx, id, "destination", func(dev *device.Device) error {
		destination = dev.Destination()
		return nil
	})
	return destination, err
}

// SetDestination persists path for the camera's model name and applies it
// to every attached camera sharing that name.
func (d *Daemon) SetDestination(ctx context.Context, id device.ID, path string) error {
	var name string
	if err := d.withDevice(ctx, id, "set destination", func(dev *device.Device) error {
		name = dev.Name()
		return nil
	}); err != nil {
		return err
	}
	if err := d.store.SetDestination(ctx, name, path); err != nil {
		return err
	}
	stored, err := d.store.ResolveDestination(ctx, name, d.cfg.Paths.DefaultDestination)
	if err != nil {
		return err
	}
	d.logger.Info("destination updated",
		logging.String(logging.FieldEventType, "destination_updated"),
		logging.String(logging.FieldDeviceName, name),
		logging.String("destination", stored),
	)
	return d.loop.Call(ctx, func() {
		for _, dev := range d.registry.Devices() {
			if strings.TrimSpace(dev.Name()) != strings.TrimSpace(name) || dev.IsBusy() {
				continue
			}
			dev.SetDestination(stored)
			dev.ResetState()
		}
	})
}

func (d *Daemon) viewOf(dev *device.Device) DeviceView {
	view := DeviceView{
		Snapshot: dev.Snapshot(),
		View:     presentation.Render(dev.State(), dev.Payload(), dev.FileCount()),
	}
	if jobID, ok := d.transfers.Active(dev.ID()); ok {
		view.JobID = jobID
	}
	return view
}

// withDevice runs fn on the loop against the device at id.
func (d *Daemon) withDevice(ctx context.Context, id device.ID, operation string, fn func(dev *device.Device) error) error {
	if !d.running.Load() {
		return errNotRunning(operation)
	}
	var result error
	err := d.loop.Call(ctx, func() {
		dev, ok := d.registry.Device(id)
		if !ok {
			result = services.Wrap(services.ErrNotFound, "daemon", operation, "no camera at "+id.String(), nil)
			return
		}
		result = fn(dev)
	})
	if err != nil {
		return err
	}
	return result
}

func proposedMove(dev *device.Device) bool {
	payload := dev.Payload()
	return payload.Kind == device.PayloadRemoveOriginals && payload.RemoveOriginals
}

func invalidState(operation string, dev *device.Device) error {
	return services.Wrap(services.ErrValidation, "daemon", operation,
		fmt.Sprintf("camera %s is %s", dev.ID(), dev.State()), nil)
}

func errNotRunning(operation string) error {
	return services.Wrap(services.ErrConfiguration, "daemon", operation, "daemon not running", nil)
}
