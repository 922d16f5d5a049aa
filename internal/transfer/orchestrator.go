package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"camwatch/internal/device"
	"camwatch/internal/dispatch"
	"camwatch/internal/gphoto"
	"camwatch/internal/logging"
	"camwatch/internal/notifications"
	"camwatch/internal/services"
	"camwatch/internal/settings"
)

var (
	// ErrNoFiles is returned when a transfer is requested for an empty device.
	ErrNoFiles = errors.New("device has no files to transfer")
	// ErrNoDestination is returned when no destination directory is known.
	ErrNoDestination = errors.New("no destination directory resolved")
	// ErrBusy is returned when the device already runs a transfer job.
	ErrBusy = errors.New("transfer already in progress")
)

// Camera is the subset of the gphoto2 client the jobs drive.
type Camera interface {
	ListFiles(ctx context.Context, bus, port int) ([]gphoto.File, error)
	GetFile(ctx context.Context, bus, port int, file gphoto.File, destDir string) error
	DeleteFile(ctx context.Context, bus, port int, file gphoto.File) error
}

// Lookup re-resolves a device by identity. It is only called on the loop.
type Lookup interface {
	Device(id device.ID) (*device.Device, bool)
}

// Store persists destinations and job history.
type Store interface {
	ResolveDestination(ctx context.Context, deviceName, fallback string) (string, error)
	RecordTransfer(ctx context.Context, rec settings.TransferRecord) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStore enables destination lookup and history recording.
func WithStore(store Store) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithNotifier sets the push notification service.
func WithNotifier(notifier notifications.Service) Option {
	return func(o *Orchestrator) { o.notifier = notifier }
}

// WithDefaultDestination sets the destination used when none is stored for a
// device name.
func WithDefaultDestination(path string) Option {
	return func(o *Orchestrator) { o.defaultDestination = path }
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithProgressBuckets sets the percentage step between progress log lines.
func WithProgressBuckets(step float64) Option {
	return func(o *Orchestrator) { o.progressStep = step }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// Orchestrator owns listing and transfer jobs. At most one transfer job runs
// per device.
type Orchestrator struct {
	loop               *dispatch.Loop
	lookup             Lookup
	camera             Camera
	store              Store
	notifier           notifications.Service
	defaultDestination string
	clock              Clock
	progressStep       float64
	logger             *slog.Logger

	mu      sync.Mutex
	baseCtx context.Context
	active  map[device.ID]string
	wg      sync.WaitGroup
}

// New constructs an orchestrator. lookup is usually the registry.
func New(loop *dispatch.Loop, lookup Lookup, camera Camera, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		loop:    loop,
		lookup:  lookup,
		camera:  camera,
		clock:   systemClock{},
		baseCtx: context.Background(),
		active:  make(map[device.ID]string),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.NewComponentLogger(o.logger, "transfer")
	return o
}

// Start binds background jobs to ctx. Jobs started afterwards stop their
// external tool invocations when ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	o.baseCtx = ctx
	o.mu.Unlock()
}

// Wait blocks until every background job has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Active returns the job ID running for id, if any.
func (o *Orchestrator) Active(id device.ID) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	jobID, ok := o.active[id]
	return jobID, ok
}

// ListFiles starts a listing job for dev. It must be called on the loop and
// returns immediately.
func (o *Orchestrator) ListFiles(dev *device.Device) {
	id := dev.ID()
	name := dev.Name()
	dev.SetState(device.Init, device.MessagePayload("Listing files..."))

	ctx := services.WithDevice(o.context(), id.String())
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runListing(ctx, id, name)
	}()
}

func (o *Orchestrator) runListing(ctx context.Context, id device.ID, name string) {
	logger := logging.WithContext(ctx, o.logger)
	files, err := o.camera.ListFiles(ctx, id.Bus, id.Port)
	if err != nil {
		logging.WarnWithContext(logger, "listing files failed", "listing_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, services.ErrorHint(err)),
			logging.String(logging.FieldImpact, "camera shown in error state until reattached"),
		)
		o.loop.Post(func() {
			if dev, ok := o.lookup.Device(id); ok {
				dev.SetState(device.Error, device.MessagePayload(err.Error()))
			}
		})
		return
	}

	destination := o.resolveDestination(ctx, name)
	logger.Info("listed camera files",
		logging.String(logging.FieldEventType, "files_listed"),
		logging.Int("files", len(files)),
		logging.String("destination", destination),
	)

	o.loop.Post(func() {
		dev, ok := o.lookup.Device(id)
		if !ok {
			return
		}
		dev.SetFiles(files)
		dev.SetDestination(destination)
		if state := dev.State(); state == device.Init || state == device.Idle {
			dev.SetState(device.Idle, device.MessagePayload(fmt.Sprintf("Files on device: %d", len(files))))
		}
	})

	if o.notifier != nil && len(files) > 0 {
		if err := o.notifier.NotifyCameraAttached(ctx, name, len(files)); err != nil {
			logger.Debug("attach notification failed", logging.Error(err))
		}
	}
}

func (o *Orchestrator) resolveDestination(ctx context.Context, name string) string {
	if o.store == nil {
		return o.defaultDestination
	}
	destination, err := o.store.ResolveDestination(ctx, name, o.defaultDestination)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, o.logger), "destination lookup failed; using default", "destination_lookup_failed",
			logging.Error(err),
			logging.String("default", o.defaultDestination),
		)
		return o.defaultDestination
	}
	return destination
}

// Precondition vets a device on the loop before a transfer job claims it.
type Precondition func(dev *device.Device) error

// DownloadFiles starts a transfer job for the device at id, removing the
// originals afterwards when move is set. checks run in the same loop step that
// claims the job. It must not be called from the loop. The returned job ID
// identifies the job in logs and history.
func (o *Orchestrator) DownloadFiles(ctx context.Context, id device.ID, move bool, checks ...Precondition) (string, error) {
	var (
		spec   jobSpec
		reject error
	)
	err := o.loop.Call(ctx, func() {
		dev, ok := o.lookup.Device(id)
		if !ok {
			reject = services.Wrap(services.ErrNotFound, "transfer", "download", "no camera at "+id.String(), nil)
			return
		}
		for _, check := range checks {
			if reject = check(dev); reject != nil {
				return
			}
		}
		if _, running := o.Active(id); running || dev.State() == device.Transferring {
			reject = ErrBusy
			return
		}
		if dev.FileCount() == 0 {
			reject = ErrNoFiles
			return
		}
		if dev.Destination() == "" {
			reject = ErrNoDestination
			return
		}
		spec = newJobSpec(dev, move)
		o.mu.Lock()
		o.active[id] = spec.jobID
		o.mu.Unlock()
		dev.SetState(device.Transferring, device.RemoveOriginalsPayload(move))
	})
	if err != nil {
		return "", err
	}
	if reject != nil {
		return "", reject
	}

	jobCtx := services.WithJobID(services.WithDevice(o.context(), id.String()), spec.jobID)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runTransfer(jobCtx, spec)
	}()
	return spec.jobID, nil
}

// CancelDownload signals the running job for id to stop before its next file.
func (o *Orchestrator) CancelDownload(id device.ID) bool {
	return o.loop.Post(func() {
		if dev, ok := o.lookup.Device(id); ok {
			dev.SetState(device.Cancel, device.NoPayload())
		}
	})
}

func (o *Orchestrator) release(id device.ID) {
	o.mu.Lock()
	delete(o.active, id)
	o.mu.Unlock()
}

func (o *Orchestrator) context() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.baseCtx
}

// publishProgress reports stats unless a cancel request is already pending.
func (o *Orchestrator) publishProgress(id device.ID, stats device.Stats) {
	o.loop.Post(func() {
		dev, ok := o.lookup.Device(id)
		if !ok || dev.State() == device.Cancel {
			return
		}
		dev.SetState(device.Transferring, device.StatsPayload(stats))
	})
}

// finish frees the job slot and applies the terminal state in one loop step,
// so a follow-up request sees either a running job or a free slot.
func (o *Orchestrator) finish(id device.ID, state device.State, payload device.Payload) {
	posted := o.loop.Post(func() {
		o.release(id)
		if dev, ok := o.lookup.Device(id); ok {
			dev.SetState(state, payload)
		}
	})
	if !posted {
		o.release(id)
	}
}
