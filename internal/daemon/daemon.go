package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"camwatch/internal/config"
	"camwatch/internal/deps"
	"camwatch/internal/dispatch"
	"camwatch/internal/gphoto"
	"camwatch/internal/hotplug"
	"camwatch/internal/logging"
	"camwatch/internal/notifications"
	"camwatch/internal/preflight"
	"camwatch/internal/procrun"
	"camwatch/internal/registry"
	"camwatch/internal/services"
	"camwatch/internal/settings"
	"camwatch/internal/transfer"
)

// ErrAlreadyRunning is returned when the instance lock is held elsewhere or
// Start is called twice.
var ErrAlreadyRunning = errors.New("camwatch daemon already running")

// Option customizes daemon construction.
type Option func(*options)

type options struct {
	runner        procrun.Runner
	notifier      notifications.Service
	source        hotplug.Source
	sourceSet     bool
	eventCapacity int
}

// WithRunner replaces the subprocess runner used for gphoto2 and udevadm.
func WithRunner(runner procrun.Runner) Option {
	return func(o *options) { o.runner = runner }
}

// WithNotifier replaces the ntfy-backed notifier.
func WithNotifier(notifier notifications.Service) Option {
	return func(o *options) { o.notifier = notifier }
}

// WithHotplugSource overrides the configured hotplug source. A nil source
// disables hotplug detection.
func WithHotplugSource(source hotplug.Source) Option {
	return func(o *options) {
		o.source = source
		o.sourceSet = true
	}
}

// WithEventCapacity bounds the presentation event buffer.
func WithEventCapacity(capacity int) Option {
	return func(o *options) { o.eventCapacity = capacity }
}

// Daemon owns the dispatch loop and everything that posts to it.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *settings.Store
	notifier notifications.Service

	loop      *dispatch.Loop
	camera    *gphoto.Client
	registry  *registry.Registry
	transfers *transfer.Orchestrator
	watcher   *hotplug.Watcher
	events    *eventHub
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool

	mu          sync.Mutex
	runCtx      context.Context
	cancel      context.CancelFunc
	group       *errgroup.Group
	startedAt   time.Time
	lastRefresh time.Time
	refreshErr  error
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	StartedAt    time.Time          `json:"started_at"`
	Devices      int                `json:"devices"`
	Transferring int                `json:"transferring"`
	DevicesError string             `json:"devices_error,omitempty"`
	LastRefresh  time.Time          `json:"last_refresh"`
	RefreshError string             `json:"refresh_error,omitempty"`
	Hotplug      hotplug.Status     `json:"hotplug"`
	APIAddress   string             `json:"api_address,omitempty"`
	SettingsPath string             `json:"settings_path"`
	LockFilePath string             `json:"lock_file_path"`
	Dependencies []deps.Status      `json:"dependencies"`
	Preflight    []preflight.Result `json:"preflight"`
}

// New constructs a daemon with initialized dependencies. Nothing runs until
// Start.
func New(cfg *config.Config, store *settings.Store, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and settings store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	o := options{runner: procrun.New()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.notifier == nil {
		o.notifier = notifications.NewService(cfg)
	}

	camera, err := gphoto.New(cfg.GphotoBinary(),
		gphoto.WithRunner(o.runner),
		gphoto.WithTimeouts(cfg.CommandTimeout(), cfg.TransferTimeout()),
		gphoto.WithForceOverwrite(cfg.Transfer.ForceOverwrite),
		gphoto.WithLogger(logger),
	)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "daemon", "gphoto", "invalid gphoto2 binary", err)
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		notifier: o.notifier,
		camera:   camera,
		events:   newEventHub(o.eventCapacity),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	d.loop = dispatch.New(logger)
	d.registry = registry.New(camera, d.loop,
		registry.WithObserver(d.events),
		registry.WithDeviceListener(d.events),
		registry.WithLogger(logger),
	)
	// Registry callbacks run on the loop, where Count is safe to read.
	d.events.count = d.registry.Count

	d.transfers = transfer.New(d.loop, d.registry, camera,
		transfer.WithStore(store),
		transfer.WithNotifier(o.notifier),
		transfer.WithDefaultDestination(cfg.Paths.DefaultDestination),
		transfer.WithProgressBuckets(100/float64(cfg.Transfer.ProgressLogBuckets)),
		transfer.WithLogger(logger),
	)
	d.registry.SetLister(d.transfers)

	source := o.source
	if !o.sourceSet {
		source = hotplug.SourceFromConfig(cfg, o.runner, logger)
	}
	d.watcher = hotplug.NewWatcher(source, d.triggerRefresh, cfg.HotplugDebounce(), logger)

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the instance lock, starts the dispatch loop, enumerates
// attached cameras and begins watching for hotplug events. A failed initial
// enumeration is fatal.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return ErrAlreadyRunning
	}
	if err := os.MkdirAll(d.cfg.Paths.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return d.loop.Run(groupCtx)
	})
	d.transfers.Start(groupCtx)

	if err := d.refresh(groupCtx); err != nil {
		cancel()
		_ = group.Wait()
		_ = d.lock.Unlock()
		return fmt.Errorf("initial camera enumeration: %w", err)
	}

	if err := d.api.start(groupCtx); err != nil {
		cancel()
		_ = group.Wait()
		_ = d.lock.Unlock()
		return err
	}
	d.mu.Lock()
	d.runCtx = groupCtx
	d.cancel = cancel
	d.group = group
	d.startedAt = time.Now()
	d.mu.Unlock()
	d.running.Store(true)

	if err := d.watcher.Start(groupCtx); err != nil {
		logging.WarnWithContext(d.logger, "hotplug watcher failed to start", "hotplug_start_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "cameras are only detected on manual refresh"),
			logging.String(logging.FieldErrorHint, "check hotplug.source in config.toml"),
		)
	}

	d.logger.Info("camwatch daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("hotplug", d.watcher.Status().Source),
		logging.Int("cameras", d.deviceCount(groupCtx)),
	)
	return nil
}

// Stop cancels background work, waits for jobs to unwind and releases the
// instance lock. A stopped daemon cannot be started again.
func (d *Daemon) Stop() {
	if !d.running.Swap(false) {
		return
	}
	d.watcher.Stop()

	d.mu.Lock()
	cancel, group := d.cancel, d.group
	d.runCtx, d.cancel, d.group = nil, nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.api.stop()
	d.transfers.Wait()
	if group != nil {
		if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Warn("daemon goroutine exited with error", logging.Error(err))
		}
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.logger.Info("camwatch daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon. The settings store is owned by the caller.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Status returns the current daemon status including dependency and
// preflight checks.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.Lock()
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StartedAt:    d.startedAt,
		LastRefresh:  d.lastRefresh,
		SettingsPath: d.store.Path(),
		LockFilePath: d.lockPath,
	}
	if d.refreshErr != nil {
		status.RefreshError = d.refreshErr.Error()
	}
	d.mu.Unlock()

	status.Hotplug = d.watcher.Status()
	status.APIAddress = d.api.address()
	if status.Running {
		var devices, busy int
		err := d.loop.Call(ctx, func() {
			devices = d.registry.Count()
			for _, dev := range d.registry.Devices() {
				if dev.IsBusy() {
					busy++
				}
			}
		})
		if err != nil {
			status.DevicesError = err.Error()
			logging.WarnWithContext(d.logger, "device counts unavailable", "status_devices_unavailable",
				logging.Error(err),
				logging.String(logging.FieldImpact, "status reports zero cameras"),
			)
		} else {
			status.Devices, status.Transferring = devices, busy
		}
	}
	status.Dependencies = preflight.CheckSystemDeps(d.cfg)
	status.Preflight = preflight.RunAll(ctx, d.cfg)
	return status
}

// Refresh re-enumerates cameras and reconciles the registry.
func (d *Daemon) Refresh(ctx context.Context) error {
	if !d.running.Load() {
		return errNotRunning("refresh")
	}
	return d.refresh(ctx)
}

func (d *Daemon) refresh(ctx context.Context) error {
	err := d.registry.Refresh(ctx)
	d.mu.Lock()
	d.lastRefresh = time.Now()
	d.refreshErr = err
	d.mu.Unlock()
	return err
}

// triggerRefresh is the hotplug callback. It runs off the loop, so a
// synchronous Refresh is safe.
func (d *Daemon) triggerRefresh() {
	d.mu.Lock()
	base := d.runCtx
	d.mu.Unlock()
	if base == nil {
		return
	}
	ctx, cancel := context.WithTimeout(base, d.refreshTimeout())
	defer cancel()
	if err := d.refresh(ctx); err != nil && base.Err() == nil {
		d.logger.Debug("hotplug refresh failed", logging.Error(err))
	}
}

// streamContext ends when the daemon stops. It is already done when the
// daemon is not running.
func (d *Daemon) streamContext() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.runCtx != nil {
		return d.runCtx
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func (d *Daemon) refreshTimeout() time.Duration {
	if timeout := d.cfg.CommandTimeout(); timeout > 0 {
		return timeout + 5*time.Second
	}
	return 2 * time.Minute
}

func (d *Daemon) deviceCount(ctx context.Context) int {
	count := 0
	if err := d.loop.Call(ctx, func() { count = d.registry.Count() }); err != nil {
		d.logger.Debug("device count unavailable", logging.Error(err))
	}
	return count
}

// Events returns presentation events after since. With wait set it blocks
// until one arrives or ctx ends.
func (d *Daemon) Events(ctx context.Context, since uint64, limit int, wait bool) ([]Event, uint64, error) {
	return d.events.Fetch(ctx, since, limit, wait)
}

// History returns recent transfer jobs, newest first.
func (d *Daemon) History(ctx context.Context, limit int) ([]settings.TransferRecord, error) {
	return d.store.History(ctx, limit)
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if d.cfg.Notifications.NtfyTopic == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
