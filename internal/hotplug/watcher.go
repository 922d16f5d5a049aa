package hotplug

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"camwatch/internal/config"
	"camwatch/internal/logging"
	"camwatch/internal/procrun"
)

// Source produces kernel events until its context is cancelled.
type Source interface {
	Name() string
	Run(ctx context.Context, emit func(Event)) error
}

// SourceFromConfig builds the source selected by [hotplug] source. It returns
// nil when hotplug detection is disabled.
func SourceFromConfig(cfg *config.Config, runner procrun.Runner, logger *slog.Logger) Source {
	if cfg == nil {
		return nil
	}
	switch cfg.Hotplug.Source {
	case config.HotplugSourceNetlink:
		return NewNetlinkSource(logger)
	case config.HotplugSourceUdevadm:
		return NewUdevadmSource(cfg.Hotplug.UdevadmBinary, runner, logger)
	default:
		return nil
	}
}

// Watcher runs a Source and invokes trigger once per burst of relevant events.
type Watcher struct {
	source   Source
	trigger  func()
	debounce time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	timer    *time.Timer
	events   int
	triggers int
	lastErr  error
}

// NewWatcher constructs a watcher. A zero debounce fires trigger for every
// relevant event.
func NewWatcher(source Source, trigger func(), debounce time.Duration, logger *slog.Logger) *Watcher {
	return &Watcher{
		source:   source,
		trigger:  trigger,
		debounce: debounce,
		logger:   logging.NewComponentLogger(logger, "hotplug"),
	}
}

// Start launches the source once. Later calls are no-ops. A nil source
// leaves the watcher idle.
func (w *Watcher) Start(ctx context.Context) error {
	if w == nil || w.source == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true
	done := w.done
	go func() {
		defer close(done)
		err := w.source.Run(runCtx, w.handle)
		w.mu.Lock()
		w.running = false
		if err != nil && runCtx.Err() == nil {
			w.lastErr = err
		}
		w.mu.Unlock()
		if err != nil && runCtx.Err() == nil {
			logging.WarnWithContext(w.logger, "hotplug source stopped", "hotplug_source_failed",
				logging.String("source", w.source.Name()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "run `camwatch refresh` after plugging in a camera"),
				logging.String(logging.FieldImpact, "automatic camera detection unavailable"),
			)
		}
	}()

	w.logger.Info("hotplug watcher started",
		logging.String(logging.FieldEventType, "hotplug_started"),
		logging.String("source", w.source.Name()),
		logging.Duration("debounce", w.debounce),
	)
	return nil
}

// Stop cancels the source and waits for it to return. Pending debounced
// triggers are dropped.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.cancel = nil
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	w.logger.Info("hotplug watcher stopped", logging.String(logging.FieldEventType, "hotplug_stopped"))
}

// Status summarizes watcher activity.
type Status struct {
	Source   string `json:"source"`
	Running  bool   `json:"running"`
	Events   int    `json:"events"`
	Triggers int    `json:"triggers"`
	Error    string `json:"error,omitempty"`
}

// Status reports the current watcher state.
func (w *Watcher) Status() Status {
	if w == nil || w.source == nil {
		return Status{Source: config.HotplugSourceNone}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	status := Status{
		Source:   w.source.Name(),
		Running:  w.running,
		Events:   w.events,
		Triggers: w.triggers,
	}
	if w.lastErr != nil {
		status.Error = w.lastErr.Error()
	}
	return status
}

// handle may be called from several goroutines.
func (w *Watcher) handle(event Event) {
	if !event.Relevant() {
		return
	}
	w.logger.Debug("usb device event",
		logging.String("action", event.Action),
		logging.String("path", event.Path),
	)

	w.mu.Lock()
	w.events++
	if w.debounce <= 0 {
		w.triggers++
		w.mu.Unlock()
		w.fire()
		return
	}
	if w.timer != nil || w.cancel == nil {
		w.mu.Unlock()
		return
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		w.timer = nil
		w.triggers++
		w.mu.Unlock()
		w.fire()
	})
	w.mu.Unlock()
}

func (w *Watcher) fire() {
	if w.trigger != nil {
		w.trigger()
	}
}
