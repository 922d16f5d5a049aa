package hotplug

import (
	"context"
	"log/slog"

	"camwatch/internal/logging"
	"camwatch/internal/procrun"
	"camwatch/internal/services"
)

// MonitorArgs are the udevadm arguments that report USB device binds.
var MonitorArgs = []string{"monitor", "--kernel", "--subsystem-match=usb/usb_device"}

// UdevadmSource tails `udevadm monitor`.
type UdevadmSource struct {
	binary string
	runner procrun.Runner
	logger *slog.Logger
}

// NewUdevadmSource builds a source around binary. A nil runner uses the
// process runner.
func NewUdevadmSource(binary string, runner procrun.Runner, logger *slog.Logger) *UdevadmSource {
	if binary == "" {
		binary = "udevadm"
	}
	if runner == nil {
		runner = procrun.New()
	}
	return &UdevadmSource{
		binary: binary,
		runner: runner,
		logger: logging.NewComponentLogger(logger, "udevadm-monitor"),
	}
}

// Name identifies the source in logs.
func (s *UdevadmSource) Name() string { return "udevadm" }

// Run streams monitor output until ctx is cancelled. The monitor exiting on
// its own is reported as an error.
func (s *UdevadmSource) Run(ctx context.Context, emit func(Event)) error {
	onStdout := func(line string) {
		event, ok := ParseEvent(line)
		if !ok {
			s.logger.Debug("ignoring monitor line", logging.String("line", line))
			return
		}
		if !event.Relevant() {
			s.logger.Debug("ignoring kernel event",
				logging.String("action", event.Action),
				logging.String("path", event.Path),
			)
			return
		}
		emit(event)
	}
	onStderr := func(line string) {
		s.logger.Info("udevadm stderr", logging.String("line", line))
	}

	err := s.runner.Stream(ctx, procrun.Command{Binary: s.binary, Args: MonitorArgs}, onStdout, onStderr)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}
	return services.Wrap(services.ErrExternalTool, "hotplug", s.binary, "monitor exited unexpectedly", nil)
}
