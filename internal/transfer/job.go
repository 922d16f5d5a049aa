package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"camwatch/internal/device"
	"camwatch/internal/gphoto"
	"camwatch/internal/logging"
	"camwatch/internal/notifications"
	"camwatch/internal/services"
	"camwatch/internal/settings"
	"camwatch/internal/textutil"
)

// jobSpec is the immutable input of one transfer job, captured on the loop.
type jobSpec struct {
	jobID       string
	id          device.ID
	name        string
	move        bool
	files       []gphoto.File
	totalKB     int64
	destination string
}

func newJobSpec(dev *device.Device, move bool) jobSpec {
	return jobSpec{
		jobID:       uuid.NewString(),
		id:          dev.ID(),
		name:        dev.Name(),
		move:        move,
		files:       dev.Files(),
		totalKB:     dev.TotalKB(),
		destination: dev.Destination(),
	}
}

// targetDir is the per-camera subdirectory under the destination.
func (s jobSpec) targetDir() string {
	return filepath.Join(s.destination, textutil.Slugify(s.name))
}

// jobResult is what the transfer loop reports when it stops.
type jobResult struct {
	stats   device.Stats
	outcome string
	message string
	err     error
}

func (o *Orchestrator) runTransfer(ctx context.Context, spec jobSpec) {
	logger := logging.WithContext(ctx, o.logger)
	started := o.clock.Now()
	dir := spec.targetDir()
	logger.Info("transfer started",
		logging.String(logging.FieldEventType, "transfer_started"),
		logging.Bool("move", spec.move),
		logging.Int("files", len(spec.files)),
		logging.Int64("total_kb", spec.totalKB),
		logging.String("target_dir", dir),
	)

	result := o.transferFiles(ctx, spec, dir, started)
	finished := o.clock.Now()
	elapsed := finished.Sub(started)

	if result.err != nil {
		logging.ErrorWithContext(logger, "transfer failed", "transfer_failed",
			logging.Error(result.err),
			logging.Int("copied_files", result.stats.CopiedFiles),
			logging.String(logging.FieldErrorHint, services.ErrorHint(result.err)),
			logging.String(logging.FieldImpact, "remaining files stay on the camera"),
		)
		o.finish(spec.id, device.Error, device.MessagePayload(result.message))
	} else {
		result.message = fmt.Sprintf("Done! Copied %d files. Took %s", result.stats.CopiedFiles, FormatElapsed(elapsed))
		logger.Info("transfer finished",
			logging.String(logging.FieldEventType, "transfer_"+result.outcome),
			logging.Int("copied_files", result.stats.CopiedFiles),
			logging.Int64("copied_kb", result.stats.CopiedKB),
			logging.Duration("elapsed", elapsed),
		)
		o.finish(spec.id, device.Done, device.MessagePayload(result.message))
	}

	o.record(ctx, spec, result, started, finished)
	o.notify(ctx, spec, result, elapsed)
}

func (o *Orchestrator) transferFiles(ctx context.Context, spec jobSpec, dir string, started time.Time) jobResult {
	sampler := logging.NewProgressSampler(o.progressStep)
	logger := logging.WithContext(ctx, o.logger)
	stats := device.Stats{
		Move:       spec.move,
		TotalFiles: len(spec.files),
		TotalKB:    spec.totalKB,
	}

	for _, file := range spec.files {
		switch o.checkState(ctx, spec.id) {
		case stateCancelled:
			return jobResult{stats: stats, outcome: settings.OutcomeCancelled}
		case stateGone:
			err := services.Wrap(services.ErrNotFound, "transfer", "poll", "camera detached", nil)
			return jobResult{stats: stats, outcome: settings.OutcomeFailed, message: "Camera detached", err: err}
		}

		stats = stats.WithThroughput(o.clock.Now().Sub(started))
		o.publishProgress(spec.id, stats)
		if percent := stats.Percent(); sampler.ShouldLog(percent) {
			logger.Info("transfer progress",
				logging.Float64("percent", percent),
				logging.Int("copied_files", stats.CopiedFiles),
				logging.Int("total_files", stats.TotalFiles),
				logging.Int64("kbps", stats.KBps),
				logging.Duration("eta", stats.ETA),
			)
		}

		if err := os.MkdirAll(dir, 0o755); err != nil {
			message := "Failed to create dir:\n" + dir
			return jobResult{
				stats:   stats,
				outcome: settings.OutcomeFailed,
				message: message,
				err:     services.Wrap(services.ErrDirectoryCreate, "transfer", "mkdir", dir, err),
			}
		}

		if err := o.camera.GetFile(ctx, spec.id.Bus, spec.id.Port, file, dir); err != nil {
			return jobResult{stats: stats, outcome: settings.OutcomeFailed, message: err.Error(), err: err}
		}

		target := filepath.Join(dir, file.Name)
		if _, err := os.Stat(target); err != nil {
			return jobResult{
				stats:   stats,
				outcome: settings.OutcomeFailed,
				message: "File not copied",
				err:     services.Wrap(services.ErrVerification, "transfer", "verify", target, err),
			}
		}

		if spec.move {
			if err := o.camera.DeleteFile(ctx, spec.id.Bus, spec.id.Port, file); err != nil {
				return jobResult{stats: stats, outcome: settings.OutcomeFailed, message: err.Error(), err: err}
			}
		}

		stats.CopiedFiles++
		stats.CopiedKB += file.SizeKB
		logger.Debug("file transferred",
			logging.String("file", file.Path),
			logging.Int64("size_kb", file.SizeKB),
		)
	}
	return jobResult{stats: stats.WithThroughput(o.clock.Now().Sub(started)), outcome: settings.OutcomeCompleted}
}

type pollResult int

const (
	stateRunning pollResult = iota
	stateCancelled
	stateGone
)

// checkState reads the device state on the loop.
func (o *Orchestrator) checkState(ctx context.Context, id device.ID) pollResult {
	result := stateGone
	err := o.loop.Call(ctx, func() {
		dev, ok := o.lookup.Device(id)
		switch {
		case !ok || dev.State() == device.Removed:
			result = stateGone
		case dev.State() == device.Cancel:
			result = stateCancelled
		default:
			result = stateRunning
		}
	})
	if err != nil {
		return stateGone
	}
	return result
}

func (o *Orchestrator) record(ctx context.Context, spec jobSpec, result jobResult, started, finished time.Time) {
	if o.store == nil {
		return
	}
	rec := settings.TransferRecord{
		JobID:       spec.jobID,
		Device:      spec.id.String(),
		DeviceName:  spec.name,
		Move:        spec.move,
		Outcome:     result.outcome,
		TotalFiles:  result.stats.TotalFiles,
		CopiedFiles: result.stats.CopiedFiles,
		CopiedKB:    result.stats.CopiedKB,
		Destination: spec.targetDir(),
		Message:     result.message,
		StartedAt:   started,
		FinishedAt:  finished,
	}
	// The job context may already be cancelled at shutdown; history should
	// still be written.
	if err := o.store.RecordTransfer(context.WithoutCancel(ctx), rec); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, o.logger), "failed to record transfer history", "history_write_failed",
			logging.Error(err),
		)
	}
}

func (o *Orchestrator) notify(ctx context.Context, spec jobSpec, result jobResult, elapsed time.Duration) {
	if o.notifier == nil {
		return
	}
	var err error
	if result.err != nil {
		err = o.notifier.NotifyTransferFailed(ctx, spec.name, result.err)
	} else {
		err = o.notifier.NotifyTransferCompleted(ctx, notifications.TransferSummary{
			DeviceName:  spec.name,
			Move:        spec.move,
			Cancelled:   result.outcome == settings.OutcomeCancelled,
			CopiedFiles: result.stats.CopiedFiles,
			TotalFiles:  result.stats.TotalFiles,
			CopiedKB:    result.stats.CopiedKB,
			Duration:    elapsed,
			Destination: spec.targetDir(),
		})
	}
	if err != nil {
		logging.WithContext(ctx, o.logger).Debug("transfer notification failed", logging.Error(err))
	}
}

// FormatElapsed renders d as HH:MM:SS.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}
