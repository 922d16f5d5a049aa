// Package procrun invokes external commands for the camera and hotplug tooling.
//
// Run captures stdout and stderr for short-lived invocations (auto-detect,
// list, get, delete) and applies an optional per-command timeout. Stream
// forwards output line by line for long-lived monitors such as udevadm.
package procrun

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"camwatch/internal/services"
)

// waitDelay bounds how long Wait blocks on pipes held open by orphaned children
// after the process itself has been killed.
const waitDelay = 2 * time.Second

// Command describes a single external invocation.
type Command struct {
	Binary string
	Args   []string
	// Dir is the working directory; empty inherits the daemon's.
	Dir string
	// Timeout bounds the invocation; zero means no limit beyond ctx.
	Timeout time.Duration
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Binary + " " + strings.Join(c.Args, " "))
}

// Result captures the outcome of a completed invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Diagnostic returns the most useful human-readable failure text.
func (r Result) Diagnostic() string {
	if msg := strings.TrimSpace(r.Stderr); msg != "" {
		return msg
	}
	return strings.TrimSpace(r.Stdout)
}

// Runner executes external commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
	Stream(ctx context.Context, cmd Command, onStdout, onStderr func(string)) error
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct{}

// New returns the default os/exec backed runner.
func New() *ExecRunner {
	return &ExecRunner{}
}

// Run executes cmd and waits for it to finish. Non-zero exits are returned as
// errors marked with services.ErrExternalTool; exceeding cmd.Timeout yields
// services.ErrTimeout. The Result is populated in every case where the process
// started.
func (ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	runCtx, cancel := withTimeout(ctx, cmd.Timeout)
	defer cancel()

	proc := exec.CommandContext(runCtx, cmd.Binary, cmd.Args...) //nolint:gosec
	proc.Dir = cmd.Dir
	proc.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	start := time.Now()
	err := proc.Run()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(proc, err),
		Duration: time.Since(start),
	}
	if err != nil {
		return result, classify(ctx, runCtx, cmd, err, result.Diagnostic())
	}
	return result, nil
}

// Stream starts cmd and forwards each stdout and stderr line to the supplied
// callbacks until the process exits or ctx is cancelled. The two callbacks are
// invoked from separate goroutines. Cancellation through ctx is not an error.
func (ExecRunner) Stream(ctx context.Context, cmd Command, onStdout, onStderr func(string)) error {
	runCtx, cancel := withTimeout(ctx, cmd.Timeout)
	defer cancel()

	proc := exec.CommandContext(runCtx, cmd.Binary, cmd.Args...) //nolint:gosec
	proc.Dir = cmd.Dir
	proc.WaitDelay = waitDelay
	stdout, err := proc.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := proc.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := proc.Start(); err != nil {
		return services.Wrap(services.ErrExternalTool, "procrun", cmd.Binary, "start command", err)
	}

	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once
	scan := func(r io.Reader, forward func(string)) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if forward != nil {
				forward(scanner.Text())
			}
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			once.Do(func() { scanErr = err })
		}
	}

	wg.Add(2)
	go scan(stdout, onStdout)
	go scan(stderr, onStderr)
	wg.Wait()

	waitErr := proc.Wait()
	if ctx.Err() != nil {
		return nil
	}
	if waitErr != nil {
		return classify(ctx, runCtx, cmd, waitErr, "")
	}
	if scanErr != nil {
		return fmt.Errorf("scan output: %w", scanErr)
	}
	return nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func classify(parent, runCtx context.Context, cmd Command, err error, diagnostic string) error {
	switch {
	case parent.Err() != nil:
		return parent.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return services.Wrap(services.ErrTimeout, "procrun", cmd.Binary, "no response within "+cmd.Timeout.String(), err)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		message := fmt.Sprintf("exit status %d", exitErr.ExitCode())
		if diagnostic != "" {
			message += ": " + diagnostic
		}
		return services.Wrap(services.ErrExternalTool, "procrun", cmd.Binary, message, nil)
	}
	return services.Wrap(services.ErrExternalTool, "procrun", cmd.Binary, "start command", err)
}

func exitCode(proc *exec.Cmd, err error) int {
	if proc.ProcessState != nil {
		return proc.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}
