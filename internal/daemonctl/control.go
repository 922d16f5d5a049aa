package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"camwatch/internal/config"
	"camwatch/internal/ipc"
	"camwatch/internal/preflight"
)

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// pollInterval paces socket probes while waiting for start or stop.
const pollInterval = 200 * time.Millisecond

// LaunchOptions are forwarded to the detached "camwatch daemon" process.
type LaunchOptions struct {
	SocketPath string
	ConfigPath string
}

type StartResult struct {
	AlreadyRunning bool
	PID            int
}

type StopResult struct {
	ForcedKill bool
	PID        int
}

// Launch starts "<executable> daemon" in its own session so it outlives the
// invoking shell.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return errors.New("resolve executable: executable path is empty")
	}
	args := []string{"daemon"}
	if socket := strings.TrimSpace(opts.SocketPath); socket != "" {
		args = append(args, "--socket", socket)
	}
	if cfgPath := strings.TrimSpace(opts.ConfigPath); cfgPath != "" {
		args = append(args, "--config", cfgPath)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// poll calls probe every pollInterval until it reports done or timeout passes.
func poll(timeout time.Duration, probe func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if probe() {
			return true
		}
		if time.Now().Add(pollInterval).After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}

// WaitForClient waits for the socket to answer and returns a connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	var (
		client  *ipc.Client
		lastErr error
	)
	ok := poll(timeout, func() bool {
		client, lastErr = ipc.Dial(socketPath)
		return lastErr == nil
	})
	if !ok {
		return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
	}
	return client, nil
}

// WaitForShutdown waits for the daemon socket to stop answering.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	stopped := poll(timeout, func() bool {
		client, err := ipc.Dial(socketPath)
		if err != nil {
			return true
		}
		_ = client.Close()
		return false
	})
	if !stopped {
		return fmt.Errorf("daemon did not stop within %s", timeout)
	}
	return nil
}

// EnsureStarted launches the daemon unless its socket already answers.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	var result StartResult
	client, err := ipc.Dial(socketPath)
	if err == nil {
		result.AlreadyRunning = true
	} else {
		if err := Launch(executablePath, opts); err != nil {
			return result, err
		}
		if client, err = WaitForClient(socketPath, waitTimeout); err != nil {
			return result, err
		}
	}
	defer client.Close()

	if resp, err := client.Status(); err == nil {
		result.PID = resp.Status.PID
	}
	return result, nil
}

// StopAndTerminate sends SIGTERM and escalates to SIGKILL when the socket
// still answers after gracePeriod. A killed daemon cannot clean up, so its
// socket and pid file are removed here.
func StopAndTerminate(socketPath string, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	pid, err := daemonPID(socketPath, cfg)
	if err != nil {
		return StopResult{}, err
	}
	result := StopResult{PID: pid}

	if err := signal(pid, syscall.SIGTERM); err != nil {
		return result, err
	}
	if WaitForShutdown(socketPath, gracePeriod) == nil {
		return result, nil
	}

	if err := signal(pid, syscall.SIGKILL); err != nil {
		return result, err
	}
	_ = os.Remove(socketPath)
	if cfg != nil {
		_ = os.Remove(pidPath(cfg))
	}
	result.ForcedKill = true
	return result, nil
}

// daemonPID asks the running daemon for its pid, falling back to the pid file.
func daemonPID(socketPath string, cfg *config.Config) (int, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return 0, ErrDaemonNotRunning
		}
		return 0, err
	}
	resp, statusErr := client.Status()
	_ = client.Close()

	pid := 0
	if statusErr == nil {
		pid = resp.Status.PID
	}
	if pid <= 0 && cfg != nil {
		pid = readPIDFile(pidPath(cfg))
	}
	switch {
	case pid <= 0:
		return 0, errors.New("unable to determine daemon pid")
	case pid == os.Getpid():
		return 0, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	return pid, nil
}

func signal(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("send %s to daemon process %d: %w", sig, pid, err)
	}
	return nil
}

// Restart stops the daemon if running, then starts a fresh one.
func Restart(socketPath string, cfg *config.Config, executablePath string, opts LaunchOptions, stopGracePeriod, startWaitTimeout time.Duration) (StartResult, error) {
	if _, err := StopAndTerminate(socketPath, cfg, stopGracePeriod); err != nil && !errors.Is(err, ErrDaemonNotRunning) {
		return StartResult{}, err
	}
	return EnsureStarted(socketPath, executablePath, opts, startWaitTimeout)
}

// BuildStatusSnapshot returns the daemon's status, or an offline snapshot
// with locally computed dependency and preflight checks when the socket does
// not answer.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (*ipc.Status, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	if client, err := ipc.Dial(socketPath); err == nil {
		defer client.Close()
		if resp, err := client.Status(); err == nil {
			return &resp.Status, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return &ipc.Status{
		SettingsPath: cfg.SettingsDBPath(),
		LockFilePath: cfg.LockPath(),
		Dependencies: preflight.CheckSystemDeps(cfg),
		Preflight:    preflight.RunAll(ctx, cfg),
	}, nil
}

// PIDPath is where the daemon records its process id.
func PIDPath(cfg *config.Config) string { return pidPath(cfg) }

func pidPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.StateDir, "camwatch.pid")
}

func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

func isDaemonUnavailable(err error) bool {
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
