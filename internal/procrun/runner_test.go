package procrun_test

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"camwatch/internal/procrun"
	"camwatch/internal/services"
)

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func TestRunCapturesOutputAndWorkingDirectory(t *testing.T) {
	sh := requireShell(t)
	dir := t.TempDir()
	runner := procrun.New()

	result, err := runner.Run(context.Background(), procrun.Command{
		Binary: sh,
		Args:   []string{"-c", "pwd; echo warn >&2"},
		Dir:    dir,
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	resolved, _ := filepath.EvalSymlinks(dir)
	if got := strings.TrimSpace(result.Stdout); got != dir && got != resolved {
		t.Fatalf("expected cwd %q, got %q", dir, got)
	}
	if strings.TrimSpace(result.Stderr) != "warn" {
		t.Fatalf("unexpected stderr %q", result.Stderr)
	}
	if result.ExitCode != 0 {
		t.Fatalf("unexpected exit code %d", result.ExitCode)
	}
}

func TestRunNonZeroExitIsExternalToolError(t *testing.T) {
	sh := requireShell(t)
	result, err := procrun.New().Run(context.Background(), procrun.Command{
		Binary: sh,
		Args:   []string{"-c", "echo '*** Error: no camera found ***' >&2; exit 3"},
	})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if result.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", result.ExitCode)
	}
	if !strings.Contains(result.Diagnostic(), "no camera found") {
		t.Fatalf("unexpected diagnostic %q", result.Diagnostic())
	}
	if !strings.Contains(err.Error(), "no camera found") {
		t.Fatalf("expected diagnostic in error, got %v", err)
	}
}

func TestRunMissingBinary(t *testing.T) {
	_, err := procrun.New().Run(context.Background(), procrun.Command{Binary: "camwatch-definitely-missing"})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestRunTimeout(t *testing.T) {
	sh := requireShell(t)
	start := time.Now()
	_, err := procrun.New().Run(context.Background(), procrun.Command{
		Binary:  sh,
		Args:    []string{"-c", "sleep 5"},
		Timeout: 100 * time.Millisecond,
	})
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Fatalf("timeout not enforced, took %v", elapsed)
	}
}

func TestRunParentCancellation(t *testing.T) {
	sh := requireShell(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := procrun.New().Run(ctx, procrun.Command{Binary: sh, Args: []string{"-c", "sleep 5"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStreamForwardsLines(t *testing.T) {
	sh := requireShell(t)
	var mu sync.Mutex
	var stdout, stderr []string
	err := procrun.New().Stream(context.Background(), procrun.Command{
		Binary: sh,
		Args:   []string{"-c", "echo one; echo two; echo oops >&2"},
	}, func(line string) {
		mu.Lock()
		stdout = append(stdout, line)
		mu.Unlock()
	}, func(line string) {
		mu.Lock()
		stderr = append(stderr, line)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}
	if strings.Join(stdout, ",") != "one,two" {
		t.Fatalf("unexpected stdout lines %v", stdout)
	}
	if strings.Join(stderr, ",") != "oops" {
		t.Fatalf("unexpected stderr lines %v", stderr)
	}
}

func TestStreamCancellationIsNotAnError(t *testing.T) {
	sh := requireShell(t)
	ctx, cancel := context.WithCancel(context.Background())
	lines := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- procrun.New().Stream(ctx, procrun.Command{
			Binary: sh,
			Args:   []string{"-c", "echo ready; exec sleep 30"},
		}, func(line string) { lines <- line }, nil)
	}()

	select {
	case <-lines:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first line")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil after cancellation, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Stream did not return after cancellation")
	}
}
