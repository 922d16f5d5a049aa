package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"camwatch/internal/config"
	"camwatch/internal/daemon"
	"camwatch/internal/ipc"
	"camwatch/internal/logging"
	"camwatch/internal/testsupport"
)

const (
	autoDetectOutput = "Model                          Port\n" +
		"----------------------------------------------------------\n" +
		"Canon EOS R5                   usb:003,002\n"
	listingOutput = "There are 2 files in folder '/store_00020001/DCIM/100EOSR5'\n" +
		"#1     IMG_1001.CR3               rd 30720 KB image/x-canon-cr3 1700000000\n" +
		"#2     IMG_1002.JPG               rd  8192 KB image/jpeg 1700000060\n"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	socketPath string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenSettings(t, cfg)
	runner := testsupport.NewFakeRunner().
		On("--auto-detect", testsupport.Stdout(autoDetectOutput)).
		On("--list-files", testsupport.Stdout(listingOutput)).
		On("--get-file", testsupport.Download())
	logger := logging.NewNop()

	d, err := daemon.New(cfg, store, logger, daemon.WithRunner(runner), daemon.WithHotplugSource(nil))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon start: %v", err)
	}

	dir, err := os.MkdirTemp("", "cw-cli")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	socketPath := filepath.Join(dir, "cli.sock")
	srv, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		_ = d.Close()
		_ = os.RemoveAll(dir)
	})

	return &cliTestEnv{cfg: cfg, daemon: d, socketPath: socketPath, configPath: configPath}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
