package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"camwatch/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("CAMWATCH_NTFY_TOPIC", "")
	t.Setenv(config.ConfigPathEnv, "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "camwatch")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Paths.DefaultDestination != filepath.Join(tempHome, "Pictures", "camwatch") {
		t.Fatalf("unexpected default destination: %q", cfg.Paths.DefaultDestination)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7491" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.GphotoBinary() != "gphoto2" {
		t.Fatalf("unexpected gphoto binary: %q", cfg.GphotoBinary())
	}
	if cfg.Hotplug.Source != config.HotplugSourceUdevadm {
		t.Fatalf("unexpected hotplug source: %q", cfg.Hotplug.Source)
	}
	if cfg.CommandTimeout() != 60*time.Second {
		t.Fatalf("unexpected command timeout: %v", cfg.CommandTimeout())
	}
	if cfg.HotplugDebounce() != 500*time.Millisecond {
		t.Fatalf("unexpected debounce: %v", cfg.HotplugDebounce())
	}
	if cfg.SettingsDBPath() != filepath.Join(wantState, "camwatch.db") {
		t.Fatalf("unexpected settings db path: %q", cfg.SettingsDBPath())
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.LogDir, cfg.Paths.DefaultDestination} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "camwatch.toml")

	type payload struct {
		Gphoto struct {
			Binary         string `toml:"binary"`
			CommandTimeout int    `toml:"command_timeout"`
		} `toml:"gphoto"`
		Hotplug struct {
			Source string `toml:"source"`
		} `toml:"hotplug"`
		Paths struct {
			StateDir string `toml:"state_dir"`
		} `toml:"paths"`
	}
	custom := payload{}
	custom.Gphoto.Binary = "/opt/gphoto2/bin/gphoto2"
	custom.Gphoto.CommandTimeout = 5
	custom.Hotplug.Source = "NETLINK"
	custom.Paths.StateDir = filepath.Join(tempDir, "state")
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.GphotoBinary() != "/opt/gphoto2/bin/gphoto2" {
		t.Fatalf("expected binary override, got %q", cfg.GphotoBinary())
	}
	if cfg.CommandTimeout() != 5*time.Second {
		t.Fatalf("expected 5s command timeout, got %v", cfg.CommandTimeout())
	}
	if cfg.Hotplug.Source != config.HotplugSourceNetlink {
		t.Fatalf("expected normalized netlink source, got %q", cfg.Hotplug.Source)
	}
	if cfg.SocketPath() != filepath.Join(tempDir, "state", "camwatch.sock") {
		t.Fatalf("unexpected socket path: %q", cfg.SocketPath())
	}
}

func TestEnvVarSuppliesNtfyTopic(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CAMWATCH_NTFY_TOPIC", "https://ntfy.example/cams")
	t.Chdir(t.TempDir())

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.example/cams" {
		t.Fatalf("expected topic from env, got %q", cfg.Notifications.NtfyTopic)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "unknown hotplug source",
			mutate: func(c *config.Config) { c.Hotplug.Source = "inotify" },
			want:   "hotplug.source",
		},
		{
			name:   "unknown log format",
			mutate: func(c *config.Config) { c.Logging.Format = "xml" },
			want:   "logging.format",
		},
		{
			name:   "unknown log level",
			mutate: func(c *config.Config) { c.Logging.Level = "trace" },
			want:   "logging.level",
		},
		{
			name:   "bare ntfy topic",
			mutate: func(c *config.Config) { c.Notifications.NtfyTopic = "cams" },
			want:   "ntfy_topic",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Gphoto.TransferTimeout != 600 {
		t.Fatalf("unexpected sample transfer timeout: %d", cfg.Gphoto.TransferTimeout)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[gphoto]\nbinery = \"gphoto2\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "binery") {
		t.Fatalf("expected unknown key error naming the key, got %v", err)
	}
}

func TestConfigPathEnvOverridesDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "alt.toml")
	if err := os.WriteFile(path, []byte("[hotplug]\nsource = \"none\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(config.ConfigPathEnv, path)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected %s to be loaded, got %s (exists=%v)", path, resolved, exists)
	}
	if cfg.Hotplug.Source != config.HotplugSourceNone {
		t.Fatalf("expected hotplug source from override file, got %q", cfg.Hotplug.Source)
	}
}
