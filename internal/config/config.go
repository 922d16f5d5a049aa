package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Hotplug source identifiers.
const (
	HotplugSourceUdevadm = "udevadm"
	HotplugSourceNetlink = "netlink"
	HotplugSourceNone    = "none"
)

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir           string `toml:"state_dir"`
	LogDir             string `toml:"log_dir"`
	DefaultDestination string `toml:"default_destination"`
	APIBind            string `toml:"api_bind"`
	APIToken           string `toml:"api_token"`
}

// Gphoto contains configuration for the gphoto2 command line tool.
type Gphoto struct {
	Binary          string `toml:"binary"`
	CommandTimeout  int    `toml:"command_timeout"`
	TransferTimeout int    `toml:"transfer_timeout"`
}

// Hotplug selects how USB bind/unbind events are observed.
type Hotplug struct {
	Source        string `toml:"source"`
	UdevadmBinary string `toml:"udevadm_binary"`
	DebounceMS    int    `toml:"debounce_ms"`
}

// Transfer contains configuration for file transfer jobs.
type Transfer struct {
	ForceOverwrite     bool `toml:"force_overwrite"`
	ProgressLogBuckets int  `toml:"progress_log_buckets"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Transfers      bool   `toml:"transfers"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for camwatch.
//
// Configuration sections by subsystem:
//   - Paths: state/log directories, default transfer destination, API bind address and token
//   - Gphoto: external camera tool binary and per-invocation timeouts
//   - Hotplug: USB event source and debounce window
//   - Transfer: overwrite and progress logging behaviour
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Gphoto        Gphoto        `toml:"gphoto"`
	Hotplug       Hotplug       `toml:"hotplug"`
	Transfer      Transfer      `toml:"transfer"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// ConfigPathEnv overrides the default config file location.
const ConfigPathEnv = "CAMWATCH_CONFIG"

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	if env := strings.TrimSpace(os.Getenv(ConfigPathEnv)); env != "" {
		return expandPath(env)
	}
	return expandPath("~/.config/camwatch/config.toml")
}

// Load reads the config at path, or the first existing default location when
// path is empty. It returns the config, the path it resolved to and whether
// that file existed. Missing files yield defaults; unknown keys are errors.
func Load(path string) (*Config, string, bool, error) {
	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	cfg := Default()
	if exists {
		if err := decodeFile(resolved, &cfg); err != nil {
			return nil, "", false, err
		}
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

func decodeFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file).DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("parse config %s: unknown keys:\n%s", path, strict.String())
		}
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			return fmt.Errorf("parse config %s:%d:%d: %w", path, row, col, err)
		}
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// resolveConfigPath picks an explicit path as-is, otherwise the first of the
// user config and ./camwatch.toml that exists, falling back to the user path.
func resolveConfigPath(path string) (string, bool, error) {
	if strings.TrimSpace(path) != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		exists, err := isFile(expanded)
		return expanded, exists, err
	}

	userPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("camwatch.toml")
	if err != nil {
		return "", false, err
	}
	for _, candidate := range []string{userPath, projectPath} {
		if ok, _ := isFile(candidate); ok {
			return candidate, true, nil
		}
	}
	return userPath, false, nil
}

func isFile(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("stat config: %w", err)
	case info.IsDir():
		return false, fmt.Errorf("config path %s is a directory", path)
	}
	return true, nil
}

// EnsureDirectories creates required directories for daemon operation.
// The default destination is created on a best-effort basis so the daemon can
// run when external storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.DefaultDestination) != "" {
		_ = os.MkdirAll(c.Paths.DefaultDestination, 0o755)
	}
	return nil
}

// GphotoBinary returns the gphoto2 executable name.
func (c *Config) GphotoBinary() string {
	return c.Gphoto.Binary
}

// CommandTimeout bounds enumeration, listing, and delete invocations.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Gphoto.CommandTimeout) * time.Second
}

// TransferTimeout bounds a single get-file invocation.
func (c *Config) TransferTimeout() time.Duration {
	return time.Duration(c.Gphoto.TransferTimeout) * time.Second
}

// HotplugDebounce returns the window used to coalesce bursts of USB events.
func (c *Config) HotplugDebounce() time.Duration {
	return time.Duration(c.Hotplug.DebounceMS) * time.Millisecond
}

// SettingsDBPath returns the sqlite database holding per-device settings.
func (c *Config) SettingsDBPath() string {
	return filepath.Join(c.Paths.StateDir, "camwatch.db")
}

// SocketPath returns the IPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "camwatch.sock")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "camwatch.lock")
}

// ExpandPath resolves a leading "~" against the home directory and returns
// the cleaned absolute path. Empty input stays empty.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return "", nil
	}
	if pathValue == "~" || strings.HasPrefix(pathValue, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		pathValue = home + strings.TrimPrefix(pathValue, "~")
	}
	absolute, err := filepath.Abs(pathValue)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
