package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeGphoto()
	c.normalizeHotplug()
	c.normalizeTransfer()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.DefaultDestination, err = expandPath(strings.TrimSpace(c.Paths.DefaultDestination)); err != nil {
		return fmt.Errorf("paths.default_destination: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("CAMWATCH_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeGphoto() {
	c.Gphoto.Binary = strings.TrimSpace(c.Gphoto.Binary)
	if c.Gphoto.Binary == "" {
		c.Gphoto.Binary = defaultGphotoBinary
	}
	if c.Gphoto.CommandTimeout < 0 {
		c.Gphoto.CommandTimeout = 0
	}
	if c.Gphoto.TransferTimeout < 0 {
		c.Gphoto.TransferTimeout = 0
	}
}

func (c *Config) normalizeHotplug() {
	c.Hotplug.Source = strings.ToLower(strings.TrimSpace(c.Hotplug.Source))
	if c.Hotplug.Source == "" {
		c.Hotplug.Source = defaultHotplugSource
	}
	c.Hotplug.UdevadmBinary = strings.TrimSpace(c.Hotplug.UdevadmBinary)
	if c.Hotplug.UdevadmBinary == "" {
		c.Hotplug.UdevadmBinary = defaultUdevadmBinary
	}
	if c.Hotplug.DebounceMS < 0 {
		c.Hotplug.DebounceMS = 0
	}
}

func (c *Config) normalizeTransfer() {
	if c.Transfer.ProgressLogBuckets <= 0 {
		c.Transfer.ProgressLogBuckets = defaultProgressLogBuckets
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("CAMWATCH_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
