package config

const (
	defaultStateDir           = "~/.local/share/camwatch"
	defaultLogDir             = "~/.local/share/camwatch/logs"
	defaultDestinationDir     = "~/Pictures/camwatch"
	defaultAPIBind            = "127.0.0.1:7491"
	defaultGphotoBinary       = "gphoto2"
	defaultCommandTimeout     = 60
	defaultTransferTimeout    = 600
	defaultHotplugSource      = HotplugSourceUdevadm
	defaultUdevadmBinary      = "udevadm"
	defaultHotplugDebounceMS  = 500
	defaultNotifyTimeout      = 10
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultProgressLogBuckets = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:           defaultStateDir,
			LogDir:             defaultLogDir,
			DefaultDestination: defaultDestinationDir,
			APIBind:            defaultAPIBind,
		},
		Gphoto: Gphoto{
			Binary:          defaultGphotoBinary,
			CommandTimeout:  defaultCommandTimeout,
			TransferTimeout: defaultTransferTimeout,
		},
		Hotplug: Hotplug{
			Source:        defaultHotplugSource,
			UdevadmBinary: defaultUdevadmBinary,
			DebounceMS:    defaultHotplugDebounceMS,
		},
		Transfer: Transfer{
			ForceOverwrite:     true,
			ProgressLogBuckets: defaultProgressLogBuckets,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Transfers:      true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
