// Package config loads, normalizes, and validates camwatch configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// CAMWATCH_NTFY_TOPIC. The Config type centralizes every knob the daemon and
// CLI need: state and log directories, the gphoto2 binary and its timeouts,
// the hotplug source, and notification settings.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
