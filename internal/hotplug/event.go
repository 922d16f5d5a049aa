package hotplug

import (
	"regexp"
	"strings"
)

// Actions that change the set of bound USB devices.
const (
	ActionBind   = "bind"
	ActionUnbind = "unbind"
)

// Event is one kernel uevent as reported by a source.
type Event struct {
	Action    string
	Path      string
	Subsystem string
}

// Relevant reports whether the event should trigger re-enumeration.
func (e Event) Relevant() bool {
	return e.Action == ActionBind || e.Action == ActionUnbind
}

// KERNEL[1234.5678] bind     /devices/pci0000:00/0000:00:14.0/usb1/1-2 (usb)
var kernelEventPattern = regexp.MustCompile(`KERNEL\[[^\]]+\]\W(\w+)\W+(/\S+)\s+\((\w+)\)`)

// ParseEvent parses one `udevadm monitor --kernel` line.
func ParseEvent(line string) (Event, bool) {
	match := kernelEventPattern.FindStringSubmatch(strings.TrimSpace(line))
	if match == nil {
		return Event{}, false
	}
	return Event{Action: match[1], Path: match[2], Subsystem: match[3]}, true
}
