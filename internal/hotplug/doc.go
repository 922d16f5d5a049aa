// Package hotplug watches for USB device bind/unbind events and asks the
// daemon to re-enumerate cameras.
//
// Two event sources are available: a long-running `udevadm monitor` child
// process whose stdout is parsed line by line, and a kernel netlink socket read
// through go-udev. Either way, bursts of events are coalesced by the Watcher
// so one plug-in produces a single refresh.
package hotplug
