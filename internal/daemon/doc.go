// Package daemon coordinates the long-running camwatch process.
//
// It wires configuration, the settings store, the gphoto2 client, the device
// registry, the transfer orchestrator and the hotplug watcher around a single
// dispatch loop, and holds a flock-based lock so only one instance runs per
// state directory. Every device mutation happens on that loop; the daemon's
// exported operations hop onto it with loop.Call.
//
// Presentation clients observe the registry through an in-memory event hub,
// exposed over IPC polling, an HTTP long-poll endpoint and a WebSocket
// stream at /api/events.
package daemon
