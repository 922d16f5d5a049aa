// Command camwatch runs the camera watcher daemon and drives it from the
// command line.
//
// `camwatch daemon` runs in the foreground; `start`, `stop` and `restart`
// manage a detached instance. Every other command talks to the daemon over
// its JSON-RPC socket and renders tables with go-pretty, or raw JSON with
// --json.
package main
