// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships
// the matching client used by the CLI.
//
// Requests address cameras by port path ("usb:001,004" or "001,004"). Every
// call is tagged with a request id so its log lines can be correlated with
// the loop work it triggers. Wire types alias the daemon DTOs so the HTTP
// API and the socket protocol describe cameras the same way.
package ipc
