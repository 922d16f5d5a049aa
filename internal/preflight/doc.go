// Package preflight provides readiness checks for the binaries, directories
// and services camwatch depends on.
//
// The daemon runs RunAll and CheckSystemDeps at startup and reports the
// results through its status endpoint; `camwatch status` renders them.
package preflight
