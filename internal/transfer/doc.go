// Package transfer runs per-device listing and transfer jobs.
//
// Jobs execute on background goroutines and touch devices only through
// closures posted to the dispatch loop. Cancellation is cooperative: the
// transfer loop checks the device state between files, so an in-flight file
// always finishes or fails before the job stops.
package transfer
