// Package services defines shared utilities consumed by the device, transfer,
// and registry packages.
//
// Key responsibilities:
//   - Context helpers that stamp device identities, job IDs, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures from the
//     camera tool, the filesystem, and timeouts can be classified with
//     errors.Is.
package services
