// Package settings persists per-camera preferences and transfer history in a
// SQLite database under the daemon's state directory.
//
// Values are grouped by camera display name so a destination chosen for
// "Canon EOS R5" survives unplugging and daemon restarts. Schema changes ship
// as numbered files under migrations/ and are applied in order on Open.
package settings
