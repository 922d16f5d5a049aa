// Package device models one tracked camera and its lifecycle state machine.
//
// A Device is owned by the registry and mutated only from the controlling
// dispatch loop. Background jobs never touch it directly; they post closures
// that re-resolve the device by ID before acting.
package device

import (
	"fmt"
	"time"
)

// State is a device lifecycle state.
//
// The orchestrator follows this call pattern:
//
//	Init         -> Idle (listing finished) | Error
//	Idle         -> VerifyTransfer (transfer requested) | Idle (re-listing)
//	VerifyTransfer -> Idle (declined) | Transferring (confirmed)
//	Transferring -> Done | Error | Cancel (observed between files)
//	Cancel       -> Done
//	Done, Error  -> Idle (acknowledged)
//	any          -> Removed (terminal)
type State int

const (
	Init State = iota
	Idle
	VerifyTransfer
	Transferring
	Done
	Error
	Cancel
	Removed
)

var stateNames = [...]string{
	Init:           "init",
	Idle:           "idle",
	VerifyTransfer: "verify_transfer",
	Transferring:   "transferring",
	Done:           "done",
	Error:          "error",
	Cancel:         "cancel",
	Removed:        "removed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseState converts a name produced by String back into a State.
func ParseState(name string) (State, bool) {
	for i, candidate := range stateNames {
		if candidate == name {
			return State(i), true
		}
	}
	return 0, false
}

// PayloadKind tags which field of a Payload is meaningful.
type PayloadKind int

const (
	PayloadNone PayloadKind = iota
	PayloadMessage
	PayloadStats
	PayloadRemoveOriginals
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadMessage:
		return "message"
	case PayloadStats:
		return "stats"
	case PayloadRemoveOriginals:
		return "remove_originals"
	default:
		return "none"
	}
}

// Stats is a transfer job snapshot.
type Stats struct {
	Move        bool          `json:"move"`
	TotalFiles  int           `json:"total_files"`
	CopiedFiles int           `json:"copied_files"`
	TotalKB     int64         `json:"total_kb"`
	CopiedKB    int64         `json:"copied_kb"`
	KBps        int64         `json:"kbps"`
	ETA         time.Duration `json:"eta"`
	Elapsed     time.Duration `json:"elapsed"`
}

// WithThroughput recomputes KBps and ETA for the given elapsed time. Both stay
// zero until at least one kilobyte has been copied.
func (s Stats) WithThroughput(elapsed time.Duration) Stats {
	s.Elapsed = elapsed
	s.KBps = 0
	s.ETA = 0
	if s.CopiedKB <= 0 || elapsed <= 0 {
		return s
	}
	s.KBps = int64(float64(s.CopiedKB) / elapsed.Seconds())
	if s.KBps > 0 {
		remaining := max(s.TotalKB-s.CopiedKB, 0)
		s.ETA = time.Duration(float64(remaining) / float64(s.KBps) * float64(time.Second)).Round(time.Second)
	}
	return s
}

// Percent returns progress by kilobytes, falling back to file counts when
// sizes are unknown.
func (s Stats) Percent() float64 {
	if s.TotalKB > 0 {
		return float64(s.CopiedKB) / float64(s.TotalKB) * 100
	}
	if s.TotalFiles > 0 {
		return float64(s.CopiedFiles) / float64(s.TotalFiles) * 100
	}
	return 0
}

// Payload is the state-associated value. Kind selects the meaningful field.
type Payload struct {
	Kind            PayloadKind `json:"kind"`
	Message         string      `json:"message,omitempty"`
	Stats           Stats       `json:"stats"`
	RemoveOriginals bool        `json:"remove_originals,omitempty"`
}

// NoPayload is the empty payload.
func NoPayload() Payload { return Payload{} }

// MessagePayload carries a human-readable status string.
func MessagePayload(message string) Payload {
	return Payload{Kind: PayloadMessage, Message: message}
}

// StatsPayload carries a transfer progress snapshot.
func StatsPayload(stats Stats) Payload {
	return Payload{Kind: PayloadStats, Stats: stats}
}

// RemoveOriginalsPayload carries the move flag of a pending or starting transfer.
func RemoveOriginalsPayload(remove bool) Payload {
	return Payload{Kind: PayloadRemoveOriginals, RemoveOriginals: remove}
}

// Equal reports whether two payloads carry the same tagged value.
func (p Payload) Equal(other Payload) bool {
	if p.Kind != other.Kind {
		return false
	}
	switch p.Kind {
	case PayloadMessage:
		return p.Message == other.Message
	case PayloadStats:
		return p.Stats == other.Stats
	case PayloadRemoveOriginals:
		return p.RemoveOriginals == other.RemoveOriginals
	default:
		return true
	}
}
