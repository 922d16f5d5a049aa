// Package notifications pushes transfer outcomes to an ntfy topic.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers can notify unconditionally. The transfers and errors switches in
// the [notifications] config section gate each category independently.
package notifications
