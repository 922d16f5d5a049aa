package transfer

import "time"

// Clock supplies the current time for throughput and history timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
