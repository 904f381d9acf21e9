package ingest

import "time"

// Clock supplies the current time. The scheduler and orchestrator take it
// as a dependency so tests can drive time explicitly.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns a Clock backed by the wall clock, in UTC.
func SystemClock() Clock { return realClock{} }
