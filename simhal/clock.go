package simhal

import "time"

// Clock is a real-time hal.Clock backed by the standard library, suitable
// for cmd/nvme-bench and any test that doesn't need deterministic timeouts.
type Clock struct{ start time.Time }

// NewClock returns a Clock whose NowNanos is relative to its own
// construction time, matching the sort of monotonic-since-boot clock a
// real platform HAL would expose.
func NewClock() *Clock { return &Clock{start: time.Now()} }

func (c *Clock) NowNanos() int64 { return time.Since(c.start).Nanoseconds() }

func (c *Clock) SleepMicros(us int64) { time.Sleep(time.Duration(us) * time.Microsecond) }
