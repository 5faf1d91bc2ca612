package ctrl

import (
	"github.com/basalt-io/nvmehost/internal/hal"
	"github.com/basalt-io/nvmehost/internal/wire"
)

// CompletionWaiter is the single suspension point in the driver's
// cooperative model: the wait for a submitted command's completion.
// Polling and interrupt-driven waiting are both ordinary implementations
// of this interface, selected once at construction time — never a
// compile-time choice between two driver source trees.
type CompletionWaiter interface {
	// WaitForCompletion calls poll repeatedly until it returns a fresh
	// completion or deadlineNanos passes, in the units of the Clock the
	// waiter was built from.
	WaitForCompletion(poll func() (wire.CQE, bool), deadlineNanos int64) (wire.CQE, error)
}

// PollWaiter busy-waits with a short sleep between polls. It never blocks
// on anything but the clock, so it works even when the platform never
// wires up an interrupt line.
type PollWaiter struct {
	Clock hal.Clock
}

func (w *PollWaiter) WaitForCompletion(poll func() (wire.CQE, bool), deadlineNanos int64) (wire.CQE, error) {
	for {
		if cqe, ok := poll(); ok {
			return cqe, nil
		}
		if w.Clock.NowNanos() >= deadlineNanos {
			return wire.CQE{}, errTimeout
		}
		w.Clock.SleepMicros(1)
	}
}

// InterruptWaiter blocks on the platform's IRQ line between polls,
// falling back to the deadline check whenever the line fires without a
// matching completion actually being ready yet (spurious wake, or a
// completion for a different queue sharing the line).
type InterruptWaiter struct {
	Clock hal.Clock
	IRQ   hal.IRQLine
}

func (w *InterruptWaiter) WaitForCompletion(poll func() (wire.CQE, bool), deadlineNanos int64) (wire.CQE, error) {
	for {
		if cqe, ok := poll(); ok {
			return cqe, nil
		}
		w.IRQ.Wait(deadlineNanos)
		if w.Clock.NowNanos() >= deadlineNanos {
			if cqe, ok := poll(); ok {
				return cqe, nil
			}
			return wire.CQE{}, errTimeout
		}
	}
}

var _ CompletionWaiter = (*PollWaiter)(nil)
var _ CompletionWaiter = (*InterruptWaiter)(nil)
