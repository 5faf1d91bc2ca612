package simhal

import "github.com/basalt-io/nvmehost/internal/hal"

// NewHAL wires a fresh Device and Clock into a hal.HAL, ready to hand to
// dmamem.New (over the same mem slice) and ctrl.New. IRQ is left nil:
// simhal only drives the polling completion path.
func NewHAL(mem []byte, nsSectors uint64) (hal.HAL, *Device) {
	dev := New(mem, nsSectors)
	h := hal.HAL{
		Mmio:  dev,
		Cache: dev,
		Bar:   dev,
		Clock: NewClock(),
		Phys:  dev,
	}
	return h, dev
}
