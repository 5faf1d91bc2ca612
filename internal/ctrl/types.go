package ctrl

import (
	"errors"
	"time"

	"github.com/basalt-io/nvmehost/internal/constants"
)

// State is the controller lifecycle state machine spec-mandated for this
// driver: a strict forward progression with one terminal failure state
// reachable from anywhere.
type State int

const (
	StateUninitialised State = iota
	StateReset
	StateEnabled
	StateIdentified
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialised:
		return "uninitialised"
	case StateReset:
		return "reset"
	case StateEnabled:
		return "enabled"
	case StateIdentified:
		return "identified"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CompletionMode selects which CompletionWaiter implementation New wires
// up; there is no build-tag equivalent of this choice.
type CompletionMode int

const (
	ModePoll CompletionMode = iota
	ModeInterrupt
)

// Params configures controller bring-up. Queue depths are requested sizes;
// the controller clamps them to CAP.MQES once it knows the hardware limit.
type Params struct {
	AdminQueueEntries uint16
	IOQueueEntries    uint16
	CompletionMode    CompletionMode

	// ReadyTimeout overrides CAP.TO-derived readiness timeout when
	// non-zero; useful for tests against a simulated controller that
	// has no real 500ms-unit timeout field worth honoring.
	ReadyTimeout time.Duration
	// CommandTimeout bounds how long Init and I/O submission wait for
	// any single command's completion.
	CommandTimeout time.Duration
}

func DefaultParams() Params {
	return Params{
		AdminQueueEntries: constants.DefaultAdminQueueEntries,
		IOQueueEntries:    constants.DefaultIOQueueEntries,
		CompletionMode:    ModePoll,
		CommandTimeout:    constants.DefaultCommandTimeout,
	}
}

// Info is the subset of IDENTIFY Controller / Namespace data this driver
// surfaces to callers once bring-up completes.
type Info struct {
	ModelNumber      string
	SerialNumber     string
	FirmwareRevision string
	NamespaceSectors uint64
	LBASizeBytes     uint32
}

// SmartHealthLog is the fields of the SMART/Health Information log page
// (log identifier 0x02) this driver parses.
type SmartHealthLog struct {
	TemperatureKelvin uint16
	AvailableSpare    uint8
	PercentageUsed    uint8
	DataUnitsRead     uint64
	DataUnitsWritten  uint64
	PowerCycles       uint64
	PowerOnHours      uint64
}

var errTimeout = errors.New("nvmehost/ctrl: command timed out")
