// Package constants centralizes the driver's default tunables so both
// internal packages and the root API agree on them without importing each
// other's defaults.
package constants

import "time"

// Default queue and transfer sizing.
const (
	// DefaultAdminQueueEntries is the admin queue depth requested at
	// bring-up, before clamping to CAP.MQES.
	DefaultAdminQueueEntries = 64

	// DefaultIOQueueEntries is the single I/O queue's requested depth.
	DefaultIOQueueEntries = 128

	// DefaultSectorSize is the logical block size assumed until IDENTIFY
	// Namespace reports the namespace's actual LBA format.
	DefaultSectorSize = 512

	// StandardPageSize is the only host page size this driver configures
	// the controller for (CC.MPS = 0).
	StandardPageSize = 4096
)

// Default timeouts.
const (
	// DefaultCommandTimeout bounds how long any single admin or I/O
	// command may take to complete before the driver gives up on it.
	DefaultCommandTimeout = 5 * time.Second

	// DefaultResetTimeout bounds how long CSTS.RDY may take to clear
	// after CC.EN is dropped during controller reset.
	DefaultResetTimeout = 2 * time.Second
)

// MinArenaBytes is a rough floor on DMA arena size: enough for the admin
// and I/O queues at their default depths, a handful of PRP list pages,
// and IDENTIFY/log-page scratch buffers, with room to spare.
const MinArenaBytes = 256 * 1024
