package nvmehost

import "github.com/basalt-io/nvmehost/internal/constants"

// Re-exported default tunables for the public API.
const (
	DefaultAdminQueueEntries = constants.DefaultAdminQueueEntries
	DefaultIOQueueEntries    = constants.DefaultIOQueueEntries
	DefaultSectorSize        = constants.DefaultSectorSize
	StandardPageSize         = constants.StandardPageSize
	DefaultCommandTimeout    = constants.DefaultCommandTimeout
	DefaultResetTimeout      = constants.DefaultResetTimeout
	MinArenaBytes            = constants.MinArenaBytes
)
