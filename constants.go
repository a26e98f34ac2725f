package fusd

import "github.com/Godzil/fusd/internal/constants"

// Re-exported protocol limits, for callers that want to size buffers or
// validate arguments without importing the internal package directly.
const (
	MinFileArraySize  = constants.MinFileArraySize
	MaxFileArraySize  = constants.MaxFileArraySize
	MaxNameLength     = constants.MaxNameLength
	MaxPayloadSize    = constants.MaxPayloadSize
	StatusRecordSize  = constants.StatusRecordSize
)
