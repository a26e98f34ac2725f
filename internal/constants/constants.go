// Package constants holds the broker's protocol-level limits and defaults.
package constants

// Open-file table sizing, matching the original FUSD kernel module's
// array-growth policy (kfusd.h: MIN_FILEARRAY_SIZE / MAX_FILEARRAY_SIZE).
const (
	// MinFileArraySize is the initial and minimum capacity of a device's
	// open-file array.
	MinFileArraySize = 8

	// MaxFileArraySize is the maximum capacity a device's open-file array
	// is allowed to grow to.
	MaxFileArraySize = 1024
)

// Wire protocol limits, matching fusd_msg.h.
const (
	// MaxNameLength is the maximum length of a device/class/devname string,
	// not counting the terminator.
	MaxNameLength = 47

	// MaxPayloadSize is the maximum payload a single read or write call may
	// carry, matching the original's MAX_RW_SIZE (128 KiB).
	MaxPayloadSize = 128 * 1024

	// MessageMagic is the sanity tag stamped on every wire message.
	MessageMagic = 0x7a6b93cd
)

// StatusRecordSize is the fixed size of one binary status-channel record.
const StatusRecordSize = 64

// ReadinessUnknown is the sentinel readiness value meaning the provider has
// not reported readiness: an open-file's cached bits start at this value,
// and its last-sent bits are reset to it after a readiness-diff reply.
const ReadinessUnknown = 0xff
