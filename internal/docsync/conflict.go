package docsync

// ConflictStrategy selects how a divergence between the device's copy and
// the local replica is resolved. The zero value is DeviceWins, the default
// when no strategy is configured.
type ConflictStrategy int

const (
	DeviceWins ConflictStrategy = iota
	LocalWins
	NewestWins
	Manual
)

func (s ConflictStrategy) String() string {
	switch s {
	case LocalWins:
		return "local-wins"
	case NewestWins:
		return "newest-wins"
	case Manual:
		return "manual"
	default:
		return "device-wins"
	}
}

// ConflictDecision is the outcome of resolving one divergence.
type ConflictDecision int

const (
	NoConflict ConflictDecision = iota
	UseDevice
	UseLocal
)

func (d ConflictDecision) String() string {
	switch d {
	case UseDevice:
		return "use-device"
	case UseLocal:
		return "use-local"
	default:
		return "no-conflict"
	}
}

// ManualResolver is the caller-provided callback consulted under the
// Manual strategy. A nil resolver falls through to NewestWins.
type ManualResolver func(device, local DocumentVersion) ConflictDecision

// Resolve decides between the device and local versions of a document.
// It is deterministic and has no side effects.
//
// Identical hashes mean identical content regardless of timestamps, so
// the answer is NoConflict before any strategy is consulted. NewestWins
// ties favor the device.
func Resolve(device, local DocumentVersion, strategy ConflictStrategy, manual ManualResolver) ConflictDecision {
	if device.Hash == local.Hash {
		return NoConflict
	}

	switch strategy {
	case LocalWins:
		return UseLocal
	case NewestWins:
		return resolveNewest(device, local)
	case Manual:
		if manual != nil {
			return manual(device, local)
		}

		return resolveNewest(device, local)
	default:
		return UseDevice
	}
}

func resolveNewest(device, local DocumentVersion) ConflictDecision {
	if device.ModifiedAt.Before(local.ModifiedAt) {
		return UseLocal
	}

	return UseDevice
}
