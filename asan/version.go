package asan

// Version information for the Pure-Go heap OOB detector.
const (
	// Version is the current version of the detector runtime.
	Version = "0.1.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 1

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides runtime information about the detector.
type Info struct {
	// Version is the runtime version string.
	Version string

	// Algorithm is the memory-error detection technique used.
	Algorithm string

	// Enabled indicates whether checking is currently active.
	Enabled bool
}

// GetInfo returns information about the detector runtime.
//
// Example:
//
//	info := asan.GetInfo()
//	fmt.Printf("HeapGuard %s (%s)\n", info.Version, info.Algorithm)
func GetInfo() Info {
	return Info{
		Version:   Version,
		Algorithm: "shadow memory with redzones (ASan-style)",
		Enabled:   Enabled(),
	}
}
