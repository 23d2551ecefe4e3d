// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files (affinity_linux.go, affinity_stub.go) guarded by build tags.

package affinity

// SetAffinity pins the current OS thread to a given logical CPU. The
// caller must hold the thread with runtime.LockOSThread.
// On unsupported platforms it returns an api.KindNotSupported error.
func SetAffinity(cpuID int) error {
	if cpuID < 0 {
		return invalidCPU(cpuID)
	}
	return setAffinityPlatform(cpuID)
}

// Allowed lists the CPUs the calling thread may run on, in ascending
// order.
func Allowed() ([]int, error) {
	return allowedPlatform()
}
