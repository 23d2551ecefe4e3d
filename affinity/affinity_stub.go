//go:build !linux
// +build !linux

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for platforms without thread pinning.

package affinity

import (
	"runtime"

	"github.com/momentics/hioload-mq/api"
)

func invalidCPU(cpuID int) error {
	return api.Errorf(api.KindInvalidArgument, "affinity", "invalid cpu %d", cpuID)
}

// setAffinityPlatform is a stub for platforms where CPU affinity is not supported.
func setAffinityPlatform(int) error {
	return api.NewError(api.KindNotSupported, "affinity", "not supported on this platform")
}

// allowedPlatform assumes every CPU is usable.
func allowedPlatform() ([]int, error) {
	cpus := make([]int, runtime.NumCPU())
	for i := range cpus {
		cpus[i] = i
	}
	return cpus, nil
}
