//go:build linux
// +build linux

// File: affinity/affinity_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux implementation over sched_setaffinity(2).

package affinity

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-mq/api"
)

// maxCPU bounds the CPU ids a unix.CPUSet can hold.
const maxCPU = 1024

func invalidCPU(cpuID int) error {
	return api.Errorf(api.KindInvalidArgument, "affinity", "invalid cpu %d", cpuID)
}

// setAffinityPlatform sets thread affinity to a given CPU for Linux.
// Thread id 0 addresses the calling thread.
func setAffinityPlatform(cpuID int) error {
	if cpuID >= maxCPU {
		return invalidCPU(cpuID)
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return api.Wrap(api.KindInvalidArgument, "affinity", fmt.Errorf("sched_setaffinity cpu %d: %w", cpuID, err))
	}
	return nil
}

func allowedPlatform() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("affinity: sched_getaffinity: %w", err)
	}
	cpus := make([]int, 0, set.Count())
	for cpu := 0; cpu < maxCPU && len(cpus) < cap(cpus); cpu++ {
		if set.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}
	return cpus, nil
}
