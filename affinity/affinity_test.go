package affinity_test

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-mq/affinity"
	"github.com/momentics/hioload-mq/api"
)

func TestAllowed(t *testing.T) {
	cpus, err := affinity.Allowed()
	require.NoError(t, err)
	require.NotEmpty(t, cpus)
	assert.LessOrEqual(t, len(cpus), runtime.NumCPU())
	for i := 1; i < len(cpus); i++ {
		assert.Less(t, cpus[i-1], cpus[i])
	}
}

func TestSetAffinity(t *testing.T) {
	assert.ErrorIs(t, affinity.SetAffinity(-1), api.ErrInvalidArgument)

	if runtime.GOOS != "linux" {
		assert.ErrorIs(t, affinity.SetAffinity(0), api.ErrNotSupported)
		return
	}
	cpus, err := affinity.Allowed()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		// Exiting while locked retires the pinned thread.
		runtime.LockOSThread()
		if err := affinity.SetAffinity(cpus[0]); err != nil {
			done <- err
			return
		}
		got, err := affinity.Allowed()
		if err == nil && (len(got) != 1 || got[0] != cpus[0]) {
			t.Errorf("thread affinity = %v, want [%d]", got, cpus[0])
		}
		done <- err
	}()
	require.NoError(t, <-done)
}
