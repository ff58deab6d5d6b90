package sysinfo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSnapshotReportsRuntimeStats(t *testing.T) {
	s := NewSampler()
	snap := s.Snapshot(10 * time.Millisecond)
	require.GreaterOrEqual(t, snap.Goroutines, 1)
	require.GreaterOrEqual(t, snap.HeapAllocMB, 0.0)
}
