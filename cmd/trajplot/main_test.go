package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/coaxctl/internal/flight/trajectory"
)

func TestSampleRotateInPlace(t *testing.T) {
	s := sample(trajectory.RotateInPlace, time.Second, 100*time.Millisecond)
	require.Len(t, s.yaw, 11)
	assert.Equal(t, 0.0, s.yaw[0].X)
	assert.InDelta(t, 1.0, s.yaw[10].X, 1e-12)
	assert.Greater(t, s.yaw[10].Y, s.yaw[0].Y, "yaw increases")
	for _, p := range s.xz {
		assert.Equal(t, s.start.Position.Z, p.Y, "position is held")
	}
}

func TestPlotManeuverWritesPNGs(t *testing.T) {
	dir := t.TempDir()
	files, err := plotManeuver(trajectory.LyingCircle, 2*time.Second, 50*time.Millisecond, dir)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, filepath.Join(dir, "2_lying_circle_xy.png"), files[0])

	for _, f := range files {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		assert.Equal(t, "\x89PNG", string(data[:4]), f)
	}
}
