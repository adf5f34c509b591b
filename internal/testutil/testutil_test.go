package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/coaxctl/internal/monitoring"
)

func TestCaptureLogs(t *testing.T) {
	var logs func() []string
	t.Run("capture", func(t *testing.T) {
		logs = CaptureLogs(t)
		monitoring.Logf("nav %s reached", "idle")
		monitoring.Logf("nav %s reached", "raw")
		assert.Equal(t, []string{"nav idle reached", "nav raw reached"}, logs())
	})

	monitoring.Logf("after cleanup")
	assert.Len(t, logs(), 2, "logger is restored when the subtest ends")
}

func TestCountContaining(t *testing.T) {
	lines := []string{"telemetry lost", "ok", "telemetry lost again"}
	assert.Equal(t, 2, CountContaining(lines, "telemetry lost"))
	assert.Equal(t, 0, CountContaining(nil, "x"))
}
