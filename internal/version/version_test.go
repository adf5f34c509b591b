package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrent(t *testing.T) {
	prev := Version
	t.Cleanup(func() { Version = prev })
	Version = "v0.3.1"

	info := Current()
	assert.Equal(t, "v0.3.1", info.Version)
	assert.Equal(t, "coaxctl v0.3.1 (unknown, built unknown)", info.String())
}
