package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func TestRateToPeriod(t *testing.T) {
	assert.Equal(t, 10*time.Millisecond, RateToPeriod(100))
	assert.Equal(t, 100*time.Millisecond, RateToPeriod(10))
	assert.Equal(t, time.Duration(0), RateToPeriod(0))
	assert.Equal(t, time.Duration(0), RateToPeriod(-5))
}

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	before := time.Now()
	assert.False(t, c.Now().Before(before))

	tk := c.NewTicker(time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker never fired")
	}
}

func TestMockClockSetAndSleep(t *testing.T) {
	c := NewMockClock(t0)
	assert.Equal(t, t0, c.Now())

	c.Sleep(500 * time.Millisecond)
	c.Sleep(time.Second)
	assert.Equal(t, t0, c.Now(), "sleep does not move the clock")
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, c.Sleeps())

	c.Set(t0.Add(time.Hour))
	assert.Equal(t, t0.Add(time.Hour), c.Now())
}

func TestMockTickerFiresOnAdvance(t *testing.T) {
	c := NewMockClock(t0)
	tk := c.NewTicker(10 * time.Millisecond)
	assert.Equal(t, 1, c.Tickers())

	c.Advance(5 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("ticked before its period")
	default:
	}

	c.Advance(5 * time.Millisecond)
	select {
	case at := <-tk.C():
		assert.Equal(t, t0.Add(10*time.Millisecond), at)
	default:
		t.Fatal("expected a tick")
	}
}

func TestMockTickerDropsUnreadTicks(t *testing.T) {
	c := NewMockClock(t0)
	tk := c.NewTicker(time.Millisecond)
	for i := 0; i < 5; i++ {
		c.Advance(time.Millisecond)
	}
	require.Len(t, tk.C(), 1)
	assert.Equal(t, t0.Add(time.Millisecond), <-tk.C(), "first pending tick is kept")
	assert.Len(t, tk.C(), 0)
}

func TestMockTickerStop(t *testing.T) {
	c := NewMockClock(t0)
	tk := c.NewTicker(time.Millisecond)
	other := c.NewTicker(time.Millisecond)
	assert.Equal(t, 2, c.Tickers())

	tk.Stop()
	assert.Equal(t, 1, c.Tickers())
	c.Advance(time.Millisecond)
	assert.Len(t, tk.C(), 0)
	assert.Len(t, other.C(), 1)
}
