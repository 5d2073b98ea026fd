package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealClock_InSession(t *testing.T) {
	window := DefaultSessionWindow()
	c := NewRealClock(window)

	monday930 := time.Date(2026, 8, 3, 9, 30, 0, 0, window.Location)
	assert.True(t, c.InSession(monday930))

	monday16 := time.Date(2026, 8, 3, 16, 0, 0, 0, window.Location)
	assert.False(t, c.InSession(monday16))

	saturday := time.Date(2026, 8, 8, 10, 0, 0, 0, window.Location)
	assert.False(t, c.InSession(saturday))
}

func TestRealClock_NextFire_EveryFiveMinutes(t *testing.T) {
	window := DefaultSessionWindow()
	c := NewRealClock(window)

	after := time.Date(2026, 8, 3, 9, 17, 0, 0, window.Location)
	next, err := c.NextFire("*/5 * * * *", after)
	require.NoError(t, err)
	assert.Equal(t, 20, next.Minute())
}

func TestRealClock_NextFire_InvalidSpec(t *testing.T) {
	c := NewRealClock(DefaultSessionWindow())
	_, err := c.NextFire("not a cron spec", time.Now())
	assert.Error(t, err)
}

func TestFakeClock_AdvanceIsDeterministic(t *testing.T) {
	start := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
	fc := NewFakeClock(start, DefaultSessionWindow())

	assert.Equal(t, start, fc.Now())
	fc.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), fc.Now())

	fc.Set(start.Add(24 * time.Hour))
	assert.Equal(t, start.Add(24*time.Hour), fc.Now())
}
