package proctor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClockCountsDownAndExpiresOnce(t *testing.T) {
	clock := NewClock()

	var ticks []int
	expired := 0
	clock.OnTick(func(r int) { ticks = append(ticks, r) })
	clock.OnExpired(func() { expired++ })

	require.NoError(t, clock.Start(3))
	require.True(t, clock.Running())

	for i := 0; i < 5; i++ {
		clock.Tick()
	}

	require.Equal(t, []int{2, 1, 0}, ticks)
	require.Equal(t, 1, expired)
	require.True(t, clock.Expired())
	require.False(t, clock.Running())
	require.Equal(t, 0, clock.Remaining())
}

func TestClockRejectsNonPositiveDuration(t *testing.T) {
	clock := NewClock()
	require.ErrorIs(t, clock.Start(0), ErrInvalidDuration)
	require.ErrorIs(t, clock.Start(-5), ErrInvalidDuration)
	require.False(t, clock.Running())
}

func TestClockStartsOnlyOnce(t *testing.T) {
	clock := NewClock()
	require.NoError(t, clock.Start(10))
	require.ErrorIs(t, clock.Start(10), ErrInvalidTransition)
}

func TestClockStopSilencesListeners(t *testing.T) {
	clock := NewClock()
	calls := 0
	clock.OnTick(func(int) { calls++ })
	clock.OnExpired(func() { calls++ })

	require.NoError(t, clock.Start(2))
	clock.Stop()
	clock.Stop()

	_, ok := clock.Tick()
	require.False(t, ok)
	require.Zero(t, calls)
	require.Equal(t, 2, clock.Remaining())
	require.False(t, clock.Expired())
}
