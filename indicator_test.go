package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlink_Cycles(t *testing.T) {
	pin := &fakePin{}
	ind := NewIndicator(NewLED(pin), 0)

	require.NoError(t, ind.Blink(context.Background(), 3))

	assert.Equal(t, []bool{true, false, true, false, true, false}, pin.Writes())
	assert.False(t, pin.State())
}

func TestBlink_Zero(t *testing.T) {
	pin := &fakePin{}
	require.NoError(t, NewIndicator(NewLED(pin), 0).Blink(context.Background(), 0))
	assert.Empty(t, pin.Writes())
}

func TestBlink_HalfCycleTiming(t *testing.T) {
	pin := &fakePin{}
	ind := NewIndicator(NewLED(pin), 20*time.Millisecond)

	start := time.Now()
	require.NoError(t, ind.Blink(context.Background(), 2))

	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestBlink_CancelLeavesLEDOff(t *testing.T) {
	pin := &fakePin{}
	ind := NewIndicator(NewLED(pin), time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := ind.Blink(ctx, 3)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, pin.State())
}

func TestBlinkCount(t *testing.T) {
	assert.Equal(t, 3, blinkCount(LinkUp))
	assert.Equal(t, 1, blinkCount(LinkJoin))
	assert.Equal(t, 0, blinkCount(LinkBadAuth))
}
