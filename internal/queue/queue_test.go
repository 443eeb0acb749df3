package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBackoff_Bounded(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := NextBackoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 60*time.Second)
	}
}

func TestNextBackoff_GrowsWithAttempt(t *testing.T) {
	// full jitter means no single sample is monotonic, but the ceiling is.
	// Sample repeatedly: attempt 1 never exceeds its 2s ceiling, attempt 8
	// never exceeds the 60s cap, and attempt 8's samples reach past
	// attempt 1's ceiling.
	var maxLow time.Duration
	for i := 0; i < 50; i++ {
		if d := NextBackoff(1); d > maxLow {
			maxLow = d
		}
	}
	assert.LessOrEqual(t, maxLow, 2*time.Second)

	var maxHigh time.Duration
	for i := 0; i < 50; i++ {
		if d := NextBackoff(8); d > maxHigh {
			maxHigh = d
		}
	}
	assert.LessOrEqual(t, maxHigh, 60*time.Second)
	assert.Greater(t, maxHigh, 2*time.Second)
}
