package reader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_BoundedByMinMax(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, time.Second)

	for i := 0; i < 30; i++ {
		d := b.Next()
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestBackoff_GrowsWithAttempts(t *testing.T) {
	b := NewBackoff(10*time.Millisecond, 10*time.Second)

	var maxSeenEarly, maxSeenLate time.Duration
	for i := 0; i < 3; i++ {
		if d := b.Next(); d > maxSeenEarly {
			maxSeenEarly = d
		}
	}
	for i := 0; i < 3; i++ {
		if d := b.Next(); d > maxSeenLate {
			maxSeenLate = d
		}
	}

	assert.Greater(t, maxSeenLate, maxSeenEarly)
}

func TestBackoff_Reset(t *testing.T) {
	b := NewBackoff(10*time.Millisecond, 10*time.Second)
	for i := 0; i < 10; i++ {
		b.Next()
	}
	assert.Equal(t, 10, b.Attempt())

	b.Reset()
	assert.Equal(t, 0, b.Attempt())
}
